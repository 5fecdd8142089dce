// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Search   SearchConfig   `mapstructure:"search"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// UpstreamConfig points at the scraped site and the optional image proxy.
type UpstreamConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	SearchURL  string `mapstructure:"search_url"`
	UserAgent  string `mapstructure:"user_agent"`
	Origin     string `mapstructure:"origin"`
	Referer    string `mapstructure:"referer"`
	ImageProxy string `mapstructure:"image_proxy"`
}

// HTTPConfig bounds outbound fetches.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// CacheConfig sizes the in-memory resource cache.
type CacheConfig struct {
	Capacity   int `mapstructure:"capacity"`
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// SearchConfig caps search responses when the client sends no count.
type SearchConfig struct {
	Limit int `mapstructure:"limit"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOUBAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("upstream.base_url", "https://movie.douban.com")
	v.SetDefault("upstream.search_url", "https://www.douban.com/search")
	v.SetDefault("upstream.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.131 Safari/537.36")
	v.SetDefault("upstream.origin", "https://movie.douban.com")
	v.SetDefault("upstream.referer", "https://movie.douban.com/")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("cache.capacity", 100)
	v.SetDefault("cache.ttl_seconds", 600)
	v.SetDefault("search.limit", 3)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be > 0")
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url must be set")
	}
	if c.Search.Limit <= 0 {
		return fmt.Errorf("search.limit must be > 0")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CacheTTL converts the cache TTL config into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
