package scraper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opendouban/douban-api/internal/cache"
	"github.com/opendouban/douban-api/internal/clock/system"
	"github.com/opendouban/douban-api/internal/douban"
	"github.com/opendouban/douban-api/internal/fetcher"
)

const (
	testBaseURL   = "http://upstream"
	testSearchURL = "http://search"
)

const movieBody = `<html><body>
<div id="content">
  <h1><span property="v:itemreviewed">乘风破浪</span> <span class="year">(2017)</span></h1>
  <div id="mainpic"><a class="nbgnbg" href="#"><img src="http://img.upstream/p2404978026.jpg"/></a></div>
  <div class="rating_self"><strong class="rating_num">6.8</strong></div>
  <div id="info">导演: 韩寒
主演: 邓超 / 彭于晏
</div>
</div>
</body></html>`

const movieBodyNoPoster = `<html><body>
<div id="content">
  <h1><span property="v:itemreviewed">某部电影</span></h1>
</div>
</body></html>`

const celebritiesBody = `<html><body>
<div id="content">
  <ul class="celebrities-list">
    <li class="celebrity">
      <div class="avatar" style="background-image: url(http://img.upstream/c1.jpg)"></div>
      <div class="info">
        <span class="name"><a href="/celebrity/1203884/" class="name">韩寒 Han Han</a></span>
        <span class="role">导演 Director</span>
      </div>
    </li>
    <li class="celebrity">
      <div class="avatar" style="background-image: url(http://img.upstream/c2.jpg)"></div>
      <div class="info">
        <span class="name"><a href="/celebrity/1018616/" class="name">邓超 Chao Deng</a></span>
        <span class="role">演员 Actor</span>
      </div>
    </li>
  </ul>
</div>
</body></html>`

const searchBody = `<html><body>
<div class="result-list">
  <div class="result">
    <div class="pic"><a class="nbg" href="#"><img src="http://img.upstream/s1.jpg"/></a></div>
    <div class="title"><h3><span>[电影]</span>
      <a href="#" onclick="moreurl(this,{sid: 26862829, qcat: '1002'})">乘风破浪</a>
    </h3></div>
    <div class="rating-info">
      <span class="rating_nums">6.8</span>
      <span class="subject-cast">原名:乘风破浪 / 2017</span>
    </div>
  </div>
  <div class="result">
    <div class="pic"><a class="nbg" href="#"><img src="http://img.upstream/s2.jpg"/></a></div>
    <div class="title"><h3><span>[电影]</span>
      <a href="#" onclick="moreurl(this,{sid: 3168101, qcat: '1002'})">后会无期</a>
    </h3></div>
    <div class="rating-info">
      <span class="rating_nums">7.1</span>
      <span class="subject-cast">原名:后会无期 / 2014</span>
    </div>
  </div>
</div>
</body></html>`

const celebrityBody = `<html><body>
<div id="content">
  <h1>韩寒</h1>
  <div id="intro"><div class="bd"><span class="short">中国作家、导演。</span></div></div>
</div>
</body></html>`

type fakeResponse struct {
	result fetcher.Result
	err    error
}

type fakeFetcher struct {
	mu        sync.Mutex
	delay     time.Duration
	calls     map[string]int
	responses map[string]fakeResponse
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls:     make(map[string]int),
		responses: make(map[string]fakeResponse),
	}
}

func (f *fakeFetcher) serve(url, body, contentType string) {
	f.responses[url] = fakeResponse{result: fetcher.Result{
		StatusCode:  200,
		Body:        []byte(body),
		ContentType: contentType,
	}}
}

func (f *fakeFetcher) fail(url string, err error) {
	f.responses[url] = fakeResponse{err: err}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ douban.Kind) (fetcher.Result, error) {
	f.mu.Lock()
	f.calls[url]++
	resp, ok := f.responses[url]
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if !ok {
		return fetcher.Result{}, douban.ErrNotFound
	}
	return resp.result, resp.err
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func newTestService(f fetcher.Fetcher) *Service {
	store := cache.New[douban.Key, any](100, time.Minute, system.New())
	return New(f, douban.DefaultRules(), store, Config{
		BaseURL:   testBaseURL,
		SearchURL: testSearchURL,
	}, nil)
}

func TestMovieCoalescesConcurrentRequests(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.delay = 30 * time.Millisecond
	f.serve(testBaseURL+"/subject/26862829/", movieBody, "text/html")
	svc := newTestService(f)

	const callers = 4
	var wg sync.WaitGroup
	details := make([]*douban.MovieDetail, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			details[i], errs[i] = svc.Movie(context.Background(), "26862829", false)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, f.count(testBaseURL+"/subject/26862829/"))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "乘风破浪", details[i].Name)
	}
}

func TestMovieBrief(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.serve(testBaseURL+"/subject/26862829/", movieBody, "text/html")
	svc := newTestService(f)

	detail, err := svc.Movie(context.Background(), "26862829", false)
	require.NoError(t, err)
	require.Equal(t, "26862829", detail.SID)
	require.Equal(t, "乘风破浪", detail.Name)
	require.Equal(t, "2017", detail.Year)
	require.Equal(t, "韩寒", detail.Director)
	require.Empty(t, detail.Celebrities)
	require.False(t, detail.CastComplete)
	// The cast page is never touched for the brief variant.
	require.Equal(t, 0, f.count(testBaseURL+"/subject/26862829/celebrities"))
}

func TestMovieFullEmbedsCastInOrder(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.serve(testBaseURL+"/subject/26862829/", movieBody, "text/html")
	f.serve(testBaseURL+"/subject/26862829/celebrities", celebritiesBody, "text/html")
	svc := newTestService(f)

	detail, err := svc.Movie(context.Background(), "26862829", true)
	require.NoError(t, err)
	require.True(t, detail.CastComplete)
	require.Len(t, detail.Celebrities, 2)
	require.Equal(t, "韩寒", detail.Celebrities[0].Name)
	require.Equal(t, "导演", detail.Celebrities[0].Role)
	require.Equal(t, "邓超", detail.Celebrities[1].Name)

	// The cast entry is shared with the standalone operation.
	cast, err := svc.Celebrities(context.Background(), "26862829")
	require.NoError(t, err)
	require.Len(t, cast, 2)
	require.Equal(t, 1, f.count(testBaseURL+"/subject/26862829/celebrities"))
}

func TestMovieFullCastFailureDegrades(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.serve(testBaseURL+"/subject/26862829/", movieBody, "text/html")
	f.fail(testBaseURL+"/subject/26862829/celebrities", &douban.UpstreamError{Status: 500})
	svc := newTestService(f)

	detail, err := svc.Movie(context.Background(), "26862829", true)
	require.NoError(t, err)
	require.Equal(t, "乘风破浪", detail.Name)
	require.Empty(t, detail.Celebrities)
	require.False(t, detail.CastComplete)
}

func TestMovieBriefAndFullCachedIndependently(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.serve(testBaseURL+"/subject/26862829/", movieBody, "text/html")
	f.serve(testBaseURL+"/subject/26862829/celebrities", celebritiesBody, "text/html")
	svc := newTestService(f)

	_, err := svc.Movie(context.Background(), "26862829", false)
	require.NoError(t, err)
	_, err = svc.Movie(context.Background(), "26862829", true)
	require.NoError(t, err)
	require.Equal(t, 2, f.count(testBaseURL+"/subject/26862829/"))

	// Repeats hit their own entries.
	_, err = svc.Movie(context.Background(), "26862829", false)
	require.NoError(t, err)
	_, err = svc.Movie(context.Background(), "26862829", true)
	require.NoError(t, err)
	require.Equal(t, 2, f.count(testBaseURL+"/subject/26862829/"))
}

func TestMovieNotFoundNotCached(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.fail(testBaseURL+"/subject/999/", douban.ErrNotFound)
	svc := newTestService(f)

	_, err := svc.Movie(context.Background(), "999", false)
	require.True(t, douban.IsNotFound(err))
	_, err = svc.Movie(context.Background(), "999", false)
	require.True(t, douban.IsNotFound(err))
	require.Equal(t, 2, f.count(testBaseURL+"/subject/999/"))
}

func TestSearchAppliesCount(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.serve(testSearchURL+"?q=%E4%B9%98%E9%A3%8E%E7%A0%B4%E6%B5%AA", searchBody, "text/html")
	svc := newTestService(f)

	one, err := svc.Search(context.Background(), "乘风破浪", 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	require.Equal(t, "乘风破浪", one[0].Name)

	all, err := svc.Search(context.Background(), "乘风破浪", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "后会无期", all[1].Name)

	// Different counts share one cached page fetch.
	require.Equal(t, 1, f.count(testSearchURL+"?q=%E4%B9%98%E9%A3%8E%E7%A0%B4%E6%B5%AA"))
}

func TestSearchEmptyQuery(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	svc := newTestService(f)

	results, err := svc.Search(context.Background(), "", 0)
	require.NoError(t, err)
	require.NotNil(t, results)
	require.Empty(t, results)
	require.Empty(t, f.calls)
}

func TestSearchNoMatchesIsCachedSuccess(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.serve(testSearchURL+"?q=nothing", `<html><body><p>无结果</p></body></html>`, "text/html")
	svc := newTestService(f)

	for i := 0; i < 2; i++ {
		results, err := svc.Search(context.Background(), "nothing", 0)
		require.NoError(t, err)
		require.NotNil(t, results)
		require.Empty(t, results)
	}
	require.Equal(t, 1, f.count(testSearchURL+"?q=nothing"))
}

func TestSearchFullResolvesFirstMatch(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.serve(testSearchURL+"?q=%E4%B9%98%E9%A3%8E%E7%A0%B4%E6%B5%AA", searchBody, "text/html")
	f.serve(testBaseURL+"/subject/26862829/", movieBody, "text/html")
	f.serve(testBaseURL+"/subject/26862829/celebrities", celebritiesBody, "text/html")
	svc := newTestService(f)

	details, err := svc.SearchFull(context.Background(), "乘风破浪", 0)
	require.NoError(t, err)
	require.Len(t, details, 1)
	require.Equal(t, "乘风破浪", details[0].Name)
	require.True(t, details[0].CastComplete)
	// Only the first match is resolved.
	require.Equal(t, 0, f.count(testBaseURL+"/subject/3168101/"))
}

func TestSearchFullNoMatches(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.serve(testSearchURL+"?q=nothing", `<html><body></body></html>`, "text/html")
	svc := newTestService(f)

	details, err := svc.SearchFull(context.Background(), "nothing", 0)
	require.NoError(t, err)
	require.NotNil(t, details)
	require.Empty(t, details)
}

func TestCelebrity(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.serve(testBaseURL+"/celebrity/1203884/", celebrityBody, "text/html")
	svc := newTestService(f)

	detail, err := svc.Celebrity(context.Background(), "1203884")
	require.NoError(t, err)
	require.Equal(t, "1203884", detail.ID)
	require.Equal(t, "韩寒", detail.Name)
	require.Equal(t, "中国作家、导演。", detail.Intro)

	_, err = svc.Celebrity(context.Background(), "1203884")
	require.NoError(t, err)
	require.Equal(t, 1, f.count(testBaseURL+"/celebrity/1203884/"))
}

func TestPhotoStreamsPosterBytes(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.serve(testBaseURL+"/subject/26862829/", movieBody, "text/html")
	f.responses["http://img.upstream/p2404978026.jpg"] = fakeResponse{result: fetcher.Result{
		StatusCode:  200,
		Body:        []byte{0xFF, 0xD8, 0xFF},
		ContentType: "image/jpeg",
	}}
	svc := newTestService(f)

	img, err := svc.Photo(context.Background(), "26862829")
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", img.ContentType)
	require.Equal(t, []byte{0xFF, 0xD8, 0xFF}, img.Data)

	_, err = svc.Photo(context.Background(), "26862829")
	require.NoError(t, err)
	require.Equal(t, 1, f.count("http://img.upstream/p2404978026.jpg"))
	require.Equal(t, 1, f.count(testBaseURL+"/subject/26862829/"))
}

func TestPhotoWithoutPosterIsNotFound(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.serve(testBaseURL+"/subject/111/", movieBodyNoPoster, "text/html")
	svc := newTestService(f)

	_, err := svc.Photo(context.Background(), "111")
	require.ErrorIs(t, err, douban.ErrNotFound)
}
