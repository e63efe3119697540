package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/cinematch/internal/config"
	"github.com/user/cinematch/internal/model"
)

func newTestTMDB(t *testing.T, h http.HandlerFunc) (*TMDBService, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		TMDBBaseURL:        srv.URL,
		TMDBToken:          "token",
		DefaultRegion:      "US",
		UpstreamMaxRetries: 2,
		UpstreamRetryDelay: time.Millisecond,
	}
	return NewTMDBService(cfg, srv.Client()), &calls
}

func TestDiscoverEmptyFiltersMakesNoRequest(t *testing.T) {
	svc, calls := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request %s", r.URL)
	})

	page, err := svc.Discover(context.Background(), model.MediaMovie, model.FilterOptions{MaxRating: 10}, 1)
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.Equal(t, 0, page.TotalResults)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestDiscoverNormalizesTV(t *testing.T) {
	svc, calls := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/discover/tv", r.URL.Path)
		assert.Equal(t, "18", r.URL.Query().Get("with_genres"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"page":1,"total_pages":3,"total_results":41,"results":[
			{"id":7,"name":"Drama X","first_air_date":"2010-01-01","popularity":12.5,"genre_ids":[18]}]}`))
	})

	filters := model.FilterOptions{Genres: []int{18}}
	page, err := svc.Discover(context.Background(), model.MediaTV, filters, 1)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)

	got := page.Results[0]
	assert.Equal(t, model.MediaTV, got.MediaType)
	assert.Equal(t, "Drama X", got.DisplayName)
	assert.Equal(t, "2010-01-01", got.ReleaseDate)
	assert.True(t, page.HasNext())

	// 第二次命中缓存
	_, err = svc.Discover(context.Background(), model.MediaTV, filters, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestSearchKeepsOnlyMoviesAndShowsWithPosters(t *testing.T) {
	svc, _ := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"page":1,"total_pages":1,"total_results":3,"results":[
			{"id":1,"media_type":"movie","title":"Alien","poster_path":"/a.jpg"},
			{"id":2,"media_type":"person","name":"Sigourney Weaver","poster_path":"/p.jpg"},
			{"id":3,"media_type":"tv","name":"Alien Nation"}]}`))
	})

	page, err := svc.Search(context.Background(), "alien", 1)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "Alien", page.Results[0].DisplayName)
	assert.Equal(t, model.MediaMovie, page.Results[0].MediaType)
}

func TestUpstreamErrorsAreClassified(t *testing.T) {
	svc, calls := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := svc.Popular(context.Background(), model.MediaMovie)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
	// 重试到上限后放弃
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestCoalescedRequestSurvivesFirstCallerCancel(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	svc, calls := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`{"page":1,"total_pages":1,"total_results":1,"results":[{"id":1,"title":"Heat"}]}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _, _ = svc.Popular(ctx, model.MediaMovie) }()
	<-entered

	done := make(chan error, 1)
	go func() {
		_, err := svc.Popular(context.Background(), model.MediaMovie)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestBrowseGridMergesAndDedups(t *testing.T) {
	svc, _ := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/trending/movie"):
			_, _ = w.Write([]byte(`{"page":1,"results":[{"id":1,"title":"A","popularity":5,"vote_count":900},{"id":2,"title":"B","popularity":50,"vote_count":10}]}`))
		case r.URL.Path == "/movie/popular":
			_, _ = w.Write([]byte(`{"page":1,"results":[{"id":2,"title":"B again","popularity":1},{"id":3,"title":"C","popularity":20,"vote_count":100}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	browse := NewBrowseService(svc)

	grid, err := browse.Grid(context.Background(), []model.MediaType{model.MediaMovie}, model.SortPopularity)
	require.NoError(t, err)
	require.Len(t, grid, 3)
	assert.Equal(t, []int{2, 3, 1}, ids(grid))
	assert.Equal(t, "B", grid[0].DisplayName)

	grid, err = browse.Grid(context.Background(), []model.MediaType{model.MediaMovie}, model.SortVoteCountDesc)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 2}, ids(grid))
}

func TestBrowseListRefinesTV(t *testing.T) {
	svc, _ := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"page":1,"results":[
			{"id":1,"name":"Tonight Show","genre_ids":[10767],"first_air_date":"2015-01-01"},
			{"id":2,"name":"Drama X","genre_ids":[18],"popularity":10,"vote_average":8,"vote_count":100,"first_air_date":"2010-01-01"}]}`))
	})

	titles, err := NewBrowseService(svc).List(context.Background(), model.MediaTV, CategoryPopular, model.FilterOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ids(titles))
}

func TestBrowseListAppliesFilters(t *testing.T) {
	svc, _ := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/movie/popular":
			_, _ = w.Write([]byte(`{"page":1,"results":[
				{"id":1,"title":"Kids","genre_ids":[16],"vote_average":6.5},
				{"id":2,"title":"Heat","genre_ids":[80,28],"vote_average":8.3},
				{"id":3,"title":"Ronin","genre_ids":[28],"vote_average":7.2},
				{"id":4,"title":"Saw","genre_ids":[27],"vote_average":6.1}]}`))
		case "/movie/1/release_dates":
			_, _ = w.Write([]byte(`{"results":[{"iso_3166_1":"US","release_dates":[{"certification":"G"}]}]}`))
		case "/movie/2/release_dates":
			_, _ = w.Write([]byte(`{"results":[{"iso_3166_1":"GB","release_dates":[{"certification":"15"}]},{"iso_3166_1":"US","release_dates":[{"certification":""},{"certification":"R"}]}]}`))
		case "/movie/3/release_dates":
			_, _ = w.Write([]byte(`{"results":[{"iso_3166_1":"US","release_dates":[{"certification":"R"}]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	browse := NewBrowseService(svc)
	ctx := context.Background()

	titles, err := browse.List(ctx, model.MediaMovie, CategoryPopular, model.FilterOptions{Genres: []int{28}, SortBy: model.SortTitle})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, ids(titles))

	titles, err = browse.List(ctx, model.MediaMovie, CategoryPopular, model.FilterOptions{AgeRatings: []string{"R"}, SortBy: model.SortRating})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, ids(titles))

	titles, err = browse.List(ctx, model.MediaMovie, CategoryPopular, model.FilterOptions{AgeRatings: []string{"G"}})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids(titles))
}

func TestCertifications(t *testing.T) {
	svc, calls := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/movie/7/release_dates":
			_, _ = w.Write([]byte(`{"results":[{"iso_3166_1":"US","release_dates":[{"certification":"PG-13"},{"certification":"PG-13"},{"certification":"R"}]}]}`))
		case "/tv/9/content_ratings":
			_, _ = w.Write([]byte(`{"results":[{"iso_3166_1":"DE","rating":"16"},{"iso_3166_1":"US","rating":"TV-MA"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	certs, err := svc.Certifications(ctx, model.MediaMovie, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"PG-13", "R"}, certs)

	_, err = svc.Certifications(ctx, model.MediaMovie, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	certs, err = svc.Certifications(ctx, model.MediaTV, 9)
	require.NoError(t, err)
	assert.Equal(t, []string{"TV-MA"}, certs)

	certs, err = svc.Certifications(ctx, model.MediaTV, 404)
	require.NoError(t, err)
	assert.Empty(t, certs)
}

func TestTraktRatings(t *testing.T) {
	var ratingCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("trakt-api-key"))
		switch r.URL.Path {
		case "/search/tmdb/550":
			_, _ = w.Write([]byte(`[{"type":"movie","movie":{"title":"Fight Club","ids":{"slug":"fight-club-1999","tmdb":550}}}]`))
		case "/movies/fight-club-1999/ratings":
			atomic.AddInt32(&ratingCalls, 1)
			_, _ = w.Write([]byte(`{"rating":8.7,"votes":1234}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	svc := NewTraktService(&config.Config{TraktBaseURL: srv.URL, TraktAPIKey: "key"}, srv.Client())

	rating := svc.Ratings(context.Background(), 550)
	require.NotNil(t, rating)
	assert.Equal(t, 8.7, rating.Rating)
	assert.Equal(t, 1234, rating.Votes)

	svc.Ratings(context.Background(), 550)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ratingCalls))

	slug, err := svc.FindBySourceID(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, slug)
	assert.Nil(t, svc.Ratings(context.Background(), 1))

	r, err := svc.RatingsBySlug(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestStreamingChartFiltersByProvider(t *testing.T) {
	const netflix = `{"results":{"US":{"%s":[{"provider_id":8,"provider_name":"Netflix"}]}}}`
	svc, calls := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/trending/movie/day":
			_, _ = w.Write([]byte(`{"page":1,"results":[{"id":1,"title":"M1"},{"id":2,"title":"M2"},{"id":3,"title":"M3"},{"id":4,"title":"M4"},{"id":5,"title":"M5"}]}`))
		case "/trending/tv/day":
			_, _ = w.Write([]byte(`{"page":1,"results":[{"id":11,"name":"S1"},{"id":12,"name":"S2"},{"id":13,"name":"S3"}]}`))
		case "/movie/2/watch/providers", "/movie/4/watch/providers":
			_, _ = fmt.Fprintf(w, netflix, "flatrate")
		case "/movie/5/watch/providers":
			_, _ = w.Write([]byte(`{"results":{"GB":{"flatrate":[{"provider_id":8}]}}}`))
		case "/tv/11/watch/providers":
			_, _ = fmt.Fprintf(w, netflix, "ads")
		case "/tv/12/watch/providers":
			_, _ = w.Write([]byte(`{"results":{"US":{"rent":[{"provider_id":8}]}}}`))
		case "/tv/13/watch/providers":
			_, _ = fmt.Fprintf(w, netflix, "free")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	charts := NewChartsService(svc)

	entries, err := charts.Chart(context.Background(), 8)
	require.NoError(t, err)
	got := make([]int, 0, len(entries))
	for _, e := range entries {
		got = append(got, e.ID)
		assert.Equal(t, "NETFLIX", e.ProviderName)
		assert.Equal(t, "up", e.TrendDirection)
	}
	assert.Equal(t, []int{2, 11, 4, 13}, got)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, model.MediaTV, entries[1].MediaType)
	assert.Equal(t, 2, entries[3].Rank)

	before := atomic.LoadInt32(calls)
	_, err = charts.Chart(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, before, atomic.LoadInt32(calls))

	_, err = charts.Chart(context.Background(), 999)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestStreamingChartCapsAtTen(t *testing.T) {
	svc, _ := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/trending/"):
			var b strings.Builder
			b.WriteString(`{"page":1,"results":[`)
			for i := 1; i <= 20; i++ {
				if i > 1 {
					b.WriteByte(',')
				}
				fmt.Fprintf(&b, `{"id":%d}`, i)
			}
			b.WriteString(`]}`)
			_, _ = w.Write([]byte(b.String()))
		case strings.HasSuffix(r.URL.Path, "/watch/providers"):
			_, _ = w.Write([]byte(`{"results":{"US":{"flatrate":[{"provider_id":119}]}}}`))
		}
	})

	entries, err := NewChartsService(svc).Chart(context.Background(), 119)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	// 电影和剧集各前 5 名交替
	assert.Equal(t, 5, entries[9].Rank)
	assert.Equal(t, "stable", entries[9].TrendDirection)
	assert.Equal(t, "PRIME VIDEO", entries[0].ProviderName)
}

func TestTraktListsEnrichFromTMDB(t *testing.T) {
	var traktCalls int32
	trakt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&traktCalls, 1)
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		switch r.URL.Path {
		case "/movies/trending":
			_, _ = w.Write([]byte(`[{"watchers":9,"movie":{"title":"A","ids":{"tmdb":10}}},{"watchers":3,"movie":{"title":"B","ids":{"tmdb":11}}},{"watchers":1,"movie":{"title":"C","ids":{"tmdb":null}}}]`))
		case "/movies/popular":
			_, _ = w.Write([]byte(`[{"title":"D","ids":{"tmdb":12}},{"title":"A","ids":{"tmdb":10}}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer trakt.Close()

	tmdb, _ := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/movie/10":
			_, _ = w.Write([]byte(`{"id":10,"title":"Alpha","genres":[{"id":28,"name":"Action"}]}`))
		case "/movie/12":
			_, _ = w.Write([]byte(`{"id":12,"title":"Delta"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	lists := NewTraktListService(NewTraktService(&config.Config{TraktBaseURL: trakt.URL}, trakt.Client()), tmdb)

	titles, err := lists.Movies(context.Background(), TraktTrending)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, ids(titles))
	assert.Equal(t, "Alpha", titles[0].DisplayName)
	assert.Equal(t, []int{28}, titles[0].GenreIDs)

	titles, err = lists.Movies(context.Background(), TraktPopular)
	require.NoError(t, err)
	assert.Equal(t, []int{12, 10}, ids(titles))

	_, err = lists.Movies(context.Background(), TraktTrending)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&traktCalls))
}

type fakeCompleter struct {
	text   string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.text, f.err
}

type fakeSearcher struct {
	byKind map[model.MediaType]map[string][]model.Title
}

func (f *fakeSearcher) SearchByKind(_ context.Context, kind model.MediaType, query string) ([]model.Title, error) {
	if query == "Broken" {
		return nil, ErrTransient
	}
	return f.byKind[kind][query], nil
}

func TestAISearchCrossReferences(t *testing.T) {
	completer := &fakeCompleter{text: "Heat, Ronin ,Not A Real Film,Broken, heat"}
	searcher := &fakeSearcher{byKind: map[model.MediaType]map[string][]model.Title{
		model.MediaMovie: {
			"Heat": {
				{ID: 949, MediaType: model.MediaMovie, DisplayName: "Heat", Popularity: 40},
				{ID: 12, MediaType: model.MediaMovie, DisplayName: "Heat", Popularity: 2},
				{ID: 13, MediaType: model.MediaMovie, DisplayName: "Heat Wave", Popularity: 99},
			},
			"heat":  {{ID: 949, MediaType: model.MediaMovie, DisplayName: "Heat", Popularity: 40}},
			"Ronin": {{ID: 8195, MediaType: model.MediaMovie, DisplayName: "Ronin", Popularity: 20}},
		},
	}}
	svc := NewAISearchService(completer, searcher)

	res, err := svc.Search(context.Background(), "heist movies like Heat")
	require.NoError(t, err)
	assert.Contains(t, completer.prompt, "relevant movies based on")
	assert.Equal(t, []string{"Heat", "Ronin", "Not A Real Film", "Broken", "heat"}, res.Suggestions)
	assert.Equal(t, []int{949, 8195}, ids(res.Results))
}

func TestAISearchCompletionFailure(t *testing.T) {
	svc := NewAISearchService(&fakeCompleter{err: errors.New("quota")}, &fakeSearcher{})

	_, err := svc.Search(context.Background(), "anything")
	assert.Error(t, err)

	_, err = svc.Search(context.Background(), "   ")
	assert.Error(t, err)
}

func TestBuildPromptKinds(t *testing.T) {
	assert.Contains(t, BuildPrompt("a cozy tv show"), "relevant TV shows")
	assert.Contains(t, BuildPrompt("a good movie"), "relevant movies based")
	assert.Contains(t, BuildPrompt("something sad"), "relevant movies and TV shows")
}

func ids(titles []model.Title) []int {
	out := make([]int, len(titles))
	for i, t := range titles {
		out[i] = t.ID
	}
	return out
}
