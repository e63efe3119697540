package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/cinematch/internal/cloudsync"
	"github.com/user/cinematch/internal/config"
	"github.com/user/cinematch/internal/handler"
	"github.com/user/cinematch/internal/middleware"
	"github.com/user/cinematch/internal/repository"
	"github.com/user/cinematch/internal/router"
	"github.com/user/cinematch/internal/service"
	"github.com/user/cinematch/internal/session"
)

const secret = "test-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Success bool            `json:"success"`
}

type testServer struct {
	engine    *gin.Engine
	docs      *repository.MemoryDocumentStore
	monitor   *cloudsync.ManualMonitor
	tmdbCalls *int32
	token     string
}

func newTestServer(t *testing.T, tmdb http.HandlerFunc) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		tmdb(w, r)
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		AppSecret:          secret,
		TMDBBaseURL:        upstream.URL,
		DefaultRegion:      "US",
		UpstreamMaxRetries: 2,
		UpstreamRetryDelay: time.Millisecond,
	}
	tmdbSvc := service.NewTMDBService(cfg, upstream.Client())
	docs := repository.NewMemoryDocumentStore()
	monitor := cloudsync.NewManualMonitor(true)
	sessions := session.NewManager(docs, monitor, tmdbSvc, cloudsync.Options{
		Debounce:   10 * time.Millisecond,
		RetryDelay: time.Millisecond,
	})
	t.Cleanup(func() { sessions.CloseAll(t.Context()) })

	h := handler.NewHandler(cfg, tmdbSvc, nil, nil, sessions)
	r := gin.New()
	router.RegisterRoutes(r, h)

	token, err := middleware.GenerateToken("user-1", "a@b.c", "A", secret, time.Hour)
	require.NoError(t, err)
	return &testServer{engine: r, docs: docs, monitor: monitor, tmdbCalls: &calls, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body any, auth bool) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func notFound(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) }

func TestHealth(t *testing.T) {
	s := newTestServer(t, notFound)
	w, _ := s.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMeRequiresToken(t *testing.T) {
	s := newTestServer(t, notFound)

	w, env := s.do(t, http.MethodGet, "/api/me/preferences", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Success)

	// 有 token 但会话未打开
	w, _ = s.do(t, http.MethodGet, "/api/me/preferences", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFavoriteToggleFlow(t *testing.T) {
	s := newTestServer(t, notFound)

	w, _ := s.do(t, http.MethodPost, "/api/session", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	profile, ok := s.docs.Profile("user-1")
	require.True(t, ok)
	assert.Equal(t, "a@b.c", profile.Email)

	title := map[string]any{"id": 5, "media_type": "movie", "display_name": "Heat"}
	w, env := s.do(t, http.MethodPost, "/api/me/favorites/toggle", title, true)
	require.Equal(t, http.StatusOK, w.Code)
	var toggled struct {
		Favorite bool `json:"favorite"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &toggled))
	assert.True(t, toggled.Favorite)

	require.Eventually(t, func() bool {
		doc, _ := s.docs.Peek("user-1")
		return len(doc.Favorites) == 1
	}, time.Second, 5*time.Millisecond)

	_, env = s.do(t, http.MethodPost, "/api/me/favorites/toggle", title, true)
	require.NoError(t, json.Unmarshal(env.Data, &toggled))
	assert.False(t, toggled.Favorite)

	w, _ = s.do(t, http.MethodPost, "/api/me/favorites/toggle", map[string]any{"id": 0}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListEndpoints(t *testing.T) {
	s := newTestServer(t, notFound)
	s.do(t, http.MethodPost, "/api/session", nil, true)

	w, env := s.do(t, http.MethodPost, "/api/me/lists", map[string]string{"name": "Heists"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.NotEmpty(t, list.ID)

	item := map[string]any{"id": 9, "media_type": "tv", "display_name": "Leverage"}
	_, env = s.do(t, http.MethodPost, "/api/me/lists/"+list.ID+"/items", item, true)
	assert.Contains(t, string(env.Data), "Leverage")

	_, env = s.do(t, http.MethodDelete, "/api/me/lists/"+list.ID+"/items/9", nil, true)
	assert.NotContains(t, string(env.Data), "Leverage")

	w, _ = s.do(t, http.MethodDelete, "/api/me/lists/"+list.ID+"/items/abc", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/me/lists", map[string]string{}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiscoverWithoutFiltersIsEmpty(t *testing.T) {
	s := newTestServer(t, notFound)
	s.do(t, http.MethodPost, "/api/session", nil, true)

	w, env := s.do(t, http.MethodPost, "/api/me/discover", map[string]any{"tab": "all"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[],"isLoading":false,"hasError":false,"hasNextPage":false,"totalResults":0,"tab":"all"}`, string(env.Data))
	assert.Equal(t, int32(0), atomic.LoadInt32(s.tmdbCalls))

	w, _ = s.do(t, http.MethodPost, "/api/me/discover/next", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(s.tmdbCalls))
}

func TestDiscoverKeepsDataOnFailure(t *testing.T) {
	var fail atomic.Bool
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"page":1,"total_pages":2,"total_results":2,"results":[{"id":1,"title":"A"}]}`))
	})
	s.do(t, http.MethodPost, "/api/session", nil, true)

	w, _ := s.do(t, http.MethodPost, "/api/me/discover", map[string]any{"tab": "movies", "genres": []int{18}}, true)
	require.Equal(t, http.StatusOK, w.Code)

	fail.Store(true)
	w, env := s.do(t, http.MethodPost, "/api/me/discover/next", nil, true)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, string(env.Data), `"hasError":true`)
	assert.Contains(t, string(env.Data), `"id":1`)
}

func TestBrowseValidation(t *testing.T) {
	s := newTestServer(t, notFound)

	w, _ := s.do(t, http.MethodGet, "/api/browse/person/popular", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/browse/movie/nope", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/ai/search", map[string]string{"query": "x"}, false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/browse/movie/popular?min_rating=11", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/charts/999", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/trakt/movies/trending", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBrowseListFiltersByAgeRating(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/movie/popular":
			_, _ = w.Write([]byte(`{"page":1,"results":[{"id":1,"title":"Kids"},{"id":2,"title":"Heat"}]}`))
		case "/movie/2/release_dates":
			_, _ = w.Write([]byte(`{"results":[{"iso_3166_1":"US","release_dates":[{"certification":"R"}]}]}`))
		case "/movie/1/release_dates":
			_, _ = w.Write([]byte(`{"results":[{"iso_3166_1":"US","release_dates":[{"certification":"G"}]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	w, env := s.do(t, http.MethodGet, "/api/browse/movie/popular?age_ratings=R", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var titles []struct {
		ID int `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &titles))
	require.Len(t, titles, 1)
	assert.Equal(t, 2, titles[0].ID)
}

func TestStreamingChartEndpoint(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/trending/movie/day":
			_, _ = w.Write([]byte(`{"page":1,"results":[{"id":1,"title":"Heat"}]}`))
		case "/trending/tv/day":
			_, _ = w.Write([]byte(`{"page":1,"results":[]}`))
		case "/movie/1/watch/providers":
			_, _ = w.Write([]byte(`{"results":{"US":{"flatrate":[{"provider_id":2}]}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	w, env := s.do(t, http.MethodGet, "/api/charts", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"DISNEY+"`)

	w, env = s.do(t, http.MethodGet, "/api/charts/2", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []struct {
		ID             int    `json:"id"`
		Rank           int    `json:"rank"`
		TrendDirection string `json:"trend_direction"`
		ProviderName   string `json:"provider_name"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].ID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "up", entries[0].TrendDirection)
	assert.Equal(t, "DISNEY+", entries[0].ProviderName)
}

func TestSearchUpstreamFailure(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	w, env := s.do(t, http.MethodGet, "/api/search?q=heat", nil, false)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.False(t, env.Success)
}

func TestTitleDetails(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/movie/949":
			_, _ = w.Write([]byte(`{"id":949,"title":"Heat","release_date":"1995-12-15","runtime":170,"genres":[{"id":80,"name":"Crime"}]}`))
		case "/movie/949/videos":
			_, _ = w.Write([]byte(`{"id":949,"results":[
				{"key":"teaser","site":"YouTube","type":"Teaser","official":true,"size":1080},
				{"key":"tr","site":"YouTube","type":"Trailer","official":true,"size":720}]}`))
		case "/movie/949/watch/providers":
			_, _ = w.Write([]byte(`{"results":{"US":{"flatrate":[{"provider_id":15,"provider_name":"Hulu"},{"provider_id":8,"provider_name":"Netflix"}]}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	w, env := s.do(t, http.MethodGet, "/api/titles/movie/949", nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	var resp handler.TitleResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "Heat", resp.Details.DisplayName)
	assert.Equal(t, []int{80}, resp.Details.GenreIDs)
	require.NotNil(t, resp.Trailer)
	assert.Equal(t, "tr", resp.Trailer.Key)
	require.NotNil(t, resp.BestWatch)
	assert.Equal(t, "Netflix", resp.BestWatch.Name)

	w, _ = s.do(t, http.MethodGet, "/api/titles/movie/1", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSignOutAndDelete(t *testing.T) {
	s := newTestServer(t, notFound)
	s.do(t, http.MethodPost, "/api/session", nil, true)

	w, _ := s.do(t, http.MethodDelete, "/api/session", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
	_, ok := s.docs.Peek("user-1")
	assert.True(t, ok)

	s.do(t, http.MethodPost, "/api/session", nil, true)
	w, _ = s.do(t, http.MethodDelete, "/api/me", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
	_, ok = s.docs.Peek("user-1")
	assert.False(t, ok)

	w, _ = s.do(t, http.MethodGet, "/api/me/sync", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOfflineDeleteIsReplayedAfterSignOut(t *testing.T) {
	s := newTestServer(t, notFound)
	s.do(t, http.MethodPost, "/api/session", nil, true)

	s.monitor.SetOnline(false)
	w, env := s.do(t, http.MethodDelete, "/api/me", nil, true)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"queued":true}`, string(env.Data))

	// 会话已关闭，但删除仍在队列中
	w, _ = s.do(t, http.MethodGet, "/api/me/sync", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	_, ok := s.docs.Peek("user-1")
	assert.True(t, ok)

	s.monitor.SetOnline(true)
	require.Eventually(t, func() bool {
		_, ok := s.docs.Peek("user-1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
