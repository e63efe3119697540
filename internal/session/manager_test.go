package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/cinematch/internal/cloudsync"
	"github.com/user/cinematch/internal/model"
	"github.com/user/cinematch/internal/repository"
)

type nopFetcher struct{}

func (nopFetcher) FetchPage(context.Context, model.MediaType, model.FilterOptions, int) (*model.Page, error) {
	return model.EmptyPage(), nil
}

func newManager() (*Manager, *repository.MemoryDocumentStore) {
	m, docs, _ := newManagerWithMonitor()
	return m, docs
}

func newManagerWithMonitor() (*Manager, *repository.MemoryDocumentStore, *cloudsync.ManualMonitor) {
	docs := repository.NewMemoryDocumentStore()
	monitor := cloudsync.NewManualMonitor(true)
	m := NewManager(docs, monitor, nopFetcher{}, cloudsync.Options{
		Debounce:   time.Hour,
		RetryDelay: time.Millisecond,
	})
	return m, docs, monitor
}

func TestOpenIsIdempotent(t *testing.T) {
	m, docs := newManager()

	var wg sync.WaitGroup
	sessions := make([]*Session, 8)
	for i := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Open(context.Background(), "u1", model.UserProfile{})
			assert.NoError(t, err)
			sessions[i] = s
		}()
	}
	wg.Wait()

	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, docs.Writes())
}

func TestCloseClearsLocalButKeepsCloud(t *testing.T) {
	m, docs := newManager()
	s, err := m.Open(context.Background(), "u1", model.UserProfile{})
	require.NoError(t, err)

	s.Store.ToggleFavorite(model.Title{ID: 3, MediaType: model.MediaMovie})
	require.NoError(t, s.Reconciler.SyncAll(context.Background()))

	require.NoError(t, m.Close(context.Background(), "u1"))
	assert.Empty(t, s.Store.Favorites())
	assert.ErrorIs(t, m.Close(context.Background(), "u1"), ErrSessionNotFound)

	_, err = m.Get("u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	doc, ok := docs.Peek("u1")
	require.True(t, ok)
	assert.Len(t, doc.Favorites, 1)

	// 再次登录从云端恢复
	s, err = m.Open(context.Background(), "u1", model.UserProfile{})
	require.NoError(t, err)
	assert.True(t, s.Store.IsFavorite(3))
}

func TestCloseAllFlushesPendingChanges(t *testing.T) {
	m, docs := newManager()
	s, err := m.Open(context.Background(), "u1", model.UserProfile{})
	require.NoError(t, err)

	s.Store.ToggleWatchlist(model.Title{ID: 5, MediaType: model.MediaTV})
	m.CloseAll(context.Background())

	assert.Equal(t, 0, m.Len())
	doc, _ := docs.Peek("u1")
	assert.Len(t, doc.Watchlist, 1)
}

func TestCloseIdleSessions(t *testing.T) {
	m, docs := newManager()
	s, err := m.Open(context.Background(), "u1", model.UserProfile{})
	require.NoError(t, err)
	_, err = m.Open(context.Background(), "u2", model.UserProfile{})
	require.NoError(t, err)

	s.Store.ToggleFavorite(model.Title{ID: 1, MediaType: model.MediaMovie})
	time.Sleep(20 * time.Millisecond)
	_, err = m.Get("u2")
	require.NoError(t, err)

	assert.Equal(t, 1, m.CloseIdle(context.Background(), 10*time.Millisecond))
	assert.Equal(t, 1, m.Len())
	_, err = m.Get("u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	doc, _ := docs.Peek("u1")
	assert.Len(t, doc.Favorites, 1)
}

func TestCloseFlushesDebouncedChange(t *testing.T) {
	m, docs := newManager()
	s, err := m.Open(context.Background(), "u1", model.UserProfile{})
	require.NoError(t, err)

	// 防抖为一小时，登出时必须立即推送
	s.Store.ToggleFavorite(model.Title{ID: 4, MediaType: model.MediaMovie})
	require.NoError(t, m.Close(context.Background(), "u1"))

	doc, _ := docs.Peek("u1")
	require.Len(t, doc.Favorites, 1)
	assert.Equal(t, 4, doc.Favorites[0].ID)
}

func TestOfflineChangesSurviveSignOut(t *testing.T) {
	m, docs, monitor := newManagerWithMonitor()
	s, err := m.Open(context.Background(), "u1", model.UserProfile{})
	require.NoError(t, err)

	monitor.SetOnline(false)
	s.Store.ToggleFavorite(model.Title{ID: 7, MediaType: model.MediaMovie})
	require.NoError(t, m.Close(context.Background(), "u1"))
	assert.Equal(t, 1, m.Pending("u1"))

	doc, _ := docs.Peek("u1")
	assert.Empty(t, doc.Favorites)

	monitor.SetOnline(true)
	require.Eventually(t, func() bool {
		doc, _ := docs.Peek("u1")
		return len(doc.Favorites) == 1 && doc.Favorites[0].ID == 7
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return m.Pending("u1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestOfflineDeleteSurvivesSignOut(t *testing.T) {
	m, docs, monitor := newManagerWithMonitor()
	s, err := m.Open(context.Background(), "u1", model.UserProfile{})
	require.NoError(t, err)
	s.Store.ToggleFavorite(model.Title{ID: 1, MediaType: model.MediaMovie})
	require.NoError(t, s.Reconciler.SyncAll(context.Background()))

	monitor.SetOnline(false)
	queued, err := s.Reconciler.DeleteAccount(context.Background())
	require.NoError(t, err)
	assert.True(t, queued)
	require.NoError(t, m.Close(context.Background(), "u1"))

	_, ok := docs.Peek("u1")
	assert.True(t, ok)

	monitor.SetOnline(true)
	require.Eventually(t, func() bool {
		_, ok := docs.Peek("u1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestReopenReplaysQueueBeforePull(t *testing.T) {
	m, docs, monitor := newManagerWithMonitor()
	s, err := m.Open(context.Background(), "u1", model.UserProfile{})
	require.NoError(t, err)

	monitor.SetOnline(false)
	s.Store.ToggleWatchlist(model.Title{ID: 9, MediaType: model.MediaTV})
	require.NoError(t, m.Close(context.Background(), "u1"))
	// 断开管理器的在线回调，只留 Open 自己重放
	m.unsubscribe()
	monitor.SetOnline(true)

	s, err = m.Open(context.Background(), "u1", model.UserProfile{})
	require.NoError(t, err)
	assert.True(t, s.Store.IsInWatchlist(9))
	doc, _ := docs.Peek("u1")
	assert.Len(t, doc.Watchlist, 1)
}
