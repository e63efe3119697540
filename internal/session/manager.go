package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/cinematch/internal/cloudsync"
	"github.com/user/cinematch/internal/model"
	"github.com/user/cinematch/internal/paginate"
	"github.com/user/cinematch/internal/preference"
	"github.com/user/cinematch/internal/repository"
)

// ErrSessionNotFound 用户没有打开的会话
var ErrSessionNotFound = errors.New("session not found")

// Session 一个已登录用户的本地状态
type Session struct {
	UserID     string
	Store      *preference.Store
	Reconciler *cloudsync.Reconciler
	Discover   *paginate.Controller
}

// Manager 管理会话的创建与销毁
type Manager struct {
	docs    repository.DocumentStore
	monitor cloudsync.NetworkMonitor
	fetcher paginate.PageFetcher
	opts    cloudsync.Options

	mu       sync.Mutex
	sessions map[string]*Session
	lastSeen map[string]time.Time
	// 同一用户并发 Open 只做一次初始化
	opening map[string]*sync.Mutex
	// 每个用户的离线队列，登出后继续保留，重连时照常重放
	queues map[string]*cloudsync.OfflineQueue

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// NewManager 创建会话管理器
func NewManager(docs repository.DocumentStore, monitor cloudsync.NetworkMonitor, fetcher paginate.PageFetcher, opts cloudsync.Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		docs:     docs,
		monitor:  monitor,
		fetcher:  fetcher,
		opts:     opts,
		sessions: make(map[string]*Session),
		lastSeen: make(map[string]time.Time),
		opening:  make(map[string]*sync.Mutex),
		queues:   make(map[string]*cloudsync.OfflineQueue),
		ctx:      ctx,
		cancel:   cancel,
	}
	m.unsubscribe = monitor.Subscribe(func(online bool) {
		if online {
			go m.DrainQueues(m.ctx)
		}
	})
	return m
}

// queue 取得用户的离线队列，不存在时创建
func (m *Manager) queue(userID string) *cloudsync.OfflineQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[userID]
	if !ok {
		q = cloudsync.NewOfflineQueue()
		m.queues[userID] = q
	}
	return q
}

// DrainQueues 重放所有用户的离线队列（包括已登出的用户），返回成功数量
// 清空后且没有会话的队列会被移除
func (m *Manager) DrainQueues(ctx context.Context) int {
	m.mu.Lock()
	queues := make(map[string]*cloudsync.OfflineQueue, len(m.queues))
	for id, q := range m.queues {
		queues[id] = q
	}
	m.mu.Unlock()

	total := 0
	for id, q := range queues {
		if n := q.Drain(ctx, m.monitor.Online); n > 0 {
			total += n
			log.Info().Str("user_id", id).Int("replayed", n).Msg("[Session] 离线队列已重放")
		}
	}

	m.mu.Lock()
	for id, q := range m.queues {
		_, open := m.sessions[id]
		_, opening := m.opening[id]
		if !open && !opening && q.Len() == 0 {
			delete(m.queues, id)
		}
	}
	m.mu.Unlock()
	return total
}

// Pending 用户离线队列中的待处理数量（会话关闭后仍可查询）
func (m *Manager) Pending(userID string) int {
	m.mu.Lock()
	q, ok := m.queues[userID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return q.Len()
}

// Open 登录时创建会话并拉取云端数据；已存在时直接返回
func (m *Manager) Open(ctx context.Context, userID string, profile model.UserProfile) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		m.lastSeen[userID] = time.Now()
		m.mu.Unlock()
		return s, nil
	}
	lock, ok := m.opening[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.opening[userID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	// 上次登出时留下的离线操作先执行，再拉取云端
	q := m.queue(userID)
	if m.monitor.Online() {
		q.Drain(ctx, m.monitor.Online)
	}

	store := preference.NewStore()
	rec := cloudsync.New(store, m.docs, m.monitor, q, m.opts)
	if err := rec.Start(ctx, userID, profile); err != nil {
		rec.Close()
		m.mu.Lock()
		delete(m.opening, userID)
		m.mu.Unlock()
		return nil, err
	}

	s := &Session{
		UserID:     userID,
		Store:      store,
		Reconciler: rec,
		Discover:   paginate.NewController(m.fetcher),
	}

	m.mu.Lock()
	m.sessions[userID] = s
	m.lastSeen[userID] = time.Now()
	delete(m.opening, userID)
	m.mu.Unlock()

	log.Info().Str("user_id", userID).Msg("[Session] 会话已打开")
	return s, nil
}

// Get 获取已打开的会话
func (m *Manager) Get(userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	m.lastSeen[userID] = time.Now()
	return s, nil
}

// Close 登出：推送等待中的变更后停止同步并清空本地数据，云端不受影响
// 离线时未完成的写入留在该用户的离线队列里，重连后重放
func (m *Manager) Close(ctx context.Context, userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if _, err := s.Reconciler.FlushPending(ctx); err != nil && !errors.Is(err, cloudsync.ErrOffline) {
		log.Warn().Err(err).Str("user_id", userID).Msg("[Session] 登出前推送失败")
	}

	m.mu.Lock()
	if m.sessions[userID] != s {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, userID)
	delete(m.lastSeen, userID)
	m.mu.Unlock()

	s.Reconciler.Close()
	s.Store.Clear()
	log.Info().Str("user_id", userID).Msg("[Session] 会话已关闭")
	return nil
}

// CloseAll 进程退出时先尽量推送未同步的修改，再关闭所有会话
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		_ = m.Close(ctx, s.UserID)
	}

	m.mu.Lock()
	pending := 0
	for _, q := range m.queues {
		pending += q.Len()
	}
	m.mu.Unlock()
	if pending > 0 {
		log.Warn().Int("pending", pending).Msg("[Session] 进程退出时仍有未重放的离线操作")
	}
	m.unsubscribe()
	m.cancel()
}

// CloseIdle 关闭超过 maxIdle 未访问的会话，返回关闭数量
func (m *Manager) CloseIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	m.mu.Lock()
	var idle []*Session
	for id, seen := range m.lastSeen {
		if seen.Before(cutoff) {
			idle = append(idle, m.sessions[id])
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		_ = m.Close(ctx, s.UserID)
	}
	return len(idle)
}

// Len 打开的会话数
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
