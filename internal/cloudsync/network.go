package cloudsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// NetworkMonitor 在线/离线信号
type NetworkMonitor interface {
	Online() bool
	// Subscribe 状态切换时回调，返回取消函数
	Subscribe(fn func(online bool)) func()
}

// signal 保存当前状态，仅在切换时通知
type signal struct {
	mu        sync.Mutex
	online    bool
	listeners map[int]func(bool)
	nextID    int
}

func newSignal(online bool) *signal {
	return &signal{online: online, listeners: make(map[int]func(bool))}
}

func (s *signal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *signal) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *signal) set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	fns := make([]func(bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// ManualMonitor 由调用方直接设置状态
type ManualMonitor struct {
	*signal
}

// NewManualMonitor 创建手动监视器
func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{signal: newSignal(online)}
}

// SetOnline 设置在线状态
func (m *ManualMonitor) SetOnline(online bool) { m.set(online) }

// Pinger 可探测连通性的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeMonitor 定时 ping 文档存储来判断是否在线
type ProbeMonitor struct {
	*signal
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewProbeMonitor 创建探测监视器，初始视为在线
func NewProbeMonitor(p Pinger, interval time.Duration) *ProbeMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ProbeMonitor{
		signal:   newSignal(true),
		pinger:   p,
		interval: interval,
		timeout:  interval / 2,
		stop:     make(chan struct{}),
	}
}

// Start 先同步探测一次，然后在后台按间隔探测
func (m *ProbeMonitor) Start(ctx context.Context) {
	m.Probe(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Probe(ctx)
			}
		}
	}()
}

// Probe 探测一次并更新状态
func (m *ProbeMonitor) Probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.pinger.Ping(pctx)
	online := err == nil
	if online != m.Online() {
		if online {
			log.Info().Msg("[Network] 连接已恢复")
		} else {
			log.Warn().Err(err).Msg("[Network] 连接中断，进入离线模式")
		}
	}
	m.set(online)
	return online
}

// Stop 停止后台探测
func (m *ProbeMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}
