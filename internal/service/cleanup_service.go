package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// IdleCloser 可以回收空闲会话
type IdleCloser interface {
	CloseIdle(ctx context.Context, maxIdle time.Duration) int
}

// CleanupService 清理服务：定时回收长时间未访问的用户会话
type CleanupService struct {
	sessions IdleCloser
	interval time.Duration
	maxIdle  time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewCleanupService 创建清理服务
func NewCleanupService(sessions IdleCloser, interval, maxIdle time.Duration) *CleanupService {
	return &CleanupService{
		sessions: sessions,
		interval: interval,
		maxIdle:  maxIdle,
		stop:     make(chan struct{}),
	}
}

// Start 启动定时清理任务
func (s *CleanupService) Start() {
	ticker := time.NewTicker(s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.RunCleanup()
			}
		}
	}()
}

// RunCleanup 执行一次清理
func (s *CleanupService) RunCleanup() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	closed := s.sessions.CloseIdle(ctx, s.maxIdle)
	if closed > 0 {
		log.Info().Int("closed", closed).Dur("max_idle", s.maxIdle).Msg("[CleanupService] 已回收空闲会话")
	}
	return closed
}

// Stop 停止定时任务
func (s *CleanupService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}
