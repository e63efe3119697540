package cloudsync

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Operation 排队等待重放的写操作，闭包只捕获值快照
type Operation struct {
	Name string
	Run  func(ctx context.Context) error
}

// OfflineQueue 离线写操作队列，重连后按 FIFO 逐个重放
type OfflineQueue struct {
	mu       sync.Mutex
	ops      []Operation
	draining bool
}

// NewOfflineQueue 创建队列
func NewOfflineQueue() *OfflineQueue {
	return &OfflineQueue{}
}

// Enqueue 追加到队尾
func (q *OfflineQueue) Enqueue(op Operation) {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	n := len(q.ops)
	q.mu.Unlock()
	log.Debug().Str("op", op.Name).Int("pending", n).Msg("[OfflineQueue] 操作已入队")
}

// Len 待处理数量
func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Clear 丢弃所有待处理操作
func (q *OfflineQueue) Clear() {
	q.mu.Lock()
	q.ops = nil
	q.mu.Unlock()
}

// Drain 逐个执行，每个完成后才开始下一个
// 单个失败只记录日志；online 返回 false 时把失败项放回队首并停止
// 已有 Drain 在进行时直接返回
func (q *OfflineQueue) Drain(ctx context.Context, online func() bool) (done int) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return 0
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil || !online() {
			return done
		}

		q.mu.Lock()
		if len(q.ops) == 0 {
			q.mu.Unlock()
			return done
		}
		op := q.ops[0]
		q.ops = q.ops[1:]
		q.mu.Unlock()

		if err := op.Run(ctx); err != nil {
			if !online() {
				q.mu.Lock()
				q.ops = append([]Operation{op}, q.ops...)
				q.mu.Unlock()
				log.Warn().Err(err).Str("op", op.Name).Msg("[OfflineQueue] 重放时再次离线，保留在队首")
				return done
			}
			log.Error().Err(err).Str("op", op.Name).Msg("[OfflineQueue] 重放失败，继续处理后续操作")
			continue
		}
		done++
	}
}
