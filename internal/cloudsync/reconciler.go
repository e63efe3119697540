package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/user/cinematch/internal/model"
	"github.com/user/cinematch/internal/preference"
	"github.com/user/cinematch/internal/repository"
)

var (
	// ErrOffline 当前离线，无法立即执行
	ErrOffline = errors.New("offline")
	// ErrNotStarted Reconciler 尚未绑定用户
	ErrNotStarted = errors.New("reconciler not started")
	// ErrClosed Reconciler 已关闭
	ErrClosed = errors.New("reconciler closed")
)

// Options 同步参数
type Options struct {
	Debounce   time.Duration
	MaxRetries uint
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	return o
}

// Reconciler 让本地偏好与云端文档最终一致，容忍离线
// 冲突策略：整文档粒度，后写者胜
type Reconciler struct {
	store   *preference.Store
	docs    repository.DocumentStore
	monitor NetworkMonitor
	queue   *OfflineQueue
	opts    Options
	now     func() time.Time

	mu           sync.Mutex
	userID       string
	lastSynced   *model.PreferenceSet
	lastSyncedAt time.Time
	timer        *time.Timer
	unsubscribe  []func()
	closed       bool

	// 同一时间最多一个推送在进行
	pushMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建 Reconciler，Start 之前不做任何同步
// queue 由调用方持有，可以比 Reconciler 活得更久；传 nil 时新建一个
func New(store *preference.Store, docs repository.DocumentStore, monitor NetworkMonitor, queue *OfflineQueue, opts Options) *Reconciler {
	if queue == nil {
		queue = NewOfflineQueue()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		store:   store,
		docs:    docs,
		monitor: monitor,
		queue:   queue,
		opts:    opts.withDefaults(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start 用户登录后调用：拉取一次云端文档，然后开启推送、实时拉取和重连重放
func (r *Reconciler) Start(ctx context.Context, userID string, profile model.UserProfile) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.userID != "" {
		r.mu.Unlock()
		return nil
	}
	r.userID = userID
	r.mu.Unlock()

	doc, err := r.docs.GetDocument(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("[Reconciler] 拉取云端文档失败，按新用户处理")
		doc = nil
	}

	if doc != nil {
		r.applyRemote(*doc)
	} else if err := r.InitializeUser(ctx, profile); err != nil {
		r.mu.Lock()
		r.userID = ""
		r.mu.Unlock()
		return err
	}

	unsubs := []func(){
		r.store.Subscribe(r.onLocalChange),
		r.docs.Subscribe(userID, r.onRemoteChange),
		r.monitor.Subscribe(r.onNetworkChange),
	}
	r.mu.Lock()
	r.unsubscribe = append(r.unsubscribe, unsubs...)
	r.mu.Unlock()

	log.Info().Str("user_id", userID).Bool("remote_found", doc != nil).Msg("[Reconciler] 同步已启动")
	return nil
}

// InitializeUser 为新用户写入初始文档
func (r *Reconciler) InitializeUser(ctx context.Context, profile model.UserProfile) error {
	userID, err := r.user()
	if err != nil {
		return err
	}
	snap := r.store.Snapshot()
	snap.LastUpdated = r.now().UTC()

	_, err = r.write(ctx, "initialize-user", func(ctx context.Context) error {
		return r.docs.CreateDocument(ctx, userID, profile, snap)
	}, func() { r.markSynced(snap) })
	return err
}

// SyncAll 立即把本地全部偏好写入云端
func (r *Reconciler) SyncAll(ctx context.Context) error {
	userID, err := r.user()
	if err != nil {
		return err
	}
	r.stopTimer()
	snap := r.store.Snapshot()
	snap.LastUpdated = r.now().UTC()

	_, err = r.write(ctx, "full-sync", func(ctx context.Context) error {
		return r.docs.SetDocument(ctx, userID, snap)
	}, func() { r.markSynced(snap) })
	return err
}

// DeleteAccount 删除云端文档并清空本地数据
// 离线时删除操作进入队列，queued 为 true，重连后执行
func (r *Reconciler) DeleteAccount(ctx context.Context) (queued bool, err error) {
	userID, err := r.user()
	if err != nil {
		return false, err
	}
	r.stopTimer()

	queued, err = r.write(ctx, "delete-account", func(ctx context.Context) error {
		return r.docs.DeleteDocument(ctx, userID)
	}, nil)
	if err != nil {
		return false, err
	}

	// 先标记空文档为已同步，Clear 触发的变更就不会再写回云端
	r.markSynced(model.NewPreferenceSet())
	r.store.Clear()
	return queued, nil
}

// write 带指数退避重试的写入
// 离线时入队不报错，queued 为 true；在线且重试耗尽时返回错误
func (r *Reconciler) write(ctx context.Context, name string, op func(context.Context) error, onSuccess func()) (queued bool, err error) {
	deferred := Operation{Name: name, Run: func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			return err
		}
		if onSuccess != nil {
			onSuccess()
		}
		return nil
	}}

	if !r.monitor.Online() {
		r.queue.Enqueue(deferred)
		return true, nil
	}

	err = retry.Do(
		func() error { return op(ctx) },
		retry.Context(ctx),
		retry.Attempts(r.opts.MaxRetries),
		retry.Delay(r.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(error) bool { return r.monitor.Online() }),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Str("op", name).Uint("attempt", n+1).Msg("[Reconciler] 写入失败，准备重试")
		}),
	)
	if err == nil {
		if onSuccess != nil {
			onSuccess()
		}
		return false, nil
	}

	if !r.monitor.Online() {
		log.Info().Err(err).Str("op", name).Msg("[Reconciler] 离线，写入已入队")
		r.queue.Enqueue(deferred)
		return true, nil
	}
	return false, fmt.Errorf("%s failed: %w", name, err)
}

// onLocalChange 本地变更后重置防抖计时器
func (r *Reconciler) onLocalChange(snap model.PreferenceSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.userID == "" {
		return
	}
	if r.lastSynced != nil && r.lastSynced.SameContent(snap) {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.opts.Debounce, r.flush)
}

// flush 防抖到期，推送此刻的最新状态
func (r *Reconciler) flush() {
	r.mu.Lock()
	r.timer = nil
	closed := r.closed
	userID := r.userID
	r.mu.Unlock()
	if closed || userID == "" {
		return
	}
	r.push(r.ctx, userID)
}

func (r *Reconciler) push(ctx context.Context, userID string) {
	r.pushMu.Lock()
	defer r.pushMu.Unlock()

	snap := r.store.Snapshot()
	r.mu.Lock()
	prev := r.lastSynced
	if prev != nil && prev.SameContent(snap) {
		r.mu.Unlock()
		return
	}
	snap.LastUpdated = r.now().UTC()
	// 先记下本次推送内容，云端回声与之相同会被忽略
	pending := snap.Clone()
	r.lastSynced = &pending
	r.mu.Unlock()

	queued, err := r.write(ctx, "push", func(ctx context.Context) error {
		return r.docs.SetDocument(ctx, userID, snap)
	}, func() {
		r.mu.Lock()
		r.lastSyncedAt = r.now()
		r.mu.Unlock()
	})
	if err != nil {
		// 回滚，下一次本地变更会再次推送
		r.mu.Lock()
		if r.lastSynced != nil && r.lastSynced.SameContent(pending) {
			r.lastSynced = prev
		}
		r.mu.Unlock()
		log.Error().Err(err).Str("user_id", userID).Msg("[Reconciler] 推送失败")
		return
	}
	if !queued {
		log.Debug().Str("user_id", userID).Msg("[Reconciler] 推送完成")
	}
}

// onRemoteChange 其他设备的修改整体覆盖本地
func (r *Reconciler) onRemoteChange(doc *model.PreferenceSet) {
	if doc == nil {
		log.Info().Msg("[Reconciler] 云端文档已被删除")
		return
	}
	r.mu.Lock()
	if r.closed || (r.lastSynced != nil && r.lastSynced.SameContent(*doc)) {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.applyRemote(*doc)
}

func (r *Reconciler) applyRemote(doc model.PreferenceSet) {
	r.markSynced(doc)
	r.store.Replace(doc)
}

func (r *Reconciler) markSynced(doc model.PreferenceSet) {
	c := doc.Clone()
	r.mu.Lock()
	r.lastSynced = &c
	r.lastSyncedAt = r.now()
	r.mu.Unlock()
}

func (r *Reconciler) onNetworkChange(online bool) {
	if !online {
		return
	}
	go r.drain(r.ctx)
}

func (r *Reconciler) drain(ctx context.Context) int {
	n := r.queue.Drain(ctx, r.monitor.Online)
	if n > 0 {
		log.Info().Int("replayed", n).Int("pending", r.queue.Len()).Msg("[Reconciler] 离线队列已重放")
	}
	return n
}

// FlushPending 立即推送等待中的防抖变更并重放离线队列
func (r *Reconciler) FlushPending(ctx context.Context) (int, error) {
	userID, err := r.user()
	if err != nil {
		return 0, err
	}
	// 离线时 push 自己会入队，等待中的变更不会丢
	if r.stopTimer() {
		r.push(ctx, userID)
	}
	if !r.monitor.Online() {
		return 0, ErrOffline
	}
	return r.drain(ctx), nil
}

// ClearPending 丢弃离线队列
func (r *Reconciler) ClearPending() {
	r.queue.Clear()
}

// Status 当前同步状态
func (r *Reconciler) Status() model.SyncStatus {
	r.mu.Lock()
	at := r.lastSyncedAt
	r.mu.Unlock()
	return model.SyncStatus{
		Online:       r.monitor.Online(),
		Pending:      r.queue.Len(),
		LastSyncedAt: at,
	}
}

// Close 停止所有订阅和计时器，不修改云端数据
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	unsubs := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	// 等正在进行的推送结束（成功、入队或失败）再取消
	r.pushMu.Lock()
	r.pushMu.Unlock()
	r.cancel()
}

// stopTimer 取消等待中的防抖推送，返回是否确有等待
func (r *Reconciler) stopTimer() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer == nil {
		return false
	}
	r.timer.Stop()
	r.timer = nil
	return true
}

func (r *Reconciler) user() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}
	if r.userID == "" {
		return "", ErrNotStarted
	}
	return r.userID, nil
}
