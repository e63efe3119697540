package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/user/cinematch/internal/model"
)

// NotifyChannel 偏好文档变更的 LISTEN/NOTIFY 通道
const NotifyChannel = "user_preferences"

// TitleList jsonb 存储的标题数组
type TitleList []model.Title

// Value 实现 driver.Valuer
func (t TitleList) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal(t)
	return string(b), err
}

// Scan 实现 sql.Scanner
func (t *TitleList) Scan(src any) error {
	return scanJSON(src, t)
}

// ListDocs jsonb 存储的片单数组
type ListDocs []model.List

// Value 实现 driver.Valuer
func (l ListDocs) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

// Scan 实现 sql.Scanner
func (l *ListDocs) Scan(src any) error {
	return scanJSON(src, l)
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	}
	return fmt.Errorf("unsupported jsonb source %T", src)
}

// UserPreferences 每个用户一行的偏好文档
type UserPreferences struct {
	UserID      string    `gorm:"primaryKey;size:128"`
	Email       string    `gorm:"size:255"`
	DisplayName string    `gorm:"size:255"`
	Favorites   TitleList `gorm:"type:jsonb;not null;default:'[]'"`
	Watchlist   TitleList `gorm:"type:jsonb;not null;default:'[]'"`
	Lists       ListDocs  `gorm:"type:jsonb;not null;default:'[]'"`
	LastUpdated time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName 表名
func (UserPreferences) TableName() string { return "user_preferences" }

func (u *UserPreferences) toSet() *model.PreferenceSet {
	p := model.NewPreferenceSet()
	if u.Favorites != nil {
		p.Favorites = []model.Title(u.Favorites)
	}
	if u.Watchlist != nil {
		p.Watchlist = []model.Title(u.Watchlist)
	}
	if u.Lists != nil {
		p.Lists = []model.List(u.Lists)
	}
	p.LastUpdated = u.LastUpdated
	return &p
}

// PostgresDocumentStore 基于 postgres 的文档存储
// 写入后 pg_notify，pq.Listener 收到通知后重新读取文档分发给订阅者
type PostgresDocumentStore struct {
	db  *gorm.DB
	dsn string

	mu     sync.RWMutex
	subs   map[string]map[int]ChangeFunc
	nextID int

	listener *pq.Listener
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewPostgresDocumentStore 创建文档存储；dsn 为空时不开启实时订阅
func NewPostgresDocumentStore(db *gorm.DB, dsn string) *PostgresDocumentStore {
	return &PostgresDocumentStore{
		db:   db,
		dsn:  dsn,
		subs: make(map[string]map[int]ChangeFunc),
		done: make(chan struct{}),
	}
}

// Start 开始监听通知
func (s *PostgresDocumentStore) Start() error {
	if s.dsn == "" {
		return nil
	}
	s.listener = pq.NewListener(s.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Int("event", int(ev)).Msg("[DocumentStore] 监听连接事件")
		}
	})
	if err := s.listener.Listen(NotifyChannel); err != nil {
		_ = s.listener.Close()
		return fmt.Errorf("listen %s failed: %w", NotifyChannel, err)
	}

	s.wg.Add(1)
	go s.loop()
	log.Info().Str("channel", NotifyChannel).Msg("[DocumentStore] 实时订阅已启动")
	return nil
}

func (s *PostgresDocumentStore) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case n := <-s.listener.Notify:
			if n == nil {
				// 重连后可能漏掉通知，全部订阅者重新拉取
				s.refreshAll()
				continue
			}
			s.dispatch(n.Extra)
		case <-ticker.C:
			go func() {
				if err := s.listener.Ping(); err != nil {
					log.Warn().Err(err).Msg("[DocumentStore] 监听连接 ping 失败")
				}
			}()
		}
	}
}

func (s *PostgresDocumentStore) refreshAll() {
	s.mu.RLock()
	users := make([]string, 0, len(s.subs))
	for id := range s.subs {
		users = append(users, id)
	}
	s.mu.RUnlock()

	for _, id := range users {
		s.dispatch(id)
	}
}

func (s *PostgresDocumentStore) dispatch(userID string) {
	s.mu.RLock()
	fns := make([]ChangeFunc, 0, len(s.subs[userID]))
	for _, fn := range s.subs[userID] {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	if len(fns) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	doc, err := s.GetDocument(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("[DocumentStore] 读取变更文档失败")
		return
	}
	for _, fn := range fns {
		fn(doc)
	}
}

// Subscribe 订阅某个用户文档的变更
func (s *PostgresDocumentStore) Subscribe(userID string, fn ChangeFunc) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[userID] == nil {
		s.subs[userID] = make(map[int]ChangeFunc)
	}
	s.subs[userID][id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[userID], id)
			if len(s.subs[userID]) == 0 {
				delete(s.subs, userID)
			}
			s.mu.Unlock()
		})
	}
}

// GetDocument 读取文档，不存在时返回 nil, nil
func (s *PostgresDocumentStore) GetDocument(ctx context.Context, userID string) (*model.PreferenceSet, error) {
	var row UserPreferences
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return row.toSet(), nil
}

// SetDocument 整体写入 favorites/watchlist/lists
func (s *PostgresDocumentStore) SetDocument(ctx context.Context, userID string, doc model.PreferenceSet) error {
	row := UserPreferences{
		UserID:      userID,
		Favorites:   TitleList(doc.Favorites),
		Watchlist:   TitleList(doc.Watchlist),
		Lists:       ListDocs(doc.Lists),
		LastUpdated: doc.LastUpdated,
	}
	return s.upsert(ctx, &row, []string{"favorites", "watchlist", "lists", "last_updated", "updated_at"})
}

// CreateDocument 初始化新用户文档，同时写入基础资料
// 文档已存在时不做任何修改
func (s *PostgresDocumentStore) CreateDocument(ctx context.Context, userID string, profile model.UserProfile, doc model.PreferenceSet) error {
	row := UserPreferences{
		UserID:      userID,
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		Favorites:   TitleList(doc.Favorites),
		Watchlist:   TitleList(doc.Watchlist),
		Lists:       ListDocs(doc.Lists),
		LastUpdated: doc.LastUpdated,
	}
	return s.upsert(ctx, &row, nil)
}

// onConflict columns 为空时冲突即跳过
func onConflict(columns []string) clause.OnConflict {
	c := clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}}
	if len(columns) == 0 {
		c.DoNothing = true
	} else {
		c.DoUpdates = clause.AssignmentColumns(columns)
	}
	return c
}

func (s *PostgresDocumentStore) upsert(ctx context.Context, row *UserPreferences, columns []string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(onConflict(columns)).Create(row).Error; err != nil {
			return err
		}
		// 通知在事务提交后才会送达
		return tx.Exec("SELECT pg_notify(?, ?)", NotifyChannel, row.UserID).Error
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// DeleteDocument 删除文档
func (s *PostgresDocumentStore) DeleteDocument(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&UserPreferences{}).Error; err != nil {
			return err
		}
		return tx.Exec("SELECT pg_notify(?, ?)", NotifyChannel, userID).Error
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Ping 探测数据库连接
func (s *PostgresDocumentStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Close 停止监听
func (s *PostgresDocumentStore) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	s.wg.Wait()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// classify 把连接类错误归为 ErrUnavailable
func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
