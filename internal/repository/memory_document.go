package repository

import (
	"context"
	"sync"

	"github.com/user/cinematch/internal/model"
)

// MemoryDocumentStore 进程内文档存储，订阅者同步收到变更
// 可注入失败，用于测试离线与重试
type MemoryDocumentStore struct {
	mu       sync.Mutex
	docs     map[string]model.PreferenceSet
	profiles map[string]model.UserProfile
	subs     map[string]map[int]ChangeFunc
	nextID   int

	failReads  error
	failWrites error
	writes     int
}

// NewMemoryDocumentStore 创建内存文档存储
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		docs:     make(map[string]model.PreferenceSet),
		profiles: make(map[string]model.UserProfile),
		subs:     make(map[string]map[int]ChangeFunc),
	}
}

// FailReads 之后的读取都返回 err；传 nil 恢复
func (m *MemoryDocumentStore) FailReads(err error) {
	m.mu.Lock()
	m.failReads = err
	m.mu.Unlock()
}

// FailWrites 之后的写入都返回 err；传 nil 恢复
func (m *MemoryDocumentStore) FailWrites(err error) {
	m.mu.Lock()
	m.failWrites = err
	m.mu.Unlock()
}

// Writes 成功写入次数
func (m *MemoryDocumentStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Profile 初始化时写入的资料
func (m *MemoryDocumentStore) Profile(userID string) (model.UserProfile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	return p, ok
}

func (m *MemoryDocumentStore) GetDocument(_ context.Context, userID string) (*model.PreferenceSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return nil, m.failReads
	}
	doc, ok := m.docs[userID]
	if !ok {
		return nil, nil
	}
	c := doc.Clone()
	return &c, nil
}

func (m *MemoryDocumentStore) SetDocument(ctx context.Context, userID string, doc model.PreferenceSet) error {
	return m.write(userID, doc, nil)
}

// CreateDocument 文档已存在时保持原样
func (m *MemoryDocumentStore) CreateDocument(_ context.Context, userID string, profile model.UserProfile, doc model.PreferenceSet) error {
	return m.write(userID, doc, &profile)
}

func (m *MemoryDocumentStore) write(userID string, doc model.PreferenceSet, profile *model.UserProfile) error {
	m.mu.Lock()
	if m.failWrites != nil {
		err := m.failWrites
		m.mu.Unlock()
		return err
	}
	if _, ok := m.docs[userID]; ok && profile != nil {
		m.mu.Unlock()
		return nil
	}
	m.docs[userID] = doc.Clone()
	if profile != nil {
		m.profiles[userID] = *profile
	}
	m.writes++
	fns := m.subscribers(userID)
	m.mu.Unlock()

	for _, fn := range fns {
		c := doc.Clone()
		fn(&c)
	}
	return nil
}

func (m *MemoryDocumentStore) DeleteDocument(_ context.Context, userID string) error {
	m.mu.Lock()
	if m.failWrites != nil {
		err := m.failWrites
		m.mu.Unlock()
		return err
	}
	delete(m.docs, userID)
	delete(m.profiles, userID)
	fns := m.subscribers(userID)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(nil)
	}
	return nil
}

// Subscribe 订阅变更
func (m *MemoryDocumentStore) Subscribe(userID string, fn ChangeFunc) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.subs[userID] == nil {
		m.subs[userID] = make(map[int]ChangeFunc)
	}
	m.subs[userID][id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs[userID], id)
		m.mu.Unlock()
	}
}

func (m *MemoryDocumentStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return m.failReads
	}
	return nil
}

// Peek 直接读取文档，不受读失败注入影响
func (m *MemoryDocumentStore) Peek(userID string) (model.PreferenceSet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[userID]
	return doc.Clone(), ok
}

func (m *MemoryDocumentStore) subscribers(userID string) []ChangeFunc {
	fns := make([]ChangeFunc, 0, len(m.subs[userID]))
	for _, fn := range m.subs[userID] {
		fns = append(fns, fn)
	}
	return fns
}
