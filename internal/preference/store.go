package preference

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/cinematch/internal/model"
)

// Listener 接收每次变更后的快照
type Listener func(model.PreferenceSet)

// Store 本地偏好的唯一数据源
// 所有操作都是全函数：未知 id 直接忽略，不返回错误
type Store struct {
	mu    sync.Mutex
	state model.PreferenceSet

	// 串行化通知，保证订阅者按调用顺序收到快照
	notifyMu  sync.Mutex
	listeners map[int]Listener
	nextID    int

	now func() time.Time
}

// NewStore 创建空的偏好存储
func NewStore() *Store {
	return &Store{
		state:     model.NewPreferenceSet(),
		listeners: make(map[int]Listener),
		now:       time.Now,
	}
}

// Subscribe 订阅变更，返回取消函数
func (s *Store) Subscribe(fn Listener) func() {
	s.notifyMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.notifyMu.Unlock()

	return func() {
		s.notifyMu.Lock()
		delete(s.listeners, id)
		s.notifyMu.Unlock()
	}
}

// mutate 在锁内修改状态，然后按顺序把快照发给订阅者
func (s *Store) mutate(fn func(st *model.PreferenceSet) bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	changed := fn(&s.state)
	snapshot := s.state.Clone()
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, l := range s.listeners {
		l(snapshot.Clone())
	}
}

func (s *Store) read() model.PreferenceSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Snapshot 当前状态的深拷贝
func (s *Store) Snapshot() model.PreferenceSet { return s.read() }

// Favorites 收藏
func (s *Store) Favorites() []model.Title { return s.read().Favorites }

// Watchlist 待看
func (s *Store) Watchlist() []model.Title { return s.read().Watchlist }

// Lists 片单
func (s *Store) Lists() []model.List { return s.read().Lists }

// IsFavorite 是否已收藏（只按数字 id 判断）
func (s *Store) IsFavorite(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexOf(s.state.Favorites, id) >= 0
}

// IsInWatchlist 是否在待看中
func (s *Store) IsInWatchlist(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexOf(s.state.Watchlist, id) >= 0
}

// ToggleFavorite 已存在则移除，否则追加；返回操作后是否收藏
func (s *Store) ToggleFavorite(t model.Title) bool {
	var added bool
	s.mutate(func(st *model.PreferenceSet) bool {
		st.Favorites, added = toggle(st.Favorites, t)
		return true
	})
	return added
}

// ToggleWatchlist 与 ToggleFavorite 对称
func (s *Store) ToggleWatchlist(t model.Title) bool {
	var added bool
	s.mutate(func(st *model.PreferenceSet) bool {
		st.Watchlist, added = toggle(st.Watchlist, t)
		return true
	})
	return added
}

// CreateList 追加一个空片单，id 为基于时间的 UUIDv7
func (s *Store) CreateList(name, description string) model.List {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	list := model.List{
		ID:          id.String(),
		Name:        name,
		Description: description,
		Items:       []model.Title{},
		CreatedAt:   s.now().UTC(),
	}
	s.mutate(func(st *model.PreferenceSet) bool {
		st.Lists = append(st.Lists, list)
		return true
	})
	return list.Clone()
}

// AddToList 片单不存在或条目已存在时不做任何事
func (s *Store) AddToList(listID string, t model.Title) {
	s.mutate(func(st *model.PreferenceSet) bool {
		i := listIndex(st.Lists, listID)
		if i < 0 || indexOf(st.Lists[i].Items, t.ID) >= 0 {
			return false
		}
		st.Lists[i].Items = append(st.Lists[i].Items, t.Clone())
		st.Lists[i].UpdatedAt = s.now().UTC()
		return true
	})
}

// RemoveFromList 条目不存在时不做任何事
func (s *Store) RemoveFromList(listID string, itemID int) {
	s.mutate(func(st *model.PreferenceSet) bool {
		i := listIndex(st.Lists, listID)
		if i < 0 {
			return false
		}
		j := indexOf(st.Lists[i].Items, itemID)
		if j < 0 {
			return false
		}
		st.Lists[i].Items = append(st.Lists[i].Items[:j:j], st.Lists[i].Items[j+1:]...)
		st.Lists[i].UpdatedAt = s.now().UTC()
		return true
	})
}

// DeleteList 删除片单
func (s *Store) DeleteList(listID string) {
	s.mutate(func(st *model.PreferenceSet) bool {
		i := listIndex(st.Lists, listID)
		if i < 0 {
			return false
		}
		st.Lists = append(st.Lists[:i:i], st.Lists[i+1:]...)
		return true
	})
}

// Replace 整体覆盖（云端拉取时使用）
func (s *Store) Replace(p model.PreferenceSet) {
	next := p.Clone()
	s.mutate(func(st *model.PreferenceSet) bool {
		st.Favorites = next.Favorites
		st.Watchlist = next.Watchlist
		st.Lists = next.Lists
		st.LastUpdated = next.LastUpdated
		return true
	})
}

// Clear 登出时清空本地数据，不影响云端
func (s *Store) Clear() {
	s.Replace(model.NewPreferenceSet())
}

func toggle(titles []model.Title, t model.Title) ([]model.Title, bool) {
	if i := indexOf(titles, t.ID); i >= 0 {
		return append(titles[:i:i], titles[i+1:]...), false
	}
	return append(titles, t.Clone()), true
}

func indexOf(titles []model.Title, id int) int {
	for i, t := range titles {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func listIndex(lists []model.List, id string) int {
	for i, l := range lists {
		if l.ID == id {
			return i
		}
	}
	return -1
}
