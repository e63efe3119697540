package model

import (
	"reflect"
	"time"
)

// List 用户自建片单
type List struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Items       []Title   `json:"items"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// Clone 深拷贝
func (l List) Clone() List {
	c := l
	c.Items = cloneTitles(l.Items)
	return c
}

// PreferenceSet 每个用户的偏好文档，也是云端同步的最小单位
type PreferenceSet struct {
	Favorites   []Title   `json:"favorites"`
	Watchlist   []Title   `json:"watchlist"`
	Lists       []List    `json:"lists"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
}

// NewPreferenceSet 创建空的偏好文档
func NewPreferenceSet() PreferenceSet {
	return PreferenceSet{
		Favorites: []Title{},
		Watchlist: []Title{},
		Lists:     []List{},
	}
}

// Clone 深拷贝，调度推送前用它做值快照
func (p PreferenceSet) Clone() PreferenceSet {
	c := PreferenceSet{
		Favorites:   cloneTitles(p.Favorites),
		Watchlist:   cloneTitles(p.Watchlist),
		Lists:       make([]List, 0, len(p.Lists)),
		LastUpdated: p.LastUpdated,
	}
	for _, l := range p.Lists {
		c.Lists = append(c.Lists, l.Clone())
	}
	return c
}

// SameContent 比较 favorites/watchlist/lists 三元组，忽略 LastUpdated
// nil 与空切片视为相同
func (p PreferenceSet) SameContent(o PreferenceSet) bool {
	a, b := p.normalized(), o.normalized()
	return reflect.DeepEqual(a.Favorites, b.Favorites) &&
		reflect.DeepEqual(a.Watchlist, b.Watchlist) &&
		reflect.DeepEqual(a.Lists, b.Lists)
}

func (p PreferenceSet) normalized() PreferenceSet {
	n := p.Clone()
	n.LastUpdated = time.Time{}
	normalizeTitles(n.Favorites)
	normalizeTitles(n.Watchlist)
	for i := range n.Lists {
		normalizeTitles(n.Lists[i].Items)
		n.Lists[i].CreatedAt = n.Lists[i].CreatedAt.UTC().Round(0)
		n.Lists[i].UpdatedAt = n.Lists[i].UpdatedAt.UTC().Round(0)
	}
	return n
}

// normalizeTitles 空 GenreIDs 经 JSON 往返后为 nil
func normalizeTitles(titles []Title) {
	for i := range titles {
		if len(titles[i].GenreIDs) == 0 {
			titles[i].GenreIDs = nil
		}
	}
}

func cloneTitles(in []Title) []Title {
	out := make([]Title, 0, len(in))
	for _, t := range in {
		out = append(out, t.Clone())
	}
	return out
}

// UserProfile 初始化云端文档时写入的基础用户信息
type UserProfile struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// SyncStatus 同步状态
type SyncStatus struct {
	Online       bool      `json:"online"`
	Pending      int       `json:"pending"`
	LastSyncedAt time.Time `json:"last_synced_at,omitempty"`
}
