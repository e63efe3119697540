package paginate

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/user/cinematch/internal/model"
	"github.com/user/cinematch/internal/ranking"
)

// PageFetcher 按媒体类型拉取发现页
type PageFetcher interface {
	FetchPage(ctx context.Context, mediaType model.MediaType, filters model.FilterOptions, page int) (*model.Page, error)
}

// Tab 当前展示的媒体范围
type Tab string

const (
	TabAll    Tab = "all"
	TabMovies Tab = "movies"
	TabTV     Tab = "tv"
)

// ParseTab 解析 tab 参数，未知值视为 all
func ParseTab(s string) Tab {
	switch Tab(s) {
	case TabMovies:
		return TabMovies
	case TabTV:
		return TabTV
	}
	return TabAll
}

// Kinds tab 对应的媒体类型，电影在前
func (t Tab) Kinds() []model.MediaType {
	switch t {
	case TabMovies:
		return []model.MediaType{model.MediaMovie}
	case TabTV:
		return []model.MediaType{model.MediaTV}
	}
	return []model.MediaType{model.MediaMovie, model.MediaTV}
}

// State 单个集合的分页状态
type State int

const (
	StateIdle State = iota
	StateFetching
	StateReady
	StateFetchingNext
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateReady:
		return "ready"
	case StateFetchingNext:
		return "fetching_next"
	case StateExhausted:
		return "exhausted"
	}
	return "idle"
}

type collection struct {
	kind         model.MediaType
	state        State
	pages        []*model.Page
	totalPages   int
	totalResults int
	err          error
}

func (c *collection) hasNext() bool {
	if c.state == StateExhausted || len(c.pages) == 0 {
		return false
	}
	return len(c.pages) < c.totalPages
}

func (c *collection) loading() bool {
	return c.state == StateFetching || c.state == StateFetchingNext
}

// View 合并后的只读视图
type View struct {
	Items        []model.Title `json:"items"`
	IsLoading    bool          `json:"isLoading"`
	HasError     bool          `json:"hasError"`
	HasNextPage  bool          `json:"hasNextPage"`
	TotalResults int           `json:"totalResults"`
	Tab          Tab           `json:"tab"`
}

// Controller 把电影、剧集两个后端分页集合合并成一个滚动列表
type Controller struct {
	fetcher PageFetcher

	mu          sync.Mutex
	filters     model.FilterOptions
	tab         Tab
	sortKey     model.SortKey
	generation  int
	collections map[model.MediaType]*collection
}

// NewController 创建分页合并控制器
func NewController(fetcher PageFetcher) *Controller {
	return &Controller{
		fetcher:     fetcher,
		tab:         TabAll,
		collections: make(map[model.MediaType]*collection),
	}
}

// Start 重置并拉取当前 tab 下每个集合的第一页
func (c *Controller) Start(ctx context.Context, filters model.FilterOptions, tab Tab) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.filters = filters
	c.tab = tab
	c.sortKey = filters.SortBy
	c.collections = make(map[model.MediaType]*collection)
	var active []*collection
	for _, kind := range tab.Kinds() {
		col := &collection{kind: kind, state: StateFetching}
		c.collections[kind] = col
		active = append(active, col)
	}
	c.mu.Unlock()

	return c.fetch(ctx, gen, filters, active, func(*collection) int { return 1 })
}

// FetchNextPage 推进每个还有下一页的集合；都没有下一页时直接返回，不发请求
func (c *Controller) FetchNextPage(ctx context.Context) error {
	c.mu.Lock()
	gen := c.generation
	filters := c.filters
	var active []*collection
	for _, kind := range c.tab.Kinds() {
		col, ok := c.collections[kind]
		if !ok || col.loading() || !col.hasNext() {
			continue
		}
		col.state = StateFetchingNext
		active = append(active, col)
	}
	c.mu.Unlock()

	if len(active) == 0 {
		return nil
	}
	return c.fetch(ctx, gen, filters, active, func(col *collection) int { return len(col.pages) + 1 })
}

// fetch 并发拉取；某个集合失败不影响其他集合，也不清掉已有页
func (c *Controller) fetch(ctx context.Context, gen int, filters model.FilterOptions, cols []*collection, pageOf func(*collection) int) error {
	c.mu.Lock()
	pageNums := make([]int, len(cols))
	for i, col := range cols {
		pageNums[i] = pageOf(col)
	}
	c.mu.Unlock()

	errs := make([]error, len(cols))
	var g errgroup.Group
	for i, col := range cols {
		g.Go(func() error {
			page, err := c.fetcher.FetchPage(ctx, col.kind, filters, pageNums[i])
			c.apply(gen, col, page, err)
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			log.Warn().Err(err).Str("media_type", string(cols[i].kind)).Int("page", pageNums[i]).
				Msg("[Paginate] 拉取分页失败")
			return err
		}
	}
	return nil
}

func (c *Controller) apply(gen int, col *collection, page *model.Page, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 已被新的 Start 取代
	if gen != c.generation {
		return
	}
	if err != nil {
		col.err = err
		if len(col.pages) == 0 {
			col.state = StateIdle
		} else {
			col.state = StateReady
		}
		return
	}

	col.err = nil
	if page == nil {
		page = model.EmptyPage()
	}
	col.pages = append(col.pages, page)
	col.totalPages = page.TotalPages
	col.totalResults = page.TotalResults
	if page.HasNext() {
		col.state = StateReady
	} else {
		col.state = StateExhausted
	}
}

// State 返回某个集合的当前状态
func (c *Controller) State(kind model.MediaType) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.collections[kind]; ok {
		return col.state
	}
	return StateIdle
}

// View 合并所有已拉取页：电影在前、剧集在后，按 id 去重，可选排序
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{Tab: c.tab, Items: []model.Title{}}
	var merged []model.Title
	for _, kind := range c.tab.Kinds() {
		col, ok := c.collections[kind]
		if !ok {
			continue
		}
		for _, p := range col.pages {
			merged = append(merged, p.Results...)
		}
		v.IsLoading = v.IsLoading || col.loading()
		v.HasError = v.HasError || col.err != nil
		v.HasNextPage = v.HasNextPage || col.hasNext()
		v.TotalResults += col.totalResults
	}

	if len(merged) > 0 {
		v.Items = ranking.Dedup(merged)
		ranking.SortTitles(v.Items, c.sortKey)
	}
	return v
}
