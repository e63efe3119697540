package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/user/cinematch/internal/model"
	"github.com/user/cinematch/internal/ranking"
)

// Category 浏览分类
type Category string

const (
	CategoryTrending Category = "trending"
	CategoryPopular  Category = "popular"
	CategoryTopRated Category = "top_rated"
	CategoryUpcoming Category = "upcoming"
)

// ParseCategory 解析分类参数
func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case CategoryTrending, CategoryPopular, CategoryTopRated, CategoryUpcoming:
		return c, true
	}
	return "", false
}

// BrowseService 首页浏览：榜单与网格
type BrowseService struct {
	tmdb *TMDBService
}

// NewBrowseService 创建浏览服务
func NewBrowseService(tmdb *TMDBService) *BrowseService {
	return &BrowseService{tmdb: tmdb}
}

// 分级查询的并发上限
const certConcurrency = 8

// List 获取单个榜单，剧集结果经过排序精炼，再按 filters 本地筛选排序
func (s *BrowseService) List(ctx context.Context, mediaType model.MediaType, category Category, filters model.FilterOptions) ([]model.Title, error) {
	var (
		titles []model.Title
		err    error
	)
	switch category {
	case CategoryTrending:
		titles, err = s.tmdb.Trending(ctx, mediaType, "week")
	case CategoryPopular:
		titles, err = s.tmdb.Popular(ctx, mediaType)
	case CategoryTopRated:
		titles, err = s.tmdb.TopRated(ctx, mediaType)
	case CategoryUpcoming:
		titles, err = s.tmdb.Upcoming(ctx, mediaType)
	default:
		return nil, fmt.Errorf("unknown category %q", category)
	}
	if err != nil {
		return nil, err
	}
	if mediaType == model.MediaTV {
		titles = ranking.RefineTVShows(titles)
	}
	return s.filter(ctx, titles, filters)
}

// filter 选择了分级时先并发查询每个条目的分级，查询失败的条目视为无分级
func (s *BrowseService) filter(ctx context.Context, titles []model.Title, f model.FilterOptions) ([]model.Title, error) {
	if f.IsEmpty() {
		return titles, nil
	}

	var certs func(model.Title) []string
	if len(f.AgeRatings) > 0 {
		var (
			mu     sync.Mutex
			byItem = make(map[model.MediaType]map[int][]string)
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(certConcurrency)
		for _, t := range titles {
			g.Go(func() error {
				c, err := s.tmdb.Certifications(gctx, t.MediaType, t.ID)
				if err != nil {
					log.Warn().Err(err).Int("id", t.ID).Str("media_type", string(t.MediaType)).Msg("[Browse] 获取分级失败")
					return nil
				}
				mu.Lock()
				if byItem[t.MediaType] == nil {
					byItem[t.MediaType] = make(map[int][]string)
				}
				byItem[t.MediaType][t.ID] = c
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		certs = func(t model.Title) []string { return byItem[t.MediaType][t.ID] }
	}

	out := ranking.Apply(titles, ranking.FromFilters(f, certs))
	ranking.SortTitles(out, f.SortBy)
	return out, nil
}

// Grid 趋势 + 热门合并去重，tab 为 all/movies/tv，sort 支持热度或票数
func (s *BrowseService) Grid(ctx context.Context, kinds []model.MediaType, sortKey model.SortKey) ([]model.Title, error) {
	lists := make([][]model.Title, len(kinds)*2)

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			titles, err := s.tmdb.Trending(gctx, kind, "week")
			lists[i*2] = titles
			return err
		})
		g.Go(func() error {
			titles, err := s.tmdb.Popular(gctx, kind)
			lists[i*2+1] = titles
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []model.Title
	for _, l := range lists {
		merged = append(merged, l...)
	}
	merged = ranking.Dedup(merged)

	if sortKey != model.SortVoteCountDesc {
		sortKey = model.SortPopularity
	}
	ranking.SortTitles(merged, sortKey)
	return merged, nil
}
