package service

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/user/cinematch/internal/model"
	"github.com/user/cinematch/internal/utils"
)

const (
	traktListLimit = 20
	// 补全详情的并发上限
	traktEnrichLimit = 8
)

// TraktListService Trakt 榜单 + TMDB 详情
type TraktListService struct {
	trakt *TraktService
	tmdb  *TMDBService
	group singleflight.Group
	lists *cache.Cache
}

// NewTraktListService 创建榜单服务，结果缓存 6 小时
func NewTraktListService(trakt *TraktService, tmdb *TMDBService) *TraktListService {
	return &TraktListService{
		trakt: trakt,
		tmdb:  tmdb,
		lists: utils.NewTTLCache(6*time.Hour, time.Hour),
	}
}

// Movies 榜单电影，按 Trakt 顺序返回
// TMDB 找不到或查询失败的条目直接跳过，Trakt 本身失败才返回错误
func (s *TraktListService) Movies(ctx context.Context, list TraktList) ([]model.Title, error) {
	key := string(list)
	if v, ok := s.lists.Get(key); ok {
		return v.([]model.Title), nil
	}

	val, err, _ := s.group.Do(key, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		ids, err := s.trakt.MovieList(ctx, list, traktListLimit)
		if err != nil {
			return nil, err
		}

		found := make([]*model.Title, len(ids))
		g := errgroup.Group{}
		g.SetLimit(traktEnrichLimit)
		for i, id := range ids {
			g.Go(func() error {
				d, err := s.tmdb.Details(ctx, model.MediaMovie, id)
				if err != nil {
					if !errors.Is(err, utils.ErrNotFound) {
						log.Warn().Err(err).Int("tmdb_id", id).Msg("[TraktList] 获取详情失败，跳过")
					}
					return nil
				}
				found[i] = &d.Title
				return nil
			})
		}
		_ = g.Wait()

		titles := make([]model.Title, 0, len(found))
		for _, t := range found {
			if t != nil {
				titles = append(titles, *t)
			}
		}
		s.lists.Set(key, titles, cache.DefaultExpiration)
		return titles, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]model.Title), nil
}
