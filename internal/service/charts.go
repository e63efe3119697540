package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/user/cinematch/internal/model"
	"github.com/user/cinematch/internal/utils"
)

// ErrUnknownProvider 不支持的流媒体平台
var ErrUnknownProvider = errors.New("unknown streaming provider")

// TMDB 的 provider_id
var streamingServices = []model.StreamingService{
	{ID: 8, Name: "NETFLIX"},
	{ID: 119, Name: "PRIME VIDEO"},
	{ID: 2, Name: "DISNEY+"},
	{ID: 15, Name: "HULU"},
	{ID: 384, Name: "HBO MAX"},
	{ID: 350, Name: "APPLE TV+"},
	{ID: 531, Name: "PARAMOUNT+"},
	{ID: 386, Name: "PEACOCK"},
	{ID: 43, Name: "STARZ"},
	{ID: 37, Name: "SHOWTIME"},
}

const (
	// 每种媒体类型只检查日榜前 50 条
	chartScanDepth = 50
	chartSize      = 10
	// 前几名标记为上升
	chartRisingTop = 3
	chartScanLimit = 10
)

// ChartsService 按平台过滤的日趋势榜
type ChartsService struct {
	tmdb   *TMDBService
	group  singleflight.Group
	charts *cache.Cache

	// 条目在某平台是否可看，key 为 mediaType-id-providerID
	available *cache.Cache
}

// NewChartsService 创建榜单服务
func NewChartsService(tmdb *TMDBService) *ChartsService {
	return &ChartsService{
		tmdb:      tmdb,
		charts:    utils.NewTTLCache(15*time.Minute, time.Hour),
		available: utils.NewTTLCache(time.Hour, time.Hour),
	}
}

// Services 支持的平台列表
func (s *ChartsService) Services() []model.StreamingService {
	return slices.Clone(streamingServices)
}

func providerName(id int) (string, bool) {
	for _, p := range streamingServices {
		if p.ID == id {
			return p.Name, true
		}
	}
	return "", false
}

// Chart 某平台当前可看的日趋势电影和剧集，各取前 10 后按名次合并，总数不超过 10
// 两种媒体类型都失败时返回错误，只有一种失败时返回另一种
func (s *ChartsService) Chart(ctx context.Context, providerID int) ([]model.ChartEntry, error) {
	name, ok := providerName(providerID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProvider, providerID)
	}
	key := strconv.Itoa(providerID)
	if v, ok := s.charts.Get(key); ok {
		return v.([]model.ChartEntry), nil
	}

	val, err, _ := s.group.Do(key, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		var (
			movies, shows     []model.ChartEntry
			movieErr, showErr error
		)
		g := errgroup.Group{}
		g.Go(func() error {
			movies, movieErr = s.ranked(ctx, model.MediaMovie, providerID, name)
			return nil
		})
		g.Go(func() error {
			shows, showErr = s.ranked(ctx, model.MediaTV, providerID, name)
			return nil
		})
		_ = g.Wait()
		if movieErr != nil && showErr != nil {
			return nil, movieErr
		}
		for _, err := range []error{movieErr, showErr} {
			if err != nil {
				log.Warn().Err(err).Int("provider_id", providerID).Msg("[Charts] 部分榜单获取失败")
			}
		}

		combined := append(movies, shows...)
		sort.SliceStable(combined, func(i, j int) bool { return combined[i].Rank < combined[j].Rank })
		if len(combined) > chartSize {
			combined = combined[:chartSize]
		}
		s.charts.Set(key, combined, cache.DefaultExpiration)
		return combined, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]model.ChartEntry), nil
}

// ranked 日榜前 50 条中在该平台可看的条目，保持日榜顺序，最多 10 条
func (s *ChartsService) ranked(ctx context.Context, mediaType model.MediaType, providerID int, name string) ([]model.ChartEntry, error) {
	trending, err := s.tmdb.Trending(ctx, mediaType, "day")
	if err != nil {
		return nil, err
	}
	if len(trending) > chartScanDepth {
		trending = trending[:chartScanDepth]
	}

	hits := make([]bool, len(trending))
	g := errgroup.Group{}
	g.SetLimit(chartScanLimit)
	for i, t := range trending {
		g.Go(func() error {
			hits[i] = s.isAvailable(ctx, mediaType, t.ID, providerID)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.ChartEntry, 0, chartSize)
	for i, t := range trending {
		if !hits[i] {
			continue
		}
		rank := len(out) + 1
		trend := "stable"
		if rank <= chartRisingTop {
			trend = "up"
		}
		out = append(out, model.ChartEntry{Title: t, Rank: rank, TrendDirection: trend, ProviderName: name})
		if len(out) == chartSize {
			break
		}
	}
	return out, nil
}

// isAvailable 美国地区订阅、免费或广告渠道中是否有该平台；查询失败视为不可看
func (s *ChartsService) isAvailable(ctx context.Context, mediaType model.MediaType, id, providerID int) bool {
	key := fmt.Sprintf("%s-%d-%d", mediaType, id, providerID)
	if v, ok := s.available.Get(key); ok {
		return v.(bool)
	}

	results, err := s.tmdb.WatchProviders(ctx, mediaType, id)
	if err != nil {
		if !errors.Is(err, utils.ErrNotFound) {
			log.Debug().Err(err).Str("key", key).Msg("[Charts] 查询播放源失败")
			return false
		}
		results = nil
	}
	us := results[certCountry]
	found := false
	for _, group := range [][]model.WatchProvider{us.Flatrate, us.Free, us.Ads} {
		for _, p := range group {
			if p.ProviderID == providerID {
				found = true
			}
		}
	}
	s.available.Set(key, found, cache.DefaultExpiration)
	return found
}
