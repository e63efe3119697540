package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/user/cinematch/internal/config"
	"github.com/user/cinematch/internal/model"
	"github.com/user/cinematch/internal/utils"
)

// TraktService 评分聚合服务
type TraktService struct {
	baseURL string
	http    *utils.HTTPClient
	cb      *gobreaker.CircuitBreaker[any]
	ratings *cache.Cache
}

type traktSearchResult struct {
	Type  string `json:"type"`
	Movie *struct {
		Title string `json:"title"`
		IDs   struct {
			Slug string `json:"slug"`
			TMDB int    `json:"tmdb"`
		} `json:"ids"`
	} `json:"movie"`
}

// NewTraktService 创建 Trakt 服务
func NewTraktService(cfg *config.Config, httpc *http.Client) *TraktService {
	headers := map[string]string{
		"Content-Type":      "application/json",
		"trakt-api-version": "2",
		"trakt-api-key":     cfg.TraktAPIKey,
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "trakt-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 404 属于正常的“无数据”，不计入失败
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, utils.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("[Trakt] 熔断器状态切换")
		},
	})

	return &TraktService{
		baseURL: strings.TrimRight(cfg.TraktBaseURL, "/"),
		http:    utils.NewHTTPClient(httpc, 0, headers).SetRetry(cfg.UpstreamMaxRetries, cfg.UpstreamRetryDelay),
		cb:      cb,
		ratings: utils.NewTTLCache(24*time.Hour, time.Hour),
	}
}

func (s *TraktService) get(ctx context.Context, endpoint string, target any) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.http.GetJSON(ctx, endpoint, target)
	})
	return err
}

// FindBySourceID 通过 TMDB ID 查找 Trakt slug，找不到返回空字符串
func (s *TraktService) FindBySourceID(ctx context.Context, tmdbID int) (string, error) {
	var results []traktSearchResult
	endpoint := fmt.Sprintf("%s/search/tmdb/%d?%s", s.baseURL, tmdbID, url.Values{"type": {"movie"}}.Encode())
	if err := s.get(ctx, endpoint, &results); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("trakt search failed: %w", err)
	}
	if len(results) == 0 || results[0].Movie == nil {
		return "", nil
	}
	return results[0].Movie.IDs.Slug, nil
}

// RatingsBySlug 根据 slug 获取评分，找不到返回 nil
func (s *TraktService) RatingsBySlug(ctx context.Context, slug string) (*model.TraktRating, error) {
	var rating model.TraktRating
	endpoint := fmt.Sprintf("%s/movies/%s/ratings", s.baseURL, url.PathEscape(slug))
	if err := s.get(ctx, endpoint, &rating); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("trakt ratings fetch failed: %w", err)
	}
	return &rating, nil
}

// Ratings 组合查询，任何失败都只记录日志并返回 nil
func (s *TraktService) Ratings(ctx context.Context, tmdbID int) *model.TraktRating {
	key := fmt.Sprintf("rating-%d", tmdbID)
	if v, ok := s.ratings.Get(key); ok {
		return v.(*model.TraktRating)
	}

	slug, err := s.FindBySourceID(ctx, tmdbID)
	if err != nil {
		log.Warn().Err(err).Int("tmdb_id", tmdbID).Msg("[Trakt] 获取评分失败")
		return nil
	}
	if slug == "" {
		s.ratings.Set(key, (*model.TraktRating)(nil), cache.DefaultExpiration)
		return nil
	}

	rating, err := s.RatingsBySlug(ctx, slug)
	if err != nil {
		log.Warn().Err(err).Str("slug", slug).Msg("[Trakt] 获取评分失败")
		return nil
	}
	s.ratings.Set(key, rating, cache.DefaultExpiration)
	return rating
}

// TraktList Trakt 电影榜单
type TraktList string

const (
	TraktTrending TraktList = "trending"
	TraktPopular  TraktList = "popular"
)

// ParseTraktList 解析榜单参数
func ParseTraktList(s string) (TraktList, bool) {
	switch l := TraktList(s); l {
	case TraktTrending, TraktPopular:
		return l, true
	}
	return "", false
}

// traktListItem trending 包了一层 movie，popular 直接是电影本身
type traktListItem struct {
	Movie *traktMovieIDs `json:"movie"`
	traktMovieIDs
}

type traktMovieIDs struct {
	IDs struct {
		TMDB int `json:"tmdb"`
	} `json:"ids"`
}

func (it traktListItem) tmdbID() int {
	if it.Movie != nil {
		return it.Movie.IDs.TMDB
	}
	return it.IDs.TMDB
}

// MovieList 榜单前 limit 部电影的 TMDB ID，保持榜单顺序，缺少 TMDB ID 的跳过
func (s *TraktService) MovieList(ctx context.Context, list TraktList, limit int) ([]int, error) {
	var items []traktListItem
	endpoint := fmt.Sprintf("%s/movies/%s?%s", s.baseURL, list, url.Values{"limit": {strconv.Itoa(limit)}}.Encode())
	if err := s.get(ctx, endpoint, &items); err != nil {
		return nil, fmt.Errorf("trakt %s list failed: %w", list, err)
	}
	ids := make([]int, 0, len(items))
	for _, it := range items {
		if id := it.tmdbID(); id > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
