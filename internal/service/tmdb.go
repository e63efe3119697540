package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/user/cinematch/internal/config"
	"github.com/user/cinematch/internal/model"
	"github.com/user/cinematch/internal/ranking"
	"github.com/user/cinematch/internal/utils"
)

// TV 分级从低到高，用于构造区间筛选
var tvCertOrder = []string{"TV-Y", "TV-G", "TV-PG", "TV-14", "TV-MA"}

// TMDBService 元数据网关：封装 TMDB 的只读接口，并把结果归一化为 model.Title
type TMDBService struct {
	baseURL   string
	region    string
	http      *utils.HTTPClient
	group     singleflight.Group
	pages     *utils.SearchCache[*model.Page]
	providers *cache.Cache
	certs     *cache.Cache
}

// NewTMDBService 创建 TMDB 服务；httpc 为空时使用默认客户端
func NewTMDBService(cfg *config.Config, httpc *http.Client) *TMDBService {
	headers := map[string]string{
		"Authorization": "Bearer " + cfg.TMDBToken,
	}
	return &TMDBService{
		baseURL:   strings.TrimRight(cfg.TMDBBaseURL, "/"),
		region:    cfg.DefaultRegion,
		http:      utils.NewHTTPClient(httpc, cfg.TMDBRateRPS, headers).SetRetry(cfg.UpstreamMaxRetries, cfg.UpstreamRetryDelay),
		pages:     utils.NewSearchCache[*model.Page](1000, 5*time.Minute),
		providers: utils.NewTTLCache(30*time.Minute, time.Hour),
		certs:     utils.NewTTLCache(24*time.Hour, time.Hour),
	}
}

// tmdbItem TMDB 列表接口中的单条结果（电影和剧集字段不同）
type tmdbItem struct {
	ID           int     `json:"id"`
	MediaType    string  `json:"media_type"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	Popularity   float64 `json:"popularity"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int     `json:"vote_count"`
	GenreIDs     []int   `json:"genre_ids"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
}

type tmdbListResponse struct {
	Page         int        `json:"page"`
	Results      []tmdbItem `json:"results"`
	TotalPages   int        `json:"total_pages"`
	TotalResults int        `json:"total_results"`
}

// normalize 根据已知的媒体类型取 title 或 name
func (it tmdbItem) normalize(mediaType model.MediaType) model.Title {
	t := model.Title{
		ID:           it.ID,
		MediaType:    mediaType,
		Popularity:   it.Popularity,
		VoteAverage:  it.VoteAverage,
		VoteCount:    it.VoteCount,
		GenreIDs:     it.GenreIDs,
		Overview:     it.Overview,
		PosterPath:   it.PosterPath,
		BackdropPath: it.BackdropPath,
	}
	if mediaType == model.MediaMovie {
		t.DisplayName = it.Title
		t.ReleaseDate = it.ReleaseDate
	} else {
		t.DisplayName = it.Name
		t.ReleaseDate = it.FirstAirDate
	}
	return t
}

func (r *tmdbListResponse) toPage(mediaType model.MediaType) *model.Page {
	page := &model.Page{
		Page:         r.Page,
		Results:      make([]model.Title, 0, len(r.Results)),
		TotalPages:   r.TotalPages,
		TotalResults: r.TotalResults,
	}
	for _, it := range r.Results {
		page.Results = append(page.Results, it.normalize(mediaType))
	}
	return page
}

// fetchPage 带缓存与 singleflight 的分页请求
func (s *TMDBService) fetchPage(ctx context.Context, endpoint string, mediaType model.MediaType) (*model.Page, error) {
	if p, ok := s.pages.Get(endpoint); ok {
		return p, nil
	}

	val, err, _ := s.group.Do(endpoint, func() (interface{}, error) {
		var resp tmdbListResponse
		// 合并的请求不随第一个调用方取消
		if err := s.http.GetJSON(context.WithoutCancel(ctx), endpoint, &resp); err != nil {
			return nil, err
		}
		page := resp.toPage(mediaType)
		s.pages.Set(endpoint, page)
		return page, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*model.Page), nil
}

func (s *TMDBService) url(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	if params.Get("language") == "" {
		params.Set("language", "en-US")
	}
	return s.baseURL + path + "?" + params.Encode()
}

// Discover 按筛选条件发现影视
// 没有任何有效筛选条件时直接返回空结果，不发起请求
func (s *TMDBService) Discover(ctx context.Context, mediaType model.MediaType, filters model.FilterOptions, page int) (*model.Page, error) {
	if filters.IsEmpty() {
		log.Debug().Str("media_type", string(mediaType)).Msg("[TMDB] 无有效筛选条件，返回空结果")
		return model.EmptyPage(), nil
	}
	if page < 1 {
		page = 1
	}
	endpoint := s.url("/discover/"+string(mediaType), buildDiscoverParams(filters, mediaType, page))
	return s.fetchPage(ctx, endpoint, mediaType)
}

// FetchPage 实现 paginate.PageFetcher
func (s *TMDBService) FetchPage(ctx context.Context, mediaType model.MediaType, filters model.FilterOptions, page int) (*model.Page, error) {
	return s.Discover(ctx, mediaType, filters, page)
}

func buildDiscoverParams(f model.FilterOptions, mediaType model.MediaType, page int) url.Values {
	params := url.Values{}
	params.Set("include_adult", "false")
	params.Set("page", strconv.Itoa(page))

	if len(f.Genres) > 0 {
		params.Set("with_genres", joinInts(f.Genres, ","))
	}
	if len(f.ExcludeGenres) > 0 {
		params.Set("without_genres", joinInts(f.ExcludeGenres, ","))
	}
	if f.MinRating > 0 {
		params.Set("vote_average.gte", strconv.FormatFloat(f.MinRating, 'f', -1, 64))
	}
	if f.MaxRating > 0 && f.MaxRating < 10 {
		params.Set("vote_average.lte", strconv.FormatFloat(f.MaxRating, 'f', -1, 64))
	}

	if len(f.AgeRatings) > 0 {
		params.Set("certification_country", "US")
		if mediaType == model.MediaTV {
			// TV 只支持区间参数
			min, max := certRange(f.AgeRatings)
			if min == max {
				params.Set("certification", min)
			} else {
				params.Set("certification.gte", min)
				params.Set("certification.lte", max)
			}
		} else {
			params.Set("certification", f.AgeRatings[0])
		}
	}

	sortBy := f.SortBy
	if sortBy == model.SortNone {
		sortBy = model.SortPopularity
	}
	if mediaType == model.MediaTV {
		// TV 接口的字段名不同
		switch sortBy {
		case model.SortReleaseDate:
			sortBy = "first_air_date.desc"
		case model.SortTitle:
			sortBy = "name.asc"
		}
	}
	params.Set("sort_by", string(sortBy))
	return params
}

// certRange 按 TV 分级顺序取最小/最大值，未知分级排在最前
func certRange(ratings []string) (string, string) {
	ordered := append([]string(nil), ratings...)
	slices.SortStableFunc(ordered, func(a, b string) int {
		return slices.Index(tvCertOrder, a) - slices.Index(tvCertOrder, b)
	})
	return ordered[0], ordered[len(ordered)-1]
}

// Search 多类型搜索，只保留有海报的电影/剧集
func (s *TMDBService) Search(ctx context.Context, query string, page int) (*model.Page, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return model.EmptyPage(), nil
	}
	if page < 1 {
		page = 1
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("include_adult", "false")
	endpoint := s.url("/search/multi", params)

	if p, ok := s.pages.Get(endpoint); ok {
		return p, nil
	}

	var resp tmdbListResponse
	if err := s.http.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	out := &model.Page{Page: resp.Page, TotalPages: resp.TotalPages, TotalResults: resp.TotalResults, Results: []model.Title{}}
	for _, it := range resp.Results {
		mt, ok := model.ParseMediaType(it.MediaType)
		if !ok || it.PosterPath == "" {
			continue
		}
		out.Results = append(out.Results, it.normalize(mt))
	}
	s.pages.Set(endpoint, out)
	return out, nil
}

// SearchByKind 在单一媒体类型下按标题搜索（AI 推荐交叉验证用）
func (s *TMDBService) SearchByKind(ctx context.Context, mediaType model.MediaType, query string) ([]model.Title, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", "1")
	params.Set("include_adult", "false")
	p, err := s.fetchPage(ctx, s.url("/search/"+string(mediaType), params), mediaType)
	if err != nil {
		return nil, err
	}
	return p.Results, nil
}

// Trending 趋势榜，window 为 day 或 week
func (s *TMDBService) Trending(ctx context.Context, mediaType model.MediaType, window string) ([]model.Title, error) {
	if window != "day" {
		window = "week"
	}
	params := url.Values{}
	params.Set("region", s.region)
	return s.list(ctx, s.url(fmt.Sprintf("/trending/%s/%s", mediaType, window), params), mediaType)
}

// Popular 热门
func (s *TMDBService) Popular(ctx context.Context, mediaType model.MediaType) ([]model.Title, error) {
	return s.list(ctx, s.url(fmt.Sprintf("/%s/popular", mediaType), pageOne()), mediaType)
}

// TopRated 高分
func (s *TMDBService) TopRated(ctx context.Context, mediaType model.MediaType) ([]model.Title, error) {
	return s.list(ctx, s.url(fmt.Sprintf("/%s/top_rated", mediaType), pageOne()), mediaType)
}

// Upcoming 即将上映；剧集使用 on_the_air
func (s *TMDBService) Upcoming(ctx context.Context, mediaType model.MediaType) ([]model.Title, error) {
	path := "/movie/upcoming"
	if mediaType == model.MediaTV {
		path = "/tv/on_the_air"
	}
	return s.list(ctx, s.url(path, pageOne()), mediaType)
}

func (s *TMDBService) list(ctx context.Context, endpoint string, mediaType model.MediaType) ([]model.Title, error) {
	p, err := s.fetchPage(ctx, endpoint, mediaType)
	if err != nil {
		return nil, err
	}
	return p.Results, nil
}

type tmdbDetailsResponse struct {
	tmdbItem
	Genres          []model.Genre `json:"genres"`
	Runtime         int           `json:"runtime"`
	EpisodeRunTime  []int         `json:"episode_run_time"`
	NumberOfSeasons int           `json:"number_of_seasons"`
	Status          string        `json:"status"`
	Tagline         string        `json:"tagline"`
	IMDbID          string        `json:"imdb_id"`
}

// Details 详情
func (s *TMDBService) Details(ctx context.Context, mediaType model.MediaType, id int) (*model.TitleDetails, error) {
	var resp tmdbDetailsResponse
	if err := s.http.GetJSON(ctx, s.url(fmt.Sprintf("/%s/%d", mediaType, id), nil), &resp); err != nil {
		return nil, err
	}

	d := &model.TitleDetails{
		Title:          resp.normalize(mediaType),
		Genres:         resp.Genres,
		Runtime:        resp.Runtime,
		NumberOfSeason: resp.NumberOfSeasons,
		Status:         resp.Status,
		Tagline:        resp.Tagline,
		IMDbID:         resp.IMDbID,
	}
	if d.Runtime == 0 && len(resp.EpisodeRunTime) > 0 {
		d.Runtime = resp.EpisodeRunTime[0]
	}
	if len(d.GenreIDs) == 0 {
		for _, g := range resp.Genres {
			d.GenreIDs = append(d.GenreIDs, g.ID)
		}
	}
	return d, nil
}

// Videos 预告片等视频
func (s *TMDBService) Videos(ctx context.Context, mediaType model.MediaType, id int) ([]model.Trailer, error) {
	var resp struct {
		ID      int             `json:"id"`
		Results []model.Trailer `json:"results"`
	}
	if err := s.http.GetJSON(ctx, s.url(fmt.Sprintf("/%s/%d/videos", mediaType, id), nil), &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// WatchProviders 按地区分组的播放源，结果缓存 30 分钟
func (s *TMDBService) WatchProviders(ctx context.Context, mediaType model.MediaType, id int) (map[string]model.RegionProviders, error) {
	key := fmt.Sprintf("%s-%d", mediaType, id)
	if v, ok := s.providers.Get(key); ok {
		return v.(map[string]model.RegionProviders), nil
	}

	var resp struct {
		Results map[string]model.RegionProviders `json:"results"`
	}
	if err := s.http.GetJSON(ctx, s.baseURL+fmt.Sprintf("/%s/%d/watch/providers", mediaType, id), &resp); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		resp.Results = map[string]model.RegionProviders{}
	}
	s.providers.Set(key, resp.Results, cache.DefaultExpiration)
	return resp.Results, nil
}

// ProcessedProviders 取默认地区（回退 US）的播放源汇总
func (s *TMDBService) ProcessedProviders(ctx context.Context, mediaType model.MediaType, id int) (model.ProviderSummary, error) {
	results, err := s.WatchProviders(ctx, mediaType, id)
	if err != nil {
		return ranking.ProcessWatchProviders(nil, s.region), err
	}
	return ranking.ProcessWatchProviders(results, s.region), nil
}

// certCountry 分级筛选固定使用美国分级体系
const certCountry = "US"

type releaseDatesResponse struct {
	Results []struct {
		Country      string `json:"iso_3166_1"`
		ReleaseDates []struct {
			Certification string `json:"certification"`
		} `json:"release_dates"`
	} `json:"results"`
}

type contentRatingsResponse struct {
	Results []struct {
		Country string `json:"iso_3166_1"`
		Rating  string `json:"rating"`
	} `json:"results"`
}

// Certifications 美国分级（电影取各次发行的非空分级去重，剧集取 content rating），缓存 24 小时
// 条目不存在时返回空列表
func (s *TMDBService) Certifications(ctx context.Context, mediaType model.MediaType, id int) ([]string, error) {
	key := fmt.Sprintf("%s-%d", mediaType, id)
	if v, ok := s.certs.Get(key); ok {
		return v.([]string), nil
	}

	var certs []string
	if mediaType == model.MediaTV {
		var resp contentRatingsResponse
		if err := s.http.GetJSON(ctx, s.baseURL+fmt.Sprintf("/tv/%d/content_ratings", id), &resp); err != nil && !errors.Is(err, utils.ErrNotFound) {
			return nil, err
		}
		for _, r := range resp.Results {
			if r.Country == certCountry && r.Rating != "" {
				certs = append(certs, r.Rating)
			}
		}
	} else {
		var resp releaseDatesResponse
		if err := s.http.GetJSON(ctx, s.baseURL+fmt.Sprintf("/movie/%d/release_dates", id), &resp); err != nil && !errors.Is(err, utils.ErrNotFound) {
			return nil, err
		}
		for _, r := range resp.Results {
			if r.Country != certCountry {
				continue
			}
			for _, d := range r.ReleaseDates {
				if d.Certification != "" && !slices.Contains(certs, d.Certification) {
					certs = append(certs, d.Certification)
				}
			}
		}
	}
	if certs == nil {
		certs = []string{}
	}
	s.certs.Set(key, certs, cache.DefaultExpiration)
	return certs, nil
}

func pageOne() url.Values {
	params := url.Values{}
	params.Set("page", "1")
	return params
}

func joinInts(ids []int, sep string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}
	return strings.Join(parts, sep)
}
