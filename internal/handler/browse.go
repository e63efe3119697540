package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/user/cinematch/internal/model"
	"github.com/user/cinematch/internal/paginate"
	"github.com/user/cinematch/internal/ranking"
	"github.com/user/cinematch/internal/service"
	"github.com/user/cinematch/internal/utils"
)

// BrowseList 单个榜单 GET /api/browse/:mediaType/:category?genres=&exclude_genres=&min_rating=&max_rating=&age_ratings=&sort_by=
func (h *Handler) BrowseList(c *gin.Context) {
	mt, ok := parseMediaType(c)
	if !ok {
		return
	}
	category, ok := service.ParseCategory(c.Param("category"))
	if !ok {
		utils.BadRequest(c, "无效的分类")
		return
	}

	var filters model.FilterOptions
	if err := c.ShouldBindQuery(&filters); err != nil {
		utils.BadRequest(c, "无效的筛选条件")
		return
	}
	if err := filters.Validate(); err != nil {
		utils.BadRequest(c, "无效的筛选条件")
		return
	}

	titles, err := h.Browse.List(c.Request.Context(), mt, category, filters)
	if err != nil {
		upstreamError(c, err, "榜单")
		return
	}
	utils.Success(c, titles)
}

// BrowseGrid 首页网格 GET /api/browse/grid?tab=&sort=
func (h *Handler) BrowseGrid(c *gin.Context) {
	tab := paginate.ParseTab(c.DefaultQuery("tab", "all"))
	sortKey := model.SortPopularity
	if c.Query("sort") == "votes" || model.SortKey(c.Query("sort")) == model.SortVoteCountDesc {
		sortKey = model.SortVoteCountDesc
	}

	titles, err := h.Browse.Grid(c.Request.Context(), tab.Kinds(), sortKey)
	if err != nil {
		upstreamError(c, err, "首页")
		return
	}
	utils.Success(c, gin.H{"tab": tab, "sort": sortKey, "items": titles})
}

// Search 搜索 GET /api/search?q=&page=
func (h *Handler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		utils.BadRequest(c, "请输入搜索关键词")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))

	result, err := h.TMDB.Search(c.Request.Context(), query, page)
	if err != nil {
		upstreamError(c, err, "搜索结果")
		return
	}
	utils.Success(c, result)
}

type aiSearchRequest struct {
	Query string `json:"query" binding:"required,max=500"`
}

// AISearch 自然语言推荐 POST /api/ai/search
func (h *Handler) AISearch(c *gin.Context) {
	if h.AI == nil {
		utils.Error(c, 503, "AI 推荐未启用")
		return
	}
	var req aiSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "请输入推荐描述")
		return
	}

	result, err := h.AI.Search(c.Request.Context(), req.Query)
	if err != nil {
		upstreamError(c, err, "AI 推荐")
		return
	}
	utils.Success(c, result)
}

// TitleResponse 详情页数据
type TitleResponse struct {
	Details   *model.TitleDetails    `json:"details"`
	Trailer   *model.Trailer         `json:"trailer,omitempty"`
	Providers model.ProviderSummary  `json:"providers"`
	BestWatch *model.StreamingOption `json:"best_watch,omitempty"`
	Rating    *model.TraktRating     `json:"rating,omitempty"`
}

// TitleDetails 详情 GET /api/titles/:mediaType/:id
// 只有详情本身失败才算失败，预告片、播放源和评分缺失时降级
func (h *Handler) TitleDetails(c *gin.Context) {
	mt, ok := parseMediaType(c)
	if !ok {
		return
	}
	id, ok := parsePositiveInt(c.Param("id"))
	if !ok {
		utils.BadRequest(c, "无效的 ID")
		return
	}

	var (
		resp    TitleResponse
		videos  []model.Trailer
		summary model.ProviderSummary
	)
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		d, err := h.TMDB.Details(ctx, mt, id)
		resp.Details = d
		return err
	})
	g.Go(func() error {
		videos, _ = h.TMDB.Videos(ctx, mt, id)
		return nil
	})
	g.Go(func() error {
		summary, _ = h.TMDB.ProcessedProviders(ctx, mt, id)
		return nil
	})
	if mt == model.MediaMovie && h.Trakt != nil {
		g.Go(func() error {
			resp.Rating = h.Trakt.Ratings(context.WithoutCancel(ctx), id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		upstreamError(c, err, "详情")
		return
	}

	if trailers := ranking.RankTrailers(videos); len(trailers) > 0 {
		resp.Trailer = &trailers[0]
	}
	resp.Providers = summary
	if best, ok := ranking.PickBestStreamingOption(summary.StreamingOptions()); ok {
		resp.BestWatch = &best
	}
	utils.Success(c, resp)
}
