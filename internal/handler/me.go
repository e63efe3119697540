package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/user/cinematch/internal/cloudsync"
	"github.com/user/cinematch/internal/middleware"
	"github.com/user/cinematch/internal/model"
	"github.com/user/cinematch/internal/paginate"
	"github.com/user/cinematch/internal/utils"
)

// titleRequest 收藏、待看和片单条目的请求体
type titleRequest struct {
	ID           int     `json:"id" binding:"required,gt=0"`
	MediaType    string  `json:"media_type" binding:"required,oneof=movie tv"`
	DisplayName  string  `json:"display_name" binding:"required,max=300"`
	ReleaseDate  string  `json:"release_date"`
	Popularity   float64 `json:"popularity"`
	VoteAverage  float64 `json:"vote_average" binding:"gte=0,lte=10"`
	VoteCount    int     `json:"vote_count" binding:"gte=0"`
	GenreIDs     []int   `json:"genre_ids"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
}

func (r titleRequest) toTitle() model.Title {
	return model.Title{
		ID:           r.ID,
		MediaType:    model.MediaType(r.MediaType),
		DisplayName:  r.DisplayName,
		ReleaseDate:  r.ReleaseDate,
		Popularity:   r.Popularity,
		VoteAverage:  r.VoteAverage,
		VoteCount:    r.VoteCount,
		GenreIDs:     r.GenreIDs,
		Overview:     r.Overview,
		PosterPath:   r.PosterPath,
		BackdropPath: r.BackdropPath,
	}
}

// OpenSession 登录后交接用户 ID，打开会话并拉取云端数据 POST /api/session
func (h *Handler) OpenSession(c *gin.Context) {
	userID := middleware.GetUserID(c)
	s, err := h.Sessions.Open(c.Request.Context(), userID, middleware.GetProfile(c))
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("[Handler] 打开会话失败")
		utils.BadGateway(c, "同步服务暂不可用")
		return
	}
	utils.Success(c, gin.H{
		"preferences": s.Store.Snapshot(),
		"sync":        s.Reconciler.Status(),
	})
}

// CloseSession 登出 DELETE /api/session
func (h *Handler) CloseSession(c *gin.Context) {
	if err := h.Sessions.Close(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		utils.NotFound(c, "会话未打开")
		return
	}
	utils.SuccessWithMessage(c, "已退出登录", nil)
}

// DeleteAccount 删除账号数据 DELETE /api/me
func (h *Handler) DeleteAccount(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	queued, err := s.Reconciler.DeleteAccount(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("user_id", s.UserID).Msg("[Handler] 删除账号失败")
		utils.BadGateway(c, "删除失败，请稍后重试")
		return
	}
	_ = h.Sessions.Close(c.Request.Context(), s.UserID)
	if queued {
		utils.Accepted(c, "当前离线，云端数据将在联网后删除", gin.H{"queued": true})
		return
	}
	utils.SuccessWithMessage(c, "账号数据已删除", gin.H{"queued": false})
}

// Preferences 当前偏好 GET /api/me/preferences
func (h *Handler) Preferences(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	utils.Success(c, s.Store.Snapshot())
}

// ToggleFavorite 收藏/取消收藏 POST /api/me/favorites/toggle
func (h *Handler) ToggleFavorite(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "参数错误")
		return
	}
	added := s.Store.ToggleFavorite(req.toTitle())
	utils.Success(c, gin.H{"id": req.ID, "favorite": added, "favorites": s.Store.Favorites()})
}

// ToggleWatchlist 加入/移出待看 POST /api/me/watchlist/toggle
func (h *Handler) ToggleWatchlist(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "参数错误")
		return
	}
	added := s.Store.ToggleWatchlist(req.toTitle())
	utils.Success(c, gin.H{"id": req.ID, "watchlist": added, "items": s.Store.Watchlist()})
}

type createListRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Description string `json:"description" binding:"max=500"`
}

// CreateList 新建片单 POST /api/me/lists
func (h *Handler) CreateList(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	var req createListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "片单名称不能为空")
		return
	}
	utils.Success(c, s.Store.CreateList(req.Name, req.Description))
}

// DeleteList 删除片单 DELETE /api/me/lists/:listId
func (h *Handler) DeleteList(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	s.Store.DeleteList(c.Param("listId"))
	utils.Success(c, s.Store.Lists())
}

// AddToList 片单添加条目 POST /api/me/lists/:listId/items
func (h *Handler) AddToList(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "参数错误")
		return
	}
	s.Store.AddToList(c.Param("listId"), req.toTitle())
	utils.Success(c, s.Store.Lists())
}

// RemoveFromList 片单移除条目 DELETE /api/me/lists/:listId/items/:itemId
func (h *Handler) RemoveFromList(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	itemID, ok := parsePositiveInt(c.Param("itemId"))
	if !ok {
		utils.BadRequest(c, "无效的条目 ID")
		return
	}
	s.Store.RemoveFromList(c.Param("listId"), itemID)
	utils.Success(c, s.Store.Lists())
}

// SyncStatus 同步状态 GET /api/me/sync
func (h *Handler) SyncStatus(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	utils.Success(c, s.Reconciler.Status())
}

// FlushSync 立即推送并重放离线队列 POST /api/me/sync/flush
func (h *Handler) FlushSync(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	replayed, err := s.Reconciler.FlushPending(c.Request.Context())
	if errors.Is(err, cloudsync.ErrOffline) {
		utils.ErrorWithData(c, 503, "当前离线，修改已保留在本地", s.Reconciler.Status())
		return
	}
	if err != nil {
		utils.InternalServerError(c, "")
		return
	}
	utils.Success(c, gin.H{"replayed": replayed, "sync": s.Reconciler.Status()})
}

type discoverRequest struct {
	model.FilterOptions
	Tab string `json:"tab" binding:"omitempty,oneof=all movies tv"`
}

// StartDiscover 按筛选条件开始发现 POST /api/me/discover
func (h *Handler) StartDiscover(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	var req discoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "参数错误")
		return
	}
	if err := req.FilterOptions.Validate(); err != nil {
		utils.BadRequest(c, "筛选条件无效")
		return
	}

	if err := s.Discover.Start(c.Request.Context(), req.FilterOptions, paginate.ParseTab(req.Tab)); err != nil {
		utils.ErrorWithData(c, 502, "部分结果加载失败", s.Discover.View())
		return
	}
	utils.Success(c, s.Discover.View())
}

// NextDiscover 加载下一页 POST /api/me/discover/next
func (h *Handler) NextDiscover(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	// 失败时保留已加载的数据
	if err := s.Discover.FetchNextPage(c.Request.Context()); err != nil {
		utils.ErrorWithData(c, 502, "加载更多失败", s.Discover.View())
		return
	}
	utils.Success(c, s.Discover.View())
}

// DiscoverView 当前发现列表 GET /api/me/discover
func (h *Handler) DiscoverView(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	utils.Success(c, s.Discover.View())
}
