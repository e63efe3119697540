package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/user/cinematch/internal/config"
	"github.com/user/cinematch/internal/middleware"
	"github.com/user/cinematch/internal/model"
	"github.com/user/cinematch/internal/service"
	"github.com/user/cinematch/internal/session"
	"github.com/user/cinematch/internal/utils"
)

// Handler HTTP 处理器
type Handler struct {
	Config     *config.Config
	TMDB       *service.TMDBService
	Trakt      *service.TraktService
	Browse     *service.BrowseService
	Charts     *service.ChartsService
	TraktLists *service.TraktListService
	AI         *service.AISearchService
	Sessions   *session.Manager
}

// NewHandler 创建处理器
func NewHandler(cfg *config.Config, tmdb *service.TMDBService, trakt *service.TraktService, ai *service.AISearchService, sessions *session.Manager) *Handler {
	h := &Handler{
		Config:   cfg,
		TMDB:     tmdb,
		Trakt:    trakt,
		Browse:   service.NewBrowseService(tmdb),
		Charts:   service.NewChartsService(tmdb),
		AI:       ai,
		Sessions: sessions,
	}
	if trakt != nil {
		h.TraktLists = service.NewTraktListService(trakt, tmdb)
	}
	return h
}

// currentSession 取当前用户已打开的会话，没有时直接写 404
func (h *Handler) currentSession(c *gin.Context) (*session.Session, bool) {
	s, err := h.Sessions.Get(middleware.GetUserID(c))
	if err != nil {
		utils.NotFound(c, "会话未打开，请先登录")
		return nil, false
	}
	return s, true
}

// upstreamError 读路径错误统一返回 502 / 404
func upstreamError(c *gin.Context, err error, what string) {
	if errors.Is(err, service.ErrNotFound) {
		utils.NotFound(c, what+"不存在")
		return
	}
	log.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("[Handler] 上游请求失败")
	utils.BadGateway(c, what+"加载失败，请稍后重试")
}

func parseMediaType(c *gin.Context) (model.MediaType, bool) {
	mt, ok := model.ParseMediaType(c.Param("mediaType"))
	if !ok {
		utils.BadRequest(c, "无效的媒体类型")
	}
	return mt, ok
}

func parsePositiveInt(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
