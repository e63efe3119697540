package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/cinematch/internal/service"
	"github.com/user/cinematch/internal/utils"
)

// StreamingServices 支持榜单的平台 GET /api/charts
func (h *Handler) StreamingServices(c *gin.Context) {
	utils.Success(c, h.Charts.Services())
}

// StreamingChart 平台日趋势榜 GET /api/charts/:providerId
func (h *Handler) StreamingChart(c *gin.Context) {
	id, ok := parsePositiveInt(c.Param("providerId"))
	if !ok {
		utils.BadRequest(c, "无效的平台 ID")
		return
	}

	entries, err := h.Charts.Chart(c.Request.Context(), id)
	if errors.Is(err, service.ErrUnknownProvider) {
		utils.BadRequest(c, "不支持的平台")
		return
	}
	if err != nil {
		upstreamError(c, err, "榜单")
		return
	}
	utils.Success(c, entries)
}

// TraktMovies Trakt 电影榜单 GET /api/trakt/movies/:list
func (h *Handler) TraktMovies(c *gin.Context) {
	if h.TraktLists == nil {
		utils.Error(c, http.StatusServiceUnavailable, "Trakt 未启用")
		return
	}
	list, ok := service.ParseTraktList(c.Param("list"))
	if !ok {
		utils.BadRequest(c, "无效的榜单")
		return
	}

	titles, err := h.TraktLists.Movies(c.Request.Context(), list)
	if err != nil {
		upstreamError(c, err, "榜单")
		return
	}
	utils.Success(c, titles)
}
