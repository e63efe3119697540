package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/cinematch/internal/handler"
	"github.com/user/cinematch/internal/middleware"
)

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler) {
	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	// ==================== 公开浏览 ====================
	{
		api.GET("/browse/grid", h.BrowseGrid)
		api.GET("/browse/:mediaType/:category", h.BrowseList)
		api.GET("/search", h.Search)
		api.POST("/ai/search", h.AISearch)
		api.GET("/titles/:mediaType/:id", h.TitleDetails)
		api.GET("/charts", h.StreamingServices)
		api.GET("/charts/:providerId", h.StreamingChart)
		api.GET("/trakt/movies/:list", h.TraktMovies)
	}

	auth := middleware.RequireAuth(h.Config.AppSecret)

	// ==================== 会话 ====================
	sess := api.Group("/session")
	sess.Use(auth)
	{
		sess.POST("", h.OpenSession)
		sess.DELETE("", h.CloseSession)
	}

	// ==================== 用户偏好（需要登录）====================
	me := api.Group("/me")
	me.Use(auth)
	{
		me.DELETE("", h.DeleteAccount)
		me.GET("/preferences", h.Preferences)
		me.POST("/favorites/toggle", h.ToggleFavorite)
		me.POST("/watchlist/toggle", h.ToggleWatchlist)

		me.POST("/lists", h.CreateList)
		me.DELETE("/lists/:listId", h.DeleteList)
		me.POST("/lists/:listId/items", h.AddToList)
		me.DELETE("/lists/:listId/items/:itemId", h.RemoveFromList)

		me.GET("/sync", h.SyncStatus)
		me.POST("/sync/flush", h.FlushSync)

		me.GET("/discover", h.DiscoverView)
		me.POST("/discover", h.StartDiscover)
		me.POST("/discover/next", h.NextDiscover)
	}
}
