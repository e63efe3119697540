package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // 确保在精简镜像中也能识别时区

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/user/cinematch/internal/cloudsync"
	"github.com/user/cinematch/internal/config"
	"github.com/user/cinematch/internal/handler"
	"github.com/user/cinematch/internal/middleware"
	"github.com/user/cinematch/internal/repository"
	"github.com/user/cinematch/internal/router"
	"github.com/user/cinematch/internal/service"
	"github.com/user/cinematch/internal/session"
	"github.com/user/cinematch/internal/utils"
)

func main() {
	// 加载环境变量
	envErr := godotenv.Load()

	// 加载配置
	cfg := config.Load()
	utils.InitLogger(cfg.Env, cfg.LogLevel)
	if envErr != nil {
		log.Info().Msg("未找到 .env 文件，使用系统环境变量")
	}

	// 初始化数据库
	db, err := repository.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("数据库连接失败")
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	// 偏好文档存储 + 实时订阅
	docs := repository.NewPostgresDocumentStore(db, cfg.DatabaseURL)
	if err := docs.Start(); err != nil {
		log.Warn().Err(err).Msg("实时订阅启动失败，仅在登录时拉取云端数据")
	}
	defer docs.Close()

	// 网络状态探测
	rootCtx, stopProbe := context.WithCancel(context.Background())
	defer stopProbe()
	monitor := cloudsync.NewProbeMonitor(docs, cfg.NetworkProbeTicker)
	monitor.Start(rootCtx)
	defer monitor.Stop()

	// 外部服务
	tmdb := service.NewTMDBService(cfg, nil)
	trakt := service.NewTraktService(cfg, nil)
	var ai *service.AISearchService
	if cfg.GeminiAPIKey != "" {
		ai = service.NewAISearchService(utils.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL), tmdb)
	} else {
		log.Warn().Msg("未配置 GEMINI_API_KEY，AI 推荐不可用")
	}

	sessions := session.NewManager(docs, monitor, tmdb, cloudsync.Options{
		Debounce:   cfg.SyncDebounce,
		MaxRetries: cfg.SyncMaxRetries,
		RetryDelay: cfg.SyncRetryDelay,
	})

	// 启动定时清理任务
	cleanupSvc := service.NewCleanupService(sessions, cfg.CleanupInterval, cfg.SessionIdleTTL)
	cleanupSvc.Start()
	defer cleanupSvc.Stop()

	// 初始化 Gin
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	// 启用 gzip，默认压缩级别
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	h := handler.NewHandler(cfg, tmdb, trakt, ai, sessions)
	router.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// 在 goroutine 中启动服务器，这样我们就可以监听信号
	go func() {
		log.Info().Str("port", cfg.Port).Msgf("服务器启动于 http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("服务器启动失败")
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("服务器强制关闭")
	}
	// 退出前推送未同步的修改
	sessions.CloseAll(ctx)

	log.Info().Msg("服务器已退出")
}
