package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/iniakponode/driveafrica-sub003/internal/api/backend"
	"github.com/iniakponode/driveafrica-sub003/internal/api/handlers"
	"github.com/iniakponode/driveafrica-sub003/internal/cache"
	"github.com/iniakponode/driveafrica-sub003/internal/classifier"
	"github.com/iniakponode/driveafrica-sub003/internal/config"
	"github.com/iniakponode/driveafrica-sub003/internal/repository"
	"github.com/iniakponode/driveafrica-sub003/internal/service"
	"github.com/iniakponode/driveafrica-sub003/internal/uploader"
	"github.com/iniakponode/driveafrica-sub003/pkg/ws"
)

// store 行程服务与上传器共用的存储
type store interface {
	service.Storage
	uploader.Store
}

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting trip telemetry server", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 存储
	var st store
	if cfg.DatabaseURL != "" {
		db, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect database", zap.Error(err))
		}
		defer db.Close()

		if err := db.Migrate(logger); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database migrated successfully")
		st = repository.NewStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		st = repository.NewMemoryStore()
	}

	// 增量日志
	var journal service.Journal = cache.NopJournal{}
	if cfg.RedisAddr != "" {
		rj, err := cache.NewRedisJournal(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal("Failed to connect redis", zap.Error(err))
		}
		defer rj.Close()
		journal = rj
		logger.Info("Redis journal enabled", zap.String("addr", cfg.RedisAddr))
	}

	// 分类器
	adapter, err := newClassifier(cfg.Classifier, logger)
	if err != nil {
		logger.Fatal("Failed to load classifier", zap.Error(err))
	}

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run(ctx)

	// 创建行程服务
	tripService := service.NewTripService(cfg, logger, st, journal, adapter, wsHub, nil)
	wsHub.SetInitDataProvider(tripService.InitData)

	// 后端同步
	var syncWorker *uploader.Worker
	if cfg.Sync.BackendURL != "" {
		client := backend.NewClient(cfg.Sync.BackendURL, cfg.Sync.DeviceID, cfg.Sync.JWTSecret, cfg.Sync.RequestTimeout)
		up := uploader.New(logger, st, client, uploader.Policy{
			MaxAttempts: cfg.Sync.MaxAttempts,
			BaseBackoff: cfg.Sync.BackoffBase,
			MaxBackoff:  cfg.Sync.BackoffMax,
			Factor:      2,
			BatchSize:   cfg.Sync.BatchSize,
		})
		syncWorker = uploader.NewWorker(logger, up, cfg.Sync.Interval, cfg.Sync.Timeout)
		tripService.SetSyncer(syncWorker)
		syncWorker.Start(ctx)
	} else {
		logger.Warn("BACKEND_URL not set, sync disabled")
	}

	if err := tripService.Start(ctx); err != nil {
		logger.Fatal("Failed to start trip service", zap.Error(err))
	}

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := handlers.NewHandler(logger, tripService, syncWorker, wsHub)
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 优雅关闭：先停止接入，再落盘活动行程，最后停止同步
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	tripService.Stop()
	if syncWorker != nil {
		syncWorker.Stop()
	}
	cancel()

	logger.Info("Server exited")
}

// newClassifier 加载模型与特征范围
func newClassifier(cfg config.ClassifierConfig, logger *zap.Logger) (*classifier.Adapter, error) {
	model, err := classifier.LoadModel(cfg.ModelFile)
	if err != nil {
		return nil, err
	}

	minMax := classifier.DefaultMinMax()
	if cfg.MinMaxFile != "" {
		if minMax, err = classifier.LoadMinMax(cfg.MinMaxFile); err != nil {
			return nil, err
		}
	}

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", cfg.TimeZone, err)
	}

	logger.Info("Classifier loaded", zap.String("model", model.Name), zap.String("time_zone", cfg.TimeZone))
	return classifier.NewAdapter(logger, classifier.NewModelScorer(model, minMax), loc, cfg.Timeout), nil
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
