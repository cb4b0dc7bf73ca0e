package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iniakponode/driveafrica-sub003/internal/metrics"
	"github.com/iniakponode/driveafrica-sub003/internal/service"
	"github.com/iniakponode/driveafrica-sub003/internal/uploader"
	"github.com/iniakponode/driveafrica-sub003/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger      *zap.Logger
	tripService *service.TripService
	syncWorker  *uploader.Worker
	wsHub       *ws.Hub
	upgrader    websocket.Upgrader
}

// NewHandler 创建处理器；syncWorker 为 nil 表示未配置后端
func NewHandler(
	logger *zap.Logger,
	tripService *service.TripService,
	syncWorker *uploader.Worker,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:      logger,
		tripService: tripService,
		syncWorker:  syncWorker,
		wsHub:       wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 设备端与面板不同源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(metricsMiddleware())

	api := r.Group("/api")
	{
		// 行程
		api.GET("/trips", h.ListTrips)
		api.POST("/trips", h.StartTrip)
		api.GET("/trips/active", h.GetActiveTrip)
		api.POST("/trips/:id/end", h.EndTrip)
		api.GET("/trips/:id/features", h.GetFeatureState)
		api.GET("/trips/:id/behaviours", h.ListBehaviours)
		api.GET("/trips/:id/summary", h.GetSummary)

		// 采样
		api.POST("/samples", h.IngestSamples)

		// 同步
		api.POST("/sync", h.TriggerSync)
		api.GET("/sync", h.GetSyncStatus)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)
	r.GET("/ws/samples", h.HandleSampleStream)

	// 健康检查与指标
	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// HandleWebSocket 事件推送
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	status := gin.H{
		"status":       "ok",
		"sync_enabled": h.syncWorker != nil,
	}
	if h.wsHub != nil {
		status["ws_clients"] = h.wsHub.ClientCount()
	}
	if trip, _, err := h.tripService.ActiveTrip(c.Request.Context()); err == nil {
		status["active_trip"] = trip.ID
	}
	c.JSON(http.StatusOK, status)
}

// metricsMiddleware 记录请求数与耗时
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		metrics.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
