package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iniakponode/driveafrica-sub003/internal/features"
	"github.com/iniakponode/driveafrica-sub003/internal/models"
	"github.com/iniakponode/driveafrica-sub003/internal/repository"
	"github.com/iniakponode/driveafrica-sub003/internal/service"
	"github.com/iniakponode/driveafrica-sub003/internal/state"
)

// startTripRequest 开始行程请求
type startTripRequest struct {
	DriverProfileID *uuid.UUID `json:"driver_profile_id"`
}

// StartTrip 开始行程
func (h *Handler) StartTrip(c *gin.Context) {
	var req startTripRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	trip, err := h.tripService.StartTrip(c.Request.Context(), req.DriverProfileID)
	if err != nil {
		h.writeError(c, "Failed to start trip", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": trip})
}

// ListTrips 获取行程列表
func (h *Handler) ListTrips(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	trips, err := h.tripService.ListTrips(c.Request.Context(), perPage, (page-1)*perPage)
	if err != nil {
		h.writeError(c, "Failed to list trips", err)
		return
	}
	if trips == nil {
		trips = []*models.Trip{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": trips,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
		},
	})
}

// EndTrip 结束行程，返回冻结的特征状态
func (h *Handler) EndTrip(c *gin.Context) {
	tripID, ok := parseTripID(c)
	if !ok {
		return
	}

	st, err := h.tripService.EndTrip(c.Request.Context(), tripID)
	if err != nil {
		h.writeError(c, "Failed to end trip", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": st})
}

// GetActiveTrip 当前活动行程及实时特征
func (h *Handler) GetActiveTrip(c *gin.Context) {
	trip, snapshot, err := h.tripService.ActiveTrip(c.Request.Context())
	if errors.Is(err, service.ErrNoActiveTrip) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active trip"})
		return
	}
	if err != nil {
		h.writeError(c, "Failed to get active trip", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"trip":     trip,
			"features": snapshot,
		},
	})
}

// GetFeatureState 行程特征状态
func (h *Handler) GetFeatureState(c *gin.Context) {
	tripID, ok := parseTripID(c)
	if !ok {
		return
	}

	st, err := h.tripService.FeatureState(c.Request.Context(), tripID)
	if err != nil {
		h.writeError(c, "Failed to get feature state", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": st})
}

// ListBehaviours 行程的不安全驾驶行为
func (h *Handler) ListBehaviours(c *gin.Context) {
	tripID, ok := parseTripID(c)
	if !ok {
		return
	}

	behaviours, err := h.tripService.Behaviours(c.Request.Context(), tripID)
	if err != nil {
		h.writeError(c, "Failed to list behaviours", err)
		return
	}
	if behaviours == nil {
		behaviours = []models.UnsafeBehaviour{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  behaviours,
		"total": len(behaviours),
	})
}

// GetSummary 行程摘要
func (h *Handler) GetSummary(c *gin.Context) {
	tripID, ok := parseTripID(c)
	if !ok {
		return
	}

	summary, err := h.tripService.Summary(c.Request.Context(), tripID)
	if err != nil {
		h.writeError(c, "Failed to get summary", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// IngestSamples 批量接入采样
func (h *Handler) IngestSamples(c *gin.Context) {
	var samples []models.SensorSample
	if err := c.ShouldBindJSON(&samples); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid samples"})
		return
	}

	result, err := h.tripService.IngestBatch(c.Request.Context(), samples)
	if err != nil {
		h.logger.Error("Failed to ingest samples", zap.Error(err), zap.Int("accepted", result.Accepted))
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "data": result})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": result})
}

func parseTripID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid trip ID"})
		return uuid.Nil, false
	}
	return id, true
}

// statusFor 错误到 HTTP 状态码的映射
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrTripStateConflict):
		return http.StatusConflict
	case errors.Is(err, features.ErrInvalidSample):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSampleDropped), errors.Is(err, service.ErrServiceStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError 写错误响应，服务端错误记录日志
func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
