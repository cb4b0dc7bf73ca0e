package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
	"github.com/iniakponode/driveafrica-sub003/internal/service"
	"github.com/iniakponode/driveafrica-sub003/pkg/ws"
)

const (
	streamReadLimit = 1 << 20
	streamWriteWait = 10 * time.Second
)

// ingestReply 推流一帧的处理结果
type ingestReply struct {
	service.BatchResult
	Error string `json:"error,omitempty"`
}

// HandleSampleStream 设备推流接入，每帧为一组采样，逐帧回复处理结果
func (h *Handler) HandleSampleStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(streamReadLimit)
	h.logger.Info("Sample stream connected", zap.String("remote", c.Request.RemoteAddr))

	for {
		var samples []models.SensorSample
		if err := conn.ReadJSON(&samples); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("Sample stream closed", zap.Error(err))
			}
			// 非 JSON 帧也会走到这里，连接无法继续解析
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), streamWriteWait)
		result, err := h.tripService.IngestBatch(ctx, samples)
		cancel()

		msg := ws.Message{Type: ws.MsgTypeIngest, Data: ingestReply{BatchResult: result}}
		if err != nil {
			h.logger.Error("Failed to ingest streamed samples", zap.Error(err))
			msg = ws.Message{Type: ws.MsgTypeError, Data: ingestReply{BatchResult: result, Error: err.Error()}}
		}

		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.Warn("Failed to write ingest reply", zap.Error(err))
			return
		}
	}
}
