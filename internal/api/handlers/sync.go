package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// syncReport 单个上传流的最近结果
type syncReport struct {
	Uploaded int    `json:"uploaded"`
	Rejected int    `json:"rejected"`
	Pending  int    `json:"pending"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// TriggerSync 请求立即同步
func (h *Handler) TriggerSync(c *gin.Context) {
	if h.syncWorker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sync backend not configured"})
		return
	}
	h.syncWorker.Trigger()
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

// GetSyncStatus 最近一轮同步结果
func (h *Handler) GetSyncStatus(c *gin.Context) {
	if h.syncWorker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sync backend not configured"})
		return
	}

	reports := make(map[models.SyncKind]syncReport)
	for kind, r := range h.syncWorker.LastReports() {
		out := syncReport{
			Uploaded: r.Uploaded,
			Rejected: r.Rejected,
			Pending:  r.Pending,
			Attempts: r.Attempts,
		}
		if r.Err != nil {
			out.Error = r.Err.Error()
		}
		reports[kind] = out
	}

	c.JSON(http.StatusOK, gin.H{"data": reports})
}
