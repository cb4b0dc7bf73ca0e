package uploader

import (
	"context"

	"github.com/google/uuid"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// Batch 单个上传流的一批记录
type Batch struct {
	Kind          models.SyncKind
	Summaries     []models.TripSummary
	FeatureStates []models.TripFeatureState
	Behaviours    []models.UnsafeBehaviour
}

// IDs 批次中记录的 ID（特征状态与摘要以行程 ID 标识）
func (b Batch) IDs() []uuid.UUID {
	var ids []uuid.UUID
	switch b.Kind {
	case models.SyncTripSummary:
		for _, s := range b.Summaries {
			ids = append(ids, s.TripID)
		}
	case models.SyncTripFeatureState:
		for _, s := range b.FeatureStates {
			ids = append(ids, s.TripID)
		}
	case models.SyncUnsafeBehaviour:
		for _, s := range b.Behaviours {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Len 记录数
func (b Batch) Len() int {
	switch b.Kind {
	case models.SyncTripSummary:
		return len(b.Summaries)
	case models.SyncTripFeatureState:
		return len(b.FeatureStates)
	case models.SyncUnsafeBehaviour:
		return len(b.Behaviours)
	}
	return 0
}

// Ack 服务端确认
type Ack struct {
	Accepted int `json:"accepted"`
}

// Transport 后端传输；服务端必须按 ID 幂等写入
type Transport interface {
	Upload(ctx context.Context, batch Batch) Result[Ack]
}

// Store 未同步记录的存储
type Store interface {
	ListUnsyncedSummaries(ctx context.Context, limit int) ([]models.TripSummary, error)
	ListUnsyncedFeatureStates(ctx context.Context, limit int) ([]models.TripFeatureState, error)
	ListUnsyncedBehaviours(ctx context.Context, limit int) ([]models.UnsafeBehaviour, error)
	MarkSynced(ctx context.Context, kind models.SyncKind, ids []uuid.UUID) error
	FlagRejected(ctx context.Context, kind models.SyncKind, ids []uuid.UUID, status int, message string) error
}
