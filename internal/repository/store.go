package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// Store 组合各仓库的 PostgreSQL 存储
type Store struct {
	db         *DB
	trips      *TripRepository
	states     *FeatureStateRepository
	behaviours *BehaviourRepository
	summaries  *SummaryRepository
}

// NewStore 创建存储
func NewStore(db *DB) *Store {
	return &Store{
		db:         db,
		trips:      NewTripRepository(db),
		states:     NewFeatureStateRepository(db),
		behaviours: NewBehaviourRepository(db),
		summaries:  NewSummaryRepository(db),
	}
}

// CreateTrip 创建行程
func (s *Store) CreateTrip(ctx context.Context, trip *models.Trip) error {
	return s.trips.Create(ctx, trip)
}

// GetTrip 获取行程
func (s *Store) GetTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	return s.trips.GetByID(ctx, id)
}

// LoadActiveTrip 获取进行中的行程，没有时返回 ErrNotFound
func (s *Store) LoadActiveTrip(ctx context.Context) (*models.Trip, error) {
	return s.trips.GetActive(ctx)
}

// ListTrips 最近的行程
func (s *Store) ListTrips(ctx context.Context, limit, offset int) ([]*models.Trip, error) {
	return s.trips.ListRecent(ctx, limit, offset)
}

// ListUnsummarizedTrips 需要重新最终化的行程
func (s *Store) ListUnsummarizedTrips(ctx context.Context) ([]*models.Trip, error) {
	return s.trips.ListUnsummarized(ctx)
}

// SaveTripFeatureState 持久化检查点
func (s *Store) SaveTripFeatureState(ctx context.Context, state *models.TripFeatureState) error {
	return s.states.Save(ctx, state)
}

// LoadTripFeatureState 读取检查点
func (s *Store) LoadTripFeatureState(ctx context.Context, tripID uuid.UUID) (*models.TripFeatureState, error) {
	return s.states.GetByTripID(ctx, tripID)
}

// EndTrip 在同一事务中结束行程并写入最终特征状态
func (s *Store) EndTrip(ctx context.Context, trip *models.Trip, state *models.TripFeatureState) error {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin end trip: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE trips SET end_time = $1, state = $2 WHERE id = $3`,
		trip.EndTime, trip.State, trip.ID,
	)
	if err != nil {
		return fmt.Errorf("end trip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("end trip %s: %w", trip.ID, ErrNotFound)
	}

	if err := s.states.saveTx(ctx, tx, state); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit end trip: %w", err)
	}
	return nil
}

// SaveBehaviour 写入行为，重复 ID 不产生重复记录
func (s *Store) SaveBehaviour(ctx context.Context, b *models.UnsafeBehaviour) error {
	return s.behaviours.Create(ctx, b)
}

// ListBehaviours 行程的行为列表
func (s *Store) ListBehaviours(ctx context.Context, tripID uuid.UUID) ([]models.UnsafeBehaviour, error) {
	return s.behaviours.ListByTripID(ctx, tripID)
}

// CountBehaviours 行程的行为计数
func (s *Store) CountBehaviours(ctx context.Context, tripID uuid.UUID) (models.BehaviourCounts, error) {
	return s.behaviours.CountByTripID(ctx, tripID)
}

// SaveTripSummary 写入行程摘要
func (s *Store) SaveTripSummary(ctx context.Context, summary *models.TripSummary) error {
	return s.summaries.Save(ctx, summary)
}

// GetTripSummary 获取行程摘要
func (s *Store) GetTripSummary(ctx context.Context, tripID uuid.UUID) (*models.TripSummary, error) {
	return s.summaries.GetByTripID(ctx, tripID)
}

// ListUnsyncedSummaries 实现 uploader.Store
func (s *Store) ListUnsyncedSummaries(ctx context.Context, limit int) ([]models.TripSummary, error) {
	return s.summaries.ListUnsynced(ctx, limit)
}

// ListUnsyncedFeatureStates 实现 uploader.Store
func (s *Store) ListUnsyncedFeatureStates(ctx context.Context, limit int) ([]models.TripFeatureState, error) {
	return s.states.ListUnsynced(ctx, limit)
}

// ListUnsyncedBehaviours 实现 uploader.Store
func (s *Store) ListUnsyncedBehaviours(ctx context.Context, limit int) ([]models.UnsafeBehaviour, error) {
	return s.behaviours.ListUnsynced(ctx, limit)
}

// syncTable 上传流对应的表与主键列
func syncTable(kind models.SyncKind) (table, key string, err error) {
	switch kind {
	case models.SyncTripSummary:
		return "trip_summaries", "trip_id", nil
	case models.SyncTripFeatureState:
		return "trip_feature_states", "trip_id", nil
	case models.SyncUnsafeBehaviour:
		return "unsafe_behaviours", "id", nil
	}
	return "", "", fmt.Errorf("unknown sync kind %q", kind)
}

// MarkSynced 上传成功后设置同步标记；摘要同步后行程本身也标记为已同步
func (s *Store) MarkSynced(ctx context.Context, kind models.SyncKind, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	table, key, err := syncTable(kind)
	if err != nil {
		return err
	}

	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin mark %s synced: %w", kind, err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`UPDATE %s SET sync = true WHERE %s = ANY($1)`, table, key)
	if _, err := tx.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("mark %s synced: %w", kind, err)
	}
	if kind == models.SyncTripSummary {
		if _, err := tx.Exec(ctx, `UPDATE trips SET sync = true WHERE id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("mark trips synced: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mark %s synced: %w", kind, err)
	}
	return nil
}

// FlagRejected 记录服务端 4xx 拒绝，之后不再重试
func (s *Store) FlagRejected(ctx context.Context, kind models.SyncKind, ids []uuid.UUID, status int, message string) error {
	if len(ids) == 0 {
		return nil
	}
	table, key, err := syncTable(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET rejected_status = $1, rejected_message = $2 WHERE %s = ANY($3)`, table, key)
	if _, err := s.db.Pool.Exec(ctx, query, status, message, ids); err != nil {
		return fmt.Errorf("flag %s rejected: %w", kind, err)
	}
	return nil
}
