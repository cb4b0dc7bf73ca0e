package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// BehaviourRepository 不安全驾驶行为仓库
type BehaviourRepository struct {
	db *DB
}

// NewBehaviourRepository 创建行为仓库
func NewBehaviourRepository(db *DB) *BehaviourRepository {
	return &BehaviourRepository{db: db}
}

// Create 写入行为记录，ID 已存在时忽略
func (r *BehaviourRepository) Create(ctx context.Context, b *models.UnsafeBehaviour) error {
	query := `
		INSERT INTO unsafe_behaviours (
			id, trip_id, location_id, driver_profile_id, behaviour_type, severity, timestamp_ms, sync, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query,
		b.ID,
		b.TripID,
		b.LocationID,
		b.DriverProfileID,
		string(b.BehaviourType),
		b.Severity,
		b.TimestampMillis,
		b.Sync,
		b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert unsafe behaviour: %w", err)
	}
	return nil
}

const behaviourColumns = `id, trip_id, location_id, driver_profile_id, behaviour_type, severity, timestamp_ms, sync, rejected_status, created_at`

func scanBehaviours(rows pgx.Rows) ([]models.UnsafeBehaviour, error) {
	defer rows.Close()

	var out []models.UnsafeBehaviour
	for rows.Next() {
		var (
			b         models.UnsafeBehaviour
			kind      string
			rejection *int32
		)
		if err := rows.Scan(
			&b.ID,
			&b.TripID,
			&b.LocationID,
			&b.DriverProfileID,
			&kind,
			&b.Severity,
			&b.TimestampMillis,
			&b.Sync,
			&rejection,
			&b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan unsafe behaviour: %w", err)
		}
		b.BehaviourType = models.BehaviourType(kind)
		if rejection != nil {
			status := int(*rejection)
			b.RejectedStatus = &status
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListByTripID 按时间顺序列出行程的行为
func (r *BehaviourRepository) ListByTripID(ctx context.Context, tripID uuid.UUID) ([]models.UnsafeBehaviour, error) {
	query := `SELECT ` + behaviourColumns + ` FROM unsafe_behaviours WHERE trip_id = $1 ORDER BY timestamp_ms`
	rows, err := r.db.Pool.Query(ctx, query, tripID)
	if err != nil {
		return nil, fmt.Errorf("list unsafe behaviours: %w", err)
	}
	return scanBehaviours(rows)
}

// CountByTripID 按类型统计行程的行为数
func (r *BehaviourRepository) CountByTripID(ctx context.Context, tripID uuid.UUID) (models.BehaviourCounts, error) {
	query := `SELECT behaviour_type, COUNT(*) FROM unsafe_behaviours WHERE trip_id = $1 GROUP BY behaviour_type`
	rows, err := r.db.Pool.Query(ctx, query, tripID)
	if err != nil {
		return nil, fmt.Errorf("count unsafe behaviours: %w", err)
	}
	defer rows.Close()

	counts := make(models.BehaviourCounts)
	for rows.Next() {
		var (
			kind string
			n    int64
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan behaviour count: %w", err)
		}
		counts[models.BehaviourType(kind)] = int(n)
	}
	return counts, rows.Err()
}

// ListUnsynced 未同步且未被拒绝的行为
func (r *BehaviourRepository) ListUnsynced(ctx context.Context, limit int) ([]models.UnsafeBehaviour, error) {
	query := `SELECT ` + behaviourColumns + ` FROM unsafe_behaviours
		WHERE NOT sync AND rejected_status IS NULL
		ORDER BY created_at LIMIT $1`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsynced unsafe behaviours: %w", err)
	}
	return scanBehaviours(rows)
}
