package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// SummaryRepository 行程摘要仓库
type SummaryRepository struct {
	db *DB
}

// NewSummaryRepository 创建摘要仓库
func NewSummaryRepository(db *DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Save 写入或覆盖行程摘要
func (r *SummaryRepository) Save(ctx context.Context, s *models.TripSummary) error {
	query := `
		INSERT INTO trip_summaries (
			trip_id, driver_profile_id, start_time, end_time, duration_seconds, distance_meters,
			behaviour_counts, classification_label, is_alcohol_influenced, alcohol_probability, sync
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (trip_id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			duration_seconds = EXCLUDED.duration_seconds,
			distance_meters = EXCLUDED.distance_meters,
			behaviour_counts = EXCLUDED.behaviour_counts,
			classification_label = EXCLUDED.classification_label,
			is_alcohol_influenced = EXCLUDED.is_alcohol_influenced,
			alcohol_probability = EXCLUDED.alcohol_probability,
			sync = EXCLUDED.sync,
			rejected_status = NULL,
			rejected_message = NULL
	`
	_, err := r.db.Pool.Exec(ctx, query,
		s.TripID,
		s.DriverProfileID,
		s.StartTime,
		s.EndTime,
		s.DurationSeconds,
		s.DistanceMeters,
		s.BehaviourCounts,
		s.ClassificationLabel,
		s.IsAlcoholInfluenced,
		s.AlcoholProbability,
		s.Sync,
	)
	if err != nil {
		return fmt.Errorf("upsert trip summary: %w", err)
	}
	return nil
}

const summaryColumns = `trip_id, driver_profile_id, start_time, end_time, duration_seconds, distance_meters,
	behaviour_counts, classification_label, is_alcohol_influenced, alcohol_probability, sync, rejected_status`

func scanSummary(row pgx.Row) (*models.TripSummary, error) {
	s := &models.TripSummary{}
	var rejection *int32
	err := row.Scan(
		&s.TripID,
		&s.DriverProfileID,
		&s.StartTime,
		&s.EndTime,
		&s.DurationSeconds,
		&s.DistanceMeters,
		&s.BehaviourCounts,
		&s.ClassificationLabel,
		&s.IsAlcoholInfluenced,
		&s.AlcoholProbability,
		&s.Sync,
		&rejection,
	)
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		status := int(*rejection)
		s.RejectedStatus = &status
	}
	return s, nil
}

// GetByTripID 获取行程摘要
func (r *SummaryRepository) GetByTripID(ctx context.Context, tripID uuid.UUID) (*models.TripSummary, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+summaryColumns+` FROM trip_summaries WHERE trip_id = $1`, tripID)
	s, err := scanSummary(row)
	if err != nil {
		return nil, fmt.Errorf("get trip summary: %w", notFound(err))
	}
	return s, nil
}

// ListUnsynced 未同步且未被拒绝的摘要
func (r *SummaryRepository) ListUnsynced(ctx context.Context, limit int) ([]models.TripSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM trip_summaries
		WHERE NOT sync AND rejected_status IS NULL
		ORDER BY end_time LIMIT $1`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsynced trip summaries: %w", err)
	}
	defer rows.Close()

	var out []models.TripSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip summary: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
