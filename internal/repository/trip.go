package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// TripRepository 行程数据仓库
type TripRepository struct {
	db *DB
}

// NewTripRepository 创建行程仓库
func NewTripRepository(db *DB) *TripRepository {
	return &TripRepository{db: db}
}

// Create 创建行程
func (r *TripRepository) Create(ctx context.Context, trip *models.Trip) error {
	query := `
		INSERT INTO trips (id, driver_profile_id, start_time, end_time, state, sync)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		trip.ID,
		trip.DriverProfileID,
		trip.StartTime,
		trip.EndTime,
		trip.State,
		trip.Sync,
	)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

const tripColumns = `id, driver_profile_id, start_time, end_time, state, sync`

// GetByID 获取行程
func (r *TripRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	trip := &models.Trip{}
	err := r.db.Pool.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id).Scan(
		&trip.ID,
		&trip.DriverProfileID,
		&trip.StartTime,
		&trip.EndTime,
		&trip.State,
		&trip.Sync,
	)
	if err != nil {
		return nil, fmt.Errorf("get trip by id: %w", notFound(err))
	}
	return trip, nil
}

// GetActive 获取进行中的行程
func (r *TripRepository) GetActive(ctx context.Context) (*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE state = $1 ORDER BY start_time DESC LIMIT 1`
	trip := &models.Trip{}
	err := r.db.Pool.QueryRow(ctx, query, models.TripActive).Scan(
		&trip.ID,
		&trip.DriverProfileID,
		&trip.StartTime,
		&trip.EndTime,
		&trip.State,
		&trip.Sync,
	)
	if err != nil {
		return nil, fmt.Errorf("get active trip: %w", notFound(err))
	}
	return trip, nil
}

// ListRecent 最近的行程列表
func (r *TripRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips ORDER BY start_time DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	var trips []*models.Trip
	for rows.Next() {
		trip := &models.Trip{}
		if err := rows.Scan(
			&trip.ID,
			&trip.DriverProfileID,
			&trip.StartTime,
			&trip.EndTime,
			&trip.State,
			&trip.Sync,
		); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

// ListUnsummarized 已结束且特征状态已冻结、但还没有摘要的行程
func (r *TripRepository) ListUnsummarized(ctx context.Context) ([]*models.Trip, error) {
	query := `
		SELECT t.id, t.driver_profile_id, t.start_time, t.end_time, t.state, t.sync
		FROM trips t
		JOIN trip_feature_states f ON f.trip_id = t.id
		LEFT JOIN trip_summaries s ON s.trip_id = t.id
		WHERE t.state = $1 AND f.finalized AND s.trip_id IS NULL
		ORDER BY t.start_time
	`
	rows, err := r.db.Pool.Query(ctx, query, models.TripEnded)
	if err != nil {
		return nil, fmt.Errorf("list unsummarized trips: %w", err)
	}
	defer rows.Close()

	var trips []*models.Trip
	for rows.Next() {
		trip := &models.Trip{}
		if err := rows.Scan(
			&trip.ID,
			&trip.DriverProfileID,
			&trip.StartTime,
			&trip.EndTime,
			&trip.State,
			&trip.Sync,
		); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}
