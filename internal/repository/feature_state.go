package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// FeatureStateRepository 行程特征状态仓库（检查点）
type FeatureStateRepository struct {
	db *DB
}

// NewFeatureStateRepository 创建特征状态仓库
func NewFeatureStateRepository(db *DB) *FeatureStateRepository {
	return &FeatureStateRepository{db: db}
}

const upsertFeatureState = `
	INSERT INTO trip_feature_states (
		trip_id, driver_profile_id,
		accel_count, accel_mean, accel_m2,
		speed_count, speed_mean, speed_m2,
		course_count, course_mean, course_m2,
		distance_meters, last_location_id, last_latitude, last_longitude,
		last_location_timestamp, last_sensor_timestamp,
		checkpoint_seq, finalized, sync, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	ON CONFLICT (trip_id) DO UPDATE SET
		driver_profile_id = EXCLUDED.driver_profile_id,
		accel_count = EXCLUDED.accel_count,
		accel_mean = EXCLUDED.accel_mean,
		accel_m2 = EXCLUDED.accel_m2,
		speed_count = EXCLUDED.speed_count,
		speed_mean = EXCLUDED.speed_mean,
		speed_m2 = EXCLUDED.speed_m2,
		course_count = EXCLUDED.course_count,
		course_mean = EXCLUDED.course_mean,
		course_m2 = EXCLUDED.course_m2,
		distance_meters = EXCLUDED.distance_meters,
		last_location_id = EXCLUDED.last_location_id,
		last_latitude = EXCLUDED.last_latitude,
		last_longitude = EXCLUDED.last_longitude,
		last_location_timestamp = EXCLUDED.last_location_timestamp,
		last_sensor_timestamp = EXCLUDED.last_sensor_timestamp,
		checkpoint_seq = EXCLUDED.checkpoint_seq,
		finalized = EXCLUDED.finalized,
		sync = EXCLUDED.sync,
		updated_at = EXCLUDED.updated_at
`

func featureStateArgs(s *models.TripFeatureState) []interface{} {
	return []interface{}{
		s.TripID,
		s.DriverProfileID,
		int64(s.AccelY.Count), s.AccelY.Mean, s.AccelY.M2,
		int64(s.Speed.Count), s.Speed.Mean, s.Speed.M2,
		int64(s.Course.Count), s.Course.Mean, s.Course.M2,
		s.DistanceMeters,
		s.LastLocationID,
		s.LastLatitude,
		s.LastLongitude,
		s.LastLocationTimestamp,
		s.LastSensorTimestamp,
		int64(s.CheckpointSeq),
		s.Finalized,
		s.Sync,
		s.UpdatedAt,
	}
}

// Save 写入或覆盖检查点
func (r *FeatureStateRepository) Save(ctx context.Context, s *models.TripFeatureState) error {
	if _, err := r.db.Pool.Exec(ctx, upsertFeatureState, featureStateArgs(s)...); err != nil {
		return fmt.Errorf("upsert feature state: %w", err)
	}
	return nil
}

// saveTx 在事务中写入检查点
func (r *FeatureStateRepository) saveTx(ctx context.Context, tx pgx.Tx, s *models.TripFeatureState) error {
	if _, err := tx.Exec(ctx, upsertFeatureState, featureStateArgs(s)...); err != nil {
		return fmt.Errorf("upsert feature state: %w", err)
	}
	return nil
}

const featureStateColumns = `
	trip_id, driver_profile_id,
	accel_count, accel_mean, accel_m2,
	speed_count, speed_mean, speed_m2,
	course_count, course_mean, course_m2,
	distance_meters, last_location_id, last_latitude, last_longitude,
	last_location_timestamp, last_sensor_timestamp,
	checkpoint_seq, finalized, sync, updated_at
`

func scanFeatureState(row pgx.Row) (*models.TripFeatureState, error) {
	s := &models.TripFeatureState{}
	var accelN, speedN, courseN, seq int64
	err := row.Scan(
		&s.TripID,
		&s.DriverProfileID,
		&accelN, &s.AccelY.Mean, &s.AccelY.M2,
		&speedN, &s.Speed.Mean, &s.Speed.M2,
		&courseN, &s.Course.Mean, &s.Course.M2,
		&s.DistanceMeters,
		&s.LastLocationID,
		&s.LastLatitude,
		&s.LastLongitude,
		&s.LastLocationTimestamp,
		&s.LastSensorTimestamp,
		&seq,
		&s.Finalized,
		&s.Sync,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.AccelY.Count = uint64(accelN)
	s.Speed.Count = uint64(speedN)
	s.Course.Count = uint64(courseN)
	s.CheckpointSeq = uint64(seq)
	return s, nil
}

// GetByTripID 读取最近一次检查点
func (r *FeatureStateRepository) GetByTripID(ctx context.Context, tripID uuid.UUID) (*models.TripFeatureState, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+featureStateColumns+` FROM trip_feature_states WHERE trip_id = $1`, tripID)
	s, err := scanFeatureState(row)
	if err != nil {
		return nil, fmt.Errorf("get feature state: %w", notFound(err))
	}
	return s, nil
}

// ListUnsynced 已最终化、未同步且未被拒绝的特征状态
func (r *FeatureStateRepository) ListUnsynced(ctx context.Context, limit int) ([]models.TripFeatureState, error) {
	query := `SELECT ` + featureStateColumns + ` FROM trip_feature_states
		WHERE finalized AND NOT sync AND rejected_status IS NULL
		ORDER BY updated_at LIMIT $1`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsynced feature states: %w", err)
	}
	defer rows.Close()

	var out []models.TripFeatureState
	for rows.Next() {
		s, err := scanFeatureState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feature state: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
