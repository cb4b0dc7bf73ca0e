package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/iniakponode/driveafrica-sub003/internal/stats"
)

// TripFeatureState 行程级在线特征状态，每个指标 O(1) 内存
type TripFeatureState struct {
	TripID          uuid.UUID  `json:"trip_id" db:"trip_id"`
	DriverProfileID *uuid.UUID `json:"driver_profile_id,omitempty" db:"driver_profile_id"`

	AccelY stats.RunningStats `json:"accel_y"`
	Speed  stats.RunningStats `json:"speed"`
	Course stats.RunningStats `json:"course"`

	DistanceMeters float64 `json:"distance_meters" db:"distance_meters"`

	// 位置簿记
	LastLocationID        *uuid.UUID `json:"last_location_id,omitempty" db:"last_location_id"`
	LastLatitude          *float64   `json:"last_latitude,omitempty" db:"last_latitude"`
	LastLongitude         *float64   `json:"last_longitude,omitempty" db:"last_longitude"`
	LastLocationTimestamp *int64     `json:"last_location_timestamp,omitempty" db:"last_location_timestamp"`
	LastSensorTimestamp   *int64     `json:"last_sensor_timestamp,omitempty" db:"last_sensor_timestamp"`

	// CheckpointSeq 每次持久化检查点递增，恢复时用于匹配日志段
	CheckpointSeq uint64    `json:"checkpoint_seq" db:"checkpoint_seq"`
	Finalized     bool      `json:"finalized" db:"finalized"`
	Sync          bool      `json:"sync" db:"sync"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// NewTripFeatureState 创建空特征状态
func NewTripFeatureState(tripID uuid.UUID, driverProfileID *uuid.UUID) *TripFeatureState {
	return &TripFeatureState{
		TripID:          tripID,
		DriverProfileID: driverProfileID,
	}
}

// Clone 深拷贝
func (s *TripFeatureState) Clone() *TripFeatureState {
	c := *s
	c.DriverProfileID = cloneUUID(s.DriverProfileID)
	c.LastLocationID = cloneUUID(s.LastLocationID)
	c.LastLatitude = cloneFloat(s.LastLatitude)
	c.LastLongitude = cloneFloat(s.LastLongitude)
	c.LastLocationTimestamp = cloneInt(s.LastLocationTimestamp)
	c.LastSensorTimestamp = cloneInt(s.LastSensorTimestamp)
	return &c
}

// SampleCount 所有指标的观测数之和
func (s *TripFeatureState) SampleCount() uint64 {
	return s.AccelY.Count + s.Speed.Count + s.Course.Count
}

// Validate 检查各累加器不变量
func (s *TripFeatureState) Validate() error {
	for _, acc := range []stats.RunningStats{s.AccelY, s.Speed, s.Course} {
		if err := acc.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func cloneUUID(v *uuid.UUID) *uuid.UUID {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
