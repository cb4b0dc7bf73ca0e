package models

import (
	"time"

	"github.com/google/uuid"
)

// BehaviourType 不安全驾驶行为类型
type BehaviourType string

const (
	BehaviourHarshAcceleration BehaviourType = "Harsh Acceleration"
	BehaviourHarshBraking      BehaviourType = "Harsh Braking"
	BehaviourSuddenSwerve      BehaviourType = "Sudden Swerve"
	BehaviourSpeeding          BehaviourType = "Speeding"
	BehaviourAggressiveTurn    BehaviourType = "Aggressive Turn"
)

// BehaviourTypes 摘要中计数的规范类型顺序
var BehaviourTypes = []BehaviourType{
	BehaviourHarshAcceleration,
	BehaviourHarshBraking,
	BehaviourSuddenSwerve,
	BehaviourSpeeding,
	BehaviourAggressiveTurn,
}

// UnsafeBehaviour 不安全驾驶事件，创建后不可变
type UnsafeBehaviour struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	TripID          uuid.UUID     `json:"trip_id" db:"trip_id"`
	LocationID      *uuid.UUID    `json:"location_id,omitempty" db:"location_id"`
	DriverProfileID uuid.UUID     `json:"driver_profile_id" db:"driver_profile_id"`
	BehaviourType   BehaviourType `json:"behaviour_type" db:"behaviour_type"`
	Severity        float64       `json:"severity" db:"severity"` // [0,1]
	TimestampMillis int64         `json:"timestamp" db:"timestamp"`
	Sync            bool          `json:"sync" db:"sync"`
	RejectedStatus  *int          `json:"rejected_status,omitempty" db:"rejected_status"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
}
