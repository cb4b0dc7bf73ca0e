package models

import (
	"time"

	"github.com/google/uuid"
)

// 行程状态
const (
	TripIdle   = "idle"
	TripActive = "active"
	TripEnded  = "ended"
)

// Trip 行程记录
type Trip struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	DriverProfileID *uuid.UUID `json:"driver_profile_id,omitempty" db:"driver_profile_id"`
	StartTime       time.Time  `json:"start_time" db:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty" db:"end_time"`
	State           string     `json:"state" db:"state"`
	Sync            bool       `json:"sync" db:"sync"`
}

// DurationSeconds 行程时长（秒），未结束为 0
func (t *Trip) DurationSeconds() int64 {
	if t.EndTime == nil {
		return 0
	}
	d := t.EndTime.UnixMilli() - t.StartTime.UnixMilli()
	if d < 0 {
		return 0
	}
	return d / 1000
}
