package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// 分类标签
const (
	LabelAlcoholInfluenced = "Alcohol-influenced"
	LabelSober             = "Sober"
	LabelUnknown           = "Unknown"
)

// BehaviourCounts 按行为类型计数
type BehaviourCounts map[BehaviourType]int

// Value 实现 driver.Valuer 接口
func (c BehaviourCounts) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan 实现 sql.Scanner 接口
func (c *BehaviourCounts) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan behaviour counts: unsupported type %T", value)
	}
	return json.Unmarshal(data, c)
}

// TripSummary 行程结束后的汇总，供上传
type TripSummary struct {
	TripID              uuid.UUID       `json:"trip_id" db:"trip_id"`
	DriverProfileID     *uuid.UUID      `json:"driver_profile_id,omitempty" db:"driver_profile_id"`
	StartTime           time.Time       `json:"start_time" db:"start_time"`
	EndTime             time.Time       `json:"end_time" db:"end_time"`
	DurationSeconds     int64           `json:"duration_seconds" db:"duration_seconds"`
	DistanceMeters      float64         `json:"distance_meters" db:"distance_meters"`
	BehaviourCounts     BehaviourCounts `json:"unsafe_behaviour_counts" db:"behaviour_counts"`
	ClassificationLabel string          `json:"classification_label" db:"classification_label"`
	IsAlcoholInfluenced *bool           `json:"is_alcohol_influenced,omitempty" db:"is_alcohol_influenced"`
	AlcoholProbability  *float32        `json:"alcohol_probability,omitempty" db:"alcohol_probability"`
	Sync                bool            `json:"sync" db:"sync"`
	RejectedStatus      *int            `json:"rejected_status,omitempty" db:"rejected_status"`
}

// TotalBehaviours 行为总数
func (s *TripSummary) TotalBehaviours() int {
	total := 0
	for _, n := range s.BehaviourCounts {
		total += n
	}
	return total
}
