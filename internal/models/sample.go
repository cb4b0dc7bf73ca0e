package models

import "github.com/google/uuid"

// SensorType 传感器类型
type SensorType string

const (
	SensorAccelerometer SensorType = "accelerometer"
	SensorGyroscope     SensorType = "gyroscope"
	SensorLocation      SensorType = "location"
)

// 各传感器的数值下标
const (
	AxisX = 0
	AxisY = 1 // 纵向加速度
	AxisZ = 2 // 偏航角速度

	LocationLatitude   = 0
	LocationLongitude  = 1
	LocationSpeed      = 2 // m/s
	LocationSpeedLimit = 3 // m/s，可选
)

// SensorSample 单个原始传感器采样，处理后即丢弃
type SensorSample struct {
	TripID          uuid.UUID  `json:"trip_id"` // 零值表示路由到当前行程
	SensorType      SensorType `json:"sensor_type"`
	Values          []float32  `json:"values"`
	TimestampMillis int64      `json:"timestamp"`
	Accuracy        int32      `json:"accuracy"`
	LocationID      *uuid.UUID `json:"location_id,omitempty"`
}

// MinValues 该类型采样所需的最少数值个数
func (t SensorType) MinValues() int {
	switch t {
	case SensorAccelerometer, SensorGyroscope:
		return 3
	case SensorLocation:
		return 3
	default:
		return 0
	}
}

// Known 是否为已知传感器类型
func (t SensorType) Known() bool {
	switch t {
	case SensorAccelerometer, SensorGyroscope, SensorLocation:
		return true
	}
	return false
}

// Value 读取第 i 个数值
func (s SensorSample) Value(i int) (float64, bool) {
	if i < 0 || i >= len(s.Values) {
		return 0, false
	}
	return float64(s.Values[i]), true
}
