package detector

import (
	"time"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// Thresholds 行为检测阈值，单位为 SI
type Thresholds struct {
	AccelThreshold   float64       // m/s²，纵向加速度
	BrakeThreshold   float64       // m/s²，负值
	MinEventDuration time.Duration // 加速/制动持续时间
	MinAccelSpeed    float64       // m/s，低于该速度不判定加速/制动

	SwerveYawRate  float64 // rad/s
	SwerveWindow   time.Duration
	SwerveMinSpeed float64 // m/s

	TurnDelta    float64 // 度
	TurnWindow   time.Duration
	TurnMinSpeed float64 // m/s
	// HeadingMinDistance 计算航向所需的最小位移（米）
	HeadingMinDistance float64

	SpeedTolerance     float64 // 限速倍数
	UrbanSpeedLimit    float64 // m/s
	HighwaySpeedLimit  float64 // m/s
	HighwaySpeedCutoff float64 // m/s，超过即按高速限速
	SpeedingDuration   time.Duration

	// Cooldown 同类事件最小间隔
	Cooldown map[models.BehaviourType]time.Duration
}

// 严重度归一化用的最大超出量
const (
	maxAccelExcess  = 5.5   // m/s²
	maxBrakeExcess  = 5.5   // m/s²
	maxSwerveExcess = 0.5   // rad/s
	maxTurnExcess   = 120.0 // 度
	maxSpeedExcess  = 2.778 // m/s，约 10 km/h
)

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		AccelThreshold:   4.0,
		BrakeThreshold:   -4.5,
		MinEventDuration: 300 * time.Millisecond,
		MinAccelSpeed:    1.4,

		SwerveYawRate:  0.14,
		SwerveWindow:   1500 * time.Millisecond,
		SwerveMinSpeed: 5.56,

		TurnDelta:          60,
		TurnWindow:         2 * time.Second,
		TurnMinSpeed:       5.56,
		HeadingMinDistance: 5,

		SpeedTolerance:     1.10,
		UrbanSpeedLimit:    16.67,
		HighwaySpeedLimit:  30.56,
		HighwaySpeedCutoff: 22.22,
		SpeedingDuration:   20 * time.Second,

		Cooldown: map[models.BehaviourType]time.Duration{
			models.BehaviourHarshAcceleration: 1500 * time.Millisecond,
			models.BehaviourHarshBraking:      1500 * time.Millisecond,
			models.BehaviourSuddenSwerve:      2 * time.Second,
			models.BehaviourAggressiveTurn:    5 * time.Second,
			models.BehaviourSpeeding:          10 * time.Second,
		},
	}
}

// cooldown 获取某类事件的冷却时间（毫秒）
func (t Thresholds) cooldown(bt models.BehaviourType) int64 {
	if d, ok := t.Cooldown[bt]; ok {
		return d.Milliseconds()
	}
	return 0
}

// speedLimit 有限速标注时使用标注值，否则按当前速度推断
func (t Thresholds) speedLimit(speed, posted float64) float64 {
	if posted > 0 {
		return posted
	}
	if speed >= t.HighwaySpeedCutoff {
		return t.HighwaySpeedLimit
	}
	return t.UrbanSpeedLimit
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func okToEmit(last, now, window int64) bool {
	if last == 0 {
		return true
	}
	return now-last >= window
}
