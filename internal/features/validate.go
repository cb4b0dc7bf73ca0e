// Package features 将原始传感器采样归约为行程级在线特征
package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
	"github.com/iniakponode/driveafrica-sub003/internal/spatial"
)

// ErrInvalidSample 采样格式错误或时间戳不合法
var ErrInvalidSample = errors.New("invalid sample")

// Validator 采样校验器
type Validator struct {
	// GraceWindow 允许早于行程开始的时间
	GraceWindow time.Duration
	// FutureTolerance 允许超前于当前时钟的时间
	FutureTolerance time.Duration
	Now             func() time.Time
}

// NewValidator 创建校验器
func NewValidator(grace, future time.Duration) *Validator {
	return &Validator{
		GraceWindow:     grace,
		FutureTolerance: future,
		Now:             time.Now,
	}
}

// Validate 校验采样，tripStart 为行程开始时间
func (v *Validator) Validate(s models.SensorSample, tripStart time.Time) error {
	if !s.SensorType.Known() {
		return invalid("unknown sensor type %q", s.SensorType)
	}
	if len(s.Values) < s.SensorType.MinValues() {
		return invalid("%s sample has %d values, want %d", s.SensorType, len(s.Values), s.SensorType.MinValues())
	}
	for i, val := range s.Values {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			// 可选的限速字段允许缺省为 NaN
			if s.SensorType == models.SensorLocation && i == models.LocationSpeedLimit {
				continue
			}
			return invalid("%s value[%d] is not finite", s.SensorType, i)
		}
	}
	if s.SensorType == models.SensorLocation {
		lat, _ := s.Value(models.LocationLatitude)
		lon, _ := s.Value(models.LocationLongitude)
		if !spatial.ValidLatLng(lat, lon) {
			return invalid("coordinates out of range (%f, %f)", lat, lon)
		}
	}

	if s.TimestampMillis <= 0 {
		return invalid("timestamp %d", s.TimestampMillis)
	}
	if earliest := tripStart.Add(-v.GraceWindow).UnixMilli(); s.TimestampMillis < earliest {
		return invalid("timestamp %d precedes trip start by more than %s", s.TimestampMillis, v.GraceWindow)
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	if latest := now().Add(v.FutureTolerance).UnixMilli(); s.TimestampMillis > latest {
		return invalid("timestamp %d is in the future", s.TimestampMillis)
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidSample, fmt.Sprintf(format, args...))
}
