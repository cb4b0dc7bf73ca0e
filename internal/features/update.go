package features

import (
	"math"

	"github.com/google/uuid"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
	"github.com/iniakponode/driveafrica-sub003/internal/spatial"
	"github.com/iniakponode/driveafrica-sub003/internal/stats"
)

// LocationFix 成为最新位置的 GPS 定位
type LocationFix struct {
	ID              *uuid.UUID
	Latitude        float64
	Longitude       float64
	TimestampMillis int64
}

// Update 单个采样对特征状态的增量
type Update struct {
	AccelY         *float64
	Speed          *float64
	Course         *float64
	DistanceMeters float64
	Location       *LocationFix
	SensorTime     int64
}

// Empty 是否不改变任何指标
func (u Update) Empty() bool {
	return u.AccelY == nil && u.Speed == nil && u.Course == nil && u.Location == nil
}

// Compute 根据当前状态计算采样带来的增量，不修改 state
func Compute(state *models.TripFeatureState, s models.SensorSample) Update {
	u := Update{SensorTime: s.TimestampMillis}

	switch s.SensorType {
	case models.SensorAccelerometer:
		if y, ok := s.Value(models.AxisY); ok && isFinite(y) {
			u.AccelY = &y
		}

	case models.SensorLocation:
		// 重复的位置记录不重复计入
		if s.LocationID != nil && state.LastLocationID != nil && *s.LocationID == *state.LastLocationID {
			return u
		}

		lat, _ := s.Value(models.LocationLatitude)
		lon, _ := s.Value(models.LocationLongitude)

		if speed, ok := s.Value(models.LocationSpeed); ok && isFinite(speed) && speed >= 0 {
			u.Speed = &speed
		}

		chronological := state.LastLocationTimestamp == nil || s.TimestampMillis >= *state.LastLocationTimestamp
		if !chronological {
			return u
		}

		if state.LastLatitude != nil && state.LastLongitude != nil {
			dist := spatial.Distance(*state.LastLatitude, *state.LastLongitude, lat, lon)
			// 原地定位没有方向
			if dist > 0 && isFinite(dist) {
				bearing := spatial.Bearing(*state.LastLatitude, *state.LastLongitude, lat, lon)
				if isFinite(bearing) {
					u.Course = &bearing
				}
				u.DistanceMeters = dist
			}
		}

		u.Location = &LocationFix{
			ID:              s.LocationID,
			Latitude:        lat,
			Longitude:       lon,
			TimestampMillis: s.TimestampMillis,
		}
	}

	return u
}

// Apply 将增量写入状态
func Apply(state *models.TripFeatureState, u Update) error {
	var err error
	if u.AccelY != nil {
		if state.AccelY, err = state.AccelY.Add(*u.AccelY); err != nil {
			return err
		}
	}
	if u.Speed != nil {
		if state.Speed, err = state.Speed.Add(*u.Speed); err != nil {
			return err
		}
	}
	if u.Course != nil {
		if state.Course, err = state.Course.Add(*u.Course); err != nil {
			return err
		}
	}
	state.DistanceMeters += u.DistanceMeters

	if u.Location != nil {
		setLocation(state, u.Location)
	}
	if u.SensorTime > 0 && (state.LastSensorTimestamp == nil || u.SensorTime > *state.LastSensorTimestamp) {
		ts := u.SensorTime
		state.LastSensorTimestamp = &ts
	}

	return nil
}

// Merge 将自上次检查点以来的增量段合并到检查点状态上
// 位置簿记取两者中较新的一方
func Merge(base, segment *models.TripFeatureState) *models.TripFeatureState {
	out := base.Clone()
	out.AccelY = stats.Merge(base.AccelY, segment.AccelY)
	out.Speed = stats.Merge(base.Speed, segment.Speed)
	out.Course = stats.Merge(base.Course, segment.Course)
	out.DistanceMeters = base.DistanceMeters + segment.DistanceMeters

	if segment.LastLocationTimestamp != nil &&
		(base.LastLocationTimestamp == nil || *segment.LastLocationTimestamp >= *base.LastLocationTimestamp) {
		fix := &LocationFix{ID: segment.LastLocationID, TimestampMillis: *segment.LastLocationTimestamp}
		if segment.LastLatitude != nil && segment.LastLongitude != nil {
			fix.Latitude = *segment.LastLatitude
			fix.Longitude = *segment.LastLongitude
		}
		setLocation(out, fix)
	}
	if segment.LastSensorTimestamp != nil &&
		(out.LastSensorTimestamp == nil || *segment.LastSensorTimestamp > *out.LastSensorTimestamp) {
		ts := *segment.LastSensorTimestamp
		out.LastSensorTimestamp = &ts
	}
	if out.DriverProfileID == nil && segment.DriverProfileID != nil {
		id := *segment.DriverProfileID
		out.DriverProfileID = &id
	}
	if segment.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = segment.UpdatedAt
	}

	return out
}

func setLocation(state *models.TripFeatureState, fix *LocationFix) {
	lat, lon, ts := fix.Latitude, fix.Longitude, fix.TimestampMillis
	state.LastLatitude = &lat
	state.LastLongitude = &lon
	state.LastLocationTimestamp = &ts
	if fix.ID != nil {
		id := *fix.ID
		state.LastLocationID = &id
	} else {
		state.LastLocationID = nil
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
