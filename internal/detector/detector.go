// Package detector 基于短滑动窗口实时检测不安全驾驶行为
package detector

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
	"github.com/iniakponode/driveafrica-sub003/internal/spatial"
)

// ErrNoDriverProfile 检测到行为但行程没有驾驶员档案，记录被跳过
var ErrNoDriverProfile = errors.New("no driver profile for trip")

// DebouncedError 冷却期内的重复行为被抑制
type DebouncedError struct {
	BehaviourType models.BehaviourType
}

func (e *DebouncedError) Error() string {
	return fmt.Sprintf("%s suppressed within cooldown", e.BehaviourType)
}

type timedValue struct {
	ts    int64
	value float64
}

// run 持续超过阈值的区间
type run struct {
	start int64
	peak  float64
}

type fix struct {
	lat, lon float64
	ts       int64
}

// Detector 单个行程的检测器，只由一个 goroutine 使用
type Detector struct {
	th              Thresholds
	tripID          uuid.UUID
	driverProfileID *uuid.UUID

	accelRun *run
	brakeRun *run
	yaw      []timedValue
	headings []timedValue

	speed          *float64
	lastFix        *fix
	lastLocationID *uuid.UUID
	speeding       *run

	lastOfType map[models.BehaviourType]int64
	// suppressed 本次采样中被冷却抑制的类型
	suppressed *models.BehaviourType
	now        func() time.Time
}

// New 创建行程检测器
func New(tripID uuid.UUID, driverProfileID *uuid.UUID, th Thresholds) *Detector {
	return &Detector{
		th:              th,
		tripID:          tripID,
		driverProfileID: driverProfileID,
		lastOfType:      make(map[models.BehaviourType]int64),
		now:             time.Now,
	}
}

type detection struct {
	behaviour models.BehaviourType
	severity  float64
}

// Evaluate 处理一个采样，最多产生一条行为记录
// 冷却期内的重复行为返回 *DebouncedError
func (d *Detector) Evaluate(s models.SensorSample) (*models.UnsafeBehaviour, error) {
	var found *detection
	d.suppressed = nil

	switch s.SensorType {
	case models.SensorAccelerometer:
		found = d.onAccel(s)
	case models.SensorGyroscope:
		found = d.onGyro(s)
	case models.SensorLocation:
		found = d.onLocation(s)
	}

	if found == nil {
		if d.suppressed != nil {
			return nil, &DebouncedError{BehaviourType: *d.suppressed}
		}
		return nil, nil
	}
	if d.driverProfileID == nil {
		return nil, ErrNoDriverProfile
	}

	locationID := s.LocationID
	if locationID == nil {
		locationID = d.lastLocationID
	}

	return &models.UnsafeBehaviour{
		ID:              uuid.New(),
		TripID:          d.tripID,
		LocationID:      locationID,
		DriverProfileID: *d.driverProfileID,
		BehaviourType:   found.behaviour,
		Severity:        clamp01(found.severity),
		TimestampMillis: s.TimestampMillis,
		CreatedAt:       d.now(),
	}, nil
}

func (d *Detector) emit(bt models.BehaviourType, ts int64, severity float64) *detection {
	if !okToEmit(d.lastOfType[bt], ts, d.th.cooldown(bt)) {
		d.suppressed = &bt
		return nil
	}
	d.lastOfType[bt] = ts
	return &detection{behaviour: bt, severity: severity}
}

// onAccel 纵向加速度持续超过阈值判定急加速/急刹车
func (d *Detector) onAccel(s models.SensorSample) *detection {
	y, ok := s.Value(models.AxisY)
	if !ok || math.IsNaN(y) {
		return nil
	}
	ts := s.TimestampMillis

	if y >= d.th.AccelThreshold {
		d.brakeRun = nil
		d.accelRun = extend(d.accelRun, ts, y, math.Max)
		if d.sustained(d.accelRun, ts) && d.movingFasterThan(d.th.MinAccelSpeed, true) {
			peak := d.accelRun.peak
			d.accelRun = nil
			return d.emit(models.BehaviourHarshAcceleration, ts, (peak-d.th.AccelThreshold)/maxAccelExcess)
		}
		return nil
	}

	if y <= d.th.BrakeThreshold {
		d.accelRun = nil
		d.brakeRun = extend(d.brakeRun, ts, y, math.Min)
		if d.sustained(d.brakeRun, ts) && d.movingFasterThan(d.th.MinAccelSpeed, true) {
			peak := d.brakeRun.peak
			d.brakeRun = nil
			return d.emit(models.BehaviourHarshBraking, ts, (math.Abs(peak)-math.Abs(d.th.BrakeThreshold))/maxBrakeExcess)
		}
		return nil
	}

	d.accelRun = nil
	d.brakeRun = nil
	return nil
}

// onGyro 偏航角速度在窗口内正负都超过阈值判定急转向
func (d *Detector) onGyro(s models.SensorSample) *detection {
	z, ok := s.Value(models.AxisZ)
	if !ok || math.IsNaN(z) {
		return nil
	}
	ts := s.TimestampMillis

	d.yaw = appendWindow(d.yaw, timedValue{ts: ts, value: z}, d.th.SwerveWindow.Milliseconds())

	maxPos, maxNeg := 0.0, 0.0
	signChanges := 0
	lastSign := 0
	for _, v := range d.yaw {
		if v.value > maxPos {
			maxPos = v.value
		}
		if v.value < maxNeg {
			maxNeg = v.value
		}
		sign := 0
		if v.value >= d.th.SwerveYawRate {
			sign = 1
		} else if v.value <= -d.th.SwerveYawRate {
			sign = -1
		}
		if sign != 0 {
			if lastSign != 0 && sign != lastSign {
				signChanges++
			}
			lastSign = sign
		}
	}

	if signChanges < 1 || !d.movingFasterThan(d.th.SwerveMinSpeed, false) {
		return nil
	}

	d.yaw = d.yaw[:0]
	maxAbs := math.Max(maxPos, math.Abs(maxNeg))
	return d.emit(models.BehaviourSuddenSwerve, ts, (maxAbs-d.th.SwerveYawRate)/maxSwerveExcess)
}

// onLocation 更新速度与航向，判定急转弯与超速
func (d *Detector) onLocation(s models.SensorSample) *detection {
	if s.LocationID != nil && d.lastLocationID != nil && *s.LocationID == *d.lastLocationID {
		return nil
	}
	ts := s.TimestampMillis
	if d.lastFix != nil && ts < d.lastFix.ts {
		return nil
	}

	lat, _ := s.Value(models.LocationLatitude)
	lon, _ := s.Value(models.LocationLongitude)
	if s.LocationID != nil {
		id := *s.LocationID
		d.lastLocationID = &id
	}

	speed, ok := s.Value(models.LocationSpeed)
	if ok && speed >= 0 && !math.IsNaN(speed) {
		d.speed = &speed
	} else {
		d.speed = nil
	}

	var turn *detection
	if d.lastFix == nil {
		d.lastFix = &fix{lat: lat, lon: lon, ts: ts}
	} else if spatial.Distance(d.lastFix.lat, d.lastFix.lon, lat, lon) >= d.th.HeadingMinDistance {
		heading := spatial.Bearing(d.lastFix.lat, d.lastFix.lon, lat, lon)
		d.lastFix = &fix{lat: lat, lon: lon, ts: ts}
		d.headings = appendWindow(d.headings, timedValue{ts: ts, value: heading}, d.th.TurnWindow.Milliseconds())
		turn = d.checkTurn(ts, heading)
	}

	speeding := d.checkSpeeding(s, ts)
	if turn != nil {
		return turn
	}
	return speeding
}

func (d *Detector) checkTurn(ts int64, heading float64) *detection {
	if len(d.headings) < 2 || !d.movingFasterThan(d.th.TurnMinSpeed, false) {
		return nil
	}
	delta := spatial.HeadingDelta(d.headings[0].value, heading)
	if delta < d.th.TurnDelta {
		return nil
	}
	det := d.emit(models.BehaviourAggressiveTurn, ts, (delta-d.th.TurnDelta)/maxTurnExcess)
	if det != nil {
		d.headings = d.headings[len(d.headings)-1:]
	}
	return det
}

func (d *Detector) checkSpeeding(s models.SensorSample, ts int64) *detection {
	if d.speed == nil {
		d.speeding = nil
		return nil
	}
	speed := *d.speed
	posted, ok := s.Value(models.LocationSpeedLimit)
	if !ok || math.IsNaN(posted) || math.IsInf(posted, 0) {
		posted = 0
	}
	threshold := d.th.speedLimit(speed, posted) * d.th.SpeedTolerance

	if speed <= threshold {
		d.speeding = nil
		return nil
	}

	d.speeding = extend(d.speeding, ts, speed-threshold, math.Max)
	if ts-d.speeding.start < d.th.SpeedingDuration.Milliseconds() {
		return nil
	}
	excess := d.speeding.peak
	det := d.emit(models.BehaviourSpeeding, ts, excess/maxSpeedExcess)
	if det != nil {
		d.speeding = nil
	}
	return det
}

func (d *Detector) sustained(r *run, ts int64) bool {
	return r != nil && ts-r.start >= d.th.MinEventDuration.Milliseconds()
}

// movingFasterThan 速度未知时由 allowUnknown 决定
func (d *Detector) movingFasterThan(min float64, allowUnknown bool) bool {
	if d.speed == nil {
		return allowUnknown
	}
	return *d.speed >= min
}

func extend(r *run, ts int64, v float64, pick func(a, b float64) float64) *run {
	if r == nil {
		return &run{start: ts, peak: v}
	}
	r.peak = pick(r.peak, v)
	return r
}

// appendWindow 追加并丢弃窗口之外的旧值
func appendWindow(w []timedValue, v timedValue, windowMs int64) []timedValue {
	w = append(w, v)
	cut := 0
	for cut < len(w) && v.ts-w[cut].ts > windowMs {
		cut++
	}
	if cut > 0 {
		w = append(w[:0], w[cut:]...)
	}
	return w
}
