package features

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
	"github.com/iniakponode/driveafrica-sub003/internal/stats"
)

var tripStart = time.UnixMilli(1_700_000_000_000)

func accel(ts int64, y float32) models.SensorSample {
	return models.SensorSample{SensorType: models.SensorAccelerometer, Values: []float32{0, y, 9.8}, TimestampMillis: ts}
}

func fix(ts int64, lat, lon, speed float32) models.SensorSample {
	id := uuid.New()
	return models.SensorSample{
		SensorType:      models.SensorLocation,
		Values:          []float32{lat, lon, speed},
		TimestampMillis: ts,
		LocationID:      &id,
	}
}

func newValidator() *Validator {
	v := NewValidator(5*time.Second, 10*time.Second)
	v.Now = func() time.Time { return tripStart.Add(time.Hour) }
	return v
}

func TestValidate(t *testing.T) {
	ts := tripStart.UnixMilli() + 1000

	tests := []struct {
		name    string
		sample  models.SensorSample
		wantErr bool
	}{
		{name: "valid accel", sample: accel(ts, 0.5)},
		{name: "valid location", sample: fix(ts, 6.5, 3.3, 10)},
		{name: "unknown type", sample: models.SensorSample{SensorType: "barometer", Values: []float32{1}, TimestampMillis: ts}, wantErr: true},
		{name: "too few values", sample: models.SensorSample{SensorType: models.SensorGyroscope, Values: []float32{1, 2}, TimestampMillis: ts}, wantErr: true},
		{name: "nan value", sample: accel(ts, float32(math.NaN())), wantErr: true},
		{name: "bad latitude", sample: fix(ts, 95, 3.3, 10), wantErr: true},
		{name: "within grace window", sample: accel(tripStart.UnixMilli()-4000, 0.1)},
		{name: "before grace window", sample: accel(tripStart.UnixMilli()-6000, 0.1), wantErr: true},
		{name: "far future", sample: accel(tripStart.Add(2*time.Hour).UnixMilli(), 0.1), wantErr: true},
		{name: "zero timestamp", sample: accel(0, 0.1), wantErr: true},
	}

	v := newValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.sample, tripStart)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidSample)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidateAllowsMissingSpeedLimit(t *testing.T) {
	s := fix(tripStart.UnixMilli()+1, 6.5, 3.3, 10)
	s.Values = append(s.Values, float32(math.NaN()))
	require.NoError(t, newValidator().Validate(s, tripStart))
}

func applyAll(t *testing.T, state *models.TripFeatureState, samples ...models.SensorSample) {
	t.Helper()
	for _, s := range samples {
		require.NoError(t, Apply(state, Compute(state, s)))
	}
}

func TestAccelerometerUpdatesAccelY(t *testing.T) {
	state := models.NewTripFeatureState(uuid.New(), nil)
	base := tripStart.UnixMilli()

	applyAll(t, state, accel(base+1, 0.1), accel(base+2, -0.2), accel(base+3, 0.05))

	assert.Equal(t, uint64(3), state.AccelY.Count)
	assert.InDelta(t, -0.016667, state.AccelY.Mean, 1e-6)
	assert.Equal(t, uint64(0), state.Speed.Count)
	require.NotNil(t, state.LastSensorTimestamp)
	assert.Equal(t, base+3, *state.LastSensorTimestamp)
}

func TestLastSensorTimestampNeverRegresses(t *testing.T) {
	state := models.NewTripFeatureState(uuid.New(), nil)
	base := tripStart.UnixMilli()

	applyAll(t, state, accel(base+500, 1), accel(base+100, 1))

	require.NotNil(t, state.LastSensorTimestamp)
	assert.Equal(t, base+500, *state.LastSensorTimestamp)
	assert.Equal(t, uint64(2), state.AccelY.Count)
}

func TestLocationUpdatesSpeedCourseAndDistance(t *testing.T) {
	state := models.NewTripFeatureState(uuid.New(), nil)
	base := tripStart.UnixMilli()

	// 向北再向东
	applyAll(t, state,
		fix(base+1000, 0, 0, 10),
		fix(base+2000, 0.001, 0, 12),
		fix(base+3000, 0.001, 0.001, 14),
	)

	assert.Equal(t, uint64(3), state.Speed.Count)
	assert.InDelta(t, 12, state.Speed.Mean, 1e-6)
	require.Equal(t, uint64(2), state.Course.Count)
	assert.InDelta(t, 45, state.Course.Mean, 0.1)
	assert.InDelta(t, 222, state.DistanceMeters, 2)
	require.NotNil(t, state.LastLocationTimestamp)
	assert.Equal(t, base+3000, *state.LastLocationTimestamp)
}

func TestRepeatedLocationIDIgnored(t *testing.T) {
	state := models.NewTripFeatureState(uuid.New(), nil)
	s := fix(tripStart.UnixMilli()+1000, 1, 1, 5)

	applyAll(t, state, s, s)

	assert.Equal(t, uint64(1), state.Speed.Count)
}

func TestOutOfOrderFixCountsSpeedOnly(t *testing.T) {
	state := models.NewTripFeatureState(uuid.New(), nil)
	base := tripStart.UnixMilli()

	applyAll(t, state, fix(base+2000, 0, 0, 10), fix(base+1000, 0.01, 0, 20))

	assert.Equal(t, uint64(2), state.Speed.Count)
	assert.Equal(t, uint64(0), state.Course.Count)
	assert.Equal(t, 0.0, *state.LastLatitude)
	assert.Equal(t, base+2000, *state.LastLocationTimestamp)
}

func TestNegativeSpeedIgnored(t *testing.T) {
	state := models.NewTripFeatureState(uuid.New(), nil)
	applyAll(t, state, fix(tripStart.UnixMilli()+1, 0, 0, -1))

	assert.Equal(t, uint64(0), state.Speed.Count)
	require.NotNil(t, state.LastLatitude)
}

func TestStationaryFixHasNoCourse(t *testing.T) {
	state := models.NewTripFeatureState(uuid.New(), nil)
	base := tripStart.UnixMilli()

	applyAll(t, state, fix(base+1, 1, 1, 0), fix(base+2, 1, 1, 0))

	assert.Equal(t, uint64(0), state.Course.Count)
	assert.Equal(t, 0.0, state.DistanceMeters)
}

func TestMergeSegmentEqualsContinuousApply(t *testing.T) {
	tripID := uuid.New()
	base := tripStart.UnixMilli()
	samples := []models.SensorSample{
		accel(base+100, 0.3),
		fix(base+200, 6.5, 3.3, 8),
		accel(base+300, -1.2),
		fix(base+400, 6.501, 3.3, 9),
		accel(base+500, 0.7),
		fix(base+600, 6.502, 3.301, 11),
		accel(base+700, 2.1),
	}

	whole := models.NewTripFeatureState(tripID, nil)
	applyAll(t, whole, samples...)

	// 检查点后的增量段单独累加
	checkpoint := models.NewTripFeatureState(tripID, nil)
	applyAll(t, checkpoint, samples[:3]...)
	running := checkpoint.Clone()
	segment := models.NewTripFeatureState(tripID, nil)
	for _, s := range samples[3:] {
		u := Compute(running, s)
		require.NoError(t, Apply(running, u))
		require.NoError(t, Apply(segment, u))
	}

	merged := Merge(checkpoint, segment)

	for _, pair := range [][2]stats.RunningStats{
		{whole.AccelY, merged.AccelY},
		{whole.Speed, merged.Speed},
		{whole.Course, merged.Course},
	} {
		assert.Equal(t, pair[0].Count, pair[1].Count)
		assert.InDelta(t, pair[0].Mean, pair[1].Mean, 1e-9)
		assert.InDelta(t, pair[0].M2, pair[1].M2, 1e-9)
	}
	assert.InDelta(t, whole.DistanceMeters, merged.DistanceMeters, 1e-9)
	assert.Equal(t, *whole.LastLocationTimestamp, *merged.LastLocationTimestamp)
	assert.Equal(t, *whole.LastSensorTimestamp, *merged.LastSensorTimestamp)
	assert.Equal(t, *whole.LastLocationID, *merged.LastLocationID)
}
