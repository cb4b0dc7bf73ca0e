package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
	"github.com/iniakponode/driveafrica-sub003/internal/stats"
)

func endedTrip(start time.Time) *models.Trip {
	end := start.Add(30 * time.Minute)
	return &models.Trip{ID: uuid.New(), StartTime: start, EndTime: &end, State: models.TripEnded}
}

func finalizedState(tripID uuid.UUID) *models.TripFeatureState {
	s := models.NewTripFeatureState(tripID, nil)
	s.AccelY = stats.Of(0.1, -0.2, 0.05)
	s.Speed = stats.Of(10, 12, 14)
	s.Course = stats.Of(0, 90)
	s.Finalized = true
	return s
}

func TestProject(t *testing.T) {
	// 2024-03-10 是星期日
	start := time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC)
	lagos := time.FixedZone("WAT", 3600)

	state := finalizedState(uuid.New())
	got := Project(state, start, lagos)

	want := models.TripFeatures{
		HourOfDayMean:     0, // UTC+1 已过午夜
		DayOfWeekMean:     1,
		SpeedStd:          float32(state.Speed.StdDev()),
		CourseStd:         45,
		AccelerationYMean: float32(state.AccelY.Mean),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Project() mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, -0.016667, got.AccelerationYMean, 1e-6)
}

func TestProjectEmptyStateIsFinite(t *testing.T) {
	state := models.NewTripFeatureState(uuid.New(), nil)
	got := Project(state, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), nil)

	for _, v := range got.Vector() {
		assert.False(t, v != v, "NaN in feature vector")
	}
	assert.Equal(t, float32(0), got.SpeedStd)
	assert.Equal(t, float32(8), got.HourOfDayMean)
}

func TestMinMax(t *testing.T) {
	m, err := ParseMinMax([]byte(`{
		"feature_names": ["hour_of_day_mean", "speed_std"],
		"data_min": [0, 0],
		"data_max": [23, 50]
	}`))
	require.NoError(t, err)

	assert.InDelta(t, 0.5, m.Scale("speed_std", 25), 1e-6)
	assert.Equal(t, float32(1), m.Scale("speed_std", 80))
	assert.Equal(t, float32(0), m.Scale("hour_of_day_mean", -3))
	// 未知特征原样返回
	assert.Equal(t, float32(7), m.Scale("course_std", 7))

	_, err = ParseMinMax([]byte(`{"feature_names": ["a"], "data_min": [], "data_max": [1]}`))
	require.Error(t, err)
}

func TestDefaultMinMaxNormalize(t *testing.T) {
	vec := DefaultMinMax().Normalize(models.TripFeatures{
		HourOfDayMean: 23, DayOfWeekMean: 3, SpeedStd: 50, CourseStd: 360, AccelerationYMean: 0,
	})
	assert.Equal(t, []float32{1, 0.5, 0.5, 1, 0.5}, vec)
}

func TestInterpreter(t *testing.T) {
	in := NewInterpreter()

	tests := []struct {
		name        string
		outputs     map[string]interface{}
		influenced  bool
		probability *float32
		wantErr     error
	}{
		{
			name:        "label wins over probability",
			outputs:     map[string]interface{}{"label": [][]int64{{1}}, "probabilities": [][]float32{{0.8, 0.2}}},
			influenced:  true,
			probability: ptr(0.2),
		},
		{
			name:        "probabilities without label",
			outputs:     map[string]interface{}{"probabilities": [][]float32{{0.1, 0.9}}},
			influenced:  true,
			probability: ptr(0.9),
		},
		{
			name:        "sober probabilities",
			outputs:     map[string]interface{}{"output_probability": []map[int64]float32{{0: 0.7, 1: 0.3}}},
			influenced:  false,
			probability: ptr(0.3),
		},
		{
			name:        "single logit uses sigmoid",
			outputs:     map[string]interface{}{"scores": []float32{3}},
			influenced:  true,
			probability: ptr(0.952574),
		},
		{
			name:        "logits use softmax",
			outputs:     map[string]interface{}{"scores": []float32{2, -2}},
			influenced:  false,
			probability: ptr(0.017986),
		},
		{
			name:       "unnamed label output",
			outputs:    map[string]interface{}{"output_0": []int64{0}},
			influenced: false,
		},
		{
			name:    "no usable outputs",
			outputs: map[string]interface{}{"unknown": "invalid"},
			wantErr: ErrNoUsableOutputs,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := in.Interpret(tt.outputs)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.influenced, got.IsAlcoholInfluenced)
			if tt.probability == nil {
				assert.Nil(t, got.Probability)
				return
			}
			require.NotNil(t, got.Probability)
			assert.InDelta(t, *tt.probability, *got.Probability, 1e-5)
		})
	}
}

func ptr(f float32) *float32 {
	return &f
}

func TestDefaultModelScorerDeterministic(t *testing.T) {
	model, err := LoadModel("")
	require.NoError(t, err)
	scorer := NewModelScorer(model, nil)

	features := models.TripFeatures{HourOfDayMean: 2, DayOfWeekMean: 6, SpeedStd: 30, CourseStd: 120, AccelerationYMean: -0.5}
	first, err := scorer.Score(context.Background(), features)
	require.NoError(t, err)
	second, err := scorer.Score(context.Background(), features)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.NotNil(t, first.Probability)
	assert.GreaterOrEqual(t, *first.Probability, float32(0))
	assert.LessOrEqual(t, *first.Probability, float32(1))
}

func TestParseModelValidation(t *testing.T) {
	_, err := ParseModel([]byte("name: empty\n"))
	require.Error(t, err)

	_, err = ParseModel([]byte("name: short\nweights: [[1, 2]]\nbias: [0]\n"))
	require.Error(t, err)

	m, err := ParseModel([]byte("name: logit\nweights: [[0, 0, 0, 0, 0]]\nbias: [3]\n"))
	require.NoError(t, err)
	inference, err := NewModelScorer(m, nil).Score(context.Background(), models.TripFeatures{})
	require.NoError(t, err)
	assert.True(t, inference.IsAlcoholInfluenced)
	assert.InDelta(t, 0.952574, *inference.Probability, 1e-5)
}

func TestAdapterClassify(t *testing.T) {
	logger := zaptest.NewLogger(t)
	var seen models.TripFeatures
	scorer := ScorerFunc(func(ctx context.Context, f models.TripFeatures) (models.ModelInference, error) {
		seen = f
		p := float32(0.8)
		return models.ModelInference{IsAlcoholInfluenced: true, Probability: &p}, nil
	})
	adapter := NewAdapter(logger, scorer, time.UTC, time.Second)

	trip := endedTrip(time.Date(2024, 5, 4, 21, 0, 0, 0, time.UTC))
	inference, features, err := adapter.Classify(context.Background(), trip, finalizedState(trip.ID))

	require.NoError(t, err)
	assert.True(t, inference.IsAlcoholInfluenced)
	assert.Equal(t, seen, features)
	assert.Equal(t, float32(21), features.HourOfDayMean)
	assert.Equal(t, float32(6), features.DayOfWeekMean)
}

func TestAdapterRejectsUnfinalized(t *testing.T) {
	adapter := NewAdapter(zaptest.NewLogger(t), NewModelScorer(mustDefaultModel(t), nil), nil, 0)

	trip := endedTrip(time.Now())
	state := finalizedState(trip.ID)
	state.Finalized = false
	_, _, err := adapter.Classify(context.Background(), trip, state)
	require.ErrorIs(t, err, ErrNotFinalized)

	trip.State = models.TripActive
	state.Finalized = true
	_, _, err = adapter.Classify(context.Background(), trip, state)
	require.ErrorIs(t, err, ErrNotFinalized)
}

func TestAdapterInsufficientData(t *testing.T) {
	adapter := NewAdapter(zaptest.NewLogger(t), NewModelScorer(mustDefaultModel(t), nil), nil, 0)

	trip := endedTrip(time.Now())
	state := models.NewTripFeatureState(trip.ID, nil)
	state.Finalized = true

	_, features, err := adapter.Classify(context.Background(), trip, state)
	require.ErrorIs(t, err, ErrInsufficientData)
	require.ErrorIs(t, err, ErrClassificationFailure)
	assert.Equal(t, float32(0), features.SpeedStd)
}

func TestAdapterScorerFailures(t *testing.T) {
	trip := endedTrip(time.Now())
	state := finalizedState(trip.ID)

	tests := []struct {
		name   string
		scorer ScorerFunc
	}{
		{
			name: "error",
			scorer: func(ctx context.Context, f models.TripFeatures) (models.ModelInference, error) {
				return models.ModelInference{}, errors.New("model unavailable")
			},
		},
		{
			name: "panic",
			scorer: func(ctx context.Context, f models.TripFeatures) (models.ModelInference, error) {
				panic("corrupt weights")
			},
		},
		{
			name: "timeout",
			scorer: func(ctx context.Context, f models.TripFeatures) (models.ModelInference, error) {
				<-ctx.Done()
				return models.ModelInference{}, ctx.Err()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := NewAdapter(zaptest.NewLogger(t), tt.scorer, nil, 20*time.Millisecond)
			_, _, err := adapter.Classify(context.Background(), trip, state)
			require.ErrorIs(t, err, ErrClassificationFailure)
		})
	}
}

func mustDefaultModel(t *testing.T) LinearModel {
	t.Helper()
	m, err := LoadModel("")
	require.NoError(t, err)
	return m
}
