package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iniakponode/driveafrica-sub003/internal/classifier"
	"github.com/iniakponode/driveafrica-sub003/internal/config"
	"github.com/iniakponode/driveafrica-sub003/internal/models"
	"github.com/iniakponode/driveafrica-sub003/internal/repository"
	"github.com/iniakponode/driveafrica-sub003/internal/service"
	"github.com/iniakponode/driveafrica-sub003/pkg/ws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := config.Default()
	cfg.Checkpoint.Interval = time.Hour
	cfg.Classifier.Workers = 1

	scorer := classifier.ScorerFunc(func(ctx context.Context, f models.TripFeatures) (models.ModelInference, error) {
		p := float32(0.1)
		return models.ModelInference{Probability: &p}, nil
	})
	adapter := classifier.NewAdapter(logger, scorer, time.UTC, time.Second)

	hub := ws.NewHub(logger)
	svc := service.NewTripService(cfg, logger, repository.NewMemoryStore(), nil, adapter, hub, nil)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)

	r := gin.New()
	NewHandler(logger, svc, nil, hub).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func accelSample(y float32) models.SensorSample {
	return models.SensorSample{
		SensorType:      models.SensorAccelerometer,
		Values:          []float32{0, y, 9.81},
		TimestampMillis: time.Now().UnixMilli(),
	}
}

func TestTripRoutes(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodGet, "/api/trips/active", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	driver := uuid.New()
	w = do(r, http.MethodPost, "/api/trips", gin.H{"driver_profile_id": driver})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var trip models.Trip
	decodeData(t, w, &trip)
	require.NotEqual(t, uuid.Nil, trip.ID)
	require.NotNil(t, trip.DriverProfileID)
	assert.Equal(t, driver, *trip.DriverProfileID)

	// 已有活动行程
	w = do(r, http.MethodPost, "/api/trips", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodGet, "/api/trips?per_page=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var trips []models.Trip
	decodeData(t, w, &trips)
	require.Len(t, trips, 1)
	assert.Equal(t, trip.ID, trips[0].ID)

	samples := []models.SensorSample{
		accelSample(0.1),
		accelSample(-0.2),
		{SensorType: "barometer", Values: []float32{1}, TimestampMillis: time.Now().UnixMilli()},
	}
	w = do(r, http.MethodPost, "/api/samples", samples)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var result service.BatchResult
	decodeData(t, w, &result)
	assert.Equal(t, service.BatchResult{Accepted: 2, Rejected: 1}, result)

	w = do(r, http.MethodGet, "/api/trips/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active struct {
		Trip     models.Trip             `json:"trip"`
		Features models.TripFeatureState `json:"features"`
	}
	decodeData(t, w, &active)
	assert.Equal(t, trip.ID, active.Trip.ID)
	assert.Equal(t, uint64(2), active.Features.AccelY.Count)

	w = do(r, http.MethodPost, "/api/trips/"+trip.ID.String()+"/end", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var final models.TripFeatureState
	decodeData(t, w, &final)
	assert.True(t, final.Finalized)
	assert.Equal(t, uint64(2), final.AccelY.Count)

	w = do(r, http.MethodPost, "/api/trips/"+trip.ID.String()+"/end", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodGet, "/api/trips/"+trip.ID.String()+"/features", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/trips/"+trip.ID.String()+"/behaviours", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)

	require.Eventually(t, func() bool {
		return do(r, http.MethodGet, "/api/trips/"+trip.ID.String()+"/summary", nil).Code == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSamplesWithoutActiveTrip(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodPost, "/api/samples", []models.SensorSample{accelSample(0.1)})
	require.Equal(t, http.StatusAccepted, w.Code)
	var result service.BatchResult
	decodeData(t, w, &result)
	assert.Equal(t, 1, result.Rejected)

	w = do(r, http.MethodPost, "/api/samples", gin.H{"not": "a list"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTripIDValidation(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodPost, "/api/trips/not-a-uuid/end", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/trips/"+uuid.NewString()+"/features", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/trips/"+uuid.NewString()+"/summary", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/trips/"+uuid.NewString()+"/end", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSyncNotConfigured(t *testing.T) {
	r := newRouter(t)

	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodPost, "/api/sync", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/api/sync", nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = do(r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tripsense_http_requests_total")
}

func TestSampleStream(t *testing.T) {
	r := newRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp := do(r, http.MethodPost, "/api/trips", nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/samples"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON([]models.SensorSample{accelSample(0.3), accelSample(0.4)}))

	var reply struct {
		Type string             `json:"type"`
		Data service.BatchResult `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, ws.MsgTypeIngest, reply.Type)
	assert.Equal(t, 2, reply.Data.Accepted)
}
