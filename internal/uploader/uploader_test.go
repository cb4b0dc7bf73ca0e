package uploader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// fakeStore 记录同步写入次数
type fakeStore struct {
	mu         sync.Mutex
	summaries  []models.TripSummary
	states     []models.TripFeatureState
	behaviours []models.UnsafeBehaviour

	markCalls map[models.SyncKind]int
	synced    map[uuid.UUID]bool
	rejected  map[uuid.UUID]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		markCalls: make(map[models.SyncKind]int),
		synced:    make(map[uuid.UUID]bool),
		rejected:  make(map[uuid.UUID]int),
	}
}

func (s *fakeStore) pending(id uuid.UUID) bool {
	return !s.synced[id] && s.rejected[id] == 0
}

func (s *fakeStore) ListUnsyncedSummaries(ctx context.Context, limit int) ([]models.TripSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TripSummary
	for _, v := range s.summaries {
		if s.pending(v.TripID) && len(out) < limit {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *fakeStore) ListUnsyncedFeatureStates(ctx context.Context, limit int) ([]models.TripFeatureState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TripFeatureState
	for _, v := range s.states {
		if s.pending(v.TripID) && len(out) < limit {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *fakeStore) ListUnsyncedBehaviours(ctx context.Context, limit int) ([]models.UnsafeBehaviour, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.UnsafeBehaviour
	for _, v := range s.behaviours {
		if s.pending(v.ID) && len(out) < limit {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkSynced(ctx context.Context, kind models.SyncKind, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls[kind]++
	for _, id := range ids {
		s.synced[id] = true
	}
	return nil
}

func (s *fakeStore) FlagRejected(ctx context.Context, kind models.SyncKind, ids []uuid.UUID, status int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.rejected[id] = status
	}
	return nil
}

// scriptedTransport 按脚本依次返回结果，脚本用尽后成功
type scriptedTransport struct {
	mu     sync.Mutex
	script map[models.SyncKind][]*UploadError
	calls  map[models.SyncKind]int
	panics bool
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		script: make(map[models.SyncKind][]*UploadError),
		calls:  make(map[models.SyncKind]int),
	}
}

func (t *scriptedTransport) Upload(ctx context.Context, batch Batch) Result[Ack] {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[batch.Kind]++
	if t.panics {
		panic("boom")
	}
	if queue := t.script[batch.Kind]; len(queue) > 0 {
		t.script[batch.Kind] = queue[1:]
		if queue[0] != nil {
			return Failure[Ack](queue[0])
		}
	}
	return Success(Ack{Accepted: batch.Len()})
}

func (t *scriptedTransport) callCount(kind models.SyncKind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[kind]
}

func newTestUploader(t *testing.T, store Store, transport Transport) (*Uploader, *[]time.Duration) {
	u := New(zaptest.NewLogger(t), store, transport, DefaultPolicy())
	var slept []time.Duration
	var mu sync.Mutex
	u.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return ctx.Err()
	}
	return u, &slept
}

func summaryStore() (*fakeStore, uuid.UUID) {
	store := newFakeStore()
	id := uuid.New()
	store.summaries = []models.TripSummary{{TripID: id, ClassificationLabel: models.LabelSober}}
	return store, id
}

var networkDown = NewNetworkError(errors.New("dial tcp: connection refused"))

func TestNetworkRetriedThenSuccess(t *testing.T) {
	store, id := summaryStore()
	transport := newScriptedTransport()
	transport.script[models.SyncTripSummary] = []*UploadError{networkDown, networkDown, networkDown}
	u, slept := newTestUploader(t, store, transport)

	report := u.SyncStream(context.Background(), models.SyncTripSummary)

	require.NoError(t, report.Err)
	assert.Equal(t, 4, transport.callCount(models.SyncTripSummary))
	assert.Equal(t, 1, store.markCalls[models.SyncTripSummary])
	assert.True(t, store.synced[id])
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, 4, report.Attempts)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, *slept)
}

func TestClientErrorFlaggedWithoutRetry(t *testing.T) {
	store, id := summaryStore()
	transport := newScriptedTransport()
	transport.script[models.SyncTripSummary] = []*UploadError{NewServerError(422, "invalid payload")}
	u, slept := newTestUploader(t, store, transport)

	report := u.SyncStream(context.Background(), models.SyncTripSummary)

	require.NoError(t, report.Err)
	assert.Equal(t, 1, transport.callCount(models.SyncTripSummary))
	assert.Equal(t, 0, store.markCalls[models.SyncTripSummary])
	assert.Equal(t, 422, store.rejected[id])
	assert.Equal(t, 1, report.Rejected)
	assert.Empty(t, *slept)
}

func TestServerErrorRetriedUpToCap(t *testing.T) {
	store, id := summaryStore()
	transport := newScriptedTransport()
	for i := 0; i < 10; i++ {
		transport.script[models.SyncTripSummary] = append(transport.script[models.SyncTripSummary], NewServerError(503, "unavailable"))
	}
	u, _ := newTestUploader(t, store, transport)

	report := u.SyncStream(context.Background(), models.SyncTripSummary)

	var uerr *UploadError
	require.ErrorAs(t, report.Err, &uerr)
	assert.Equal(t, ServerRejected, uerr.Kind)
	assert.Equal(t, DefaultPolicy().MaxAttempts, transport.callCount(models.SyncTripSummary))
	assert.False(t, store.synced[id])
	assert.Zero(t, store.rejected[id])
	assert.Equal(t, 1, report.Pending)
}

func TestUnexpectedNotRetried(t *testing.T) {
	store, id := summaryStore()
	transport := newScriptedTransport()
	transport.script[models.SyncTripSummary] = []*UploadError{NewUnexpectedError(errors.New("decode ack"))}
	u, _ := newTestUploader(t, store, transport)

	report := u.SyncStream(context.Background(), models.SyncTripSummary)

	require.Error(t, report.Err)
	assert.Equal(t, 1, transport.callCount(models.SyncTripSummary))
	assert.False(t, store.synced[id])

	// 下一轮重新上传
	report = u.SyncStream(context.Background(), models.SyncTripSummary)
	require.NoError(t, report.Err)
	assert.True(t, store.synced[id])
}

func TestTransportPanicBecomesUnexpected(t *testing.T) {
	store, id := summaryStore()
	transport := newScriptedTransport()
	transport.panics = true
	u, _ := newTestUploader(t, store, transport)

	report := u.SyncStream(context.Background(), models.SyncTripSummary)

	var uerr *UploadError
	require.ErrorAs(t, report.Err, &uerr)
	assert.Equal(t, Unexpected, uerr.Kind)
	assert.False(t, store.synced[id])
}

func TestStreamsIndependent(t *testing.T) {
	store, summaryID := summaryStore()
	behaviourID := uuid.New()
	store.behaviours = []models.UnsafeBehaviour{{ID: behaviourID, BehaviourType: models.BehaviourSpeeding}}
	stateTrip := uuid.New()
	store.states = []models.TripFeatureState{{TripID: stateTrip, Finalized: true}}

	transport := newScriptedTransport()
	for i := 0; i < 5; i++ {
		transport.script[models.SyncTripSummary] = append(transport.script[models.SyncTripSummary], networkDown)
	}
	u, _ := newTestUploader(t, store, transport)

	reports := u.SyncAll(context.Background())

	require.Len(t, reports, 3)
	require.Error(t, reports[models.SyncTripSummary].Err)
	require.NoError(t, reports[models.SyncUnsafeBehaviour].Err)
	require.NoError(t, reports[models.SyncTripFeatureState].Err)
	assert.False(t, store.synced[summaryID])
	assert.True(t, store.synced[behaviourID])
	assert.True(t, store.synced[stateTrip])
}

func TestCancellationLeavesRecordsUnsynced(t *testing.T) {
	store, id := summaryStore()
	transport := newScriptedTransport()
	transport.script[models.SyncTripSummary] = []*UploadError{networkDown, networkDown}
	u := New(zaptest.NewLogger(t), store, transport, DefaultPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	u.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	report := u.SyncStream(ctx, models.SyncTripSummary)

	require.Error(t, report.Err)
	assert.Equal(t, 1, transport.callCount(models.SyncTripSummary))
	assert.False(t, store.synced[id])
	assert.Equal(t, 0, store.markCalls[models.SyncTripSummary])
}

func TestBatching(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 5; i++ {
		store.behaviours = append(store.behaviours, models.UnsafeBehaviour{ID: uuid.New()})
	}
	transport := newScriptedTransport()
	policy := DefaultPolicy()
	policy.BatchSize = 2
	u := New(zaptest.NewLogger(t), store, transport, policy)

	report := u.SyncStream(context.Background(), models.SyncUnsafeBehaviour)

	require.NoError(t, report.Err)
	assert.Equal(t, 5, report.Uploaded)
	assert.Equal(t, 3, transport.callCount(models.SyncUnsafeBehaviour))
	assert.Equal(t, 3, store.markCalls[models.SyncUnsafeBehaviour])
}

func TestBackoff(t *testing.T) {
	p := Policy{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Factor: 2}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(5))
	assert.Equal(t, time.Second, p.Backoff(20))
}

func TestResultAndErrorKinds(t *testing.T) {
	ok := Success(Ack{Accepted: 2})
	v, err := ok.Get()
	assert.True(t, ok.IsSuccess())
	assert.Nil(t, err)
	assert.Equal(t, 2, v.Accepted)

	failed := Failure[Ack](NewServerError(500, "boom"))
	assert.False(t, failed.IsSuccess())

	assert.True(t, NewServerError(502, "").Retryable())
	assert.False(t, NewServerError(404, "").Retryable())
	assert.True(t, NewServerError(409, "").ClientError())
	assert.True(t, networkDown.Retryable())
	assert.False(t, NewUnexpectedError(errors.New("x")).Retryable())
	assert.Contains(t, NewServerError(500, "boom").Error(), "server error (500)")
}

func TestWorkerTrigger(t *testing.T) {
	store, id := summaryStore()
	transport := newScriptedTransport()
	u, _ := newTestUploader(t, store, transport)
	w := NewWorker(zaptest.NewLogger(t), u, time.Hour, time.Second)

	w.Start(context.Background())
	defer w.Stop()
	w.Trigger()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.synced[id]
	}, time.Second, 10*time.Millisecond)
}
