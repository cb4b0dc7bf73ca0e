package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// Op 存储操作名，用于注入故障
type Op string

const (
	OpCreateTrip       Op = "create_trip"
	OpEndTrip          Op = "end_trip"
	OpSaveFeatureState Op = "save_feature_state"
	OpSaveBehaviour    Op = "save_behaviour"
	OpSaveSummary      Op = "save_summary"
	OpMarkSynced       Op = "mark_synced"
)

type memoryRecord[T any] struct {
	value          T
	rejectedStatus *int
}

// MemoryStore 进程内存储，未配置数据库时使用
type MemoryStore struct {
	mu         sync.RWMutex
	trips      map[uuid.UUID]models.Trip
	states     map[uuid.UUID]*memoryRecord[models.TripFeatureState]
	behaviours map[uuid.UUID]*memoryRecord[models.UnsafeBehaviour]
	order      []uuid.UUID
	summaries  map[uuid.UUID]*memoryRecord[models.TripSummary]
	failures   map[Op]error
	calls      map[Op]int
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:      make(map[uuid.UUID]models.Trip),
		states:     make(map[uuid.UUID]*memoryRecord[models.TripFeatureState]),
		behaviours: make(map[uuid.UUID]*memoryRecord[models.UnsafeBehaviour]),
		summaries:  make(map[uuid.UUID]*memoryRecord[models.TripSummary]),
		failures:   make(map[Op]error),
		calls:      make(map[Op]int),
	}
}

// InjectFailure 让指定操作返回 err，err 为 nil 时清除
func (m *MemoryStore) InjectFailure(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls 指定写操作的调用次数（含失败）
func (m *MemoryStore) Calls(op Op) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// enter 记录调用并返回注入的故障，调用方需持有写锁
func (m *MemoryStore) enter(op Op) error {
	m.calls[op]++
	if err := m.failures[op]; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CreateTrip 创建行程
func (m *MemoryStore) CreateTrip(ctx context.Context, trip *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCreateTrip); err != nil {
		return err
	}
	if _, ok := m.trips[trip.ID]; ok {
		return fmt.Errorf("insert trip: duplicate id %s", trip.ID)
	}
	m.trips[trip.ID] = copyTrip(trip)
	return nil
}

// GetTrip 获取行程
func (m *MemoryStore) GetTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trip, ok := m.trips[id]
	if !ok {
		return nil, fmt.Errorf("get trip by id: %w", ErrNotFound)
	}
	out := copyTrip(&trip)
	return &out, nil
}

// LoadActiveTrip 获取进行中的行程
func (m *MemoryStore) LoadActiveTrip(ctx context.Context) (*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var active *models.Trip
	for _, trip := range m.trips {
		if trip.State != models.TripActive {
			continue
		}
		if active == nil || trip.StartTime.After(active.StartTime) {
			t := copyTrip(&trip)
			active = &t
		}
	}
	if active == nil {
		return nil, fmt.Errorf("get active trip: %w", ErrNotFound)
	}
	return active, nil
}

// ListTrips 最近的行程
func (m *MemoryStore) ListTrips(ctx context.Context, limit, offset int) ([]*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trips := make([]*models.Trip, 0, len(m.trips))
	for _, trip := range m.trips {
		t := copyTrip(&trip)
		trips = append(trips, &t)
	}
	sort.Slice(trips, func(i, j int) bool {
		return trips[i].StartTime.After(trips[j].StartTime)
	})
	if offset >= len(trips) {
		return nil, nil
	}
	trips = trips[offset:]
	if limit > 0 && limit < len(trips) {
		trips = trips[:limit]
	}
	return trips, nil
}

// ListUnsummarizedTrips 已结束、特征状态已冻结但没有摘要的行程
func (m *MemoryStore) ListUnsummarizedTrips(ctx context.Context) ([]*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var trips []*models.Trip
	for id, trip := range m.trips {
		if trip.State != models.TripEnded {
			continue
		}
		if rec, ok := m.states[id]; !ok || !rec.value.Finalized {
			continue
		}
		if _, ok := m.summaries[id]; ok {
			continue
		}
		t := copyTrip(&trip)
		trips = append(trips, &t)
	}
	sort.Slice(trips, func(i, j int) bool {
		return trips[i].StartTime.Before(trips[j].StartTime)
	})
	return trips, nil
}

// SaveTripFeatureState 持久化检查点
func (m *MemoryStore) SaveTripFeatureState(ctx context.Context, state *models.TripFeatureState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSaveFeatureState); err != nil {
		return err
	}
	m.states[state.TripID] = &memoryRecord[models.TripFeatureState]{value: *state.Clone()}
	return nil
}

// LoadTripFeatureState 读取检查点
func (m *MemoryStore) LoadTripFeatureState(ctx context.Context, tripID uuid.UUID) (*models.TripFeatureState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.states[tripID]
	if !ok {
		return nil, fmt.Errorf("get feature state: %w", ErrNotFound)
	}
	return rec.value.Clone(), nil
}

// EndTrip 原子地结束行程并写入最终特征状态
func (m *MemoryStore) EndTrip(ctx context.Context, trip *models.Trip, state *models.TripFeatureState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpEndTrip); err != nil {
		return err
	}
	if _, ok := m.trips[trip.ID]; !ok {
		return fmt.Errorf("end trip %s: %w", trip.ID, ErrNotFound)
	}
	m.trips[trip.ID] = copyTrip(trip)
	m.states[state.TripID] = &memoryRecord[models.TripFeatureState]{value: *state.Clone()}
	return nil
}

// SaveBehaviour 写入行为，重复 ID 忽略
func (m *MemoryStore) SaveBehaviour(ctx context.Context, b *models.UnsafeBehaviour) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSaveBehaviour); err != nil {
		return err
	}
	if _, ok := m.behaviours[b.ID]; ok {
		return nil
	}
	m.behaviours[b.ID] = &memoryRecord[models.UnsafeBehaviour]{value: *b}
	m.order = append(m.order, b.ID)
	return nil
}

// ListBehaviours 行程的行为列表，按时间排序
func (m *MemoryStore) ListBehaviours(ctx context.Context, tripID uuid.UUID) ([]models.UnsafeBehaviour, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.UnsafeBehaviour
	for _, id := range m.order {
		rec := m.behaviours[id]
		if rec.value.TripID == tripID {
			out = append(out, withRejection(rec.value, rec.rejectedStatus))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimestampMillis < out[j].TimestampMillis
	})
	return out, nil
}

// CountBehaviours 行程的行为计数
func (m *MemoryStore) CountBehaviours(ctx context.Context, tripID uuid.UUID) (models.BehaviourCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(models.BehaviourCounts)
	for _, rec := range m.behaviours {
		if rec.value.TripID == tripID {
			counts[rec.value.BehaviourType]++
		}
	}
	return counts, nil
}

// SaveTripSummary 写入行程摘要
func (m *MemoryStore) SaveTripSummary(ctx context.Context, summary *models.TripSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSaveSummary); err != nil {
		return err
	}
	m.summaries[summary.TripID] = &memoryRecord[models.TripSummary]{value: copySummary(summary)}
	return nil
}

// GetTripSummary 获取行程摘要
func (m *MemoryStore) GetTripSummary(ctx context.Context, tripID uuid.UUID) (*models.TripSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.summaries[tripID]
	if !ok {
		return nil, fmt.Errorf("get trip summary: %w", ErrNotFound)
	}
	out := copySummary(&rec.value)
	out.RejectedStatus = rec.rejectedStatus
	return &out, nil
}

// ListUnsyncedSummaries 实现 uploader.Store
func (m *MemoryStore) ListUnsyncedSummaries(ctx context.Context, limit int) ([]models.TripSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TripSummary
	for _, rec := range m.summaries {
		if !rec.value.Sync && rec.rejectedStatus == nil {
			out = append(out, copySummary(&rec.value))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return truncate(out, limit), nil
}

// ListUnsyncedFeatureStates 实现 uploader.Store，只返回已最终化的状态
func (m *MemoryStore) ListUnsyncedFeatureStates(ctx context.Context, limit int) ([]models.TripFeatureState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TripFeatureState
	for _, rec := range m.states {
		if rec.value.Finalized && !rec.value.Sync && rec.rejectedStatus == nil {
			out = append(out, *rec.value.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return truncate(out, limit), nil
}

// ListUnsyncedBehaviours 实现 uploader.Store
func (m *MemoryStore) ListUnsyncedBehaviours(ctx context.Context, limit int) ([]models.UnsafeBehaviour, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.UnsafeBehaviour
	for _, id := range m.order {
		rec := m.behaviours[id]
		if !rec.value.Sync && rec.rejectedStatus == nil {
			out = append(out, rec.value)
		}
	}
	return truncate(out, limit), nil
}

// MarkSynced 实现 uploader.Store
func (m *MemoryStore) MarkSynced(ctx context.Context, kind models.SyncKind, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpMarkSynced); err != nil {
		return err
	}
	for _, id := range ids {
		switch kind {
		case models.SyncTripSummary:
			if rec, ok := m.summaries[id]; ok {
				rec.value.Sync = true
			}
			if trip, ok := m.trips[id]; ok {
				trip.Sync = true
				m.trips[id] = trip
			}
		case models.SyncTripFeatureState:
			if rec, ok := m.states[id]; ok {
				rec.value.Sync = true
			}
		case models.SyncUnsafeBehaviour:
			if rec, ok := m.behaviours[id]; ok {
				rec.value.Sync = true
			}
		default:
			return fmt.Errorf("unknown sync kind %q", kind)
		}
	}
	return nil
}

// FlagRejected 实现 uploader.Store
func (m *MemoryStore) FlagRejected(ctx context.Context, kind models.SyncKind, ids []uuid.UUID, status int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		s := status
		switch kind {
		case models.SyncTripSummary:
			if rec, ok := m.summaries[id]; ok {
				rec.rejectedStatus = &s
			}
		case models.SyncTripFeatureState:
			if rec, ok := m.states[id]; ok {
				rec.rejectedStatus = &s
			}
		case models.SyncUnsafeBehaviour:
			if rec, ok := m.behaviours[id]; ok {
				rec.rejectedStatus = &s
			}
		default:
			return fmt.Errorf("unknown sync kind %q", kind)
		}
	}
	return nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func withRejection(b models.UnsafeBehaviour, status *int) models.UnsafeBehaviour {
	b.RejectedStatus = status
	return b
}

func copyTrip(t *models.Trip) models.Trip {
	c := *t
	if t.DriverProfileID != nil {
		id := *t.DriverProfileID
		c.DriverProfileID = &id
	}
	if t.EndTime != nil {
		end := *t.EndTime
		c.EndTime = &end
	}
	return c
}

func copySummary(s *models.TripSummary) models.TripSummary {
	c := *s
	if s.BehaviourCounts != nil {
		c.BehaviourCounts = make(models.BehaviourCounts, len(s.BehaviourCounts))
		for k, v := range s.BehaviourCounts {
			c.BehaviourCounts[k] = v
		}
	}
	return c
}
