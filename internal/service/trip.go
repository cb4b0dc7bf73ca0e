package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iniakponode/driveafrica-sub003/internal/features"
	"github.com/iniakponode/driveafrica-sub003/internal/metrics"
	"github.com/iniakponode/driveafrica-sub003/internal/models"
	"github.com/iniakponode/driveafrica-sub003/internal/repository"
	"github.com/iniakponode/driveafrica-sub003/internal/state"
)

// StartTrip 开始新行程，已有活动行程时返回 ErrTripStateConflict
func (s *TripService) StartTrip(ctx context.Context, driverProfileID *uuid.UUID) (*models.Trip, error) {
	s.control.Lock()
	defer s.control.Unlock()

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return nil, ErrServiceStopped
	}

	if active, ok := s.stateManager.Active(); ok {
		return nil, fmt.Errorf("%w: trip %s already active", state.ErrTripStateConflict, active.TripID())
	}

	trip := &models.Trip{
		ID:              uuid.New(),
		DriverProfileID: driverProfileID,
		StartTime:       s.now(),
		State:           models.TripActive,
	}
	if err := s.store.CreateTrip(ctx, trip); err != nil {
		return nil, fmt.Errorf("%w: create trip: %v", ErrPersistence, err)
	}

	if _, err := s.stateManager.Begin(trip.ID); err != nil {
		return nil, err
	}

	s.attach(trip, models.NewTripFeatureState(trip.ID, driverProfileID))

	s.logger.Info("Trip started", zap.String("trip_id", trip.ID.String()))
	out := *trip
	return &out, nil
}

// attach 为活动行程启动写入协程
func (s *TripService) attach(trip *models.Trip, st *models.TripFeatureState) {
	w := newTripWorker(s, trip, st)
	w.start()

	s.mu.Lock()
	s.worker = w
	s.mu.Unlock()
}

// EndTrip 结束行程并返回冻结的特征状态，分类与上传异步进行
func (s *TripService) EndTrip(ctx context.Context, tripID uuid.UUID) (*models.TripFeatureState, error) {
	s.control.Lock()
	defer s.control.Unlock()

	w, err := s.activeWorker()
	if err != nil && !errors.Is(err, ErrNoActiveTrip) {
		return nil, err
	}
	if w == nil || w.tripID != tripID {
		if s.stateManager.IsEnded(tripID) {
			return nil, fmt.Errorf("%w: trip %s already ended", state.ErrTripStateConflict, tripID)
		}
		return nil, fmt.Errorf("%w: trip %s is not active", state.ErrTripStateConflict, tripID)
	}

	res := w.send(ctx, command{kind: cmdEnd}, true)
	if res.err != nil {
		return nil, res.err
	}

	s.mu.Lock()
	s.worker = nil
	s.mu.Unlock()

	// 检测队列中本行程的采样处理完后才统计行为
	detected := make(chan struct{})
	s.detectCh <- detectJob{tripID: tripID, flushed: detected}

	s.finalizeCh <- finalizeJob{trip: res.trip, state: res.state.Clone(), detected: detected}

	return res.state, nil
}

// IngestSample 将采样路由到活动行程
// 非法采样返回 features.ErrInvalidSample，行程不受影响
func (s *TripService) IngestSample(ctx context.Context, sample models.SensorSample) error {
	if sample.TripID != uuid.Nil && s.stateManager.IsEnded(sample.TripID) {
		metrics.SamplesDropped.WithLabelValues("trip_ended").Inc()
		s.logger.Info("Dropped sample for ended trip",
			zap.String("trip_id", sample.TripID.String()),
			zap.String("sensor_type", string(sample.SensorType)),
			zap.Int64("timestamp", sample.TimestampMillis),
		)
		return fmt.Errorf("%w: trip %s already ended", ErrNoActiveTrip, sample.TripID)
	}

	w, err := s.activeWorker()
	if err != nil {
		metrics.SamplesDropped.WithLabelValues("no_active_trip").Inc()
		return err
	}
	if sample.TripID == uuid.Nil {
		sample.TripID = w.tripID
	}
	if sample.TripID != w.tripID {
		metrics.SamplesDropped.WithLabelValues("no_active_trip").Inc()
		return fmt.Errorf("%w: trip %s", ErrNoActiveTrip, sample.TripID)
	}

	if err := s.validator.Validate(sample, w.startTime); err != nil {
		metrics.SamplesDropped.WithLabelValues("invalid").Inc()
		s.logger.Debug("Dropped invalid sample", zap.String("trip_id", sample.TripID.String()), zap.Error(err))
		return err
	}

	res := w.send(ctx, command{kind: cmdSample, sample: sample}, false)
	if errors.Is(res.err, ErrSampleDropped) {
		metrics.SamplesDropped.WithLabelValues("backpressure").Inc()
	}
	return res.err
}

// BatchResult 批量接入结果
type BatchResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Dropped  int `json:"dropped"`
}

// IngestBatch 依次接入一批采样；持久化失败时停止并返回错误
func (s *TripService) IngestBatch(ctx context.Context, samples []models.SensorSample) (BatchResult, error) {
	var result BatchResult
	for _, sample := range samples {
		err := s.IngestSample(ctx, sample)
		switch {
		case err == nil:
			result.Accepted++
		case errors.Is(err, features.ErrInvalidSample), errors.Is(err, state.ErrTripStateConflict):
			result.Rejected++
		case errors.Is(err, ErrSampleDropped):
			result.Dropped++
		default:
			return result, err
		}
	}
	return result, nil
}

// ActiveTrip 当前活动行程及其特征快照
func (s *TripService) ActiveTrip(ctx context.Context) (*models.Trip, *models.TripFeatureState, error) {
	w, err := s.activeWorker()
	if err != nil {
		return nil, nil, err
	}
	res := w.send(ctx, command{kind: cmdSnapshot}, true)
	if res.err != nil {
		return nil, nil, res.err
	}
	return res.trip, res.state, nil
}

// FeatureState 行程的特征状态；活动行程返回实时快照
func (s *TripService) FeatureState(ctx context.Context, tripID uuid.UUID) (*models.TripFeatureState, error) {
	if trip, snapshot, err := s.ActiveTrip(ctx); err == nil && trip.ID == tripID {
		return snapshot, nil
	}
	return s.store.LoadTripFeatureState(ctx, tripID)
}

// ListTrips 最近的行程
func (s *TripService) ListTrips(ctx context.Context, limit, offset int) ([]*models.Trip, error) {
	return s.store.ListTrips(ctx, limit, offset)
}

// Behaviours 行程的不安全驾驶行为
func (s *TripService) Behaviours(ctx context.Context, tripID uuid.UUID) ([]models.UnsafeBehaviour, error) {
	return s.store.ListBehaviours(ctx, tripID)
}

// Summary 行程摘要，最终化完成前返回 repository.ErrNotFound
func (s *TripService) Summary(ctx context.Context, tripID uuid.UUID) (*models.TripSummary, error) {
	return s.store.GetTripSummary(ctx, tripID)
}

// recover 恢复中断前的活动行程：检查点 + 匹配的增量段
func (s *TripService) recover(ctx context.Context) error {
	trip, err := s.store.LoadActiveTrip(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load active trip: %w", err)
	}

	st, err := s.store.LoadTripFeatureState(ctx, trip.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		st = models.NewTripFeatureState(trip.ID, trip.DriverProfileID)
	case err != nil:
		return fmt.Errorf("load feature state: %w", err)
	}

	entry, err := s.journal.Load(ctx, trip.ID)
	if err != nil {
		s.logger.Warn("Failed to load journal, resuming from checkpoint", zap.String("trip_id", trip.ID.String()), zap.Error(err))
		entry = nil
	}

	if entry != nil {
		if entry.BaseSeq == st.CheckpointSeq {
			merged := features.Merge(st, &entry.Segment)
			merged.CheckpointSeq = st.CheckpointSeq + 1
			if err := s.store.SaveTripFeatureState(ctx, merged); err != nil {
				return fmt.Errorf("%w: save recovered state: %v", ErrPersistence, err)
			}
			s.logger.Info("Merged journal segment into checkpoint",
				zap.String("trip_id", trip.ID.String()),
				zap.Uint64("segment_samples", entry.Segment.SampleCount()),
			)
			st = merged
		} else {
			s.logger.Warn("Discarding stale journal segment",
				zap.String("trip_id", trip.ID.String()),
				zap.Uint64("base_seq", entry.BaseSeq),
				zap.Uint64("checkpoint_seq", st.CheckpointSeq),
			)
		}
		if err := s.journal.Clear(ctx, trip.ID); err != nil {
			s.logger.Warn("Failed to clear journal", zap.Error(err))
		}
	}

	if _, err := s.stateManager.Resume(trip.ID); err != nil {
		return err
	}
	metrics.ActiveTrip.Set(1)
	s.attach(trip, st)

	s.logger.Info("Resumed active trip",
		zap.String("trip_id", trip.ID.String()),
		zap.Uint64("samples", st.SampleCount()),
		zap.Uint64("checkpoint_seq", st.CheckpointSeq),
	)
	return nil
}
