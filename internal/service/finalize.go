package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iniakponode/driveafrica-sub003/internal/metrics"
	"github.com/iniakponode/driveafrica-sub003/internal/models"
	"github.com/iniakponode/driveafrica-sub003/pkg/ws"
)

// 最终化参数
const (
	detectionFlushTimeout = 10 * time.Second
	summarySaveBackoff    = time.Second
	summarySaveMaxBackoff = 30 * time.Second
)

// finalizeJob 已结束行程的分类与摘要任务
type finalizeJob struct {
	trip     *models.Trip
	state    *models.TripFeatureState
	detected <-chan struct{}
}

// finalizeLoop 最终化工作协程，停止时排空队列
func (s *TripService) finalizeLoop(id int) {
	defer s.wg.Done()

	for job := range s.finalizeCh {
		s.finalize(job)
	}
	s.logger.Debug("Finalize worker exited", zap.Int("worker", id))
}

// finalize 分类失败时以 Unknown 标签完成，不阻塞行程结束
func (s *TripService) finalize(job finalizeJob) {
	logger := s.logger.With(zap.String("trip_id", job.trip.ID.String()))

	select {
	case <-job.detected:
	case <-time.After(detectionFlushTimeout):
		logger.Warn("Timed out waiting for behaviour detection to drain")
	}

	ctx := context.Background()

	summary := &models.TripSummary{
		TripID:              job.trip.ID,
		DriverProfileID:     job.trip.DriverProfileID,
		StartTime:           job.trip.StartTime,
		DurationSeconds:     job.trip.DurationSeconds(),
		DistanceMeters:      job.state.DistanceMeters,
		ClassificationLabel: models.LabelUnknown,
	}
	if job.trip.EndTime != nil {
		summary.EndTime = *job.trip.EndTime
	}

	started := time.Now()
	inference, feats, err := s.classifier.Classify(ctx, job.trip, job.state)
	metrics.ClassificationDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		logger.Warn("Classification failed, finalizing as unknown", zap.Error(err))
	} else {
		influenced := inference.IsAlcoholInfluenced
		summary.IsAlcoholInfluenced = &influenced
		summary.AlcoholProbability = inference.Probability
		summary.ClassificationLabel = inference.Label()
		logger.Info("Trip classified",
			zap.String("label", summary.ClassificationLabel),
			zap.Float32s("features", feats.Vector()),
		)
	}

	summary.BehaviourCounts = s.countBehaviours(ctx, job, logger)

	if err := s.saveSummary(ctx, summary, logger); err != nil {
		// 行程已结束且没有摘要，下次启动时重新最终化
		logger.Error("Failed to save trip summary, deferring to next start", zap.Error(err))
		return
	}

	metrics.TripsFinalized.WithLabelValues(summary.ClassificationLabel).Inc()
	if s.wsHub != nil {
		s.wsHub.BroadcastMessage(ws.MsgTypeSummary, summary)
	}

	s.mu.RLock()
	syncer := s.syncer
	s.mu.RUnlock()
	if syncer != nil {
		syncer.Trigger()
	}
}

// countBehaviours 按规范类型计数，缺失类型计为 0
func (s *TripService) countBehaviours(ctx context.Context, job finalizeJob, logger *zap.Logger) models.BehaviourCounts {
	counts := make(models.BehaviourCounts, len(models.BehaviourTypes))
	for _, bt := range models.BehaviourTypes {
		counts[bt] = 0
	}

	stored, err := s.store.CountBehaviours(ctx, job.trip.ID)
	if err != nil {
		logger.Error("Failed to count unsafe behaviours", zap.Error(err))
		return counts
	}
	for bt, n := range stored {
		counts[bt] = n
	}
	return counts
}

// saveSummary 失败后退避重试，直到成功或服务停止
func (s *TripService) saveSummary(ctx context.Context, summary *models.TripSummary, logger *zap.Logger) error {
	backoff := summarySaveBackoff
	for attempt := 1; ; attempt++ {
		err := s.store.SaveTripSummary(ctx, summary)
		if err == nil {
			return nil
		}
		logger.Warn("Failed to save trip summary, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-time.After(backoff):
		case <-s.stopCh:
			return err
		}
		backoff *= 2
		if backoff > summarySaveMaxBackoff {
			backoff = summarySaveMaxBackoff
		}
	}
}

// requeueUnsummarized 为已结束但缺少摘要的行程重新提交最终化任务
// 这些行程的行为检测已经停止，不再等待检测队列
func (s *TripService) requeueUnsummarized(ctx context.Context) error {
	trips, err := s.store.ListUnsummarizedTrips(ctx)
	if err != nil {
		return fmt.Errorf("list unsummarized trips: %w", err)
	}

	detected := make(chan struct{})
	close(detected)

	for _, trip := range trips {
		st, err := s.store.LoadTripFeatureState(ctx, trip.ID)
		if err != nil {
			s.logger.Error("Failed to load final feature state", zap.String("trip_id", trip.ID.String()), zap.Error(err))
			continue
		}
		s.logger.Info("Requeueing trip finalization", zap.String("trip_id", trip.ID.String()))
		s.finalizeCh <- finalizeJob{trip: trip, state: st, detected: detected}
	}
	return nil
}
