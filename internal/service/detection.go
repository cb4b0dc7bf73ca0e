package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iniakponode/driveafrica-sub003/internal/detector"
	"github.com/iniakponode/driveafrica-sub003/internal/metrics"
	"github.com/iniakponode/driveafrica-sub003/internal/models"
	"github.com/iniakponode/driveafrica-sub003/pkg/ws"
)

// detectJob 检测任务；flushed 非空时为行程结束标记
type detectJob struct {
	tripID          uuid.UUID
	driverProfileID *uuid.UUID
	sample          models.SensorSample
	flushed         chan struct{}
}

var errDetectorPanic = errors.New("detector panic")

// behaviourDetector 单个行程的行为检测器
type behaviourDetector interface {
	Evaluate(sample models.SensorSample) (*models.UnsafeBehaviour, error)
}

// newDetector 默认检测器工厂
func (s *TripService) newDetector(tripID uuid.UUID, driverProfileID *uuid.UUID) behaviourDetector {
	return detector.New(tripID, driverProfileID, s.thresholds)
}

// evaluate 检测器 panic 转为错误，不影响特征累加
func evaluate(d behaviourDetector, sample models.SensorSample) (b *models.UnsafeBehaviour, err error) {
	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = fmt.Errorf("%w: %v", errDetectorPanic, r)
		}
	}()
	return d.Evaluate(sample)
}

// enqueueDetection 不阻塞采样路径，队列满时跳过检测
func (s *TripService) enqueueDetection(trip *models.Trip, sample models.SensorSample) {
	job := detectJob{tripID: trip.ID, driverProfileID: trip.DriverProfileID, sample: sample}
	select {
	case s.detectCh <- job:
	default:
		metrics.SamplesDropped.WithLabelValues("detector_backlog").Inc()
	}
}

// detectLoop 检测协程，独立于特征累加
func (s *TripService) detectLoop() {
	defer s.wg.Done()

	var (
		current behaviourDetector
		tripID  uuid.UUID
	)

	for job := range s.detectCh {
		if job.flushed != nil {
			if job.tripID == tripID {
				current = nil
			}
			close(job.flushed)
			continue
		}

		if current == nil || tripID != job.tripID {
			current = s.detectorFactory(job.tripID, job.driverProfileID)
			tripID = job.tripID
		}

		behaviour, err := evaluate(current, job.sample)
		if errors.Is(err, errDetectorPanic) {
			// 丢弃检测器状态，下一个采样重新开始
			metrics.SamplesDropped.WithLabelValues("detector_panic").Inc()
			s.logger.Error("Behaviour detector panicked", zap.String("trip_id", job.tripID.String()), zap.Error(err))
			current = nil
			continue
		}
		var debounced *detector.DebouncedError
		if errors.As(err, &debounced) {
			metrics.BehavioursDebounced.WithLabelValues(string(debounced.BehaviourType)).Inc()
			s.logger.Debug("Suppressed repeated behaviour",
				zap.String("trip_id", job.tripID.String()),
				zap.String("behaviour_type", string(debounced.BehaviourType)),
			)
			continue
		}
		if errors.Is(err, detector.ErrNoDriverProfile) {
			metrics.SamplesDropped.WithLabelValues("no_driver_profile").Inc()
			s.logger.Debug("Skipping behaviour without driver profile", zap.String("trip_id", job.tripID.String()))
			continue
		}
		if err != nil {
			s.logger.Warn("Behaviour detection failed", zap.String("trip_id", job.tripID.String()), zap.Error(err))
			continue
		}
		if behaviour == nil {
			continue
		}

		s.recordBehaviour(behaviour)
	}
}

// recordBehaviour 立即持久化行为记录
func (s *TripService) recordBehaviour(b *models.UnsafeBehaviour) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.SaveBehaviour(ctx, b); err != nil {
		s.logger.Error("Failed to save unsafe behaviour",
			zap.String("trip_id", b.TripID.String()),
			zap.String("behaviour_type", string(b.BehaviourType)),
			zap.Error(err),
		)
		return
	}

	metrics.BehavioursDetected.WithLabelValues(string(b.BehaviourType)).Inc()
	s.logger.Info("Unsafe behaviour detected",
		zap.String("trip_id", b.TripID.String()),
		zap.String("behaviour_type", string(b.BehaviourType)),
		zap.Float64("severity", b.Severity),
	)

	if s.wsHub != nil {
		s.wsHub.BroadcastMessage(ws.MsgTypeBehaviour, b)
	}
}
