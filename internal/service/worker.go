package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iniakponode/driveafrica-sub003/internal/cache"
	"github.com/iniakponode/driveafrica-sub003/internal/features"
	"github.com/iniakponode/driveafrica-sub003/internal/metrics"
	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

type commandKind int

const (
	cmdSample commandKind = iota
	cmdEnd
	cmdSnapshot
	cmdFlush
)

type command struct {
	kind   commandKind
	ctx    context.Context
	sample models.SensorSample
	reply  chan commandResult
}

type commandResult struct {
	trip  *models.Trip
	state *models.TripFeatureState
	err   error
}

// tripWorker 活动行程的唯一写入者，TripFeatureState 只在该协程中修改
type tripWorker struct {
	svc    *TripService
	logger *zap.Logger
	// tripID 与 startTime 创建后不变，可在其他协程读取
	tripID    uuid.UUID
	startTime time.Time
	// trip 只在写入协程中访问
	trip *models.Trip

	// state 已提交的特征状态；segment 自上次检查点以来的增量
	state   *models.TripFeatureState
	segment *models.TripFeatureState

	sinceCheckpoint int
	sinceJournal    int
	lastCheckpoint  time.Time

	inbox  chan command
	stopCh chan struct{}
	done   chan struct{}
}

func newTripWorker(svc *TripService, trip *models.Trip, st *models.TripFeatureState) *tripWorker {
	return &tripWorker{
		svc:            svc,
		logger:         svc.logger.With(zap.String("trip_id", trip.ID.String())),
		tripID:         trip.ID,
		startTime:      trip.StartTime,
		trip:           trip,
		state:          st,
		segment:        models.NewTripFeatureState(trip.ID, trip.DriverProfileID),
		lastCheckpoint: svc.now(),
		inbox:          make(chan command, svc.cfg.Ingest.QueueSize),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (w *tripWorker) start() {
	go w.loop()
}

// stop 停止写入协程，不改变行程状态
func (w *tripWorker) stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.done
}

func (w *tripWorker) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.svc.cfg.Checkpoint.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.checkpointOnInterval()
		case cmd := <-w.inbox:
			res, exit := w.handle(cmd)
			cmd.reply <- res
			if exit {
				return
			}
		}
	}
}

func (w *tripWorker) handle(cmd command) (commandResult, bool) {
	switch cmd.kind {
	case cmdSample:
		return commandResult{err: w.applySample(cmd.ctx, cmd.sample)}, false
	case cmdSnapshot:
		trip := *w.trip
		return commandResult{trip: &trip, state: w.state.Clone()}, false
	case cmdFlush:
		return commandResult{err: w.flushState(cmd.ctx)}, false
	case cmdEnd:
		trip, final, err := w.end(cmd.ctx)
		if err != nil {
			return commandResult{err: err}, false
		}
		return commandResult{trip: trip, state: final}, true
	}
	return commandResult{err: fmt.Errorf("unknown command %d", cmd.kind)}, false
}

// send 提交命令并等待结果；block 为 false 时队列满即返回 ErrSampleDropped
func (w *tripWorker) send(ctx context.Context, cmd command, block bool) commandResult {
	cmd.ctx = ctx
	cmd.reply = make(chan commandResult, 1)

	if block {
		select {
		case w.inbox <- cmd:
		case <-w.done:
			return commandResult{err: ErrNoActiveTrip}
		case <-ctx.Done():
			return commandResult{err: ctx.Err()}
		}
	} else {
		select {
		case w.inbox <- cmd:
		case <-w.done:
			return commandResult{err: ErrNoActiveTrip}
		default:
			return commandResult{err: ErrSampleDropped}
		}
	}

	select {
	case res := <-cmd.reply:
		return res
	case <-w.done:
		// 协程已退出，命令可能已处理
		select {
		case res := <-cmd.reply:
			return res
		default:
			return commandResult{err: ErrNoActiveTrip}
		}
	}
}

func (w *tripWorker) flush(ctx context.Context) error {
	return w.send(ctx, command{kind: cmdFlush}, true).err
}

// applySample 在副本上应用增量，需要检查点时先持久化成功再提交
func (w *tripWorker) applySample(ctx context.Context, s models.SensorSample) error {
	u := features.Compute(w.state, s)
	if u.Empty() {
		metrics.SamplesDropped.WithLabelValues("duplicate").Inc()
		w.svc.enqueueDetection(w.trip, s)
		return nil
	}

	next := w.state.Clone()
	if err := features.Apply(next, u); err != nil {
		return fmt.Errorf("%w: %v", features.ErrInvalidSample, err)
	}
	segment := w.segment.Clone()
	if err := features.Apply(segment, u); err != nil {
		return fmt.Errorf("%w: %v", features.ErrInvalidSample, err)
	}

	now := w.svc.now()
	next.UpdatedAt = now
	segment.UpdatedAt = now

	if w.sinceCheckpoint+1 >= w.svc.cfg.Checkpoint.Every || now.Sub(w.lastCheckpoint) >= w.svc.cfg.Checkpoint.Interval {
		if err := w.checkpoint(ctx, next); err != nil {
			return err
		}
	} else {
		w.state = next
		w.segment = segment
		w.sinceCheckpoint++
		w.sinceJournal++
		if w.sinceJournal >= w.svc.cfg.Checkpoint.JournalEvery {
			w.writeJournal(ctx)
		}
	}

	metrics.SamplesIngested.WithLabelValues(string(s.SensorType)).Inc()
	w.svc.enqueueDetection(w.trip, s)
	return nil
}

// checkpoint 持久化 next，成功后才成为已提交状态
func (w *tripWorker) checkpoint(ctx context.Context, next *models.TripFeatureState) error {
	candidate := next.Clone()
	candidate.CheckpointSeq = w.state.CheckpointSeq + 1

	if err := w.svc.store.SaveTripFeatureState(ctx, candidate); err != nil {
		metrics.Checkpoints.WithLabelValues("failure").Inc()
		w.logger.Error("Failed to checkpoint trip feature state", zap.Error(err))
		return fmt.Errorf("%w: checkpoint trip %s: %v", ErrPersistence, w.tripID, err)
	}
	metrics.Checkpoints.WithLabelValues("success").Inc()

	w.state = candidate
	w.segment = models.NewTripFeatureState(w.tripID, w.trip.DriverProfileID)
	w.sinceCheckpoint = 0
	w.sinceJournal = 0
	w.lastCheckpoint = w.svc.now()

	if err := w.svc.journal.Clear(ctx, w.tripID); err != nil {
		w.logger.Warn("Failed to clear journal", zap.Error(err))
	}
	return nil
}

// writeJournal 写增量段，失败只记录日志
func (w *tripWorker) writeJournal(ctx context.Context) {
	entry := cache.Entry{
		TripID:  w.tripID,
		BaseSeq: w.state.CheckpointSeq,
		Segment: *w.segment.Clone(),
		SavedAt: w.svc.now(),
	}
	if err := w.svc.journal.Save(ctx, entry); err != nil {
		w.logger.Warn("Failed to write journal", zap.Error(err))
		return
	}
	w.sinceJournal = 0
}

// checkpointOnInterval 定时检查点，失败时保留内存状态等待下次
func (w *tripWorker) checkpointOnInterval() {
	if w.sinceCheckpoint == 0 {
		return
	}
	if w.svc.now().Sub(w.lastCheckpoint) < w.svc.cfg.Checkpoint.Interval {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = w.checkpoint(ctx, w.state)
}

func (w *tripWorker) flushState(ctx context.Context) error {
	if w.sinceCheckpoint == 0 {
		return nil
	}
	return w.checkpoint(ctx, w.state)
}

// end 冻结特征状态并与结束的行程一起持久化
func (w *tripWorker) end(ctx context.Context) (*models.Trip, *models.TripFeatureState, error) {
	final := w.state.Clone()
	final.Finalized = true
	final.CheckpointSeq = w.state.CheckpointSeq + 1
	final.UpdatedAt = w.svc.now()

	trip := *w.trip
	endTime := w.svc.now()
	trip.EndTime = &endTime
	trip.State = models.TripEnded

	if err := w.svc.store.EndTrip(ctx, &trip, final); err != nil {
		w.logger.Error("Failed to persist ended trip", zap.Error(err))
		return nil, nil, fmt.Errorf("%w: end trip %s: %v", ErrPersistence, w.tripID, err)
	}
	if err := w.svc.stateManager.Finish(w.tripID); err != nil {
		return nil, nil, err
	}

	w.trip = &trip
	w.state = final
	if err := w.svc.journal.Clear(ctx, w.tripID); err != nil {
		w.logger.Warn("Failed to clear journal", zap.Error(err))
	}

	w.logger.Info("Trip ended",
		zap.Int64("duration_s", trip.DurationSeconds()),
		zap.Uint64("samples", final.SampleCount()),
		zap.Float64("distance_m", final.DistanceMeters),
	)
	return &trip, final.Clone(), nil
}
