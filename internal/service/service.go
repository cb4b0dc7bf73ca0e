// Package service 行程会话：采样接入、检查点、行为检测与行程最终化
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iniakponode/driveafrica-sub003/internal/cache"
	"github.com/iniakponode/driveafrica-sub003/internal/classifier"
	"github.com/iniakponode/driveafrica-sub003/internal/config"
	"github.com/iniakponode/driveafrica-sub003/internal/detector"
	"github.com/iniakponode/driveafrica-sub003/internal/features"
	"github.com/iniakponode/driveafrica-sub003/internal/metrics"
	"github.com/iniakponode/driveafrica-sub003/internal/models"
	"github.com/iniakponode/driveafrica-sub003/internal/state"
	"github.com/iniakponode/driveafrica-sub003/pkg/ws"
)

var (
	// ErrPersistence 存储写入失败，内存中的更新已回滚
	ErrPersistence = errors.New("persistence failure")
	// ErrSampleDropped 活动行程队列已满，采样被丢弃
	ErrSampleDropped = errors.New("sample dropped")
	// ErrNoActiveTrip 采样或命令指向的行程未处于活动状态
	ErrNoActiveTrip = fmt.Errorf("%w: no active trip", state.ErrTripStateConflict)
	// ErrServiceStopped 服务未运行
	ErrServiceStopped = errors.New("trip service not running")
)

// Storage 行程存储
type Storage interface {
	CreateTrip(ctx context.Context, trip *models.Trip) error
	GetTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error)
	LoadActiveTrip(ctx context.Context) (*models.Trip, error)
	ListTrips(ctx context.Context, limit, offset int) ([]*models.Trip, error)
	ListUnsummarizedTrips(ctx context.Context) ([]*models.Trip, error)
	EndTrip(ctx context.Context, trip *models.Trip, state *models.TripFeatureState) error
	SaveTripFeatureState(ctx context.Context, state *models.TripFeatureState) error
	LoadTripFeatureState(ctx context.Context, tripID uuid.UUID) (*models.TripFeatureState, error)
	SaveBehaviour(ctx context.Context, b *models.UnsafeBehaviour) error
	ListBehaviours(ctx context.Context, tripID uuid.UUID) ([]models.UnsafeBehaviour, error)
	CountBehaviours(ctx context.Context, tripID uuid.UUID) (models.BehaviourCounts, error)
	SaveTripSummary(ctx context.Context, summary *models.TripSummary) error
	GetTripSummary(ctx context.Context, tripID uuid.UUID) (*models.TripSummary, error)
}

// Journal 检查点之间的增量日志
type Journal interface {
	Save(ctx context.Context, entry cache.Entry) error
	Load(ctx context.Context, tripID uuid.UUID) (*cache.Entry, error)
	Clear(ctx context.Context, tripID uuid.UUID) error
}

// Syncer 上传触发器
type Syncer interface {
	Trigger()
}

// TripService 行程会话，进程内唯一
type TripService struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      Storage
	journal    Journal
	classifier *classifier.Adapter
	wsHub      *ws.Hub
	syncer     Syncer
	validator  *features.Validator
	thresholds detector.Thresholds

	stateManager *state.Manager
	// detectorFactory 为每个行程创建检测器
	detectorFactory func(tripID uuid.UUID, driverProfileID *uuid.UUID) behaviourDetector

	// control 串行化开始/结束/停止
	control sync.Mutex
	mu      sync.RWMutex
	worker  *tripWorker
	running bool

	detectCh   chan detectJob
	finalizeCh chan finalizeJob
	stopCh     chan struct{}
	wg         sync.WaitGroup

	now func() time.Time
}

// NewTripService 创建行程服务
func NewTripService(
	cfg *config.Config,
	logger *zap.Logger,
	store Storage,
	journal Journal,
	adapter *classifier.Adapter,
	wsHub *ws.Hub,
	syncer Syncer,
) *TripService {
	if journal == nil {
		journal = cache.NopJournal{}
	}
	svc := &TripService{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		journal:    journal,
		classifier: adapter,
		wsHub:      wsHub,
		syncer:     syncer,
		validator:  features.NewValidator(cfg.Ingest.GraceWindow, cfg.Ingest.FutureTolerance),
		thresholds: thresholdsFromConfig(cfg.Detection),
		now:        time.Now,
	}

	// 创建状态管理器
	svc.stateManager = state.NewManager(svc.onStateChange)
	svc.detectorFactory = svc.newDetector

	return svc
}

// SetSyncer 设置上传触发器
func (s *TripService) SetSyncer(syncer Syncer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncer = syncer
}

// thresholdsFromConfig 将配置映射为检测阈值
func thresholdsFromConfig(c config.DetectionConfig) detector.Thresholds {
	th := detector.DefaultThresholds()
	th.AccelThreshold = c.AccelThreshold
	th.BrakeThreshold = c.BrakeThreshold
	th.SwerveYawRate = c.SwerveYawRate
	th.TurnDelta = c.TurnDelta
	th.SpeedTolerance = c.SpeedTolerance
	th.MinEventDuration = c.MinEventDuration
	th.SpeedingDuration = c.SpeedingDuration
	th.Cooldown = map[models.BehaviourType]time.Duration{
		models.BehaviourHarshAcceleration: c.AccelCooldown,
		models.BehaviourHarshBraking:      c.BrakeCooldown,
		models.BehaviourSuddenSwerve:      c.SwerveCooldown,
		models.BehaviourAggressiveTurn:    c.TurnCooldown,
		models.BehaviourSpeeding:          c.SpeedingCooldown,
	}
	return th
}

// Start 启动服务：初始无活动行程，然后恢复中断前的行程
func (s *TripService) Start(ctx context.Context) error {
	s.control.Lock()
	defer s.control.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Trip service already running, skipping start")
		return nil
	}
	s.stopCh = make(chan struct{})
	s.detectCh = make(chan detectJob, s.cfg.Detection.QueueSize)
	s.finalizeCh = make(chan finalizeJob, 16)
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting trip service")

	s.wg.Add(1)
	go s.detectLoop()

	for i := 0; i < s.cfg.Classifier.Workers; i++ {
		s.wg.Add(1)
		go s.finalizeLoop(i)
	}

	if err := s.recover(ctx); err != nil {
		s.logger.Error("Failed to recover active trip", zap.Error(err))
		s.shutdown()
		return fmt.Errorf("recover active trip: %w", err)
	}

	// 上次运行中未完成最终化的行程重新排队
	if err := s.requeueUnsummarized(ctx); err != nil {
		s.logger.Error("Failed to requeue unsummarized trips", zap.Error(err))
	}

	s.logger.Info("Trip service started")
	return nil
}

// Stop 停止服务：持久化活动行程状态后停止所有后台任务
// 活动行程在存储中保持 active，下次启动时恢复
func (s *TripService) Stop() {
	s.control.Lock()
	defer s.control.Unlock()

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return
	}

	s.logger.Info("Stopping trip service")
	s.shutdown()
	s.logger.Info("Trip service stopped")
}

// shutdown 需持有 control 锁
func (s *TripService) shutdown() {
	s.mu.Lock()
	w := s.worker
	s.worker = nil
	s.running = false
	s.mu.Unlock()

	if w != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := w.flush(ctx); err != nil {
			s.logger.Error("Failed to flush active trip", zap.String("trip_id", w.tripID.String()), zap.Error(err))
		}
		cancel()
		w.stop()
	}

	// 先排空检测队列，再排空最终化队列
	close(s.stopCh)
	close(s.detectCh)
	close(s.finalizeCh)
	s.wg.Wait()
	metrics.ActiveTrip.Set(0)
}

// onStateChange 状态机回调
func (s *TripService) onStateChange(tripID uuid.UUID, from, to string) {
	s.logger.Info("Trip state changed",
		zap.String("trip_id", tripID.String()),
		zap.String("from", from),
		zap.String("to", to),
	)

	if to == models.TripActive {
		metrics.ActiveTrip.Set(1)
	} else {
		metrics.ActiveTrip.Set(0)
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastMessage(ws.MsgTypeTripState, state.TripState{
			TripID:       tripID,
			CurrentState: to,
			Since:        s.now(),
		})
	}
}

// activeWorker 当前活动行程的写入协程
func (s *TripService) activeWorker() (*tripWorker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return nil, ErrServiceStopped
	}
	if s.worker == nil {
		return nil, ErrNoActiveTrip
	}
	return s.worker, nil
}

// InitData 供 WebSocket 新连接使用的初始数据
func (s *TripService) InitData() *ws.InitData {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	trip, snapshot, err := s.ActiveTrip(ctx)
	if err != nil {
		return &ws.InitData{}
	}
	return &ws.InitData{ActiveTrip: trip, Features: snapshot}
}
