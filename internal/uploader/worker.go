package uploader

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// Worker 周期性及按需触发的同步循环
type Worker struct {
	logger   *zap.Logger
	uploader *Uploader
	interval time.Duration
	timeout  time.Duration

	trigger chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	last    map[models.SyncKind]Report
}

// NewWorker 创建同步循环
func NewWorker(logger *zap.Logger, uploader *Uploader, interval, timeout time.Duration) *Worker {
	return &Worker{
		logger:   logger,
		uploader: uploader,
		interval: interval,
		timeout:  timeout,
		trigger:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start 启动后台循环
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info("Sync worker started", zap.Duration("interval", w.interval))
}

// Stop 停止后台循环并等待当前一轮结束
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info("Sync worker stopped")
}

// Trigger 请求尽快同步，不阻塞
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// LastReports 最近一轮结果
func (w *Worker) LastReports() map[models.SyncKind]Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[models.SyncKind]Report, len(w.last))
	for k, v := range w.last {
		out[k] = v
	}
	return out
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
		case <-w.trigger:
		}
		w.RunOnce(ctx)
	}
}

// RunOnce 执行一轮同步
func (w *Worker) RunOnce(ctx context.Context) map[models.SyncKind]Report {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if w.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, w.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Stop 时取消进行中的上传
	done := make(chan struct{})
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-done:
		}
	}()
	reports := w.uploader.SyncAll(runCtx)
	close(done)

	w.mu.Lock()
	w.last = reports
	w.mu.Unlock()

	for kind, r := range reports {
		if r.Uploaded > 0 || r.Rejected > 0 || r.Err != nil {
			w.logger.Info("Sync cycle finished",
				zap.String("stream", string(kind)),
				zap.Int("uploaded", r.Uploaded),
				zap.Int("rejected", r.Rejected),
				zap.Int("pending", r.Pending),
				zap.NamedError("error", r.Err),
			)
		}
	}
	return reports
}
