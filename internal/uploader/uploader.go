package uploader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iniakponode/driveafrica-sub003/internal/metrics"
	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// Policy 重试策略
type Policy struct {
	// MaxAttempts 单批次在一轮内的最大尝试次数（含首次）
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Factor      float64
	BatchSize   int
}

// DefaultPolicy 默认策略
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		Factor:      2,
		BatchSize:   100,
	}
}

// Backoff 第 attempt 次失败后的等待时间
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Report 单个上传流一轮的结果
type Report struct {
	Kind     models.SyncKind
	Uploaded int
	Rejected int
	Pending  int
	Attempts int
	Err      error
}

// Uploader 上传器
type Uploader struct {
	logger    *zap.Logger
	store     Store
	transport Transport
	policy    Policy
	sleep     func(ctx context.Context, d time.Duration) error
}

// New 创建上传器
func New(logger *zap.Logger, store Store, transport Transport, policy Policy) *Uploader {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BatchSize < 1 {
		policy.BatchSize = DefaultPolicy().BatchSize
	}
	if policy.Factor < 1 {
		policy.Factor = 2
	}
	return &Uploader{
		logger:    logger,
		store:     store,
		transport: transport,
		policy:    policy,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SyncAll 三个上传流并发执行，互不阻塞
func (u *Uploader) SyncAll(ctx context.Context) map[models.SyncKind]Report {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		reports = make(map[models.SyncKind]Report, len(models.SyncKinds))
	)

	for _, kind := range models.SyncKinds {
		wg.Add(1)
		go func(kind models.SyncKind) {
			defer wg.Done()
			r := u.SyncStream(ctx, kind)
			mu.Lock()
			reports[kind] = r
			mu.Unlock()
		}(kind)
	}

	wg.Wait()
	return reports
}

// SyncStream 上传一个流的所有未同步记录，遇到失败即停止本轮
func (u *Uploader) SyncStream(ctx context.Context, kind models.SyncKind) Report {
	report := Report{Kind: kind}

	for {
		if err := ctx.Err(); err != nil {
			report.Err = err
			return report
		}

		batch, err := u.nextBatch(ctx, kind)
		if err != nil {
			report.Err = fmt.Errorf("list unsynced %s: %w", kind, err)
			return report
		}
		if batch.Len() == 0 {
			return report
		}
		if report.Uploaded == 0 && report.Rejected == 0 {
			metrics.UnsyncedBacklog.WithLabelValues(string(kind)).Set(float64(batch.Len()))
		}

		res, attempts := u.uploadWithRetry(ctx, batch)
		report.Attempts += attempts
		ids := batch.IDs()

		_, uerr := res.Get()
		if uerr == nil {
			// 仅在成功后标记，取消或崩溃时保持未同步
			if err := u.store.MarkSynced(ctx, kind, ids); err != nil {
				report.Err = fmt.Errorf("mark %s synced: %w", kind, err)
				return report
			}
			report.Uploaded += len(ids)
			u.logger.Info("Uploaded batch",
				zap.String("stream", string(kind)),
				zap.Int("count", len(ids)),
				zap.Int("attempts", attempts),
			)
			continue
		}

		switch uerr.Kind {
		case ServerRejected:
			if uerr.ClientError() {
				if err := u.store.FlagRejected(ctx, kind, ids, uerr.StatusCode, uerr.Message); err != nil {
					report.Err = fmt.Errorf("flag %s rejected: %w", kind, err)
					return report
				}
				report.Rejected += len(ids)
				u.logger.Warn("Batch rejected by server, flagged for reconciliation",
					zap.String("stream", string(kind)),
					zap.Int("status", uerr.StatusCode),
					zap.Int("count", len(ids)),
				)
				continue
			}
			report.Pending += len(ids)
		case NetworkUnavailable, Unexpected:
			report.Pending += len(ids)
		}

		report.Err = uerr
		u.logger.Warn("Upload failed, records stay queued",
			zap.String("stream", string(kind)),
			zap.String("kind", uerr.Kind.String()),
			zap.Int("attempts", attempts),
			zap.Error(uerr),
		)
		return report
	}
}

func (u *Uploader) nextBatch(ctx context.Context, kind models.SyncKind) (Batch, error) {
	batch := Batch{Kind: kind}
	var err error
	switch kind {
	case models.SyncTripSummary:
		batch.Summaries, err = u.store.ListUnsyncedSummaries(ctx, u.policy.BatchSize)
	case models.SyncTripFeatureState:
		batch.FeatureStates, err = u.store.ListUnsyncedFeatureStates(ctx, u.policy.BatchSize)
	case models.SyncUnsafeBehaviour:
		batch.Behaviours, err = u.store.ListUnsyncedBehaviours(ctx, u.policy.BatchSize)
	default:
		err = fmt.Errorf("unknown sync kind %q", kind)
	}
	return batch, err
}

// uploadWithRetry 网络错误与 5xx 按指数退避重试，最多 MaxAttempts 次
func (u *Uploader) uploadWithRetry(ctx context.Context, batch Batch) (Result[Ack], int) {
	var res Result[Ack]
	attempt := 0
	for {
		attempt++
		res = u.safeUpload(ctx, batch)
		_, uerr := res.Get()
		outcome := "success"
		if uerr != nil {
			outcome = uerr.Kind.String()
		}
		metrics.UploadAttempts.WithLabelValues(string(batch.Kind), outcome).Inc()

		if uerr == nil || !uerr.Retryable() || attempt >= u.policy.MaxAttempts {
			return res, attempt
		}

		delay := u.policy.Backoff(attempt)
		u.logger.Debug("Retrying upload",
			zap.String("stream", string(batch.Kind)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
		)
		if err := u.sleep(ctx, delay); err != nil {
			// 取消时保留最后一次失败
			return res, attempt
		}
	}
}

// safeUpload 传输层 panic 转为 Unexpected
func (u *Uploader) safeUpload(ctx context.Context, batch Batch) (res Result[Ack]) {
	defer func() {
		if r := recover(); r != nil {
			res = Failure[Ack](NewUnexpectedError(fmt.Errorf("transport panic: %v", r)))
		}
	}()
	return u.transport.Upload(ctx, batch)
}
