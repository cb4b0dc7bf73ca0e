package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

var (
	// ErrClassificationFailure 评分失败，摘要以 Unknown 标签完成
	ErrClassificationFailure = errors.New("classification failure")
	// ErrNotFinalized 行程或特征状态尚未结束
	ErrNotFinalized = errors.New("trip not finalized")
	// ErrInsufficientData 行程没有任何采样
	ErrInsufficientData = fmt.Errorf("%w: insufficient data", ErrClassificationFailure)
)

// Adapter 分类适配器：投影特征、调用评分器
type Adapter struct {
	logger   *zap.Logger
	scorer   Scorer
	location *time.Location
	timeout  time.Duration
}

// NewAdapter 创建分类适配器
func NewAdapter(logger *zap.Logger, scorer Scorer, location *time.Location, timeout time.Duration) *Adapter {
	if location == nil {
		location = time.UTC
	}
	return &Adapter{
		logger:   logger,
		scorer:   scorer,
		location: location,
		timeout:  timeout,
	}
}

// Classify 对已结束行程分类
func (a *Adapter) Classify(ctx context.Context, trip *models.Trip, state *models.TripFeatureState) (models.ModelInference, models.TripFeatures, error) {
	if trip.State != models.TripEnded || !state.Finalized {
		return models.ModelInference{}, models.TripFeatures{}, fmt.Errorf("classify trip %s: %w", trip.ID, ErrNotFinalized)
	}

	features := Project(state, trip.StartTime, a.location)
	if state.SampleCount() == 0 {
		return models.ModelInference{}, features, fmt.Errorf("classify trip %s: %w", trip.ID, ErrInsufficientData)
	}

	inference, err := a.score(ctx, features)
	if err != nil {
		return models.ModelInference{}, features, fmt.Errorf("classify trip %s: %w: %v", trip.ID, ErrClassificationFailure, err)
	}

	a.logger.Debug("Classified trip",
		zap.String("trip_id", trip.ID.String()),
		zap.Float32s("features", features.Vector()),
		zap.Bool("alcohol_influenced", inference.IsAlcoholInfluenced),
	)
	return inference, features, nil
}

type scoreResult struct {
	inference models.ModelInference
	err       error
}

// score 带超时调用评分器，评分器 panic 视为失败
func (a *Adapter) score(ctx context.Context, features models.TripFeatures) (models.ModelInference, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	resultCh := make(chan scoreResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- scoreResult{err: fmt.Errorf("scorer panic: %v", r)}
			}
		}()
		inference, err := a.scorer.Score(ctx, features)
		resultCh <- scoreResult{inference: inference, err: err}
	}()

	select {
	case <-ctx.Done():
		return models.ModelInference{}, ctx.Err()
	case res := <-resultCh:
		return res.inference, res.err
	}
}
