// Package cache 活动行程增量日志，检查点之间的崩溃恢复
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// Entry 自检查点 BaseSeq 之后累积的特征增量段
type Entry struct {
	TripID  uuid.UUID               `json:"trip_id"`
	BaseSeq uint64                  `json:"base_seq"`
	Segment models.TripFeatureState `json:"segment"`
	SavedAt time.Time               `json:"saved_at"`
}

// Journal 增量日志
type Journal interface {
	Save(ctx context.Context, entry Entry) error
	// Load 没有日志时返回 nil, nil
	Load(ctx context.Context, tripID uuid.UUID) (*Entry, error)
	Clear(ctx context.Context, tripID uuid.UUID) error
}

// defaultTTL 日志保留时长，超时未恢复的日志自动过期
const defaultTTL = 48 * time.Hour

// RedisJournal 基于 Redis 的增量日志
type RedisJournal struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisJournal 连接 Redis 并检查连通性
func NewRedisJournal(ctx context.Context, addr, password string, db int) (*RedisJournal, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisJournal{client: client, ttl: defaultTTL}, nil
}

func journalKey(tripID uuid.UUID) string {
	return fmt.Sprintf("journal:trip:%s", tripID)
}

func encodeEntry(entry Entry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal journal entry: %w", err)
	}
	if err := entry.Segment.Validate(); err != nil {
		return nil, fmt.Errorf("invalid journal segment: %w", err)
	}
	return &entry, nil
}

// Save 覆盖行程的日志段
func (j *RedisJournal) Save(ctx context.Context, entry Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := j.client.Set(ctx, journalKey(entry.TripID), data, j.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store journal in Redis: %w", err)
	}
	return nil
}

// Load 读取行程的日志段
func (j *RedisJournal) Load(ctx context.Context, tripID uuid.UUID) (*Entry, error) {
	data, err := j.client.Get(ctx, journalKey(tripID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load journal from Redis: %w", err)
	}
	return decodeEntry(data)
}

// Clear 删除行程的日志段
func (j *RedisJournal) Clear(ctx context.Context, tripID uuid.UUID) error {
	if err := j.client.Del(ctx, journalKey(tripID)).Err(); err != nil {
		return fmt.Errorf("failed to clear journal in Redis: %w", err)
	}
	return nil
}

// Close 关闭连接
func (j *RedisJournal) Close() error {
	return j.client.Close()
}

// NopJournal 未配置 Redis 时使用，不记录任何内容
type NopJournal struct{}

func (NopJournal) Save(ctx context.Context, entry Entry) error { return nil }

func (NopJournal) Load(ctx context.Context, tripID uuid.UUID) (*Entry, error) { return nil, nil }

func (NopJournal) Clear(ctx context.Context, tripID uuid.UUID) error { return nil }
