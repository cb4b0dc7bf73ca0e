// Package backend 后端同步接口客户端
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
	"github.com/iniakponode/driveafrica-sub003/internal/uploader"
)

// 批量上传路径
const (
	PathTripSummaries     = "/api/trip_summaries/batch_create"
	PathTripFeatureStates = "/api/trip_feature_states/batch_create"
	PathUnsafeBehaviours  = "/api/unsafe_behaviours/batch_create"
)

// tokenTTL 访问令牌有效期
const tokenTTL = 15 * time.Minute

// Client 后端 API 客户端
type Client struct {
	httpClient *http.Client
	baseURL    string
	deviceID   string
	secret     []byte

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClient 创建客户端
func NewClient(baseURL, deviceID, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:  strings.TrimRight(baseURL, "/"),
		deviceID: deviceID,
		secret:   []byte(secret),
	}
}

// bearerToken 签发或复用 HS256 令牌，过期前 1 分钟刷新
func (c *Client) bearerToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.token != "" && now.Add(time.Minute).Before(c.expiresAt) {
		return c.token, nil
	}

	expiresAt := now.Add(tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   c.deviceID,
		Issuer:    "tripsense",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	c.token = signed
	c.expiresAt = expiresAt
	return signed, nil
}

// doRequest 执行带认证的请求
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	token, err := c.bearerToken()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tripsense/1.0")

	return c.httpClient.Do(req)
}

// Upload 实现 uploader.Transport
func (c *Client) Upload(ctx context.Context, batch uploader.Batch) uploader.Result[uploader.Ack] {
	path, payload, err := encodeBatch(batch)
	if err != nil {
		return uploader.Failure[uploader.Ack](uploader.NewUnexpectedError(err))
	}

	resp, err := c.doRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		if isNetworkError(err) {
			return uploader.Failure[uploader.Ack](uploader.NewNetworkError(err))
		}
		return uploader.Failure[uploader.Ack](uploader.NewUnexpectedError(err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return uploader.Failure[uploader.Ack](uploader.NewServerError(resp.StatusCode, errorMessage(body)))
	}

	ack := uploader.Ack{Accepted: batch.Len()}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &ack); err != nil {
			return uploader.Failure[uploader.Ack](uploader.NewUnexpectedError(fmt.Errorf("decode ack: %w", err)))
		}
	}
	return uploader.Success(ack)
}

func encodeBatch(batch uploader.Batch) (string, []byte, error) {
	var (
		path string
		v    interface{}
	)
	switch batch.Kind {
	case models.SyncTripSummary:
		path, v = PathTripSummaries, batch.Summaries
	case models.SyncTripFeatureState:
		path, v = PathTripFeatureStates, featureStatePayloads(batch.FeatureStates)
	case models.SyncUnsafeBehaviour:
		path, v = PathUnsafeBehaviours, batch.Behaviours
	default:
		return "", nil, fmt.Errorf("unknown sync kind %q", batch.Kind)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s batch: %w", batch.Kind, err)
	}
	return path, data, nil
}

// FeatureStatePayload 特征状态上传格式，累加器展开为扁平字段
type FeatureStatePayload struct {
	TripID                uuid.UUID  `json:"trip_id"`
	DriverProfileID       *uuid.UUID `json:"driver_profile_id,omitempty"`
	AccelCount            uint64     `json:"accel_count"`
	AccelMean             float64    `json:"accel_mean"`
	AccelM2               float64    `json:"accel_m2"`
	SpeedCount            uint64     `json:"speed_count"`
	SpeedMean             float64    `json:"speed_mean"`
	SpeedM2               float64    `json:"speed_m2"`
	CourseCount           uint64     `json:"course_count"`
	CourseMean            float64    `json:"course_mean"`
	CourseM2              float64    `json:"course_m2"`
	DistanceMeters        float64    `json:"distance_meters"`
	LastLocationID        *uuid.UUID `json:"last_location_id,omitempty"`
	LastLatitude          *float64   `json:"last_latitude,omitempty"`
	LastLongitude         *float64   `json:"last_longitude,omitempty"`
	LastLocationTimestamp *int64     `json:"last_location_timestamp,omitempty"`
	LastSensorTimestamp   *int64     `json:"last_sensor_timestamp,omitempty"`
}

func featureStatePayloads(states []models.TripFeatureState) []FeatureStatePayload {
	out := make([]FeatureStatePayload, 0, len(states))
	for _, s := range states {
		out = append(out, FeatureStatePayload{
			TripID:                s.TripID,
			DriverProfileID:       s.DriverProfileID,
			AccelCount:            s.AccelY.Count,
			AccelMean:             s.AccelY.Mean,
			AccelM2:               s.AccelY.M2,
			SpeedCount:            s.Speed.Count,
			SpeedMean:             s.Speed.Mean,
			SpeedM2:               s.Speed.M2,
			CourseCount:           s.Course.Count,
			CourseMean:            s.Course.Mean,
			CourseM2:              s.Course.M2,
			DistanceMeters:        s.DistanceMeters,
			LastLocationID:        s.LastLocationID,
			LastLatitude:          s.LastLatitude,
			LastLongitude:         s.LastLongitude,
			LastLocationTimestamp: s.LastLocationTimestamp,
			LastSensorTimestamp:   s.LastSensorTimestamp,
		})
	}
	return out
}

// errorMessage 优先取 JSON 中的 detail/error 字段
func errorMessage(body []byte) string {
	var parsed struct {
		Detail interface{} `json:"detail"`
		Error  string      `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Detail != nil {
			return fmt.Sprint(parsed.Detail)
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}

// isNetworkError 连接失败、DNS、超时均视为网络不可用
func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
