package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// Database，为空时使用内存存储
	DatabaseURL string

	// Redis 增量日志，为空时不记录
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Ingest     IngestConfig
	Detection  DetectionConfig
	Checkpoint CheckpointConfig
	Classifier ClassifierConfig
	Sync       SyncConfig
}

// IngestConfig 采样接入
type IngestConfig struct {
	// GraceWindow 允许早于行程开始的采样时间
	GraceWindow time.Duration
	// FutureTolerance 允许超前于本机时钟的采样时间
	FutureTolerance time.Duration
	// QueueSize 活动行程命令队列长度，满时丢弃采样
	QueueSize int
}

// DetectionConfig 行为检测阈值与去抖
type DetectionConfig struct {
	AccelThreshold   float64 // m/s²
	BrakeThreshold   float64 // m/s²，负值
	SwerveYawRate    float64 // rad/s
	TurnDelta        float64 // 度
	SpeedTolerance   float64 // 限速倍数
	MinEventDuration time.Duration
	SpeedingDuration time.Duration

	AccelCooldown    time.Duration
	BrakeCooldown    time.Duration
	SwerveCooldown   time.Duration
	TurnCooldown     time.Duration
	SpeedingCooldown time.Duration

	// QueueSize 检测队列长度，满时跳过检测
	QueueSize int
}

// CheckpointConfig 特征状态持久化节奏
type CheckpointConfig struct {
	Every        int           // 每 N 个采样
	Interval     time.Duration // 或每隔 M 时间
	JournalEvery int           // 检查点之间每 J 个采样写一次增量日志
}

// ClassifierConfig 分类器
type ClassifierConfig struct {
	ModelFile  string // 为空使用内置模型
	MinMaxFile string // 为空使用内置范围
	TimeZone   string // 训练数据所在时区
	Timeout    time.Duration
	Workers    int
}

// SyncConfig 后端同步
type SyncConfig struct {
	BackendURL     string // 为空时不启动同步
	DeviceID       string
	JWTSecret      string
	Interval       time.Duration
	Timeout        time.Duration // 单轮同步超时
	RequestTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	BatchSize      int
}

// Default 默认配置
func Default() *Config {
	return &Config{
		ServerPort:  "4000",
		DatabaseURL: "",
		Ingest: IngestConfig{
			GraceWindow:     5 * time.Second,
			FutureTolerance: 2 * time.Second,
			QueueSize:       1024,
		},
		Detection: DetectionConfig{
			AccelThreshold:   4.0,
			BrakeThreshold:   -4.5,
			SwerveYawRate:    0.14,
			TurnDelta:        60,
			SpeedTolerance:   1.10,
			MinEventDuration: 300 * time.Millisecond,
			SpeedingDuration: 20 * time.Second,
			AccelCooldown:    1500 * time.Millisecond,
			BrakeCooldown:    1500 * time.Millisecond,
			SwerveCooldown:   2 * time.Second,
			TurnCooldown:     5 * time.Second,
			SpeedingCooldown: 10 * time.Second,
			QueueSize:        1024,
		},
		Checkpoint: CheckpointConfig{
			Every:        100,
			Interval:     10 * time.Second,
			JournalEvery: 10,
		},
		Classifier: ClassifierConfig{
			TimeZone: "Africa/Lagos",
			Timeout:  5 * time.Second,
			Workers:  2,
		},
		Sync: SyncConfig{
			DeviceID:       "tripsense",
			Interval:       5 * time.Minute,
			Timeout:        2 * time.Minute,
			RequestTimeout: 30 * time.Second,
			MaxAttempts:    5,
			BackoffBase:    500 * time.Millisecond,
			BackoffMax:     30 * time.Second,
			BatchSize:      100,
		},
	}
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	d := Default()
	cfg := &Config{
		ServerPort:    getEnv("PORT", d.ServerPort),
		Debug:         getEnvBool("DEBUG", false),
		DatabaseURL:   getEnv("DATABASE_URL", d.DatabaseURL),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		Ingest: IngestConfig{
			GraceWindow:     getEnvDuration("SAMPLE_GRACE_WINDOW", d.Ingest.GraceWindow),
			FutureTolerance: getEnvDuration("SAMPLE_FUTURE_TOLERANCE", d.Ingest.FutureTolerance),
			QueueSize:       getEnvInt("INGEST_QUEUE_SIZE", d.Ingest.QueueSize),
		},
		Detection: DetectionConfig{
			AccelThreshold:   getEnvFloat("HARSH_ACCEL_THRESHOLD", d.Detection.AccelThreshold),
			BrakeThreshold:   getEnvFloat("HARSH_BRAKE_THRESHOLD", d.Detection.BrakeThreshold),
			SwerveYawRate:    getEnvFloat("SWERVE_YAW_RATE", d.Detection.SwerveYawRate),
			TurnDelta:        getEnvFloat("AGGRESSIVE_TURN_DELTA", d.Detection.TurnDelta),
			SpeedTolerance:   getEnvFloat("SPEEDING_TOLERANCE", d.Detection.SpeedTolerance),
			MinEventDuration: getEnvDuration("MIN_EVENT_DURATION", d.Detection.MinEventDuration),
			SpeedingDuration: getEnvDuration("SPEEDING_DURATION", d.Detection.SpeedingDuration),
			AccelCooldown:    getEnvDuration("HARSH_ACCEL_DEBOUNCE", d.Detection.AccelCooldown),
			BrakeCooldown:    getEnvDuration("HARSH_BRAKE_DEBOUNCE", d.Detection.BrakeCooldown),
			SwerveCooldown:   getEnvDuration("SWERVE_DEBOUNCE", d.Detection.SwerveCooldown),
			TurnCooldown:     getEnvDuration("AGGRESSIVE_TURN_DEBOUNCE", d.Detection.TurnCooldown),
			SpeedingCooldown: getEnvDuration("SPEEDING_DEBOUNCE", d.Detection.SpeedingCooldown),
			QueueSize:        getEnvInt("DETECTION_QUEUE_SIZE", d.Detection.QueueSize),
		},
		Checkpoint: CheckpointConfig{
			Every:        getEnvInt("CHECKPOINT_EVERY", d.Checkpoint.Every),
			Interval:     getEnvDuration("CHECKPOINT_INTERVAL", d.Checkpoint.Interval),
			JournalEvery: getEnvInt("JOURNAL_EVERY", d.Checkpoint.JournalEvery),
		},
		Classifier: ClassifierConfig{
			ModelFile:  getEnv("MODEL_FILE", ""),
			MinMaxFile: getEnv("MINMAX_FILE", ""),
			TimeZone:   getEnv("TRAINING_TIMEZONE", d.Classifier.TimeZone),
			Timeout:    getEnvDuration("CLASSIFICATION_TIMEOUT", d.Classifier.Timeout),
			Workers:    getEnvInt("FINALIZE_WORKERS", d.Classifier.Workers),
		},
		Sync: SyncConfig{
			BackendURL:     getEnv("BACKEND_URL", ""),
			DeviceID:       getEnv("DEVICE_ID", d.Sync.DeviceID),
			JWTSecret:      getEnv("JWT_SECRET", ""),
			Interval:       getEnvDuration("SYNC_INTERVAL", d.Sync.Interval),
			Timeout:        getEnvDuration("SYNC_TIMEOUT", d.Sync.Timeout),
			RequestTimeout: getEnvDuration("SYNC_REQUEST_TIMEOUT", d.Sync.RequestTimeout),
			MaxAttempts:    getEnvInt("UPLOAD_MAX_ATTEMPTS", d.Sync.MaxAttempts),
			BackoffBase:    getEnvDuration("UPLOAD_BACKOFF_BASE", d.Sync.BackoffBase),
			BackoffMax:     getEnvDuration("UPLOAD_BACKOFF_MAX", d.Sync.BackoffMax),
			BatchSize:      getEnvInt("SYNC_BATCH_SIZE", d.Sync.BatchSize),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	var errs []error
	if c.Detection.AccelThreshold <= 0 {
		errs = append(errs, fmt.Errorf("HARSH_ACCEL_THRESHOLD must be positive, got %g", c.Detection.AccelThreshold))
	}
	if c.Detection.BrakeThreshold >= 0 {
		errs = append(errs, fmt.Errorf("HARSH_BRAKE_THRESHOLD must be negative, got %g", c.Detection.BrakeThreshold))
	}
	if c.Detection.SpeedTolerance < 1 {
		errs = append(errs, fmt.Errorf("SPEEDING_TOLERANCE must be >= 1, got %g", c.Detection.SpeedTolerance))
	}
	if c.Checkpoint.Every <= 0 {
		errs = append(errs, fmt.Errorf("CHECKPOINT_EVERY must be positive, got %d", c.Checkpoint.Every))
	}
	if c.Checkpoint.Interval <= 0 {
		errs = append(errs, fmt.Errorf("CHECKPOINT_INTERVAL must be positive, got %s", c.Checkpoint.Interval))
	}
	if c.Checkpoint.JournalEvery <= 0 {
		errs = append(errs, fmt.Errorf("JOURNAL_EVERY must be positive, got %d", c.Checkpoint.JournalEvery))
	}
	if c.Ingest.QueueSize <= 0 || c.Detection.QueueSize <= 0 {
		errs = append(errs, errors.New("queue sizes must be positive"))
	}
	if c.Classifier.Workers <= 0 {
		errs = append(errs, fmt.Errorf("FINALIZE_WORKERS must be positive, got %d", c.Classifier.Workers))
	}
	if _, err := time.LoadLocation(c.Classifier.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("TRAINING_TIMEZONE: %w", err))
	}
	if c.Sync.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_MAX_ATTEMPTS must be positive, got %d", c.Sync.MaxAttempts))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_BATCH_SIZE must be positive, got %d", c.Sync.BatchSize))
	}
	if c.Sync.BackendURL != "" && c.Sync.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required when BACKEND_URL is set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.Atoi(value)
		if err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
