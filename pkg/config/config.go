package config

import (
	"log"
	"os"
	"time"

	"HibiscusSOS/pkg/cache"
	"HibiscusSOS/pkg/logger"
	"HibiscusSOS/pkg/util"
)

// config/config.go
type Config struct {
	Addr      string `env:"ADDR"`
	Mode      string `env:"MODE"`
	APIPrefix string `env:"API_PREFIX"`
	DBDriver  string `env:"DB_DRIVER"`
	DSN       string `env:"DSN"`
	Log       logger.LogConfig
	Cache     cache.Config

	// 告警广播相关
	DefaultRadiusMeters float64       `env:"SOS_DEFAULT_RADIUS_METERS"`
	DedupWindow         time.Duration `env:"SOS_DEDUP_WINDOW"`          // 创建指纹去重窗口
	RadiusDebounce      time.Duration `env:"SOS_RADIUS_DEBOUNCE"`       // 半径变更查询防抖
	PollInterval        time.Duration `env:"SOS_POLL_INTERVAL"`         // 轮询兜底间隔
	StaleAlertTTL       time.Duration `env:"SOS_STALE_ALERT_TTL"`       // 过期告警清扫阈值
	StaleSweepSchedule  string        `env:"SOS_STALE_SWEEP_SCHEDULE"`  // cron 表达式
	CreateRateLimit     string        `env:"SOS_CREATE_RATE_LIMIT"`     // e.g. "10-M"
	MetricsEnabled      bool          `env:"METRICS_ENABLED"`

	// 事件归档
	ArchivePath     string `env:"SOS_ARCHIVE_PATH"`
	ArchiveSchedule string `env:"SOS_ARCHIVE_SCHEDULE"` // 空表示关闭归档
	ArchiveKeep     int    `env:"SOS_ARCHIVE_KEEP"`
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development" // 默认使用开发环境
	}
	err := util.LoadEnv(env)
	if err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 加载全局配置
	GlobalConfig = &Config{
		Addr:      util.GetEnvDefault("ADDR", ":8080"),
		Mode:      util.GetEnvDefault("MODE", "debug"),
		APIPrefix: util.GetEnvDefault("API_PREFIX", "/api"),
		DBDriver:  util.GetEnv("DB_DRIVER"),
		DSN:       util.GetEnv("DSN"),
		Log: logger.LogConfig{
			Level:      util.GetEnv("LOG_LEVEL"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
		Cache: cache.Config{
			Type: util.GetEnvDefault("CACHE_TYPE", "local"),
			Redis: cache.RedisConfig{
				Addr:     util.GetEnvDefault("REDIS_ADDR", "localhost:6379"),
				Password: util.GetEnv("REDIS_PASSWORD"),
				DB:       int(util.GetIntEnv("REDIS_DB")),
				PoolSize: int(util.GetIntEnvDefault("REDIS_POOL_SIZE", 10)),
			},
			Local: cache.LocalConfig{
				MaxSize:           int(util.GetIntEnvDefault("LOCAL_CACHE_MAX_SIZE", 1000)),
				DefaultExpiration: util.GetDurationEnv("LOCAL_CACHE_DEFAULT_EXPIRATION", 5*time.Minute),
				CleanupInterval:   util.GetDurationEnv("LOCAL_CACHE_CLEANUP_INTERVAL", 10*time.Minute),
			},
		},
		DefaultRadiusMeters: float64(util.GetIntEnvDefault("SOS_DEFAULT_RADIUS_METERS", 2000)),
		DedupWindow:         util.GetDurationEnv("SOS_DEDUP_WINDOW", 30*time.Second),
		RadiusDebounce:      util.GetDurationEnv("SOS_RADIUS_DEBOUNCE", 300*time.Millisecond),
		PollInterval:        util.GetDurationEnv("SOS_POLL_INTERVAL", 5*time.Second),
		StaleAlertTTL:       util.GetDurationEnv("SOS_STALE_ALERT_TTL", 24*time.Hour),
		StaleSweepSchedule:  util.GetEnvDefault("SOS_STALE_SWEEP_SCHEDULE", "@every 10m"),
		CreateRateLimit:     util.GetEnvDefault("SOS_CREATE_RATE_LIMIT", "10-M"),
		MetricsEnabled:      util.GetBoolEnv("METRICS_ENABLED"),
		ArchivePath:         util.GetEnvDefault("SOS_ARCHIVE_PATH", "archive"),
		ArchiveSchedule:     util.GetEnv("SOS_ARCHIVE_SCHEDULE"),
		ArchiveKeep:         int(util.GetIntEnvDefault("SOS_ARCHIVE_KEEP", 30)),
	}
	return nil
}
