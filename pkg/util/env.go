package util

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv 按环境加载 .env 文件（.env.development / .env.production），
// 缺省回退到 .env；文件不存在不视为错误
func LoadEnv(env string) error {
	name := fmt.Sprintf(".env.%s", env)
	if _, err := os.Stat(name); err != nil {
		name = ".env"
	}
	if _, err := os.Stat(name); err != nil {
		return nil
	}
	return godotenv.Load(name)
}

// GetEnv 获取字符串环境变量
func GetEnv(key string) string {
	return os.Getenv(key)
}

// GetEnvDefault 获取字符串环境变量，空值时返回默认值
func GetEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetIntEnv 获取整型环境变量
func GetIntEnv(key string) int64 {
	return cast.ToInt64(os.Getenv(key))
}

// GetIntEnvDefault 获取整型环境变量，未设置时返回默认值
func GetIntEnvDefault(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		return cast.ToInt64(v)
	}
	return def
}

// GetBoolEnv 获取布尔环境变量
func GetBoolEnv(key string) bool {
	return cast.ToBool(os.Getenv(key))
}

// GetDurationEnv 获取时长环境变量，未设置或解析失败时返回默认值
func GetDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n := cast.ToInt64(v); n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
