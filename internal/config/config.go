package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 服务运行配置
type Config struct {
	Port string

	// 模拟引擎
	EngineURL     string
	EngineTimeout time.Duration

	// 运行记录存储
	DatabaseType string // sqlite | postgres
	DatabaseURL  string

	// 结果缓存，RedisAddr 为空时使用内存缓存
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	CORSOrigins       []string
	CORSOriginPattern string

	// 访问码，为空时不校验
	AccessCode  string
	TokenSecret string

	RateLimitPerMinute int

	GinMode  string
	LogLevel slog.Level
}

// LoadDotEnv loads .env and then .env.local. Variables already set in the
// environment are never overridden. Missing files are not an error.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to load env file", "file", f, "error", err)
		}
	}
}

// Load 从环境变量读取配置
func Load() *Config {
	return &Config{
		Port: getEnvString("PORT", "8080"),

		EngineURL:     getEnvString("WHATIF_ENGINE_URL", "http://127.0.0.1:8000"),
		EngineTimeout: getEnvDuration("ENGINE_TIMEOUT", 60*time.Second),

		DatabaseType: strings.ToLower(getEnvString("DATABASE_TYPE", "sqlite")),
		DatabaseURL:  getEnvString("DATABASE_URL", "whatif.db"),

		RedisAddr:     getEnvString("REDIS_ADDR", ""),
		RedisPassword: getEnvString("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		CacheTTL:      getEnvDuration("CACHE_TTL", 30*time.Minute),

		CORSOrigins:       getEnvList("CORS_ORIGINS", []string{"http://localhost:3000", "http://127.0.0.1:3000"}),
		CORSOriginPattern: getEnvString("CORS_ORIGIN_PATTERN", `^https://.*\.netlify\.app$`),

		AccessCode:  getEnvString("ACCESS_CODE", ""),
		TokenSecret: getEnvString("TOKEN_SECRET", "whatif-secret-key"),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		GinMode:  getEnvString("GIN_MODE", "release"),
		LogLevel: getEnvLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

// 辅助函数
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvLevel(key string, defaultValue slog.Level) slog.Level {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return defaultValue
	}
	return level
}
