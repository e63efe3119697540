package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Config 应用配置
type Config struct {
	Env         string
	AppSecret   string
	DatabaseURL string
	Port        string
	LogLevel    string

	TMDBToken    string
	TMDBBaseURL  string
	TMDBRateRPS  float64
	TraktAPIKey  string
	TraktBaseURL string

	UpstreamMaxRetries uint
	UpstreamRetryDelay time.Duration

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	DefaultRegion string

	SyncDebounce       time.Duration
	SyncMaxRetries     uint
	SyncRetryDelay     time.Duration
	NetworkProbeTicker time.Duration

	SessionIdleTTL  time.Duration
	CleanupInterval time.Duration
}

const defaultSecret = "your-secret-key-change-in-production"

// Load 加载配置
func Load() *Config {
	dbUser := getEnv("DB_USER", "postgres")
	dbPass := getEnv("DB_PASSWORD", "postgres")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_NAME", "cinematch")
	dbSSL := getEnv("DB_SSLMODE", "disable")

	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbUser, dbPass, dbHost, dbPort, dbName, dbSSL)

	appSecret := getEnv("APP_SECRET", getEnv("JWT_SECRET", defaultSecret))
	env := getEnv("APP_ENV", "development")

	if env == "production" && appSecret == defaultSecret {
		log.Warn().Msg("【严重警告】生产环境正在使用默认密钥！请立即设置 APP_SECRET 环境变量。")
	}

	return &Config{
		Env:         env,
		AppSecret:   appSecret,
		DatabaseURL: dbURL,
		Port:        getEnv("PORT", "5005"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		TMDBToken:    getEnv("TMDB_TOKEN", ""),
		TMDBBaseURL:  getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		TMDBRateRPS:  getFloat("TMDB_RATE_RPS", 40),
		TraktAPIKey:  getEnv("TRAKT_API_KEY", ""),
		TraktBaseURL: getEnv("TRAKT_BASE_URL", "https://api.trakt.tv"),

		UpstreamMaxRetries: uint(getInt("UPSTREAM_MAX_RETRIES", 3)),
		UpstreamRetryDelay: getMillis("UPSTREAM_RETRY_DELAY_MS", 300),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", ""),

		DefaultRegion: getEnv("DEFAULT_REGION", "US"),

		SyncDebounce:       getMillis("SYNC_DEBOUNCE_MS", 1000),
		SyncMaxRetries:     uint(getInt("SYNC_MAX_RETRIES", 3)),
		SyncRetryDelay:     getMillis("SYNC_RETRY_DELAY_MS", 1000),
		NetworkProbeTicker: getDuration("NETWORK_PROBE_INTERVAL", 5*time.Second),

		SessionIdleTTL:  getDuration("SESSION_IDLE_TTL", 24*time.Hour),
		CleanupInterval: getDuration("CLEANUP_INTERVAL", 10*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getMillis(key string, defaultMs int) time.Duration {
	return time.Duration(getInt(key, defaultMs)) * time.Millisecond
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return d
}
