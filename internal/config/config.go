package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr          string
	LogLevel      string
	LogDev        bool
	RoomID        string
	TokenSecret   string
	TokenTTL      time.Duration
	CORSOrigin    string
	DatabaseURL   string
	MigrationsDir string
	// Postgres pool
	DBMaxOpen      int
	DBMaxIdle      int
	DBConnLifetime time.Duration
	RedisURL      string
	// Mutation leases and retry budget
	LeaseTTL      time.Duration
	RetryAttempts int
	RetryBase     time.Duration
	// Client sync cadence
	FlushInterval time.Duration
	// Idle snapshots
	HistoryDir   string
	SnapshotIdle time.Duration
	// Search
	MeiliURL       string
	MeiliMasterKey string
	// Export upload, disabled when S3Endpoint is empty
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
}

func Load() Config {
	return Config{
		Addr:           getenv("API_ADDR", ":8787"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogDev:         getenvBool("LOG_DEVELOPMENT", false),
		RoomID:         getenv("COLLAB_ROOM_ID", "rooms/default"),
		TokenSecret:    getenv("COLLAB_TOKEN_SECRET", "collabcanvas-dev-secret"),
		TokenTTL:       time.Duration(getenvInt("COLLAB_TOKEN_TTL_SECONDS", 3600)) * time.Second,
		CORSOrigin:     getenv("COLLAB_CORS_ORIGIN", "*"),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		MigrationsDir:  getenv("COLLAB_MIGRATIONS_DIR", "./db/migrations"),
		DBMaxOpen:      getenvInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdle:      getenvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnLifetime: time.Duration(getenvInt("DB_CONN_MAX_LIFETIME_SECONDS", 1800)) * time.Second,
		RedisURL:       getenv("REDIS_URL", ""),
		LeaseTTL:       time.Duration(getenvInt("COLLAB_LEASE_TTL_MS", 5000)) * time.Millisecond,
		RetryAttempts:  getenvInt("COLLAB_RETRY_ATTEMPTS", 3),
		RetryBase:      time.Duration(getenvInt("COLLAB_RETRY_BASE_MS", 200)) * time.Millisecond,
		FlushInterval:  time.Duration(getenvInt("COLLAB_FLUSH_INTERVAL_MS", 80)) * time.Millisecond,
		HistoryDir:     getenv("COLLAB_HISTORY_DIR", "./data/history"),
		SnapshotIdle:   time.Duration(getenvInt("COLLAB_SNAPSHOT_IDLE_MS", 10000)) * time.Millisecond,
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		S3Endpoint:     getenv("S3_ENDPOINT", ""),
		S3AccessKey:    getenv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getenv("S3_SECRET_KEY", ""),
		S3Bucket:       getenv("S3_BUCKET", "canvas-exports"),
		S3UseSSL:       getenvBool("S3_USE_SSL", false),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
