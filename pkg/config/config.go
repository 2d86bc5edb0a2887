package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the env-driven half of the server's configuration surface.
// cmd/server layers CLI flags (urfave/cli) over these as overrides; see
// internal/serverapp.Run.
type Config struct {
	ListenIP        string
	ListenPort      int
	PrePoolSize     int
	PostPoolSize    int
	IdleTimeout     time.Duration
	ReleaseInterval time.Duration
	UserSliceMillis time.Duration
	MaxPayloadBytes int64
	AdminToken      string
	LogLevel        string
}

func Load() (*Config, error) {
	listenIP, exists := os.LookupEnv("LISTEN_IP")
	if !exists {
		listenIP = "0.0.0.0"
	}

	port, err := envInt("LISTEN_PORT", 3000)
	if err != nil {
		return nil, err
	}

	prePool, err := envInt("PRE_POOL_SIZE", 4)
	if err != nil {
		return nil, err
	}

	postPool, err := envInt("POST_POOL_SIZE", 4)
	if err != nil {
		return nil, err
	}

	idleTimeoutSeconds, err := envInt("IDLE_TIMEOUT_SECONDS", 0)
	if err != nil {
		return nil, err
	}

	releaseIntervalSeconds, err := envInt("RELEASE_INTERVAL_SECONDS", 0)
	if err != nil {
		return nil, err
	}

	userSliceMillis, err := envInt("PER_USER_SLICE_MS", 500)
	if err != nil {
		return nil, err
	}

	maxPayloadBytes, err := envInt64("MAX_PAYLOAD_BYTES", 64<<20)
	if err != nil {
		return nil, err
	}

	logLevel, logLevelExists := os.LookupEnv("LOG_LEVEL")
	if !logLevelExists {
		logLevel = "info"
	}

	adminToken := os.Getenv("ADMIN_TOKEN")

	return &Config{
		ListenIP:        listenIP,
		ListenPort:      port,
		PrePoolSize:     prePool,
		PostPoolSize:    postPool,
		IdleTimeout:     time.Duration(idleTimeoutSeconds) * time.Second,
		ReleaseInterval: time.Duration(releaseIntervalSeconds) * time.Second,
		UserSliceMillis: time.Duration(userSliceMillis) * time.Millisecond,
		MaxPayloadBytes: maxPayloadBytes,
		AdminToken:      adminToken,
		LogLevel:        logLevel,
	}, nil
}

func envInt(name string, fallback int) (int, error) {
	v, exists := os.LookupEnv(name)
	if !exists {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func envInt64(name string, fallback int64) (int64, error) {
	v, exists := os.LookupEnv(name)
	if !exists {
		return fallback, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
