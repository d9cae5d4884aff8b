package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emalani/legato/internal/chunker"
)

// Engine selects the synthesis backend wired at startup.
const (
	EngineAuto   = "auto"
	EngineMock   = "mock"
	EngineExec   = "exec"
	EngineRemote = "remote"
)

// Config contains all runtime settings for the synthesis service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	Engine       string
	DefaultVoice string

	ExecCommand      string
	ExecArgs         []string
	ExecWarmupWindow time.Duration

	RemoteURL    string
	RemoteAPIKey string

	DatabaseURL   string
	CacheMaxBytes int64
	CacheTTL      time.Duration

	ChunkStrategy   chunker.Strategy
	TargetChunkSize int
	MaxChunkSize    int
	MinTextLength   int
	OverlapSize     int

	MaxConcurrency int
	ChunkTimeout   time.Duration
	SessionTimeout time.Duration

	Strict             bool
	DisableConsistency bool
	TrimOverlapAudio   bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("LEGATO_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("LEGATO_METRICS_NAMESPACE", "legato"),
		AllowAnyOrigin:   false,
		Engine:           envOrDefault("LEGATO_ENGINE", EngineAuto),
		// af_heart matches the default voice shipped with the kokoro worker.
		DefaultVoice:             envOrDefault("LEGATO_DEFAULT_VOICE", "af_heart"),
		ExecCommand:              envTrimmed("LEGATO_EXEC_COMMAND"),
		RemoteURL:                envTrimmed("LEGATO_REMOTE_URL"),
		RemoteAPIKey:             envTrimmed("LEGATO_REMOTE_API_KEY"),
		DatabaseURL:              envTrimmed("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		ExecWarmupWindow:         25 * time.Second,
		TrimOverlapAudio:         true,
	}
	if raw := envTrimmed("LEGATO_EXEC_ARGS"); raw != "" {
		cfg.ExecArgs = strings.Fields(raw)
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("LEGATO_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("LEGATO_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ExecWarmupWindow, err = durationFromEnv("LEGATO_EXEC_WARMUP_WINDOW", cfg.ExecWarmupWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("LEGATO_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.CacheMaxBytes, err = int64FromEnv("LEGATO_CACHE_MAX_BYTES", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheTTL, err = durationFromEnv("LEGATO_CACHE_TTL", 0)
	if err != nil {
		return Config{}, err
	}

	// Zero chunking and scheduling values defer to the pipeline defaults.
	if raw := envTrimmed("LEGATO_CHUNK_STRATEGY"); raw != "" {
		cfg.ChunkStrategy, err = chunker.ParseStrategy(raw)
		if err != nil {
			return Config{}, fmt.Errorf("LEGATO_CHUNK_STRATEGY parse error: %w", err)
		}
	}
	cfg.TargetChunkSize, err = intFromEnv("LEGATO_TARGET_CHUNK_SIZE", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxChunkSize, err = intFromEnv("LEGATO_MAX_CHUNK_SIZE", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.MinTextLength, err = intFromEnv("LEGATO_MIN_TEXT_LENGTH", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.OverlapSize, err = intFromEnv("LEGATO_OVERLAP_SIZE", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrency, err = intFromEnv("LEGATO_MAX_CONCURRENCY", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkTimeout, err = durationFromEnv("LEGATO_CHUNK_TIMEOUT", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTimeout, err = durationFromEnv("LEGATO_SESSION_TIMEOUT", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.Strict, err = boolFromEnv("LEGATO_STRICT", cfg.Strict)
	if err != nil {
		return Config{}, err
	}
	cfg.DisableConsistency, err = boolFromEnv("LEGATO_DISABLE_CONSISTENCY", cfg.DisableConsistency)
	if err != nil {
		return Config{}, err
	}
	cfg.TrimOverlapAudio, err = boolFromEnv("LEGATO_TRIM_OVERLAP_AUDIO", cfg.TrimOverlapAudio)
	if err != nil {
		return Config{}, err
	}

	switch cfg.Engine {
	case EngineAuto, EngineMock, EngineExec, EngineRemote:
	default:
		return Config{}, fmt.Errorf("LEGATO_ENGINE must be one of auto, mock, exec, remote")
	}
	if cfg.Engine == EngineExec && cfg.ExecCommand == "" {
		return Config{}, fmt.Errorf("LEGATO_ENGINE=exec requires LEGATO_EXEC_COMMAND")
	}
	if cfg.Engine == EngineRemote && cfg.RemoteURL == "" {
		return Config{}, fmt.Errorf("LEGATO_ENGINE=remote requires LEGATO_REMOTE_URL")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("LEGATO_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.MaxConcurrency < 0 {
		return Config{}, fmt.Errorf("LEGATO_MAX_CONCURRENCY must be >= 0")
	}
	if cfg.CacheMaxBytes < 0 {
		return Config{}, fmt.Errorf("LEGATO_CACHE_MAX_BYTES must be >= 0")
	}
	if cfg.ChunkTimeout < 0 || cfg.SessionTimeout < 0 {
		return Config{}, fmt.Errorf("timeouts must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
