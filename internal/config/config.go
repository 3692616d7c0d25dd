package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	defaultListenAddr = ":8080"

	envListenAddr      = "TASKFORGE_LISTEN_ADDR"
	envLogLevel        = "TASKFORGE_LOG_LEVEL"
	envComputeWorkers  = "TASKFORGE_COMPUTE_WORKERS"
	envIOWorkers       = "TASKFORGE_IO_WORKERS"
	envBlockingWorkers = "TASKFORGE_BLOCKING_WORKERS"
	envMaxConcurrent   = "TASKFORGE_MAX_CONCURRENT"
	envMaxQueueDepth   = "TASKFORGE_MAX_QUEUE_DEPTH"
	envDefaultTimeoutS = "TASKFORGE_DEFAULT_TIMEOUT_S"
)

// Config holds application configuration loaded from environment variables.
// Zero worker counts and limits mean "use the subsystem default".
type Config struct {
	ListenAddr string
	LogLevel   slog.Level

	ComputeWorkers  int
	IOWorkers       int
	BlockingWorkers int

	MaxConcurrent   int
	MaxQueueDepth   int
	DefaultTimeoutS int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		LogLevel:   slog.LevelInfo,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	cfg.ComputeWorkers = intEnv(envComputeWorkers)
	cfg.IOWorkers = intEnv(envIOWorkers)
	cfg.BlockingWorkers = intEnv(envBlockingWorkers)
	cfg.MaxConcurrent = intEnv(envMaxConcurrent)
	cfg.MaxQueueDepth = intEnv(envMaxQueueDepth)
	cfg.DefaultTimeoutS = intEnv(envDefaultTimeoutS)

	return cfg
}

// intEnv reads a non-negative integer variable. Unset, malformed, or negative
// values fall back to zero so the owning subsystem applies its own default.
func intEnv(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
