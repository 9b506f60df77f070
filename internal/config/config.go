// Package config loads the server configuration from environment variables
// and command-line flags, with flags taking precedence.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	envVarListenAddr      = "PALAVA_LISTEN_ADDR"
	envVarRedisURL        = "PALAVA_REDIS_URL"
	envVarMode            = "PALAVA_MODE"
	envVarLogFormat       = "PALAVA_LOG_FORMAT"
	envVarLogLevel        = "PALAVA_LOG_LEVEL"
	envVarShutdownGrace   = "PALAVA_SHUTDOWN_GRACE"
	envVarMaxMessageBytes = "PALAVA_MAX_MESSAGE_BYTES"
	envVarAllowedOrigins  = "PALAVA_ALLOWED_ORIGINS"
	envVarPostgresURL     = "PALAVA_POSTGRES_URL"
	envVarStatsGrace      = "PALAVA_STATS_GRACE"
)

const (
	DefaultListenAddr    = "0.0.0.0:4233"
	DefaultRedisURL      = "redis://localhost:6379/0"
	DefaultShutdownGrace = 3 * time.Second
	DefaultMode          = ModeDev

	DefaultMaxMessageBytes = int64(64 * 1024)

	// DefaultStatsGrace keeps the current hour's histograms (plus a margin for
	// connections straddling the hour boundary) out of the exporter's reach.
	DefaultStatsGrace = 61 * time.Minute
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	LogFormat      LogFormat
	LogLevel       slog.Level
	Mode           Mode

	// RedisOptions is the parsed PALAVA_REDIS_URL, ready for redis.NewClient.
	RedisOptions *redis.Options

	// ShutdownGrace is how long clients get between the shutdown announcement
	// and the administrative close on SIGTERM.
	ShutdownGrace time.Duration

	// MaxMessageBytes caps inbound WebSocket frames.
	MaxMessageBytes int64

	// PostgresURL is the statistics sink. Only the stats exporter needs it.
	PostgresURL string

	// StatsGrace is the minimum age before an hourly histogram is exported
	// and deleted.
	StatsGrace time.Duration
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	redisURL := envOrDefault(lookup, envVarRedisURL, DefaultRedisURL)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	postgresURL := envOrDefault(lookup, envVarPostgresURL, "")

	shutdownGrace := DefaultShutdownGrace
	if raw, ok := lookup(envVarShutdownGrace); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownGrace, raw, err)
		}
		shutdownGrace = d
	}

	statsGrace := DefaultStatsGrace
	if raw, ok := lookup(envVarStatsGrace); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarStatsGrace, raw, err)
		}
		statsGrace = d
	}

	maxMessageBytes := DefaultMaxMessageBytes
	if raw, ok := lookup(envVarMaxMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxMessageBytes, raw, err)
		}
		maxMessageBytes = n
	}

	fs := flag.NewFlagSet("palava-machine", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&redisURL, "redis-url", redisURL, "Redis URL for shared state and pub/sub (env "+envVarRedisURL+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins, empty allows all (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownGrace, "shutdown-grace", shutdownGrace, "Delay between shutdown announcement and socket close (env "+envVarShutdownGrace+")")
	fs.Int64Var(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Max inbound WebSocket message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.StringVar(&postgresURL, "postgres-url", postgresURL, "PostgreSQL URL for the statistics exporter (env "+envVarPostgresURL+")")
	fs.DurationVar(&statsGrace, "stats-grace", statsGrace, "Minimum age before an hourly histogram is exported (env "+envVarStatsGrace+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}

	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownGrace < 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-grace must be >= 0", envVarShutdownGrace)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-message-bytes must be > 0", envVarMaxMessageBytes)
	}
	if statsGrace <= 0 {
		return Config{}, fmt.Errorf("%s/--stats-grace must be > 0", envVarStatsGrace)
	}

	redisOptions, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--redis-url %q: %w", envVarRedisURL, redisURL, err)
	}

	return Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  splitAndTrim(allowedOriginsStr),
		LogFormat:       logFormat,
		LogLevel:        level,
		Mode:            mode,
		RedisOptions:    redisOptions,
		ShutdownGrace:   shutdownGrace,
		MaxMessageBytes: maxMessageBytes,
		PostgresURL:     strings.TrimSpace(postgresURL),
		StatsGrace:      statsGrace,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}
