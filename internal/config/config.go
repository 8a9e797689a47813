package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	LauncherProcess = "process"
	LauncherDocker  = "docker"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server    ServerConfig
	Session   SessionConfig
	Worker    WorkerConfig
	Docker    DockerConfig
	Redis     RedisConfig
	Slack     SlackConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Anthropic AnthropicConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration // zero disables the deadline so streams can stay open
	CORSOrigins  []string
	KeepAlive    time.Duration
}

// SessionConfig bounds session lifetimes and stream polling.
type SessionConfig struct {
	MaxLifetime  time.Duration
	Grace        time.Duration
	PollInterval time.Duration
}

// WorkerConfig describes how automation workers are started.
type WorkerConfig struct {
	Launcher          string
	Python            string
	ScriptDir         string
	WorkDir           string
	StopGrace         time.Duration
	LawmaticsPassword string //nolint:gosec // G117: worker credential config
}

// DockerConfig holds container runtime settings.
type DockerConfig struct {
	Host        string
	Image       string
	CPULimit    string
	MemLimit    string
	NetworkMode string
}

// RedisConfig holds Redis connection settings. An empty Addr disables the
// record mirror and the relay endpoint.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// SlackConfig holds outcome notification and slash command settings.
type SlackConfig struct {
	BotToken      string
	ChannelID     string
	SigningSecret string //nolint:gosec // G117: Slack request signing secret
}

// AuthConfig holds optional API authentication settings.
type AuthConfig struct {
	JWTSecret string //nolint:gosec // G117: JWT signing secret config
	APIKeys   []string
}

// RateLimitConfig bounds trigger requests per client IP and, when auth is
// enabled, per authenticated caller.
type RateLimitConfig struct {
	RPS          float64
	Burst        int
	SubjectRPS   float64 // zero falls back to RPS
	SubjectBurst int     // zero falls back to Burst
}

// Subject returns the per-caller limits.
func (r RateLimitConfig) Subject() (float64, int) {
	rps, burst := r.SubjectRPS, r.SubjectBurst
	if rps <= 0 {
		rps = r.RPS
	}
	if burst < 1 {
		burst = r.Burst
	}
	return rps, burst
}

// AnthropicConfig enables the document parse endpoint.
type AnthropicConfig struct {
	APIKey string //nolint:gosec // G117: API credential config
	Model  string
}

// LogConfig selects zerolog level and output format.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables.
// Defaults are suitable for running next to the worker scripts locally.
func Load() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	readTimeout, err := getEnvDuration("TASKRELAY_SERVER_READ_TIMEOUT", 10*time.Second)
	collect(err)
	writeTimeout, err := getEnvDuration("TASKRELAY_SERVER_WRITE_TIMEOUT", 0)
	collect(err)
	keepAlive, err := getEnvDuration("TASKRELAY_SSE_KEEPALIVE", 15*time.Second)
	collect(err)
	maxLifetime, err := getEnvDuration("TASKRELAY_SESSION_MAX_LIFETIME", 5*time.Minute)
	collect(err)
	grace, err := getEnvDuration("TASKRELAY_SESSION_GRACE", 30*time.Second)
	collect(err)
	poll, err := getEnvDuration("TASKRELAY_STREAM_POLL_INTERVAL", 100*time.Millisecond)
	collect(err)
	stopGrace, err := getEnvDuration("TASKRELAY_WORKER_STOP_GRACE", 10*time.Second)
	collect(err)
	redisDB, err := getEnvInt("TASKRELAY_REDIS_DB", 0)
	collect(err)
	rps, err := getEnvFloat("TASKRELAY_RATE_LIMIT_RPS", 1)
	collect(err)
	burst, err := getEnvInt("TASKRELAY_RATE_LIMIT_BURST", 5)
	collect(err)
	subjectRPS, err := getEnvFloat("TASKRELAY_RATE_LIMIT_SUBJECT_RPS", 0)
	collect(err)
	subjectBurst, err := getEnvInt("TASKRELAY_RATE_LIMIT_SUBJECT_BURST", 0)
	collect(err)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config.Load: %w", errors.Join(errs...))
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:         getEnv("TASKRELAY_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  getEnvList("TASKRELAY_CORS_ORIGINS", []string{"http://localhost:3000"}),
			KeepAlive:    keepAlive,
		},
		Session: SessionConfig{
			MaxLifetime:  maxLifetime,
			Grace:        grace,
			PollInterval: poll,
		},
		Worker: WorkerConfig{
			Launcher:          strings.ToLower(getEnv("TASKRELAY_LAUNCHER", LauncherProcess)),
			Python:            getEnv("TASKRELAY_PYTHON", "python3"),
			ScriptDir:         getEnv("TASKRELAY_SCRIPT_DIR", "scripts"),
			WorkDir:           getEnv("TASKRELAY_WORK_DIR", ""),
			StopGrace:         stopGrace,
			LawmaticsPassword: getEnv("LAWMATICS_PASSWORD", ""),
		},
		Docker: DockerConfig{
			Host:        getEnv("TASKRELAY_DOCKER_HOST", ""),
			Image:       getEnv("TASKRELAY_DOCKER_IMAGE", ""),
			CPULimit:    getEnv("TASKRELAY_DOCKER_CPU_LIMIT", "1"),
			MemLimit:    getEnv("TASKRELAY_DOCKER_MEM_LIMIT", "1g"),
			NetworkMode: getEnv("TASKRELAY_DOCKER_NETWORK", "host"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("TASKRELAY_REDIS_ADDR", ""),
			Password: getEnv("TASKRELAY_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Slack: SlackConfig{
			BotToken:      getEnv("TASKRELAY_SLACK_BOT_TOKEN", ""),
			ChannelID:     getEnv("TASKRELAY_SLACK_CHANNEL", ""),
			SigningSecret: getEnv("TASKRELAY_SLACK_SIGNING_SECRET", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("TASKRELAY_JWT_SECRET", ""),
			APIKeys:   getEnvList("TASKRELAY_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RPS:          rps,
			Burst:        burst,
			SubjectRPS:   subjectRPS,
			SubjectBurst: subjectBurst,
		},
		Anthropic: AnthropicConfig{
			APIKey: getEnv("TASKRELAY_ANTHROPIC_API_KEY", os.Getenv("ANTHROPIC_API_KEY")),
			Model:  getEnv("TASKRELAY_ANTHROPIC_MODEL", ""),
		},
		Log: LogConfig{
			Level:  getEnv("TASKRELAY_LOG_LEVEL", "info"),
			Format: getEnv("TASKRELAY_LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("TASKRELAY_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("TASKRELAY_SERVER_WRITE_TIMEOUT must not be negative, got %s", c.Server.WriteTimeout)
	}
	if c.Server.KeepAlive <= 0 {
		return fmt.Errorf("TASKRELAY_SSE_KEEPALIVE must be positive, got %s", c.Server.KeepAlive)
	}
	if c.Session.MaxLifetime <= 0 {
		return fmt.Errorf("TASKRELAY_SESSION_MAX_LIFETIME must be positive, got %s", c.Session.MaxLifetime)
	}
	if c.Session.Grace <= 0 {
		return fmt.Errorf("TASKRELAY_SESSION_GRACE must be positive, got %s", c.Session.Grace)
	}
	if c.Session.PollInterval <= 0 {
		return fmt.Errorf("TASKRELAY_STREAM_POLL_INTERVAL must be positive, got %s", c.Session.PollInterval)
	}
	if c.Worker.StopGrace <= 0 {
		return fmt.Errorf("TASKRELAY_WORKER_STOP_GRACE must be positive, got %s", c.Worker.StopGrace)
	}

	switch c.Worker.Launcher {
	case LauncherProcess:
	case LauncherDocker:
		if c.Docker.Image == "" {
			return errors.New("TASKRELAY_DOCKER_IMAGE is required when TASKRELAY_LAUNCHER=docker")
		}
	default:
		return fmt.Errorf("TASKRELAY_LAUNCHER must be %q or %q, got %q", LauncherProcess, LauncherDocker, c.Worker.Launcher)
	}

	if c.Redis.DB < 0 {
		return fmt.Errorf("TASKRELAY_REDIS_DB must be >= 0, got %d", c.Redis.DB)
	}
	if c.RateLimit.RPS <= 0 {
		return fmt.Errorf("TASKRELAY_RATE_LIMIT_RPS must be positive, got %g", c.RateLimit.RPS)
	}
	if c.RateLimit.Burst < 1 {
		return fmt.Errorf("TASKRELAY_RATE_LIMIT_BURST must be >= 1, got %d", c.RateLimit.Burst)
	}
	if c.RateLimit.SubjectRPS < 0 || c.RateLimit.SubjectBurst < 0 {
		return fmt.Errorf("TASKRELAY_RATE_LIMIT_SUBJECT_RPS and _BURST must not be negative, got %g/%d",
			c.RateLimit.SubjectRPS, c.RateLimit.SubjectBurst)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("TASKRELAY_JWT_SECRET must be at least 32 characters")
	}
	if (c.Slack.BotToken == "") != (c.Slack.ChannelID == "") {
		return errors.New("TASKRELAY_SLACK_BOT_TOKEN and TASKRELAY_SLACK_CHANNEL must be set together")
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("TASKRELAY_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}

	if !c.Auth.Enabled() {
		log.Warn().Msg("TASKRELAY_JWT_SECRET and TASKRELAY_API_KEYS are unset; the API accepts unauthenticated requests")
	}

	return nil
}

// Enabled reports whether any credential source is configured.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != "" || len(a.APIKeys) > 0
}

// SlackCommandsEnabled reports whether /slack/commands should be mounted.
func (c *Config) SlackCommandsEnabled() bool {
	return c.Slack.SigningSecret != ""
}

// RedisEnabled reports whether the Redis mirror should be started.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

// SlackEnabled reports whether outcome notifications should be posted.
func (c *Config) SlackEnabled() bool {
	return c.Slack.BotToken != "" && c.Slack.ChannelID != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
