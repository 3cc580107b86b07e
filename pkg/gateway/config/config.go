package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bezaspace/rak4/pkg/core/runtime/gemini"
)

// DeprecatedLiveModel is no longer served by the Live API.
const DeprecatedLiveModel = "gemini-2.0-flash-live-001"

type Config struct {
	Addr     string
	AppName  string
	LogLevel slog.Level

	GeminiAPIKey  string
	LiveModel     string
	FallbackModel string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Optional backing stores. An empty DatabaseURL selects the file and
	// in-memory stores.
	DatabaseURL       string
	DatabaseMaxConns  int32
	ProfilePath       string
	DoctorCatalogPath string

	// Live WebSocket mode (/ws/live).
	LiveMaxAudioFrameBytes  int
	LiveMaxJSONMessageBytes int64
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveHandshakeTimeout    time.Duration
	FallbackTimeout         time.Duration
	MaxSessionsPerUser      int

	// REST routes under /api/, per client address.
	RateLimitRPS   float64
	RateLimitBurst int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("RAKSHA_ADDR", ":8000"),
		AppName:                 envOr("RAKSHA_APP_NAME", "raksha"),
		GeminiAPIKey:            envOr("GEMINI_API_KEY", ""),
		LiveModel:               envOr("RAKSHA_GEMINI_MODEL", gemini.DefaultLiveModel),
		FallbackModel:           envOr("RAKSHA_FALLBACK_MODEL", gemini.DefaultFallbackModel),
		CORSAllowedOrigins:      make(map[string]struct{}),
		DatabaseURL:             envOr("RAKSHA_DATABASE_URL", ""),
		DatabaseMaxConns:        int32(envIntOr("RAKSHA_DATABASE_MAX_CONNS", 10)),
		ProfilePath:             envOr("RAKSHA_PROFILE_PATH", ""),
		DoctorCatalogPath:       envOr("RAKSHA_DOCTOR_CATALOG_PATH", ""),
		LiveMaxAudioFrameBytes:  envIntOr("RAKSHA_LIVE_MAX_AUDIO_FRAME_BYTES", 64*1024),
		LiveMaxJSONMessageBytes: envInt64Or("RAKSHA_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveWSPingInterval:      envDurationOr("RAKSHA_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("RAKSHA_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveHandshakeTimeout:    envDurationOr("RAKSHA_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		FallbackTimeout:         envDurationOr("RAKSHA_FALLBACK_TIMEOUT", 30*time.Second),
		MaxSessionsPerUser:      envIntOr("RAKSHA_MAX_SESSIONS_PER_USER", 2),
		RateLimitRPS:            envFloat64Or("RAKSHA_RATE_LIMIT_RPS", 5),
		RateLimitBurst:          envIntOr("RAKSHA_RATE_LIMIT_BURST", 10),
		ReadHeaderTimeout:       envDurationOr("RAKSHA_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:     envDurationOr("RAKSHA_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	level, err := parseLevel(envOr("RAKSHA_LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	origins := splitCSV(os.Getenv("RAKSHA_CORS_ORIGINS"))
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	for _, origin := range origins {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if cfg.LiveModel == DeprecatedLiveModel {
		return Config{}, fmt.Errorf("RAKSHA_GEMINI_MODEL %q is deprecated; use %q", DeprecatedLiveModel, gemini.DefaultLiveModel)
	}
	if cfg.DatabaseMaxConns <= 0 {
		return Config{}, fmt.Errorf("RAKSHA_DATABASE_MAX_CONNS must be > 0")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("RAKSHA_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("RAKSHA_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("RAKSHA_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("RAKSHA_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("RAKSHA_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.FallbackTimeout < 0 {
		return Config{}, fmt.Errorf("RAKSHA_FALLBACK_TIMEOUT must be >= 0")
	}
	if cfg.MaxSessionsPerUser < 0 {
		return Config{}, fmt.Errorf("RAKSHA_MAX_SESSIONS_PER_USER must be >= 0")
	}
	if cfg.RateLimitRPS < 0 {
		return Config{}, fmt.Errorf("RAKSHA_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return Config{}, fmt.Errorf("RAKSHA_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("RAKSHA_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("RAKSHA_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// OriginAllowed reports whether origin is in the CORS allowlist. An empty
// origin never matches.
func (c Config) OriginAllowed(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return false
	}
	_, ok := c.CORSAllowedOrigins[origin]
	return ok
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("RAKSHA_LOG_LEVEL must be one of debug|info|warn|error")
	}
	return level, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
