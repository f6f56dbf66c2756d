// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, Redis connectivity, matchmaking TTLs,
// rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-match-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RedisConfig defines connectivity for the ephemeral state store.
type RedisConfig struct {
	Addr      string        // REDIS_ADDR (host:port)
	Password  string        // REDIS_PASSWORD
	DB        int           // REDIS_DB
	OpTimeout time.Duration // REDIS_OP_TIMEOUT per-command deadline
}

// MatchConfig tunes the matchmaking engine. Every piece of matchmaking
// state is keyed by one of these TTLs; nothing survives past them.
type MatchConfig struct {
	AttrsTTL    time.Duration // PRESENCE_TTL lifetime of attributes/filters
	PairTTL     time.Duration // PAIR_TTL initial lifetime of pair records
	ClaimTTL    time.Duration // CLAIM_TTL candidate claim token
	LockTTL     time.Duration // LOCK_TTL pair commit lock
	MatchingTTL time.Duration // MATCHING_TTL per-participant attempt guard
	SeenTTL     time.Duration // SEEN_TTL rematch suppression window
	WishTTL     time.Duration // WISH_TTL reconnect hint lifetime
	LastPeerTTL time.Duration // LAST_PEER_TTL reconnect target memory

	ProbeLimit int           // MATCH_PROBE_LIMIT candidates probed per attempt
	VIPBoost   time.Duration // VIP_BOOST queue seniority granted to VIPs
	RateMax    int           // MATCH_RATE_MAX attempts per window per participant
	RateWindow time.Duration // MATCH_RATE_WINDOW
	AllowAll   bool          // MATCH_ALLOW_ALL bypass filter compatibility
}

// SignalConfig tunes the WebRTC signaling relay.
type SignalConfig struct {
	OfferTTL  time.Duration // OFFER_TTL offer/answer blob lifetime
	IdemTTL   time.Duration // SIGNAL_IDEM_TTL retransmission marker lifetime
	ICETTL    time.Duration // ICE_TTL candidate mailbox lifetime
	ICEMaxLen int           // ICE_MAX_LEN mailbox cap per role
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Store
	Redis RedisConfig

	// Matchmaking / signaling
	Match  MatchConfig
	Signal SignalConfig

	// Rate limiting (HTTP layer, on top of the matchmaking window)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Store
		Redis: RedisConfig{
			Addr:      getenv("REDIS_ADDR", "localhost:6379"),
			Password:  getenv("REDIS_PASSWORD", ""),
			DB:        getint("REDIS_DB", 0),
			OpTimeout: getdur("REDIS_OP_TIMEOUT", 2*time.Second),
		},

		// Matchmaking
		Match: MatchConfig{
			AttrsTTL:    getdur("PRESENCE_TTL", 120*time.Second),
			PairTTL:     getdur("PAIR_TTL", 60*time.Second),
			ClaimTTL:    getdur("CLAIM_TTL", 5*time.Second),
			LockTTL:     getdur("LOCK_TTL", 5*time.Second),
			MatchingTTL: getdur("MATCHING_TTL", 5*time.Second),
			SeenTTL:     getdur("SEEN_TTL", 90*time.Second),
			WishTTL:     getdur("WISH_TTL", 8*time.Second),
			LastPeerTTL: getdur("LAST_PEER_TTL", 60*time.Second),
			ProbeLimit:  getint("MATCH_PROBE_LIMIT", 40),
			VIPBoost:    getdur("VIP_BOOST", time.Hour),
			RateMax:     getint("MATCH_RATE_MAX", 8),
			RateWindow:  getdur("MATCH_RATE_WINDOW", 10*time.Second),
			AllowAll:    getbool("MATCH_ALLOW_ALL", false),
		},

		// Signaling
		Signal: SignalConfig{
			OfferTTL:  getdur("OFFER_TTL", 45*time.Second),
			IdemTTL:   getdur("SIGNAL_IDEM_TTL", 30*time.Second),
			ICETTL:    getdur("ICE_TTL", 45*time.Second),
			ICEMaxLen: getint("ICE_MAX_LEN", 64),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-match-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return cfg, errors.New("REDIS_ADDR must not be empty")
	}
	if cfg.Redis.DB < 0 {
		return cfg, errors.New("REDIS_DB must be >= 0")
	}
	if cfg.Redis.OpTimeout <= 0 {
		return cfg, errors.New("REDIS_OP_TIMEOUT must be > 0")
	}
	if err := validateMatch(cfg.Match); err != nil {
		return cfg, err
	}
	if err := validateSignal(cfg.Signal); err != nil {
		return cfg, err
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

func validateMatch(m MatchConfig) error {
	for _, d := range []time.Duration{
		m.AttrsTTL, m.PairTTL, m.ClaimTTL, m.LockTTL,
		m.MatchingTTL, m.SeenTTL, m.WishTTL, m.LastPeerTTL,
		m.RateWindow,
	} {
		if d <= 0 {
			return errors.New("matchmaking TTLs must be positive durations")
		}
	}
	if m.ProbeLimit < 1 {
		return errors.New("MATCH_PROBE_LIMIT must be >= 1")
	}
	if m.VIPBoost < 0 {
		return errors.New("VIP_BOOST must be >= 0")
	}
	if m.RateMax < 1 {
		return errors.New("MATCH_RATE_MAX must be >= 1")
	}
	return nil
}

func validateSignal(s SignalConfig) error {
	if s.OfferTTL <= 0 || s.IdemTTL <= 0 || s.ICETTL <= 0 {
		return errors.New("signaling TTLs must be positive durations")
	}
	if s.ICEMaxLen < 1 {
		return errors.New("ICE_MAX_LEN must be >= 1")
	}
	return nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
