// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ditonachat/go-match-backend/internal/config"
	"github.com/ditonachat/go-match-backend/internal/http/handlers"
	"github.com/ditonachat/go-match-backend/internal/http/middleware"
	"github.com/ditonachat/go-match-backend/internal/services"
	"github.com/ditonachat/go-match-backend/internal/store"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), identity handling,
// idempotency and rate limiting, CORS and security headers, health and
// metrics endpoints, and then mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Identity: validate and stash X-Anon-ID / X-Anon-VIP
//  4. RedactingLogger: structured logs with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Body size limiter + gzip
//  7. Metrics
//  8. Idempotency-Key validation (relay retransmission tags)
//  9. Rate limiter (per identity/IP)
//  10. CORS and Security headers (no-store: every payload is ephemeral)
func RegisterRoutes(r *gin.Engine, st store.Store, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Anonymous identity
	r.Use(middleware.Identity())

	// 4) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			middleware.HeaderAnonID,
		},
	}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Body size limit (64 KiB; the largest legitimate payload is an SDP
	// blob of a few KiB) and response compression
	r.Use(limitBody(64 << 10))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency-Key validation; signaling handlers forward the key to
	// the relay as a retransmission tag
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{
		MaxLen: 200,
	}))

	// 9) Token-bucket rate limiter per identity/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByAnonOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept",
		middleware.HeaderAnonID, middleware.HeaderAnonVIP,
		middleware.HeaderIdempotencyKey,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers. NoStore is always on: every response carries
	// short-lived matchmaking or signaling state that must never be cached.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← store + config
	h := handlers.New(buildServices(st, cfg))

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Matchmaking
		api.POST("/enqueue", h.Enqueue)
		api.GET("/match/next", h.MatchNext)
		api.POST("/match/next", h.MatchNext)
		api.POST("/prev", h.Prev)
		api.POST("/stop", h.Stop)
		api.GET("/match/stats", h.MatchStats)

		// Signaling relay
		api.POST("/offer", h.PostOffer)
		api.GET("/offer", h.GetOffer)
		api.POST("/answer", h.PostAnswer)
		api.GET("/answer", h.GetAnswer)
		api.POST("/ice", h.PostICE)
		api.GET("/ice", h.GetICE)
	}
}

// buildServices constructs the full service stack over the store, applying
// the tunables from config.
func buildServices(st store.Store, cfg config.Config) (*services.PresenceService, *services.MatchService, *services.HintService, *services.PoolService, *services.SignalService) {
	pool := services.NewPoolService(st)
	pool.ProbeLimit = int64(cfg.Match.ProbeLimit)
	pool.VIPBoost = cfg.Match.VIPBoost

	presence := services.NewPresenceService(st, pool)
	presence.AttrsTTL = cfg.Match.AttrsTTL

	hints := services.NewHintService(st)
	hints.WishTTL = cfg.Match.WishTTL
	hints.LastPeerTTL = cfg.Match.LastPeerTTL

	match := services.NewMatchService(st, presence, pool, hints)
	match.ClaimTTL = cfg.Match.ClaimTTL
	match.LockTTL = cfg.Match.LockTTL
	match.MatchingTTL = cfg.Match.MatchingTTL
	match.PairTTL = cfg.Match.PairTTL
	match.SeenTTL = cfg.Match.SeenTTL
	match.RateMax = int64(cfg.Match.RateMax)
	match.RateWindow = cfg.Match.RateWindow
	match.AllowAll = cfg.Match.AllowAll

	signal := services.NewSignalService(st, match)
	signal.OfferTTL = cfg.Signal.OfferTTL
	signal.IdemTTL = cfg.Signal.IdemTTL
	signal.ICETTL = cfg.Signal.ICETTL
	signal.ICEMaxLen = int64(cfg.Signal.ICEMaxLen)
	signal.PairTTL = cfg.Match.PairTTL

	return presence, match, hints, pool, signal
}

// StartGhostSweeper periodically evicts queue entries whose presence keys
// have lapsed. TTLs already make the store self-healing; the sweep only
// improves promptness so live participants stop probing ghosts. It returns
// once the loop goroutine is running and stops with ctx.
func StartGhostSweeper(ctx context.Context, st store.Store, cfg config.Config, interval time.Duration) {
	_, match, _, _, _ := buildServices(st, cfg)
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := match.SweepGhosts(ctx, int64(cfg.Match.ProbeLimit))
				if err != nil {
					log.Debug().Err(err).Msg("ghost sweep skipped")
					continue
				}
				if n > 0 {
					log.Info().Int("evicted", n).Msg("ghost sweep")
				}
			}
		}
	}()
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
