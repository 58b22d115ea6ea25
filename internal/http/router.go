// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, rate limiting, and the two authentication gates
// (webhook signature, worker shared key).
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/vpetrov/go-avito-relay/internal/classify"
	"github.com/vpetrov/go-avito-relay/internal/config"
	"github.com/vpetrov/go-avito-relay/internal/eventlog"
	"github.com/vpetrov/go-avito-relay/internal/http/handlers"
	"github.com/vpetrov/go-avito-relay/internal/http/middleware"
	"github.com/vpetrov/go-avito-relay/internal/services"
	"github.com/vpetrov/go-avito-relay/internal/taskstore"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting, CORS
// and security headers, health and metrics endpoints, and then mounts the
// ingest and worker APIs.
//
// db may be nil: the history endpoint degrades to empty responses and the
// ingest pipeline skips the side-store.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with secret/PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per worker key/IP)
//  8. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, store *taskstore.Store, events *eventlog.Log, seen classify.SuppressionSet, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (worker key and webhook secret
	//    ride in query strings; the signature header is secret-derived)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderSignature},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per worker/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByWorkerOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.HeaderSignature},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
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
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.HeaderSignature},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
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

	// Dependency injection: services ← store/log/db
	webhookSvc := &services.WebhookService{
		Store:      store,
		Classifier: &classify.Classifier{Seen: seen},
		Events:     events,
		DB:         db,
		HistoryMax: cfg.History.Max,
		HistoryTTL: cfg.History.TTL,
	}
	queueSvc := &services.QueueService{
		Store:            store,
		Events:           events,
		ConfirmWindow:    cfg.Queue.ConfirmWindow,
		DefaultScanLimit: cfg.Queue.ScanLimit,
	}
	h := handlers.New(webhookSvc, queueSvc, store, db, cfg.History.Max)

	// Ingest surface (signature-gated)
	webhookAuth := middleware.WebhookAuth(middleware.WebhookAuthOptions{
		Secret:  cfg.WebhookSecret,
		HMACKey: cfg.WebhookHMAC,
	})
	r.POST("/webhook/:account", webhookAuth, h.Webhook)

	// Worker surface (shared-key gated)
	workerAuth := middleware.WorkerAuth(cfg.WorkerKey)
	r.GET("/history/:account/:chat", workerAuth, h.History)

	tasks := r.Group("/tasks", workerAuth)
	{
		// GET kept alongside POST: the deployed agents claim via curl -G.
		tasks.GET("/claim", h.Claim)
		tasks.POST("/claim", h.Claim)
		tasks.POST("/done", h.Done)
		tasks.POST("/requeue", h.Requeue)
		tasks.POST("/doneSafe", h.DoneSafe)
		tasks.GET("/debug", h.Debug)
		tasks.GET("/read", h.ReadTask)
	}
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
