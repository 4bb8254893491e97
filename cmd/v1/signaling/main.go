package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/serenada/signaling/internal/v1/auth"
	"github.com/serenada/signaling/internal/v1/config"
	"github.com/serenada/signaling/internal/v1/health"
	"github.com/serenada/signaling/internal/v1/logging"
	"github.com/serenada/signaling/internal/v1/middleware"
	"github.com/serenada/signaling/internal/v1/ratelimit"
	"github.com/serenada/signaling/internal/v1/roomid"
	"github.com/serenada/signaling/internal/v1/signaling"
	"github.com/serenada/signaling/internal/v1/stats"
	"github.com/serenada/signaling/internal/v1/tracing"
	"github.com/serenada/signaling/internal/v1/turn"
)

const serviceName = "signaling"

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode()); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if cfg.DevelopmentMode() {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing (Optional) ---
	var tracerProvider *sdktrace.TracerProvider
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(context.Background(), serviceName, cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			tracerProvider = tp
			slog.Info("Tracing initialized", "collector", cfg.OtelCollectorAddr)
		}
	}

	// --- Core Services ---
	roomIDs := roomid.NewService(cfg.RoomIDSecret, cfg.RoomIDEnv)
	reconnect := auth.NewReconnectTokens(cfg.TurnTokenSecret)
	turnSvc := turn.NewService(cfg.TurnSecret, cfg.StunHost, cfg.TurnHost)

	hub := signaling.NewHub(roomIDs, reconnect, turnSvc, cfg.AllowedOrigins)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitBypassIPs)

	// --- Set up Server ---
	router := gin.Default()

	// ClientIP feeds TURN credential pinning and rate limiting, so forwarding
	// headers are honored only behind an explicitly trusted proxy.
	if cfg.TrustProxy {
		router.RemoteIPHeaders = []string{"X-Real-IP", "X-Forwarded-For"}
		if err := router.SetTrustedProxies([]string{"0.0.0.0/0", "::/0"}); err != nil {
			slog.Error("Failed to configure trusted proxies", "error", err)
			os.Exit(1)
		}
	} else {
		_ = router.SetTrustedProxies(nil)
	}

	// Cors
	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, turn.TokenHeader, stats.TokenHeader, middleware.HeaderXCorrelationID)
	corsCfg.ExposeHeaders = append(corsCfg.ExposeHeaders, middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsCfg))

	router.Use(middleware.CorrelationID())
	if tracerProvider != nil {
		router.Use(otelgin.Middleware(serviceName))
	}

	// Routing
	router.GET("/ws", limiter.Middleware("ws"), hub.ServeWS)
	router.GET("/sse", limiter.Middleware("sse"), hub.ServeSSEStream)
	router.POST("/sse", limiter.Middleware("sse"), hub.ServeSSEPost)

	roomIDHandler := roomid.NewHandler(roomIDs)
	turnHandler := turn.NewHandler(turnSvc)
	statsHandler := stats.NewHandler(cfg.InternalStatsEnabled, cfg.InternalStatsToken, hub.RefreshGauges)

	api := router.Group("/api")
	{
		api.GET("/room-id", limiter.Middleware("room_id"), roomIDHandler.Mint)
		api.POST("/room-id", limiter.Middleware("room_id"), roomIDHandler.Mint)
		api.GET("/turn-credentials", limiter.Middleware("turn_credentials"), turnHandler.Credentials)
		api.POST("/diagnostic-token", limiter.Middleware("diagnostic_token"), turnHandler.DiagnosticToken)
		api.GET("/internal/stats", statsHandler.Snapshot)
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(roomIDs, turnSvc)
	router.GET("/healthz", healthHandler.Liveness)
	router.GET("/readyz", healthHandler.Readiness)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Signaling server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context is used to inform the server it has 30 seconds to finish
	// the requests it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Drop every session before closing the listener; open SSE streams only
	// end once their send channels close.
	hub.Shutdown(ctx)
	stopHub()

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	limiter.Close()

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("Failed to shut down tracer provider:", "error", err)
		}
	}

	slog.Info("Server exiting")
}
