// Command server is the bootstrap / transport glue named as component F in
// the system overview: it loads configuration, wires the Room Registry
// into an HTTP+WebSocket router, and drives graceful shutdown. None of the
// concurrent session logic lives here — this file only assembles it.
//
// Grounded on the retrieval pack's cmd/v1/session/main.go: godotenv loading
// with multiple candidate paths, gin router plus CORS/recovery middleware,
// a Prometheus /metrics endpoint, and SIGINT/SIGTERM-triggered
// srv.Shutdown with a bounded grace period.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Congyuwang/wuziqi/internal/config"
	"github.com/Congyuwang/wuziqi/internal/connection"
	"github.com/Congyuwang/wuziqi/internal/health"
	"github.com/Congyuwang/wuziqi/internal/logging"
	"github.com/Congyuwang/wuziqi/internal/middleware"
	"github.com/Congyuwang/wuziqi/internal/ratelimit"
	"github.com/Congyuwang/wuziqi/internal/registry"
	"github.com/Congyuwang/wuziqi/internal/tracing"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	loadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	logger := logging.L()

	ctx := context.Background()
	tp, err := tracing.InitTracer(ctx, "wuziqi-server", cfg.OTELCollectorAddr)
	if err != nil {
		logger.Warn("tracing disabled: failed to initialize tracer provider", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	reg := registry.New(registry.Defaults{
		MoveTimeout:        cfg.DefaultMoveTimeout,
		UndoRequestTimeout: cfg.DefaultUndoRequestTimeout,
		UndoDial:           undoDialPtr(cfg.DefaultUndoDial),
		CleanupGrace:       cfg.RoomCleanupGracePeriod,
	})

	limiter, err := ratelimit.New(cfg)
	if err != nil {
		panic(err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("wuziqi-server"))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = cfg.AllowedOrigins
	router.Use(cors.New(corsCfg))

	healthHandler := health.NewHandler(reg)
	router.GET("/healthz", healthHandler.Liveness)
	router.GET("/readyz", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", func(c *gin.Context) {
		if !limiter.CheckIP(c) {
			return
		}
		connection.Upgrade(c, reg, limiter, cfg.OutboundQueueCapacity, cfg.StallGracePeriod)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}

func loadDotEnv() {
	for _, path := range []string{".env", "../../.env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
}

func undoDialPtr(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}
