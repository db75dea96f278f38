package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"audiorelay/internal/core/ports"
	"audiorelay/internal/core/services"
	httphandlers "audiorelay/internal/handlers/http"
	"audiorelay/internal/infrastructure/events"
	"audiorelay/internal/infrastructure/middleware"
	"audiorelay/internal/infrastructure/monitoring"
	"audiorelay/internal/infrastructure/repositories/memory"
	webrtcinfra "audiorelay/internal/infrastructure/webrtc"
	"audiorelay/pkg/config"
	"audiorelay/pkg/logger"
	"audiorelay/pkg/tracing"
	"audiorelay/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("using default configuration", "path", *configPath, "error", err)
	}

	instanceID := utils.GenerateSessionID()

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tracer, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	collector := monitoring.NewPrometheusCollector(nil)
	metricsService := services.NewMetricsService(collector)

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	endpointConfig := webrtcinfra.EndpointConfig{
		BindIP:              cfg.WebRTC.BindIP,
		PublicIP:            cfg.WebRTC.PublicIP,
		ICEServers:          iceServers,
		DisconnectedTimeout: cfg.WebRTC.DisconnectedTimeout,
		FailedTimeout:       cfg.WebRTC.FailedTimeout,
		LoggerFactory:       logger.NewPionLoggerFactory(log.Named("pion")),
		Stats:               collector,
	}
	endpointConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	endpointConfig.PortRange.Max = cfg.WebRTC.PortRange.Max
	endpoints := webrtcinfra.NewEndpointFactory(endpointConfig, log.Named("webrtc"))

	healthChecker := monitoring.NewHealthChecker()

	var (
		publisher   ports.EventPublisher
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		redisClient, err = events.NewRedisClient(connectCtx, events.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, log)
		cancel()
		if err != nil {
			log.Fatalw("failed to connect to event bus", "error", err)
		}
		publisher = events.NewRedisPublisher(redisClient, cfg.Redis.Channel, instanceID, log.Named("events"))
		healthChecker.AddRedisCheck(redisClient, 2*time.Second)
	} else {
		publisher = events.NewNoopPublisher(log.Named("events"))
	}

	registry := memory.NewMemorySessionRegistry()
	negotiation := services.NewNegotiationService(registry, endpoints, metricsService, publisher, log.Named("negotiation"))

	var accepting atomic.Bool
	accepting.Store(true)
	healthChecker.AddAcceptingCheck(accepting.Load)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RequestIDMiddleware(),
		middleware.RecoveryMiddleware(log),
		middleware.LoggingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.TracingMiddleware(),
		middleware.CORSMiddleware(cfg.CORS.AllowedOrigins),
		middleware.ErrorHandlerMiddleware(log),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    monitoring.StatusHealthy,
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"instance":  instanceID,
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Only signaling is rate limited; health checks and scrapes stay cheap.
	api := router.Group("/")
	api.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	httphandlers.NewSessionHandler(negotiation).SetupRoutes(api)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting audio relay",
			"address", cfg.Server.Address,
			"public_ip", cfg.WebRTC.PublicIP,
			"port_min", cfg.WebRTC.PortRange.Min,
			"port_max", cfg.WebRTC.PortRange.Max,
			"instance", instanceID,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	accepting.Store(false)
	log.Info("Shutting down audio relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := negotiation.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error releasing sessions", "error", err)
	}

	if err := publisher.Close(); err != nil {
		log.Errorw("Error closing event publisher", "error", err)
	}

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("Audio relay stopped")
}
