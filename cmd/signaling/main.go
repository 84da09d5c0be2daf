package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mossy-p/interview-signaling/config"
	"github.com/mossy-p/interview-signaling/internal/handlers"
	"github.com/mossy-p/interview-signaling/internal/middleware"
	"github.com/mossy-p/interview-signaling/internal/redis"
	"github.com/mossy-p/interview-signaling/internal/router"
	"github.com/mossy-p/interview-signaling/internal/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Environment == "production" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := redis.NewStore(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer store.Close()
	log.Info().Msg("redis connection established")

	hub := handlers.NewHub()
	registry := session.NewRegistry(hub, store, nil, session.Timeouts{
		MaxSessionDuration: cfg.MaxSessionDuration,
		HeartbeatInterval:  cfg.HeartbeatInterval,
		ConnectionTimeout:  cfg.ConnectionTimeout,
		ReconnectGrace:     cfg.ReconnectGracePeriod,
		NegotiationTimeout: cfg.NegotiationTimeout,
	})
	rt := router.New(registry)

	monitor := session.NewHeartbeatMonitor(registry, cfg.HeartbeatInterval)
	monitor.Start()

	engine := gin.Default()
	engine.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := engine.Group("/api")
	{
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))
		apiGroup.POST("/sessions", middleware.JWTAuth(cfg.JWTSecret), handlers.CreateSession(registry, store))
		apiGroup.GET("/sessions/:sessionId", handlers.GetSession(registry))
		apiGroup.DELETE("/sessions/:sessionId", middleware.JWTAuth(cfg.JWTSecret), handlers.DeleteSession(registry, store))
		apiGroup.GET("/ice-servers", handlers.ICEServers(cfg.ICEServers))
	}

	wsGroup := engine.Group("/ws")
	{
		wsGroup.GET("/signal", middleware.JWTAuth(cfg.JWTSecret), handlers.HandleSignaling(hub, rt, registry))
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: engine}

	go func() {
		log.Info().Str("addr", addr).Msg("interview signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	monitor.Stop()
	registry.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}
