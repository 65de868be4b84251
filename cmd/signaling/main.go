package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/signaling-relay/config"
	"github.com/mossy-p/signaling-relay/internal/handlers"
	"github.com/mossy-p/signaling-relay/internal/logger"
	"github.com/mossy-p/signaling-relay/internal/redis"
	"github.com/mossy-p/signaling-relay/internal/registry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Presence falls back to memory when Redis is not configured
	var presence handlers.PresenceStore
	if cfg.Redis.Enabled() {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer client.Close()
		presence = redis.NewPresence(client, cfg.Redis.TTL)
		log.WithField("addr", cfg.Redis.Host+":"+cfg.Redis.Port).Info("Redis connection established")
	}

	reg := registry.New()
	relay := handlers.NewRelay(reg, presence, cfg.RelaySecret, cfg.Socket, log)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.NewRouter(cfg, relay, log),
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Starting signaling relay")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}

	// Hijacked websockets are not covered by Shutdown
	for _, id := range reg.Peers() {
		reg.Evict(id)
	}
}
