package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-tracking/internal/auth"
	"github.com/example/ride-tracking/internal/config"
	httpapi "github.com/example/ride-tracking/internal/http"
	"github.com/example/ride-tracking/internal/ingest"
	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/payments"
	"github.com/example/ride-tracking/internal/presence"
	"github.com/example/ride-tracking/internal/realtime"
	"github.com/example/ride-tracking/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
		}
	}

	var store storage.RideStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		store = ps
	} else {
		logger.Warn("PG_DSN unset; using in-memory ride store")
		store = storage.NewMemoryStore()
	}

	var pres presence.Store
	if cfg.RedisAddr != "" {
		pres = presence.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	} else {
		logger.Warn("REDIS_ADDR unset; using in-memory presence store")
		pres = presence.NewMemory()
	}

	gateway, err := auth.NewJWTGateway(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	var locations realtime.LocationSink
	if len(cfg.KafkaBrokers) > 0 {
		lp := ingest.NewLocationPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer lp.Close()
		locations = lp
	}

	broker := realtime.NewBroker(logging.WithComponent(logger, "broker"))
	broker.SetMaxSendFailures(cfg.MaxSendFailures)

	sessions := &realtime.SessionRunner{
		Broker:    broker,
		Store:     store,
		Gateway:   gateway,
		Locations: locations,
		Logger:    logging.WithComponent(logger, "session"),
		Config: realtime.SessionConfig{
			PingInterval: cfg.PingInterval,
			SendTimeout:  cfg.SendTimeout,
		},
	}

	srv := httpapi.NewServer(
		logging.WithComponent(logger, "http"),
		store, gateway, broker, sessions, pres,
		payments.NewStripeClient(),
	)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("ride-tracking listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
