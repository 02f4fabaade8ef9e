// cmd/api/main.go

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"ritrovo/internal/adapter/device"
	"ritrovo/internal/adapter/storage"
	"ritrovo/internal/config"
	"ritrovo/internal/domain/feed"
	domainGeo "ritrovo/internal/domain/geo"
	"ritrovo/internal/domain/identity"
	"ritrovo/internal/server"
	feedService "ritrovo/internal/service/feed"
	geoService "ritrovo/internal/service/geo"
	presenceService "ritrovo/internal/service/presence"
)

func main() {
	// Load .env if present; real env wins
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Environment == "development" {
		log.SetLevel(log.DebugLevel)
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Initialize dependencies
	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	natsConn, err := initNATS(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsConn.Close()

	// The session this process serves; empty means anonymous browsing
	session := identity.Session{UserID: os.Getenv("SESSION_USER_ID")}

	// Initialize storage adapters
	profileStore := storage.NewProfileStore(db)
	presenceStore := storage.NewPresenceStore(db)
	momentParts := storage.NewMomentParticipationStore(db)
	eventParts := storage.NewEventParticipationStore(db)

	classifier := feed.NewClassifier(feed.ClassifierConfig{
		ToleranceWindow: cfg.Feed.ToleranceWindow,
		LookAhead:       cfg.Feed.LookAhead,
	})

	momentStore := storage.NewMomentStore(db, profileStore, classifier, cfg.Feed.PageSize)
	eventStore := storage.NewEventStore(db, profileStore, classifier, cfg.Feed.PageSize)

	// Initialize location acquisition
	provider := device.NewPushProvider()
	acquirer := geoService.NewAcquirer(provider, profileStore, session.UserID, geoService.AcquirerConfig{
		Fallback:       domainGeo.Coordinate{Latitude: cfg.Geo.FallbackLat, Longitude: cfg.Geo.FallbackLng},
		MaxAttempts:    cfg.Geo.MaxAttempts,
		RetryDelay:     cfg.Geo.RetryDelay,
		RequestTimeout: cfg.Geo.RequestTimeout,
		CacheTolerance: cfg.Geo.CacheTolerance,
	})
	if err := acquirer.Start(ctx); err != nil {
		log.WithError(err).Warn("Failed to load saved coordinate")
	}

	// Initialize presence tracking
	tracker := presenceService.NewTracker(
		presenceStore,
		profileStore,
		natsConn,
		acquirer,
		session,
		presenceService.TrackerConfig{
			Subject:        cfg.Presence.Subject,
			Heartbeat:      cfg.Presence.Heartbeat,
			NearbyRadiusKm: cfg.Presence.NearbyRadiusKm,
			Staleness:      cfg.Presence.Staleness,
		},
	)
	if err := tracker.Start(ctx); err != nil {
		log.Fatalf("Failed to start presence tracker: %v", err)
	}

	// Initialize the feed aggregator
	aggregator := feedService.NewAggregator(
		momentStore,
		eventStore,
		profileStore,
		momentParts,
		eventParts,
		acquirer,
		session,
		classifier,
		feedService.AggregatorConfig{
			PageSize:       cfg.Feed.PageSize,
			LookBack:       cfg.Feed.LookBack,
			IndifferenceKm: cfg.Feed.IndifferenceKm,
		},
	)

	// Initialize HTTP server
	httpServer := server.NewServer(cfg.Server, aggregator, momentStore, eventStore, cfg.Feed.PageSize, tracker, acquirer, provider)

	// Start HTTP server
	go func() {
		log.Infof("Starting HTTP server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	log.Info("Shutdown signal received")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Graceful shutdown
	log.Info("Shutting down services...")

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown error")
	}

	// Best-effort offline publish on the way out
	if err := tracker.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("Presence tracker shutdown error")
	}

	log.Info("Shutdown complete")
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
