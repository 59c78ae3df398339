package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"tripshare/internal/app"
	"tripshare/internal/config"
	"tripshare/internal/directions"
	"tripshare/internal/handler"
	"tripshare/internal/link"
	"tripshare/internal/metrics"
	"tripshare/internal/reaper"
	internalRedis "tripshare/internal/redis"
	"tripshare/internal/repository"
	"tripshare/internal/repository/postgres"
	"tripshare/internal/sampler"
	"tripshare/internal/service"
	"tripshare/internal/session"
	"tripshare/internal/store"
	"tripshare/internal/store/memory"
	"tripshare/internal/viewer"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Printf("failed to initialize New Relic: %v", err)
		} else {
			log.Printf("New Relic enabled: app=%s (with DB instrumentation)", cfg.NewRelic.AppName)
		}
	}

	// The archive database is optional.
	var db *sql.DB
	if cfg.Database.Enabled {
		db, err = app.NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer db.Close()
		log.Println("Connected to PostgreSQL")
	}

	var redisClient *redis.Client
	if cfg.StoreBackend == config.StoreBackendRedis {
		redisClient, err = app.NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("Connected to Redis")
	} else {
		log.Println("Using in-process trip store; trips are not shared across instances")
	}

	collector := metrics.NewCollector(cfg.Sharing.Retention)

	var publisher *service.NATSPublisher
	if cfg.NATS.URL != "" {
		publisher, err = service.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.LogSubjects, collector)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer publisher.Close()
		log.Printf("Connected to NATS, publishing on %s.>", cfg.NATS.SubjectPrefix)
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	srv := wireServer(rootCtx, cfg, db, redisClient, publisher, nrApp, collector)

	// Start server in goroutine.
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.http.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}

	// End every trip still being shared so observers see it stop.
	srv.registry.CloseAll(shutdownCtx)

	stop()
	if srv.reaper != nil {
		srv.reaper.Wait()
	}

	log.Println("Server exited")
}

// server is the wired application.
type server struct {
	http     *http.Server
	registry *session.Registry
	reaper   *reaper.Reaper
}

// wireServer wires all dependencies and returns the server. Background
// workers run until ctx is cancelled.
func wireServer(
	ctx context.Context,
	cfg *config.Config,
	db *sql.DB,
	redisClient *redis.Client,
	publisher *service.NATSPublisher,
	nrApp *newrelic.Application,
	collector *metrics.Collector,
) *server {
	// Initialize the trip store.
	var (
		tripStore store.TripStore
		deletions store.DeletionQueue
		locker    store.Locker
	)
	if redisClient != nil {
		tripStore = internalRedis.NewTripStore(redisClient, cfg.TerminalTTL(), cfg.Sharing.ActiveTripTTL)
		deletions = internalRedis.NewDeletionQueue(redisClient)
		locker = internalRedis.NewLockStore(redisClient)
	} else {
		tripStore = memory.NewStore()
		deletions = memory.NewDeletionQueue()
	}

	// Initialize repositories.
	var archiveRepo repository.TripArchiveRepository
	var archiver reaper.Archiver
	if db != nil {
		repo := postgres.NewTripArchiveRepository(db)
		archiveRepo = repo
		archiver = repo
	}

	// Initialize services.
	var notificationService *service.NotificationService
	if publisher != nil {
		notificationService = service.NewNotificationService(publisher, cfg.NATS.SubjectPrefix)
	} else {
		notificationService = service.NewNotificationService(nil, cfg.NATS.SubjectPrefix)
	}

	links := link.NewCodec(cfg.Sharing.ViewerBaseURL)

	unit, err := sampler.ParseSpeedUnit(cfg.Sharing.SpeedUnit)
	if err != nil {
		log.Fatalf("invalid speed unit: %v", err)
	}

	registry := session.NewRegistry(
		session.Deps{
			Store:      tripStore,
			Deletions:  deletions,
			Directions: directions.StraightLine{},
			Links:      links,
			Notifier:   notificationService,
			Metrics:    collector,
		},
		session.Options{
			Retention:           cfg.Sharing.Retention,
			WriteTimeout:        cfg.Sharing.WriteTimeout,
			ArrivalRadiusMeters: cfg.Sharing.ArrivalRadiusMeters,
			Sampler: sampler.Options{
				MinInterval: cfg.Sharing.SampleInterval,
				MinDistance: cfg.Sharing.SampleDistance,
			},
		},
		unit,
		cfg.Sharing.FixMaxAge,
	)

	go registry.SweepIdle(ctx, cfg.Sharing.IdleSweep, cfg.Sharing.IdleTimeout)

	v := viewer.New(tripStore, cfg.Sharing.StaleAfter, collector)

	var r *reaper.Reaper
	if cfg.Reaper.Enabled {
		r = reaper.New(tripStore, deletions, locker, archiver, collector, reaper.Config{
			Interval:    cfg.Reaper.Interval,
			MaxAttempts: cfg.Reaper.MaxAttempts,
			Batch:       cfg.Reaper.Batch,
		})
		r.Start(ctx)
	}

	// Initialize handlers.
	sessionHandler := handler.NewSessionHandler(registry)
	tripHandler := handler.NewTripHandler(v, links, archiveRepo)

	deps := app.RouterDeps{
		SessionHandler: sessionHandler,
		TripHandler:    tripHandler,
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = collector
	}

	// Create HTTP server.
	return &server{
		http: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      app.NewRouter(deps),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		registry: registry,
		reaper:   r,
	}
}
