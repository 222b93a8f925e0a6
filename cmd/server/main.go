package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/adforge/adforge/internal/backup"
	"github.com/adforge/adforge/internal/config"
	"github.com/adforge/adforge/internal/database"
	"github.com/adforge/adforge/internal/events"
	"github.com/adforge/adforge/internal/generation"
	"github.com/adforge/adforge/internal/handler"
	"github.com/adforge/adforge/internal/lock"
	"github.com/adforge/adforge/internal/logger"
	"github.com/adforge/adforge/internal/middleware"
	"github.com/adforge/adforge/internal/queue"
	"github.com/adforge/adforge/internal/service"
	"github.com/adforge/adforge/internal/store"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer lg.Close()

	// Connect to database
	db, err := database.New(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	lg.Info("running database migrations")
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	lg.Info("migrations completed")

	// Create store
	s := store.New(db.DB)

	// Distributed locks live in the same database as the records they guard
	locks := lock.NewDBManager(s)

	// Janitor for lock rows abandoned by crashed holders
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go func() {
		ticker := time.NewTicker(cfg.MigrationLockTTL)
		defer ticker.Stop()
		for {
			select {
			case <-janitorCtx.Done():
				return
			case <-ticker.C:
				if n, cleanErr := s.CleanupExpiredLocks(janitorCtx); cleanErr != nil {
					lg.Warn("lock cleanup failed", "error", cleanErr)
				} else if n > 0 {
					lg.Debug("removed expired locks", "count", n)
				}
			}
		}
	}()

	// Migration backup sink: S3 when a bucket is configured, otherwise off
	var sink backup.Sink = backup.Noop{}
	if cfg.BackupBucket != "" {
		s3Sink, sinkErr := backup.NewS3Sink(context.Background(), cfg)
		if sinkErr != nil {
			lg.Warn("backup sink unavailable, migrations run without backups", "error", sinkErr)
		} else {
			sink = s3Sink
			lg.Info("migration backups enabled", "bucket", cfg.BackupBucket)
		}
	}

	// Ad generation collaborator
	genClient := generation.NewHTTPClient(cfg.GenerationURL, cfg.GenerationTimeout)
	presets, err := generation.LoadPresets(cfg.PlatformPresets)
	if err != nil {
		log.Fatalf("Failed to load platform presets: %v", err)
	}

	// Create event poller and broker for SSE
	pollerCfg := events.DefaultPollerConfig()
	pollerCfg.PollInterval = cfg.EventPollInterval
	eventPoller := events.NewPoller(s, pollerCfg, lg)
	if err := eventPoller.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start event poller: %v", err)
	}
	eventBroker := events.NewBroker(s, eventPoller)

	// Background task queue for migration retries
	tasks := queue.New(256, cfg.MigrationMaxAttempts, cfg.MigrationBackoffBase, lg)
	tasks.Start(context.Background())

	// Services
	engine := service.NewSaveEngine(s, lg, cfg.SaveMaxAttempts, cfg.SaveBackoffBase)
	wizardSvc := service.NewWizardService(s, engine, eventBroker, lg, cfg.SaveDebounce, locks, cfg.LockTTL)
	migration := service.NewMigrationCoordinator(s, locks, sink, eventBroker, lg,
		cfg.MigrationLockTTL, cfg.MigrationMaxAttempts, cfg.MigrationBackoffBase)
	generator := service.NewGenerationService(s, engine, genClient, presets, eventBroker, lg)
	hooks := service.NewHookTrigger(genClient, wizardSvc, lg)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.SessionHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	h := handler.New(cfg, lg, wizardSvc, migration, generator, hooks, eventBroker, tasks)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Identity(cfg))

			// SSE events endpoint (no request timeout applies here)
			r.Get("/events", h.Events)

			r.Route("/wizard", func(r chi.Router) {
				r.Use(chimiddleware.Timeout(60 * time.Second))

				r.Get("/", h.GetWizard)
				r.Post("/idea", h.SubmitIdea)
				r.Post("/audience", h.SelectAudience)
				r.Post("/analysis", h.CompleteAnalysis)
				r.Post("/back", h.Back)
				r.Post("/start-over", h.StartOver)
				r.Post("/save", h.Save)
			})

			r.Group(func(r chi.Router) {
				r.Use(chimiddleware.Timeout(60 * time.Second))

				r.With(middleware.RequireAuth).Post("/migrate", h.Migrate)
				r.Post("/generate", h.Generate)
			})
		})
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		lg.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down server")

	// Stop background work first (finish in-flight tasks)
	tasks.Stop()
	eventPoller.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	lg.Info("server stopped")
}
