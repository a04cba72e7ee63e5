package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qrlabel-backend/internal/config"
	"qrlabel-backend/internal/handlers"
	"qrlabel-backend/internal/middleware"
	"qrlabel-backend/internal/repository"
	"qrlabel-backend/internal/services"
	"qrlabel-backend/internal/token"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const expirySweepInterval = time.Minute

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Run database migrations
	if err := runMigrations(cfg.Database.MigrateURL()); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Connect to database
	db, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Initialize repositories
	wristbandRepo := repository.NewWristbandRepository(db)
	scanRepo := repository.NewScanRepository(db)
	pushTokenRepo := repository.NewPushTokenRepository(db)

	// Initialize services
	codec := token.NewCodec(cfg.Product.Domain)
	wristbandService := services.NewWristbandService(wristbandRepo, scanRepo)
	pushRegistry := services.NewPushRegistry(pushTokenRepo)
	wsHub := services.NewWSHub()

	notifiers := []services.ScanNotifier{wsHub}
	if cfg.APNS.Enabled {
		pushNotifier, err := services.NewPushNotifier(cfg.APNS, pushTokenRepo)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create push notifier")
		}
		notifiers = append(notifiers, pushNotifier)
	} else {
		log.Warn().Msg("APNs disabled, scan pushes will not be sent")
	}
	scanService := services.NewScanService(scanRepo, wristbandRepo, notifiers...)

	var uploader services.LabelUploader
	if cfg.AWS.S3Bucket != "" {
		s3Uploader, err := services.NewS3LabelUploader(cfg.AWS)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create label uploader")
		}
		uploader = s3Uploader
	} else {
		log.Warn().Msg("No S3 bucket configured, QR labels will not be uploaded")
	}
	provisionService := services.NewProvisionService(wristbandRepo, uploader, cfg.Product.WebBaseURL)

	// Initialize handlers
	wristbandHandler := handlers.NewWristbandHandler(wristbandService, codec)
	dashboardHandler := handlers.NewDashboardHandler(wristbandService, pushRegistry)
	tokenPageHandler := handlers.NewTokenPageHandler(wristbandService, scanService)
	adminHandler := handlers.NewAdminHandler(provisionService)
	wsHandler := handlers.NewWebSocketHandler(wsHub)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/wristband/status", wristbandHandler.Status)
		r.Post("/wristband/activate", wristbandHandler.Activate)
		r.Get("/wristbands", dashboardHandler.List)
		r.Get("/wristbands/{wristband_id}/location", dashboardHandler.Location)
		r.Post("/wristbands/{wristband_id}/push", dashboardHandler.SetPush)
		r.Post("/push/register", dashboardHandler.RegisterPush)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth(cfg.Admin.JWTSecret))
			r.Post("/admin/wristbands", adminHandler.Provision)
		})
	})

	// Public token page and consent insert
	r.Get("/t", tokenPageHandler.Show)
	r.Get("/t/{token}", tokenPageHandler.Show)
	r.Post("/t/{token}/scan", tokenPageHandler.Scan)

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Background expiry sweep: active rows past their window become used.
	// Reads already apply the window lazily; this converges stored state.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go runExpirySweep(sweepCtx, wristbandRepo)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	stopSweep()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// runMigrations applies pending schema migrations
func runMigrations(databaseURL string) error {
	m, err := migrate.New("file://migrations", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// runExpirySweep periodically moves overdue active wristbands to used
func runExpirySweep(ctx context.Context, repo *repository.WristbandRepository) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := repo.ExpireOverdue(ctx, time.Now())
			if err != nil {
				log.Error().Err(err).Msg("Expiry sweep failed")
				continue
			}
			if swept > 0 {
				log.Info().Int64("count", swept).Msg("Expired wristbands swept")
			}
		}
	}
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// corsMiddleware handles CORS; both apps and the public web page hit these
// endpoints cross-origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
