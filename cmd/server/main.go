// Autoflash - flashcard generation and study server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/autoflash/internal/api"
	"github.com/ashureev/autoflash/internal/config"
	"github.com/ashureev/autoflash/internal/generate"
	"github.com/ashureev/autoflash/internal/health"
	"github.com/ashureev/autoflash/internal/identity"
	"github.com/ashureev/autoflash/internal/metrics"
	"github.com/ashureev/autoflash/internal/middleware"
	"github.com/ashureev/autoflash/internal/store"
	"github.com/ashureev/autoflash/internal/study"
	"github.com/ashureev/autoflash/internal/worker"
	"github.com/ashureev/autoflash/web"
)

const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:           "autoflash",
	Short:         "Generate flashcards from notes and study them",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and live study server",
	RunE:  runServe,
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(serveCmd, generateCmd)
}

func main() {
	setupLogger("info")

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	// Running the binary without a subcommand starts the server.
	if len(os.Args) == 1 {
		rootCmd.SetArgs([]string{"serve"})
	}
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)
}

// loadConfig reads configuration for cmd and applies its log level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	setupLogger(cfg.LogLevel)
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	repo, err := store.Open(ctx, cfg.Database.URL, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	return repo, nil
}

func newGenerator(cfg *config.Config) (generate.Generator, error) {
	if !cfg.AIEnabled() {
		return nil, nil
	}
	gen, err := generate.NewOpenAI(generate.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return gen, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Database connected", "postgres", cfg.Database.URL != "")

	gen, err := newGenerator(cfg)
	if err != nil {
		return fmt.Errorf("initialize generator: %w", err)
	}
	if gen == nil {
		slog.Info("AI features disabled (OPENAI_API_KEY not set)")
	} else {
		slog.Info("AI features enabled", "model", cfg.OpenAI.Model)
	}

	m := metrics.New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)

	var sessionOpts []study.Option
	if cfg.Study.StrictGrading {
		sessionOpts = append(sessionOpts, study.WithOneGradePerVisit())
	}
	reg := study.NewRegistry(sessionOpts...)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, cfg, m)
	healthHandler := api.NewHealthHandler(repo)
	accountHandler := api.NewAccountHandler(baseHandler, gen != nil)
	flashcardHandler := api.NewFlashcardHandler(baseHandler, gen)
	limiter := api.NewRateLimiter(cfg.Generation.RatePerMinute, cfg.Generation.Burst)
	generateHandler := api.NewGenerateHandler(baseHandler, gen, limiter)
	studyHandler := api.NewStudyHandler(baseHandler, reg)
	liveHandler := api.NewLiveHandler(studyHandler, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Metrics(m))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", m.Handler())

	// Everything else carries an anonymous identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		accountHandler.RegisterRoutes(r)
		flashcardHandler.RegisterRoutes(r)
		generateHandler.RegisterRoutes(r)
		studyHandler.RegisterRoutes(r)
		r.Get("/ws/study", liveHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket connections require long-lived writes (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	var healthSrv *health.Server
	var status worker.StatusSetter
	if cfg.GRPCHealthPort != "" {
		healthSrv = health.NewServer()
		status = healthSrv
	}

	w := worker.New(worker.Config{
		IdleTTL:       cfg.Study.IdleTTL,
		SweepInterval: cfg.Study.SweepInterval,
	}, studyHandler, repo, status, limiter, baseHandler.Presence())
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer w.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if healthSrv != nil {
		g.Go(func() error {
			return healthSrv.ListenAndServe(gctx, ":"+cfg.GRPCHealthPort)
		})
	}

	// Wait for shutdown signal or a server failure.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
