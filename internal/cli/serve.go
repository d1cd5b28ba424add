package cli

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

	"github.com/ashureev/wellness/internal/api"
	"github.com/ashureev/wellness/internal/chat"
	"github.com/ashureev/wellness/internal/identity"
	"github.com/ashureev/wellness/internal/middleware"
	"github.com/ashureev/wellness/internal/model"
	"github.com/ashureev/wellness/internal/session"
	"github.com/ashureev/wellness/internal/store"
	"github.com/ashureev/wellness/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE:  runServe,
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := setupLogger(os.Stdout, cfg.LogLevel)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "model", cfg.GeminiModel)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(cmd.Context()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	transcript, err := chat.NewConversationLogger(chat.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
		MaxOpenFiles:  cfg.ConversationLog.MaxOpenFiles,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() {
		if closeErr := transcript.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	orch := chat.New(model.NewGemini(cfg.GeminiModel), chat.Config{
		Timeout:    cfg.RequestTimeout,
		Transcript: transcript,
	})
	sessions := session.NewManager(orch.Registry())
	handler := api.NewHandler(repo, sessions, orch, cfg)
	health := api.NewHealthHandler(repo, sessions, cfg.GeminiModel)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg.FrontendURL)))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	health.RegisterHealth(r)
	handler.RegisterRoutes(r)
	r.Handle("/*", web.SPAHandler())

	// WebSocket chat needs long-lived writes, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reaperDone := session.StartReaper(ctx, sessions, cfg.SessionSweepInterval, cfg.SessionTTL)
	slog.Info("Session reaper started", "session_ttl", cfg.SessionTTL, "interval", cfg.SessionSweepInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		runMaintenance(gctx, repo, sessions, handler.Limiter(), cfg.SessionSweepInterval, cfg.SessionTTL)
		return nil
	})
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

	err = g.Wait()
	stop()
	<-reaperDone
	if err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}

// runMaintenance runs maintain every interval until ctx ends.
func runMaintenance(ctx context.Context, repo store.Repository, sessions *session.Manager, limiter *api.RateLimiter, interval, sessionTTL time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			maintain(ctx, repo, sessions, limiter, sessionTTL, identity.AnonUserRetention)
		}
	}
}

// maintain runs one maintenance pass. Users deleted from the store also lose
// any chat sessions still held in memory.
func maintain(ctx context.Context, repo store.Repository, sessions *session.Manager, limiter *api.RateLimiter, sessionTTL, retention time.Duration) {
	if n := limiter.Prune(sessionTTL); n > 0 {
		slog.Debug("Pruned idle rate limiters", "count", n)
	}
	ids, err := repo.DeleteInactiveUsers(ctx, retention)
	if err != nil {
		slog.Warn("Failed to delete inactive users", "error", err)
		return
	}
	closed := 0
	for _, id := range ids {
		closed += sessions.CloseUser(id)
	}
	if len(ids) > 0 {
		slog.Info("Deleted inactive users", "count", len(ids), "sessions_closed", closed)
	}
}

func allowedOrigins(frontendURL string) []string {
	if frontendURL == "" {
		return []string{"*"}
	}
	return []string{frontendURL}
}
