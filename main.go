// Package main our entry point.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/microcosm-cc/bluemonday"

	"github.com/johndosdos/relay/internal/auth"
	"github.com/johndosdos/relay/internal/config"
	"github.com/johndosdos/relay/internal/handler"
	"github.com/johndosdos/relay/internal/logging"
	ratelimiter "github.com/johndosdos/relay/internal/rate_limiter"
	"github.com/johndosdos/relay/internal/store"
	ws "github.com/johndosdos/relay/internal/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(logging.New("relay", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init DB
	slog.Info("initializing database", "driver", cfg.Database.Driver)

	repo, err := store.New(ctx, cfg.Database)
	if err != nil {
		slog.Error("could not open the database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	tokens, err := auth.NewIssuer(cfg.Token.Secret, cfg.Token.Issuer, cfg.Token.TTL)
	if err != nil {
		slog.Error("failed to create token issuer", "error", err)
		os.Exit(1)
	}

	creds, err := auth.NewCredentials(repo)
	if err != nil {
		slog.Error("failed to create credential service", "error", err)
		os.Exit(1)
	}

	// hub.Run is our central hub that is always listening for session
	// related events.
	hubOpts := []ws.Option{
		ws.WithMessageLimit(cfg.Limits.MessageRequests, cfg.Limits.MessageWindow),
	}
	if cfg.SanitizeContent {
		hubOpts = append(hubOpts, ws.WithSanitizer(bluemonday.StrictPolicy()))
	}
	hub := ws.NewHub(repo, hubOpts...)
	go hub.Run(ctx)

	authLimiter := newAuthLimiter(ctx, cfg)

	server := &http.Server{
		Addr: cfg.Addr(),
		Handler: handler.NewRouter(handler.Deps{
			Repo:           repo,
			Credentials:    creds,
			Tokens:         tokens,
			Hub:            hub,
			AuthLimiter:    authLimiter,
			AllowedOrigins: cfg.AllowedOrigins,
			MaxFrameBytes:  cfg.Limits.MaxFrameBytes,
			TrustProxy:     cfg.TrustProxy,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	slog.Info("shutdown signal received; shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// newAuthLimiter prefers a shared Redis counter and falls back to the
// in-process limiter when Redis is not configured or unreachable.
func newAuthLimiter(ctx context.Context, cfg *config.Config) ratelimiter.Limiter {
	if cfg.Limits.AuthRequests <= 0 {
		return nil
	}

	if cfg.Redis.Addr != "" {
		rl, err := ratelimiter.NewRedisLimiter(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			cfg.Limits.AuthRequests, cfg.Limits.AuthWindow)
		if err == nil {
			slog.Info("using redis rate limiter", "addr", cfg.Redis.Addr)
			return rl
		}
		slog.Warn("redis unavailable, using in-memory rate limiter", "error", err)
	}

	rl := ratelimiter.NewIPRateLimiter(cfg.Limits.AuthRequests, cfg.Limits.AuthWindow, ratelimiter.CleanupOpts{
		TTL:      10 * time.Minute,
		Interval: time.Minute,
	})
	context.AfterFunc(ctx, rl.Cancel)
	return rl
}
