package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dukerupert/vitisco/internal/auth"
	"github.com/dukerupert/vitisco/internal/config"
	"github.com/dukerupert/vitisco/internal/database"
	"github.com/dukerupert/vitisco/internal/email"
	"github.com/dukerupert/vitisco/internal/lesson"
	"github.com/dukerupert/vitisco/internal/logging"
	"github.com/dukerupert/vitisco/internal/middleware"
	"github.com/dukerupert/vitisco/internal/quiz"
	"github.com/dukerupert/vitisco/internal/server"
	"github.com/dukerupert/vitisco/internal/store"
)

type serveCommand struct {
	opts *options
}

func (c *serveCommand) Execute(_ []string) error {
	cfg, err := config.Load(c.opts.ConfigFile)
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.Setup(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer logCloser.Close()

	db, err := database.Connect(databaseConfig(cfg))
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		return err
	}
	defer db.Close()

	tokens, err := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.TTL)
	if err != nil {
		return err
	}

	catalog, err := lesson.Load()
	if err != nil {
		return err
	}

	quizManager, err := quiz.NewManager(cfg.Quiz.MaxSessions, cfg.Quiz.SweepInterval, logger.With("component", "quiz"))
	if err != nil {
		return fmt.Errorf("create quiz manager: %w", err)
	}

	limiter, memLimiter, closeLimiter := newLimiter(cfg, logger)
	defer closeLimiter()

	srv := server.New(server.Deps{
		DB:          db,
		Tokens:      tokens,
		Catalog:     catalog,
		Quiz:        quizManager,
		Limiter:     limiter,
		Mailer:      newMailer(cfg, logger),
		Development: cfg.IsDevelopment(),
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	quizManager.Run(ctx)
	defer quizManager.Stop()

	go runCleanup(ctx, memLimiter, store.NewPasswordResetStore(db), logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("vitisco running", "addr", httpServer.Addr, "env", cfg.Env, "db", cfg.Database.Driver)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error("server error", "error", err)
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}
	return nil
}

// newLimiter returns the Redis limiter when REDIS_ADDR is set, otherwise
// the in-memory one, which is also returned so it can be cleaned up.
func newLimiter(cfg *config.Config, logger *slog.Logger) (middleware.Limiter, *middleware.RateLimiter, func()) {
	if cfg.Redis.Addr == "" {
		rl := middleware.NewRateLimiter()
		return rl, rl, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, rate limits fail open until it recovers", "addr", cfg.Redis.Addr, "error", err)
	}

	rl := middleware.NewRedisLimiter(client, "vitisco:ratelimit:", logger.With("component", "ratelimit"))
	return rl, nil, func() { client.Close() }
}

func newMailer(cfg *config.Config, logger *slog.Logger) email.Sender {
	if cfg.Email.PostmarkToken == "" {
		logger.Warn("POSTMARK_SERVER_TOKEN not set, reset codes will be logged")
		return email.LogSender{Logger: logger.With("component", "email")}
	}
	return email.NewClient(cfg.Email.PostmarkToken, cfg.Email.From)
}

// runCleanup prunes rate limit windows and expired reset codes hourly.
// rl is nil when limits live in Redis.
func runCleanup(ctx context.Context, rl *middleware.RateLimiter, resets *store.PasswordResetStore, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rl != nil {
				rl.Cleanup()
			}
			n, err := resets.DeleteExpired()
			if err != nil {
				logger.Error("delete expired resets", "error", err)
			} else if n > 0 {
				logger.Info("deleted expired resets", "count", n)
			}
		}
	}
}

func databaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		Driver:   cfg.Database.Driver,
		Path:     cfg.Database.Path,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
	}
}

// openForCommand loads config and dials the database for one-shot
// commands. Logging goes to stderr only.
func openForCommand(opts *options) (*config.Config, *sql.DB, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logging.New(os.Stderr, cfg.Log.Level))
	db, err := database.Dial(databaseConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
