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

	"github.com/server-common/hermes/internal/config"
	"github.com/server-common/hermes/internal/dispatch"
	"github.com/server-common/hermes/internal/handler"
	"github.com/server-common/hermes/internal/mail"
	"github.com/server-common/hermes/internal/queue"
	"github.com/server-common/hermes/internal/ratelimit"
	"github.com/server-common/hermes/internal/settings"
	"github.com/server-common/hermes/internal/storage"
	"github.com/server-common/hermes/pkg/db"
	"github.com/server-common/hermes/pkg/logger"
	"github.com/server-common/hermes/pkg/mailer"
	"github.com/server-common/hermes/pkg/mailer/resend"
	"github.com/server-common/hermes/pkg/mailer/smtp"
	pkgredis "github.com/server-common/hermes/pkg/redis"
)

func main() {
	if err := run(); err != nil {
		slog.Error("service exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.NewWithSentry(cfg.Sentry,
		handler.RequestIDExtractor(),
		handler.GroupKeyExtractor(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, storage.Migrations, cfg.DB.MigrationsTable, log); err != nil {
		return err
	}

	rdb, err := pkgredis.Open(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	store := storage.New(pool)
	q := queue.New(rdb)

	conf := settings.New(store, settings.NewRedisCache(rdb), settings.WithLogger(log))
	limiter := ratelimit.New(store, conf,
		ratelimit.WithFailOpen(cfg.RateLimitFailOpen),
		ratelimit.WithLogger(log),
	)

	var sender mailer.Sender
	switch cfg.MailerProvider {
	case config.MailerResend:
		sender = resend.New(cfg.Resend)
	default:
		sender = smtp.New(cfg.SMTP)
	}

	worker := dispatch.NewWorker(store, q, conf, sender, cfg.Dispatch, dispatch.WithLogger(log))
	dispatcher, err := dispatch.NewDispatcher(worker, cfg.Dispatch, log)
	if err != nil {
		return err
	}

	svc := mail.NewService(store, limiter, worker, conf, mail.WithLogger(log))

	api := handler.New(svc, log, map[string]handler.HealthCheck{
		"postgres": db.Healthcheck(pool),
		"redis":    pkgredis.Healthcheck(rdb),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	dispatcher.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Error("dispatcher shutdown failed", slog.String("error", err.Error()))
	}
	return nil
}
