package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"ticketgate/internal/app/authority/api"
	"ticketgate/internal/app/authority/config"
	"ticketgate/internal/domain/validation"
	"ticketgate/internal/infrastructure/audit"
	"ticketgate/internal/infrastructure/ratelimit"
	"ticketgate/internal/infrastructure/storage/postgres"
	"ticketgate/internal/utils/clock"
	"ticketgate/internal/utils/logger"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.Env)

	if err := run(cfg, log); err != nil {
		log.Error("authority stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := postgres.New(ctx, cfg.DB.DatabaseURI, nil)
	if err != nil {
		return err
	}
	defer storage.Close()

	var publisher validation.Publisher = validation.NopPublisher()
	if cfg.AMQP.URL != "" {
		p, err := audit.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Queue, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := p.Close(); err != nil {
				log.Warn("close amqp publisher", "error", err)
			}
		}()
		publisher = p
		log.Info("conflict audit enabled", "queue", cfg.AMQP.Queue)
	}

	clk := clock.NewSystem()

	var limiter ratelimit.Limiter
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.Redis.Limit, cfg.Redis.Window, clk)
		log.Info("rate limiting enabled", "limit", cfg.Redis.Limit, "window", cfg.Redis.Window)
	}

	handler := api.New(api.Deps{
		Storage:       storage,
		Publisher:     publisher,
		Limiter:       limiter,
		Clock:         clk,
		Secret:        cfg.Auth.Secret,
		TokenTTL:      cfg.Auth.TokenTTL,
		EnrollmentKey: cfg.Auth.EnrollmentKey,
		Sync: validation.ServiceConfig{
			Strategy:   cfg.Sync.Strategy,
			MaxBatch:   cfg.Sync.MaxBatch,
			MaxChanges: cfg.Sync.MaxChanges,
		},
	}, log)

	srv := &http.Server{
		Addr:              cfg.Server.RunAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("authority listening", "address", cfg.Server.RunAddress, "strategy", cfg.Sync.Strategy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down authority")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
