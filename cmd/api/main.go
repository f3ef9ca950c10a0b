package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/payo-app/payo_vault/internal/config"
	"github.com/payo-app/payo_vault/internal/infra"
	"github.com/payo-app/payo_vault/internal/logging"
	"github.com/payo-app/payo_vault/internal/notification"
	"github.com/payo-app/payo_vault/internal/routes"
	"github.com/payo-app/payo_vault/internal/server"
	"github.com/payo-app/payo_vault/internal/vault"
)

// streamMaxLen bounds the Redis event stream.
const streamMaxLen = 100_000

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("exit", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := infra.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if cache != nil {
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", slog.Any("error", err))
			}
		}()
	}

	tok, faucet, err := infra.NewToken(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("bind token: %w", err)
	}

	v := vault.New(store.Ledger, tok, logger)
	if cfg.VaultOwner != "" {
		initialized, err := v.Bootstrap(ctx, common.HexToAddress(cfg.VaultOwner), common.HexToAddress(cfg.VaultRelayer))
		if err != nil {
			return fmt.Errorf("bootstrap vault: %w", err)
		}
		if initialized {
			logger.Info("vault bootstrapped from environment")
		}
	}

	notifiers := notification.Multi{notification.NewLoggerNotifier(logger)}
	if cache != nil {
		notifiers = append(notifiers, notification.NewStreamNotifier(cache, cfg.EventStream, streamMaxLen))
	}
	relay := notification.NewRelay(store.Ledger, notifiers, cfg.EventPollInterval, logger)

	srv, err := server.New(routes.Deps{
		Cfg:       cfg,
		DB:        store.Pool,
		Cache:     cache,
		Logger:    logger,
		Store:     store.Ledger,
		Vault:     v,
		Faucet:    faucet,
		AccessLog: cfg.IsDev(),
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", slog.String("addr", cfg.Address()), slog.String("store", store.Backend))
		return srv.Listen()
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		// Deliver whatever the last requests committed.
		if _, err := relay.Flush(shutdownCtx); err != nil {
			logger.Warn("final event flush failed", slog.Any("error", err))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
