/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"os/signal"
	"syscall"

	"slot-ledger-go/internal/api"
	"slot-ledger-go/internal/broadcast"
	"slot-ledger-go/internal/common"
	"slot-ledger-go/internal/config"
	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/formance"
	"slot-ledger-go/internal/lease"
	"slot-ledger-go/internal/metrics"
	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/notify"
	"slot-ledger-go/internal/processor"
	"slot-ledger-go/internal/server"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const subscriberBuffer = 1024

func newLease(ctx context.Context, cfg models.RedisConfig) (lease.Lease, func()) {
	if !cfg.Enabled {
		return lease.Noop{}, func() {}
	}
	client, err := lease.Connect(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		zap.L().Fatal("Failed to connect to redis", zap.Error(err))
	}
	zap.L().Info("Processor leases held in redis", zap.String("addr", cfg.Addr))
	return lease.NewRedis(client, cfg.LeaseTTL), func() { client.Close() }
}

func ledgerOptions(cfg models.LedgerConfig) []api.Option {
	if cfg.DefaultWeeklyRate == "" {
		return nil
	}
	rate, err := decimal.NewFromString(cfg.DefaultWeeklyRate)
	if err != nil || rate.IsNegative() {
		zap.L().Fatal("Invalid DEFAULT_WEEKLY_RATE", zap.String("value", cfg.DefaultWeeklyRate), zap.Error(err))
	}
	return []api.Option{api.WithDefaultRate(rate)}
}

func batch(opts processor.Options, size int) processor.Options {
	opts.BatchSize = size
	return opts
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	if cfg.Server.JWTSecret == "" {
		zap.L().Fatal("JWT_SECRET must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zap.L().Info("Starting slot ledger engine")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	m := metrics.New()
	bus := events.NewBus()
	bus.OnDrop(m.CountDropped)

	ledger := api.NewLedgerService(services.Store, services.Catalog, bus, ledgerOptions(cfg.Ledger)...)
	hub := broadcast.NewHub(ledger.Views(), m, cfg.Server.SendBufferSize)
	srv := server.New(cfg.Server, ledger, hub, m)

	leases, closeLeases := newLease(ctx, cfg.Redis)
	defer closeLeases()

	// Subscribers attach before the first tick so nothing committed is missed
	g, gctx := errgroup.WithContext(ctx)
	wsSub := bus.Subscribe("websocket", subscriberBuffer)
	g.Go(func() error {
		hub.Run(gctx, wsSub)
		return nil
	})

	if cfg.Formance.Enabled {
		svc, err := formance.NewService(ctx, cfg.Formance, services.Catalog.Settlement.Precision)
		if err != nil {
			zap.L().Fatal("Failed to initialize Formance mirror", zap.Error(err))
		}
		mirror := formance.NewMirror(svc)
		sub := bus.Subscribe("formance", subscriberBuffer)
		g.Go(func() error {
			if _, err := mirror.Backfill(gctx, services.Store); err != nil {
				zap.L().Warn("Formance backfill incomplete", zap.Error(err))
			}
			mirror.Run(gctx, sub)
			return nil
		})
	}

	if cfg.Telegram.Enabled {
		sender, err := notify.NewTelegramSender(cfg.Telegram.BotToken)
		if err != nil {
			zap.L().Fatal("Failed to initialize Telegram notifier", zap.Error(err))
		}
		notifier := notify.New(sender)
		sub := bus.Subscribe("telegram", subscriberBuffer)
		g.Go(func() error {
			notifier.Run(gctx, sub)
			return nil
		})
	}

	procOpts := processor.Options{
		Precision: services.Catalog.Settlement.Precision,
		Publisher: bus,
		Metrics:   m,
	}
	supervisor := processor.NewSupervisor(processor.SupervisorConfig{
		Lease:       leases,
		Metrics:     m,
		TickTimeout: cfg.Processor.TickTimeout,
	})
	supervisor.Add(processor.NewAccrualProcessor(services.Store, batch(procOpts, cfg.Processor.AccrualBatchSize)),
		cfg.Processor.AccrualInterval)
	supervisor.Add(processor.NewExpirationProcessor(services.Store, batch(procOpts, cfg.Processor.ExpiryBatchSize)),
		cfg.Processor.ExpirationInterval)
	if cfg.Processor.AutoClaimEnabled {
		supervisor.Add(processor.NewAutoClaimProcessor(services.Store, batch(procOpts, cfg.Processor.ClaimBatchSize)),
			cfg.Processor.AutoClaimInterval)
	} else {
		zap.L().Info("Auto-claim disabled; expired slots wait for a manual claim")
	}

	g.Go(srv.Start)
	supervisor.Start()

	zap.L().Info("Engine running",
		zap.String("addr", cfg.Server.Addr),
		zap.Duration("accrual_interval", cfg.Processor.AccrualInterval),
		zap.Duration("expiration_interval", cfg.Processor.ExpirationInterval),
		zap.Bool("auto_claim", cfg.Processor.AutoClaimEnabled))
	zap.L().Info("Press Ctrl+C to stop")

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("Shutdown signal received, stopping engine...")

		supervisor.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		bus.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("Engine stopped with error", zap.Error(err))
		return
	}
	zap.L().Info("Engine stopped gracefully")
}
