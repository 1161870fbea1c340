package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slot-ledger-go/internal/common"
	"slot-ledger-go/internal/config"
	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/predictor"
	"slot-ledger-go/internal/syncclient"

	"go.uber.org/zap"
)

const clearScreen = "\033[H\033[2J"

func render(p *predictor.Predictor, currency string, stale bool) {
	now := time.Now()
	estimates := p.PredictAll(now)

	var b []byte
	b = append(b, clearScreen...)
	b = fmt.Appendf(b, "Slot earnings  %s  (server clock offset %s)\n", now.Format("15:04:05"), p.Offset().Round(time.Millisecond))
	if stale {
		b = append(b, "offline: estimating from the last known state\n"...)
	}

	if wallet, ok := p.Wallet(currency); ok {
		b = fmt.Appendf(b, "\nWallet: %s %s\n", wallet.Balance.String(), currency)
	}

	b = append(b, '\n')
	if len(estimates) == 0 {
		b = append(b, "No slots yet\n"...)
	}
	for i, e := range estimates {
		b = fmt.Appendf(b, "%s %-11s %-18s %s / %s %s\n",
			common.BoxPrefix(i == len(estimates)-1),
			common.ShortId(e.Slot.Id),
			e.Slot.State,
			e.Earning.String(),
			e.Slot.Cap.String(),
			e.Slot.Currency)
		if e.Slot.State == models.SlotStateActive {
			b = fmt.Appendf(b, "   expires in %s\n", time.Until(e.Slot.ExpiresAt.Add(-p.Offset())).Round(time.Second))
		}
	}
	os.Stdout.Write(b)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	tokenFlag := flag.String("token", os.Getenv("SESSION_TOKEN"), "Session token from the token command (default: SESSION_TOKEN)")
	serverFlag := flag.String("server", cfg.Client.ServerURL, "Engine base URL")
	cacheFlag := flag.String("cache", cfg.Client.CacheFile, "File that keeps the last state across restarts (optional)")
	refreshFlag := flag.Duration("refresh", time.Second, "Screen refresh interval")
	flag.Parse()

	if *tokenFlag == "" {
		logger.Fatal("A session token is required (--token or SESSION_TOKEN)")
	}

	var cache predictor.Cache
	if *cacheFlag != "" {
		cache = predictor.NewFileCache(*cacheFlag)
	}
	p := predictor.New(cache)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	changed := make(chan struct{}, 1)
	client := syncclient.New(syncclient.Config{
		ServerURL:    *serverFlag,
		Token:        *tokenFlag,
		PullInterval: cfg.Client.PullInterval,
		OnChange: func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	}, p)

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	ticker := time.NewTicker(*refreshFlag)
	defer ticker.Stop()

	// No pull or push for this long means the feed is down
	staleAfter := 2 * cfg.Client.PullInterval
	var lastSync time.Time
	for {
		select {
		case err := <-done:
			if errors.Is(err, syncclient.ErrUnauthorized) {
				logger.Fatal("The engine rejected the session token; issue a new one")
			}
			if err != nil {
				logger.Fatal("Sync client stopped", zap.Error(err))
			}
			return
		case <-changed:
			lastSync = time.Now()
			render(p, cfg.Ledger.SettlementCurrency, false)
		case <-ticker.C:
			render(p, cfg.Ledger.SettlementCurrency, time.Since(lastSync) > staleAfter)
		}
	}
}
