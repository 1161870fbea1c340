package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"slot-ledger-go/internal/database"
	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/postgres"
	"slot-ledger-go/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	Store   store.SlotStore
	Catalog *CurrencyCatalog
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices opens the configured ledger backend and loads the
// currency catalogue.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	catalog, err := LoadCurrencyCatalog(cfg.Ledger)
	if err != nil {
		return nil, err
	}

	slotStore, err := InitializeStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Ledger ready",
		zap.String("backend", cfg.Ledger.Backend),
		zap.String("settlement_currency", catalog.Settlement.Symbol),
		zap.Int32("precision", catalog.Settlement.Precision),
		zap.Int("display_currencies", len(catalog.Display)))

	return &Services{Store: slotStore, Catalog: catalog}, nil
}

// InitializeStore opens just the ledger backend.
// Useful for read-only operations like querying balances
func InitializeStore(ctx context.Context, cfg *models.Config) (store.SlotStore, error) {
	switch strings.ToLower(cfg.Ledger.Backend) {
	case "", "sqlite":
		service, err := database.NewService(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize sqlite ledger: %w", err)
		}
		return service, nil
	case "postgres":
		service, err := postgres.NewService(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize postgres ledger: %w", err)
		}
		return service, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

func (cs *Services) Close() {
	if cs.Store != nil {
		cs.Store.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
