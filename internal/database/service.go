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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.SlotStore.
var _ store.SlotStore = (*Service)(nil)

type Service struct {
	db        *sql.DB
	subledger *SubledgerService
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}
	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", dsn(cfg.Path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after ping failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service, err := newServiceFromDB(db)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after schema failure", zap.Error(closeErr))
		}
		return nil, err
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// dsn enables WAL, a busy timeout, and BEGIN IMMEDIATE so that writers
// serialize on the database lock instead of failing on upgrade.
func dsn(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=%d&_txlock=immediate",
		path, busyTimeout.Milliseconds())
}

func newServiceFromDB(db *sql.DB) (*Service, error) {
	subledger := NewSubledgerService(db)
	service := &Service{db: db, subledger: subledger}
	if err := service.initSchema(); err != nil {
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	// Initialize subledger schema
	if err := subledger.InitSchema(); err != nil {
		return nil, fmt.Errorf("unable to initialize subledger schema: %w", err)
	}
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *Service) initSchema() error {
	schema := `
	-- Slots: one principal deposit earning over a fixed term
	CREATE TABLE IF NOT EXISTS slots (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		principal TEXT NOT NULL,
		effective_weekly_rate TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		last_accrued_at INTEGER NOT NULL,
		accrued_earnings TEXT NOT NULL DEFAULT '0',
		state TEXT NOT NULL DEFAULT 'ACTIVE' CHECK (state IN ('ACTIVE', 'EXPIRED_UNCLAIMED', 'CLAIMED')),
		lock_version INTEGER NOT NULL DEFAULT 1,
		expired_at INTEGER,
		claimed_at INTEGER,
		CHECK (expires_at > created_at),
		CHECK (last_accrued_at >= created_at AND last_accrued_at <= expires_at)
	);

	CREATE INDEX IF NOT EXISTS idx_slots_owner ON slots(owner_id);
	-- Batch selection per processor
	CREATE INDEX IF NOT EXISTS idx_slots_state_last_accrued ON slots(state, last_accrued_at);
	CREATE INDEX IF NOT EXISTS idx_slots_state_expires ON slots(state, expires_at);
	CREATE INDEX IF NOT EXISTS idx_slots_state_expired ON slots(state, expired_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Subledger convenience methods

func (s *Service) RecordWalletTransaction(ctx context.Context, params store.WalletTransactionParams) (*models.Transaction, *models.Wallet, error) {
	return s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		OwnerId:         params.OwnerId,
		Currency:        params.Currency,
		TransactionType: params.TransactionType,
		Amount:          params.Amount,
		ExternalRef:     params.ExternalRef,
		Reference:       params.Reference,
	})
}

func (s *Service) GetWallet(ctx context.Context, ownerId, currency string) (*models.Wallet, error) {
	return s.subledger.GetWallet(ctx, ownerId, currency)
}

func (s *Service) ListWallets(ctx context.Context, ownerId string) ([]models.Wallet, error) {
	return s.subledger.GetAllWallets(ctx, ownerId)
}

func (s *Service) GetTransactionHistory(ctx context.Context, ownerId, currency string, limit, offset int) ([]models.Transaction, error) {
	return s.subledger.GetTransactionHistory(ctx, ownerId, currency, limit, offset)
}

func (s *Service) ReconcileWallet(ctx context.Context, ownerId, currency string) error {
	return s.subledger.ReconcileBalance(ctx, ownerId, currency)
}

func (s *Service) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryListOwners)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating owner rows: %w", err)
	}
	return owners, nil
}

// toMicros stores instants as UTC unix microseconds.
func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

// normalize drops sub-microsecond precision so values round-trip exactly.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
