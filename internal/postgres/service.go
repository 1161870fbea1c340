package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.SlotStore.
var _ store.SlotStore = (*Service)(nil)

var connectBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
	Name:        "postgres",
	MaxRequests: 3,
	Interval:    10 * time.Second,
	Timeout:     30 * time.Second,
	ReadyToTrip: func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures > 5
	},
})

// Service is the Postgres slot store. Row locks let several engine
// instances share one database.
type Service struct {
	db *sqlx.DB
}

func NewService(ctx context.Context, cfg models.PostgresConfig) (*Service, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres url cannot be empty")
	}

	result, err := connectBreaker.Execute(func() (interface{}, error) {
		db, err := sqlx.Open("postgres", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database connection: %w", err)
		}

		maxOpen := cfg.MaxOpenConns
		if maxOpen == 0 {
			maxOpen = 25
		}
		maxIdle := cfg.MaxIdleConns
		if maxIdle == 0 {
			maxIdle = 5
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxIdle)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(5 * time.Minute)

		pingTimeout := cfg.PingTimeout
		if pingTimeout <= 0 {
			pingTimeout = 10 * time.Second
		}
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("circuit breaker: %w", err)
	}
	db := result.(*sqlx.DB)

	if cfg.MigrateOnStart {
		if err := RunMigrations(db.DB); err != nil {
			db.Close()
			return nil, err
		}
	}

	zap.L().Info("Postgres service initialized successfully")
	return &Service{db: db}, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close postgres connection", zap.Error(err))
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *Service) ListOwners(ctx context.Context) ([]string, error) {
	var owners []string
	if err := s.db.SelectContext(ctx, &owners, queryListOwners); err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	return owners, nil
}

const (
	pqUniqueViolation  = "23505"
	pqLockNotAvailable = "55P03"
	pqSerialization    = "40001"
	pqDeadlock         = "40P01"
)

// classifyError maps driver errors onto store sentinels
func classifyError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return fmt.Errorf("%w: %v", store.ErrDuplicateTransaction, err)
	case pqLockNotAvailable:
		return fmt.Errorf("%w: %v", store.ErrSlotLocked, err)
	case pqSerialization, pqDeadlock:
		return fmt.Errorf("%w: %v", store.ErrConcurrentModification, err)
	}
	return err
}

func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
