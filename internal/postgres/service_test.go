package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		code pq.ErrorCode
		want error
	}{
		{pqUniqueViolation, store.ErrDuplicateTransaction},
		{pqLockNotAvailable, store.ErrSlotLocked},
		{pqSerialization, store.ErrConcurrentModification},
		{pqDeadlock, store.ErrConcurrentModification},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := classifyError(fmt.Errorf("wrapped: %w", &pq.Error{Code: tt.code}))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	plain := errors.New("boom")
	assert.Equal(t, plain, classifyError(plain))
}

func TestLockQueries(t *testing.T) {
	// Accrual and expiry rely on the lock_version guard
	for _, q := range []string{queryApplyAccrual, queryExpireSlot} {
		assert.NotContains(t, q, "SKIP LOCKED")
		assert.Contains(t, q, "lock_version = $")
	}
	assert.NotContains(t, queryAccrualCandidates, "FOR UPDATE")
	assert.NotContains(t, queryExpiryCandidates, "FOR UPDATE")
	assert.True(t, strings.HasSuffix(queryLockSlotSkipLocked, "FOR UPDATE SKIP LOCKED"))
	assert.NotContains(t, queryLockSlot, "SKIP LOCKED")
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "000001_slot_ledger.down.sql", entries[0].Name())
	assert.Equal(t, "000001_slot_ledger.up.sql", entries[1].Name())
}

// newTestService connects to POSTGRES_TEST_URL; each test gets fresh owner ids.
func newTestService(t *testing.T) *Service {
	t.Helper()
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}

	service, err := NewService(context.Background(), models.PostgresConfig{
		URL:            url,
		MaxOpenConns:   10,
		MaxIdleConns:   2,
		PingTimeout:    5 * time.Second,
		MigrateOnStart: true,
	})
	require.NoError(t, err)
	t.Cleanup(service.Close)
	return service
}

func createExpiredSlot(t *testing.T, service *Service, ownerId string) *models.Slot {
	t.Helper()
	ctx := context.Background()

	_, _, err := service.RecordWalletTransaction(ctx, store.WalletTransactionParams{
		OwnerId:         ownerId,
		Currency:        "USDT",
		TransactionType: models.TransactionTypeDeposit,
		Amount:          decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	slot, wallet, err := service.CreateSlot(ctx, store.CreateSlotParams{
		OwnerId:             ownerId,
		Currency:            "USDT",
		Principal:           decimal.NewFromInt(100),
		EffectiveWeeklyRate: decimal.RequireFromString("0.30"),
		CreatedAt:           time.Now().Add(-8 * 24 * time.Hour),
		Term:                7 * 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.True(t, wallet.Balance.IsZero())

	expired, err := service.ExpireSlot(ctx, store.ExpireUpdate{
		SlotId:          slot.Id,
		ExpectedVersion: slot.LockVersion,
		AccruedEarnings: decimal.NewFromInt(30),
		LastAccruedAt:   slot.ExpiresAt,
		ExpiredAt:       time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, models.SlotStateExpiredUnclaimed, expired.State)
	return expired
}

func TestClaimSlot_Integration(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	owner := "pg-" + uuid.New().String()

	slot := createExpiredSlot(t, service, owner)

	result, err := service.ClaimSlot(ctx, store.ClaimParams{SlotId: slot.Id, OwnerId: owner})
	require.NoError(t, err)
	assert.Equal(t, models.SlotStateClaimed, result.Slot.State)
	assert.True(t, result.Wallet.Balance.Equal(decimal.NewFromInt(130)), "balance %s", result.Wallet.Balance)

	_, err = service.ClaimSlot(ctx, store.ClaimParams{SlotId: slot.Id})
	assert.ErrorIs(t, err, store.ErrSlotAlreadyClaimed)

	require.NoError(t, service.ReconcileWallet(ctx, owner, "USDT"))
	require.NoError(t, service.VerifyClaimConservation(ctx))
}

func TestClaimSlot_ConcurrentWorkersCreditOnce(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	owner := "pg-" + uuid.New().String()
	slot := createExpiredSlot(t, service, owner)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.ClaimSlot(ctx, store.ClaimParams{SlotId: slot.Id, SkipLocked: true})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, store.ErrSlotAlreadyClaimed) || store.IsContention(err), "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	wallet, err := service.GetWallet(ctx, owner, "USDT")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(130)), "balance %s", wallet.Balance)
}
