package store

import (
	"context"
	"errors"
	"time"

	"slot-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrSlotLocked             = errors.New("slot is locked by another worker")
	ErrSlotNotFound           = errors.New("slot not found")
	ErrSlotNotExpired         = errors.New("slot has not expired yet")
	ErrSlotAlreadyClaimed     = errors.New("slot already claimed")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidTransition      = errors.New("invalid slot state transition")
)

// IsContention reports whether err means another worker holds the slot and
// the caller should skip it until the next tick.
func IsContention(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrSlotLocked)
}

// CreateSlotParams debits the owner's wallet and opens an ACTIVE slot.
type CreateSlotParams struct {
	SlotId              string // optional, generated when empty
	OwnerId             string
	Currency            string
	Principal           decimal.Decimal
	EffectiveWeeklyRate decimal.Decimal
	CreatedAt           time.Time
	Term                time.Duration
}

// AccrualUpdate advances a slot whose snapshot was read at ExpectedVersion.
type AccrualUpdate struct {
	SlotId          string
	ExpectedVersion int64
	AccruedEarnings decimal.Decimal
	LastAccruedAt   time.Time
}

// ExpireUpdate finalizes an ACTIVE slot to EXPIRED_UNCLAIMED.
type ExpireUpdate struct {
	SlotId          string
	ExpectedVersion int64
	AccruedEarnings decimal.Decimal
	LastAccruedAt   time.Time
	ExpiredAt       time.Time
}

// ClaimParams credits principal + earnings and retires the slot.
type ClaimParams struct {
	SlotId    string
	OwnerId   string // when set, the slot must belong to this owner
	ClaimedAt time.Time
	// SkipLocked makes a backend with row locks give up with ErrSlotLocked
	// instead of waiting on a slot held by another worker.
	SkipLocked bool
}

// WalletTransactionParams records an external credit or debit.
type WalletTransactionParams struct {
	OwnerId         string
	Currency        string
	TransactionType string
	Amount          decimal.Decimal // signed
	ExternalRef     string
	Reference       string
}

// SlotStore defines the contract that every backend (SQLite, Postgres, ...) must satisfy.
type SlotStore interface {
	// --- Slots ---
	CreateSlot(ctx context.Context, params CreateSlotParams) (*models.Slot, *models.Wallet, error)
	GetSlot(ctx context.Context, slotId string) (*models.Slot, error)
	ListOwnerSlots(ctx context.Context, ownerId string) ([]models.Slot, error)
	ListAccrualCandidates(ctx context.Context, now time.Time, limit int) ([]models.Slot, error)
	ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]models.Slot, error)
	ListClaimCandidates(ctx context.Context, limit int) ([]models.Slot, error)
	ApplyAccrual(ctx context.Context, update AccrualUpdate) (*models.Slot, error)
	ExpireSlot(ctx context.Context, update ExpireUpdate) (*models.Slot, error)
	ClaimSlot(ctx context.Context, params ClaimParams) (*models.ClaimResult, error)

	// --- Wallets ---
	RecordWalletTransaction(ctx context.Context, params WalletTransactionParams) (*models.Transaction, *models.Wallet, error)
	GetWallet(ctx context.Context, ownerId, currency string) (*models.Wallet, error)
	ListWallets(ctx context.Context, ownerId string) ([]models.Wallet, error)
	ListOwners(ctx context.Context) ([]string, error)
	GetTransactionHistory(ctx context.Context, ownerId, currency string, limit, offset int) ([]models.Transaction, error)

	// --- Audit ---
	ReconcileWallet(ctx context.Context, ownerId, currency string) error
	VerifyClaimConservation(ctx context.Context) error

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}
