package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SlotState is the lifecycle position of a slot
type SlotState string

const (
	SlotStateActive           SlotState = "ACTIVE"
	SlotStateExpiredUnclaimed SlotState = "EXPIRED_UNCLAIMED"
	SlotStateClaimed          SlotState = "CLAIMED"
)

// Valid reports whether s is a known state
func (s SlotState) Valid() bool {
	switch s {
	case SlotStateActive, SlotStateExpiredUnclaimed, SlotStateClaimed:
		return true
	}
	return false
}

// CanTransitionTo enforces ACTIVE -> EXPIRED_UNCLAIMED -> CLAIMED with no skips.
func (s SlotState) CanTransitionTo(next SlotState) bool {
	switch s {
	case SlotStateActive:
		return next == SlotStateExpiredUnclaimed
	case SlotStateExpiredUnclaimed:
		return next == SlotStateClaimed
	}
	return false
}

// Slot is one principal deposit earning interest over a fixed term
type Slot struct {
	Id                  string          `db:"id"`
	OwnerId             string          `db:"owner_id"`
	Currency            string          `db:"currency"`
	Principal           decimal.Decimal `db:"principal"`
	EffectiveWeeklyRate decimal.Decimal `db:"effective_weekly_rate"`
	CreatedAt           time.Time       `db:"created_at"`
	ExpiresAt           time.Time       `db:"expires_at"`
	LastAccruedAt       time.Time       `db:"last_accrued_at"`
	AccruedEarnings     decimal.Decimal `db:"accrued_earnings"`
	State               SlotState       `db:"state"`
	LockVersion         int64           `db:"lock_version"`
	ExpiredAt           *time.Time      `db:"expired_at"`
	ClaimedAt           *time.Time      `db:"claimed_at"`
}

// Payout is what a claim credits to the owner's wallet
func (s *Slot) Payout() decimal.Decimal {
	return s.Principal.Add(s.AccruedEarnings)
}

// ClaimResult is the committed outcome of a claim transaction
type ClaimResult struct {
	Slot        Slot
	Transaction Transaction
	Wallet      Wallet
}
