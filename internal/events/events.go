// Package events carries committed ledger mutations from the processors to
// whoever listens (websocket broadcaster, Formance mirror, notifier).
package events

import (
	"time"

	"slot-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Type names a ledger event; the same strings are the websocket message types.
type Type string

const (
	SlotUpdated    Type = "SLOT_UPDATED"
	BalanceUpdated Type = "BALANCE_UPDATED"
	SlotExpired    Type = "SLOT_EXPIRED"
	SlotClaimed    Type = "SLOT_CLAIMED"
)

// Event is a committed mutation. Exactly one payload is set, matching Type.
type Event struct {
	Type    Type
	OwnerId string
	At      time.Time
	Slot    *models.Slot
	Wallet  *models.Wallet
	Claim   *models.ClaimResult
}

func FromSlot(t Type, slot models.Slot, at time.Time) Event {
	return Event{Type: t, OwnerId: slot.OwnerId, At: at, Slot: &slot}
}

func FromWallet(wallet models.Wallet, at time.Time) Event {
	return Event{Type: BalanceUpdated, OwnerId: wallet.OwnerId, At: at, Wallet: &wallet}
}

// FromClaim expands a committed claim into SLOT_CLAIMED followed by
// BALANCE_UPDATED carrying the new balance.
func FromClaim(result models.ClaimResult, at time.Time) []Event {
	return []Event{
		{Type: SlotClaimed, OwnerId: result.Slot.OwnerId, At: at, Claim: &result},
		FromWallet(result.Wallet, at),
	}
}

// Message is the JSON envelope pushed to clients.
type Message struct {
	Type    Type                `json:"type"`
	OwnerId string              `json:"ownerId"`
	SentAt  time.Time           `json:"sentAt"`
	Slot    *models.SlotView    `json:"slot,omitempty"`
	Balance *BalancePayload     `json:"balance,omitempty"`
	Expired *SlotExpiredPayload `json:"expired,omitempty"`
	Claim   *models.ClaimView   `json:"claim,omitempty"`
}

// BalancePayload is the BALANCE_UPDATED body
type BalancePayload struct {
	Currency   string                     `json:"currency"`
	NewBalance decimal.Decimal            `json:"newBalance"`
	Version    int64                      `json:"version"`
	Display    map[string]decimal.Decimal `json:"display,omitempty"`
}

// SlotExpiredPayload is the SLOT_EXPIRED body
type SlotExpiredPayload struct {
	SlotId          string          `json:"slotId"`
	AccruedEarnings decimal.Decimal `json:"accruedEarnings"`
	ExpiredAt       time.Time       `json:"expiredAt"`
}
