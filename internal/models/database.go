package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet represents current balance state (hot data)
type Wallet struct {
	Id                string          `db:"id"`
	OwnerId           string          `db:"owner_id"`
	Currency          string          `db:"currency"`
	Balance           decimal.Decimal `db:"balance"`
	LastTransactionId string          `db:"last_transaction_id"`
	Version           int64           `db:"version"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

// Transaction types recorded against a wallet
const (
	TransactionTypeDeposit    = "deposit"
	TransactionTypeWithdrawal = "withdrawal"
	TransactionTypeSlotDebit  = "slot_purchase"
	TransactionTypeClaim      = "claim"
)

// Transaction represents immutable wallet history (cold data)
type Transaction struct {
	Id              string          `db:"id"`
	OwnerId         string          `db:"owner_id"`
	Currency        string          `db:"currency"`
	TransactionType string          `db:"transaction_type"`
	Amount          decimal.Decimal `db:"amount"`
	BalanceBefore   decimal.Decimal `db:"balance_before"`
	BalanceAfter    decimal.Decimal `db:"balance_after"`
	ExternalRef     string          `db:"external_ref"`
	SlotId          string          `db:"slot_id"`
	Reference       string          `db:"reference"`
	CreatedAt       time.Time       `db:"created_at"`
}

// ClaimRef is the unique wallet reference of a slot's claim credit
func ClaimRef(slotId string) string {
	return "claim:" + slotId
}

// PurchaseRef is the unique wallet reference of a slot's principal debit
func PurchaseRef(slotId string) string {
	return "purchase:" + slotId
}
