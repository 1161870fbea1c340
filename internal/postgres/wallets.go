package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type walletChange struct {
	OwnerId         string
	Currency        string
	TransactionType string
	Amount          decimal.Decimal
	ExternalRef     string
	SlotId          string
	Reference       string
	CreatedAt       time.Time
}

func (s *Service) RecordWalletTransaction(ctx context.Context, params store.WalletTransactionParams) (*models.Transaction, *models.Wallet, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	transaction, wallet, err := s.applyTransaction(ctx, tx, walletChange{
		OwnerId:         params.OwnerId,
		Currency:        params.Currency,
		TransactionType: params.TransactionType,
		Amount:          params.Amount,
		ExternalRef:     params.ExternalRef,
		Reference:       params.Reference,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", classifyError(err))
	}

	zap.L().Info("Transaction processed successfully",
		zap.String("transaction_id", transaction.Id),
		zap.String("owner_id", params.OwnerId),
		zap.String("currency", params.Currency),
		zap.String("new_balance", wallet.Balance.String()))
	return transaction, wallet, nil
}

// applyTransaction moves a wallet inside tx. The balance changes additively
// and the row lock taken by the UPDATE is held until tx ends.
func (s *Service) applyTransaction(ctx context.Context, tx *sqlx.Tx, change walletChange) (*models.Transaction, *models.Wallet, error) {
	if change.OwnerId == "" || change.Currency == "" {
		return nil, nil, fmt.Errorf("owner and currency are required")
	}
	if change.Amount.IsZero() {
		return nil, nil, fmt.Errorf("transaction amount cannot be zero")
	}
	if change.ExternalRef == "" {
		change.ExternalRef = "tx:" + uuid.New().String()
	}
	now := change.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	now = utc(now)

	if _, err := tx.ExecContext(ctx, queryEnsureWallet, uuid.New().String(), change.OwnerId, change.Currency, now); err != nil {
		return nil, nil, fmt.Errorf("failed to create wallet: %w", classifyError(err))
	}

	transactionId := uuid.New().String()
	var wallet models.Wallet
	err := tx.GetContext(ctx, &wallet, queryCreditWallet, change.Amount, transactionId, now, change.OwnerId, change.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: requested %s", store.ErrInsufficientFunds, change.Amount.Neg().String())
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update balance: %w", classifyError(err))
	}
	wallet.UpdatedAt = wallet.UpdatedAt.UTC()

	transaction := &models.Transaction{
		Id:              transactionId,
		OwnerId:         change.OwnerId,
		Currency:        change.Currency,
		TransactionType: change.TransactionType,
		Amount:          change.Amount,
		BalanceBefore:   wallet.Balance.Sub(change.Amount),
		BalanceAfter:    wallet.Balance,
		ExternalRef:     change.ExternalRef,
		SlotId:          change.SlotId,
		Reference:       change.Reference,
		CreatedAt:       now,
	}

	_, err = tx.ExecContext(ctx, queryInsertTransaction,
		transaction.Id, transaction.OwnerId, transaction.Currency, transaction.TransactionType,
		transaction.Amount, transaction.BalanceBefore, transaction.BalanceAfter,
		transaction.ExternalRef, transaction.SlotId, transaction.Reference, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert transaction: %w", classifyError(err))
	}

	if err := addJournalEntries(ctx, tx, transaction); err != nil {
		return nil, nil, fmt.Errorf("failed to add journal entries: %w", err)
	}

	return transaction, &wallet, nil
}

// addJournalEntries creates double-entry bookkeeping entries
func addJournalEntries(ctx context.Context, tx *sqlx.Tx, transaction *models.Transaction) error {
	userAccount := fmt.Sprintf("%s_%s", transaction.OwnerId, transaction.Currency)
	counterType, counterAccount := "system_liability", fmt.Sprintf("user_deposits_%s", transaction.Currency)
	switch transaction.TransactionType {
	case models.TransactionTypeSlotDebit, models.TransactionTypeClaim:
		counterType, counterAccount = "slot_escrow", fmt.Sprintf("slots_%s", transaction.Currency)
	}

	amount := transaction.Amount.Abs()
	userDebit, userCredit := amount, decimal.Zero
	if transaction.Amount.IsNegative() {
		userDebit, userCredit = decimal.Zero, amount
	}

	entries := [][4]any{
		{"user_asset", userAccount, userDebit, userCredit},
		{counterType, counterAccount, userCredit, userDebit},
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, queryInsertJournalEntry,
			uuid.New().String(), transaction.Id, e[0], e[1], e[2], e[3], transaction.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// GetWallet returns a zero wallet with version 0 for owners that have none
func (s *Service) GetWallet(ctx context.Context, ownerId, currency string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.GetContext(ctx, &wallet, queryGetWallet, ownerId, currency)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Wallet{OwnerId: ownerId, Currency: currency, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	wallet.UpdatedAt = wallet.UpdatedAt.UTC()
	return &wallet, nil
}

func (s *Service) ListWallets(ctx context.Context, ownerId string) ([]models.Wallet, error) {
	var wallets []models.Wallet
	if err := s.db.SelectContext(ctx, &wallets, queryGetOwnerWallets, ownerId); err != nil {
		return nil, fmt.Errorf("failed to get all wallets: %w", err)
	}
	for i := range wallets {
		wallets[i].UpdatedAt = wallets[i].UpdatedAt.UTC()
	}
	return wallets, nil
}

func (s *Service) GetTransactionHistory(ctx context.Context, ownerId, currency string, limit, offset int) ([]models.Transaction, error) {
	var transactions []models.Transaction
	if err := s.db.SelectContext(ctx, &transactions, queryGetTransactionHistory, ownerId, currency, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	for i := range transactions {
		transactions[i].CreatedAt = transactions[i].CreatedAt.UTC()
	}
	return transactions, nil
}

// ReconcileWallet compares the hot balance with the sum of its transactions.
// NUMERIC sums are exact, so the sum runs in SQL here.
func (s *Service) ReconcileWallet(ctx context.Context, ownerId, currency string) error {
	wallet, err := s.GetWallet(ctx, ownerId, currency)
	if err != nil {
		return fmt.Errorf("failed to get current balance: %w", err)
	}

	var calculated decimal.Decimal
	if err := s.db.GetContext(ctx, &calculated, queryReconcileWallet, ownerId, currency); err != nil {
		return fmt.Errorf("failed to calculate balance from transactions: %w", err)
	}

	if !wallet.Balance.Equal(calculated) {
		zap.L().Error("Balance reconciliation failed",
			zap.String("owner_id", ownerId),
			zap.String("currency", currency),
			zap.String("current_balance", wallet.Balance.String()),
			zap.String("calculated_balance", calculated.String()))
		return fmt.Errorf("balance mismatch: current=%s, calculated=%s", wallet.Balance.String(), calculated.String())
	}
	return nil
}
