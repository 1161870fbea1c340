package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProcessTransactionParams contains the parameters for processing a transaction
type ProcessTransactionParams struct {
	OwnerId         string
	Currency        string
	TransactionType string
	Amount          decimal.Decimal // signed: credits positive, debits negative
	ExternalRef     string
	SlotId          string
	Reference       string
	CreatedAt       time.Time
}

// ProcessTransaction atomically updates a wallet and records the transaction
func (s *SubledgerService) ProcessTransaction(ctx context.Context, params ProcessTransactionParams) (*models.Transaction, *models.Wallet, error) {
	zap.L().Info("Processing transaction",
		zap.String("owner_id", params.OwnerId),
		zap.String("currency", params.Currency),
		zap.String("type", params.TransactionType),
		zap.String("amount", params.Amount.String()),
		zap.String("external_ref", params.ExternalRef))

	// Start database transaction for atomicity
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", classifyError(err))
	}
	defer tx.Rollback()

	transaction, wallet, err := s.applyTransaction(ctx, tx, params)
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
		zap.String("old_balance", transaction.BalanceBefore.String()),
		zap.String("new_balance", transaction.BalanceAfter.String()))

	return transaction, wallet, nil
}

// applyTransaction moves a wallet by params.Amount inside an open transaction.
// Slot purchases and claims call it so the wallet change commits or rolls back
// together with the slot row.
func (s *SubledgerService) applyTransaction(ctx context.Context, tx *sql.Tx, params ProcessTransactionParams) (*models.Transaction, *models.Wallet, error) {
	if params.OwnerId == "" || params.Currency == "" {
		return nil, nil, fmt.Errorf("owner and currency are required")
	}
	if params.Amount.IsZero() {
		return nil, nil, fmt.Errorf("transaction amount cannot be zero")
	}
	if params.ExternalRef == "" {
		params.ExternalRef = "tx:" + uuid.New().String()
	}
	now := params.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	now = normalize(now)

	// Check for duplicate external reference
	var existingTxId string
	err := tx.QueryRowContext(ctx, queryCheckDuplicateTransaction, params.ExternalRef).Scan(&existingTxId)
	if err == nil {
		zap.L().Warn("Duplicate external reference detected, skipping",
			zap.String("external_ref", params.ExternalRef),
			zap.String("existing_internal_tx_id", existingTxId))
		return nil, nil, fmt.Errorf("%w: external_ref %s already exists", store.ErrDuplicateTransaction, params.ExternalRef)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("failed to check for duplicate transaction: %w", classifyError(err))
	}

	wallet, err := scanWallet(tx.QueryRowContext(ctx, queryGetWallet, params.OwnerId, params.Currency))
	if errors.Is(err, sql.ErrNoRows) {
		// Create new wallet record
		wallet = &models.Wallet{
			Id:        uuid.New().String(),
			OwnerId:   params.OwnerId,
			Currency:  params.Currency,
			Balance:   decimal.Zero,
			Version:   1,
			UpdatedAt: now,
		}
		_, err = tx.ExecContext(ctx, queryInsertWallet, wallet.Id, wallet.OwnerId, wallet.Currency, "0", wallet.Version, toMicros(now))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create wallet: %w", classifyError(err))
		}
	} else if err != nil {
		return nil, nil, fmt.Errorf("failed to get current balance: %w", classifyError(err))
	}

	currentBalance := wallet.Balance
	newBalance := currentBalance.Add(params.Amount)
	if params.Amount.IsNegative() && newBalance.IsNegative() {
		return nil, nil, fmt.Errorf("%w: balance %s, requested %s", store.ErrInsufficientFunds,
			currentBalance.String(), params.Amount.Neg().String())
	}

	transaction := &models.Transaction{
		Id:              uuid.New().String(),
		OwnerId:         params.OwnerId,
		Currency:        params.Currency,
		TransactionType: params.TransactionType,
		Amount:          params.Amount,
		BalanceBefore:   currentBalance,
		BalanceAfter:    newBalance,
		ExternalRef:     params.ExternalRef,
		SlotId:          params.SlotId,
		Reference:       params.Reference,
		CreatedAt:       now,
	}

	_, err = tx.ExecContext(ctx, queryInsertTransaction,
		transaction.Id, transaction.OwnerId, transaction.Currency, transaction.TransactionType,
		transaction.Amount.String(), transaction.BalanceBefore.String(), transaction.BalanceAfter.String(),
		transaction.ExternalRef, transaction.SlotId, transaction.Reference, toMicros(now))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert transaction: %w", classifyError(err))
	}

	// Update wallet balance (with optimistic locking)
	result, err := tx.ExecContext(ctx, queryUpdateWalletBalance,
		newBalance.String(), transaction.Id, toMicros(now), params.OwnerId, params.Currency, wallet.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update balance: %w", classifyError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	if err := s.addJournalEntries(ctx, tx, transaction); err != nil {
		return nil, nil, fmt.Errorf("failed to add journal entries: %w", err)
	}

	wallet.Balance = newBalance
	wallet.LastTransactionId = transaction.Id
	wallet.Version++
	wallet.UpdatedAt = now

	return transaction, wallet, nil
}

type journalEntry struct {
	accountType  string
	accountId    string
	debitAmount  decimal.Decimal
	creditAmount decimal.Decimal
}

// addJournalEntries creates double-entry bookkeeping entries
func (s *SubledgerService) addJournalEntries(ctx context.Context, tx *sql.Tx, transaction *models.Transaction) error {
	userAccount := fmt.Sprintf("%s_%s", transaction.OwnerId, transaction.Currency)

	// Deposits and withdrawals move against what we owe users; slot purchases
	// and claims move against the slot escrow.
	counterType, counterAccount := "system_liability", fmt.Sprintf("user_deposits_%s", transaction.Currency)
	switch transaction.TransactionType {
	case models.TransactionTypeSlotDebit, models.TransactionTypeClaim:
		counterType, counterAccount = "slot_escrow", fmt.Sprintf("slots_%s", transaction.Currency)
	}

	amount := transaction.Amount.Abs()
	var entries []journalEntry
	if transaction.Amount.IsPositive() {
		entries = []journalEntry{
			{"user_asset", userAccount, amount, decimal.Zero},
			{counterType, counterAccount, decimal.Zero, amount},
		}
	} else {
		entries = []journalEntry{
			{"user_asset", userAccount, decimal.Zero, amount},
			{counterType, counterAccount, amount, decimal.Zero},
		}
	}

	for _, entry := range entries {
		_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
			uuid.New().String(), transaction.Id, entry.accountType, entry.accountId,
			entry.debitAmount.String(), entry.creditAmount.String(), toMicros(transaction.CreatedAt))
		if err != nil {
			return err
		}
	}

	return nil
}

// GetTransactionHistory returns paginated transaction history for an owner
func (s *SubledgerService) GetTransactionHistory(ctx context.Context, ownerId, currency string, limit, offset int) ([]models.Transaction, error) {
	zap.L().Debug("Getting transaction history",
		zap.String("owner_id", ownerId),
		zap.String("currency", currency),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, ownerId, currency, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transactions []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var amountStr, balanceBeforeStr, balanceAfterStr string
		var createdAt int64
		err := rows.Scan(&tx.Id, &tx.OwnerId, &tx.Currency, &tx.TransactionType,
			&amountStr, &balanceBeforeStr, &balanceAfterStr,
			&tx.ExternalRef, &tx.SlotId, &tx.Reference, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.CreatedAt = fromMicros(createdAt)

		tx.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}

		tx.BalanceBefore, err = decimal.NewFromString(balanceBeforeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance before '%s': %w", balanceBeforeStr, err)
		}

		tx.BalanceAfter, err = decimal.NewFromString(balanceAfterStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance after '%s': %w", balanceAfterStr, err)
		}

		transactions = append(transactions, tx)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during transaction row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return transactions, nil
}

// classifyError maps driver errors onto store sentinels
func classifyError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch {
	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
		return fmt.Errorf("%w: %v", store.ErrDuplicateTransaction, err)
	case sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", store.ErrSlotLocked, err)
	}
	return err
}
