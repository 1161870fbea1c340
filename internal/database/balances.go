package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"slot-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*models.Wallet, error) {
	var wallet models.Wallet
	var balanceStr string
	var updatedAt int64
	if err := row.Scan(&wallet.Id, &wallet.OwnerId, &wallet.Currency, &balanceStr,
		&wallet.LastTransactionId, &wallet.Version, &updatedAt); err != nil {
		return nil, err
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
	}
	wallet.Balance = balance
	wallet.UpdatedAt = fromMicros(updatedAt)
	return &wallet, nil
}

// GetWallet returns the current wallet for owner/currency (O(1) lookup).
// An owner with no wallet yet gets a zero wallet with version 0.
func (s *SubledgerService) GetWallet(ctx context.Context, ownerId, currency string) (*models.Wallet, error) {
	zap.L().Debug("Getting wallet", zap.String("owner_id", ownerId), zap.String("currency", currency))

	wallet, err := scanWallet(s.db.QueryRowContext(ctx, queryGetWallet, ownerId, currency))
	if errors.Is(err, sql.ErrNoRows) {
		// No wallet record means zero balance
		return &models.Wallet{OwnerId: ownerId, Currency: currency, Balance: decimal.Zero}, nil
	}
	if err != nil {
		zap.L().Error("Failed to get wallet", zap.String("owner_id", ownerId), zap.String("currency", currency), zap.Error(err))
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	return wallet, nil
}

// GetAllWallets returns every wallet of an owner
func (s *SubledgerService) GetAllWallets(ctx context.Context, ownerId string) ([]models.Wallet, error) {
	zap.L().Debug("Getting all wallets", zap.String("owner_id", ownerId))

	rows, err := s.db.QueryContext(ctx, queryGetOwnerWallets, ownerId)
	if err != nil {
		zap.L().Error("Failed to get all wallets", zap.String("owner_id", ownerId), zap.Error(err))
		return nil, fmt.Errorf("failed to get all wallets: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var wallets []models.Wallet
	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, *wallet)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during wallet row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating wallet rows: %w", err)
	}

	zap.L().Debug("Retrieved all wallets", zap.String("owner_id", ownerId), zap.Int("count", len(wallets)))
	return wallets, nil
}

// ReconcileBalance verifies that the wallet balance matches the sum of its transactions
func (s *SubledgerService) ReconcileBalance(ctx context.Context, ownerId, currency string) error {
	zap.L().Info("Reconciling balance", zap.String("owner_id", ownerId), zap.String("currency", currency))

	wallet, err := s.GetWallet(ctx, ownerId, currency)
	if err != nil {
		return fmt.Errorf("failed to get current balance: %w", err)
	}

	// Amounts are TEXT; summing in SQL would go through floating point.
	calculatedBalance, err := s.sumAmounts(ctx, queryWalletTransactionAmounts, ownerId, currency)
	if err != nil {
		return fmt.Errorf("failed to calculate balance from transactions: %w", err)
	}

	// Check if balances match (exact decimal comparison)
	if !wallet.Balance.Equal(calculatedBalance) {
		zap.L().Error("Balance reconciliation failed",
			zap.String("owner_id", ownerId),
			zap.String("currency", currency),
			zap.String("current_balance", wallet.Balance.String()),
			zap.String("calculated_balance", calculatedBalance.String()),
			zap.String("difference", wallet.Balance.Sub(calculatedBalance).String()))
		return fmt.Errorf("balance mismatch: current=%s, calculated=%s", wallet.Balance.String(), calculatedBalance.String())
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("owner_id", ownerId),
		zap.String("currency", currency),
		zap.String("balance", wallet.Balance.String()))
	return nil
}

func (s *SubledgerService) sumAmounts(ctx context.Context, query string, args ...any) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, err
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	total := decimal.Zero
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return decimal.Zero, err
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}
