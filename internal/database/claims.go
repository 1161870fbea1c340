package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ClaimSlot retires an EXPIRED_UNCLAIMED slot and credits principal plus
// earnings in a single transaction. SkipLocked has no effect here: SQLite
// serializes writers on BEGIN IMMEDIATE, so a second claimer waits and then
// observes CLAIMED.
func (s *Service) ClaimSlot(ctx context.Context, params store.ClaimParams) (*models.ClaimResult, error) {
	claimedAt := params.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = time.Now()
	}
	claimedAt = normalize(claimedAt)
	origin := models.GetClaimOrigin(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", classifyError(err))
	}
	defer tx.Rollback()

	slot, err := scanSlot(tx.QueryRowContext(ctx, queryGetSlot, params.SlotId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrSlotNotFound, params.SlotId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read slot: %w", classifyError(err))
	}

	// Another owner's slot looks the same as a missing one
	if params.OwnerId != "" && slot.OwnerId != params.OwnerId {
		return nil, fmt.Errorf("%w: %s", store.ErrSlotNotFound, params.SlotId)
	}
	switch slot.State {
	case models.SlotStateClaimed:
		return nil, fmt.Errorf("%w: %s", store.ErrSlotAlreadyClaimed, params.SlotId)
	case models.SlotStateActive:
		return nil, fmt.Errorf("%w: %s expires at %s", store.ErrSlotNotExpired, params.SlotId, slot.ExpiresAt.Format(time.RFC3339))
	}

	result, err := tx.ExecContext(ctx, queryClaimSlot, toMicros(claimedAt), slot.Id, slot.LockVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to mark slot claimed: %w", classifyError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("claim of slot %s failed - %w", slot.Id, store.ErrConcurrentModification)
	}

	payout := slot.Payout()
	transaction, wallet, err := s.subledger.applyTransaction(ctx, tx, ProcessTransactionParams{
		OwnerId:         slot.OwnerId,
		Currency:        slot.Currency,
		TransactionType: models.TransactionTypeClaim,
		Amount:          payout,
		ExternalRef:     models.ClaimRef(slot.Id),
		SlotId:          slot.Id,
		Reference:       origin + " claim",
		CreatedAt:       claimedAt,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", classifyError(err))
	}

	slot.State = models.SlotStateClaimed
	slot.ClaimedAt = &claimedAt
	slot.LockVersion++

	zap.L().Info("Slot claimed",
		zap.String("slot_id", slot.Id),
		zap.String("owner_id", slot.OwnerId),
		zap.String("origin", origin),
		zap.String("payout", payout.String()),
		zap.String("new_balance", wallet.Balance.String()))

	return &models.ClaimResult{Slot: *slot, Transaction: *transaction, Wallet: *wallet}, nil
}

// VerifyClaimConservation checks that claim credits equal the payouts of
// CLAIMED slots, per currency.
func (s *Service) VerifyClaimConservation(ctx context.Context) error {
	expected := map[string]decimal.Decimal{}
	slots, err := s.db.QueryContext(ctx, queryClaimedSlotPayouts)
	if err != nil {
		return fmt.Errorf("failed to read claimed slots: %w", err)
	}
	for slots.Next() {
		var currency, principalStr, accruedStr string
		if err := slots.Scan(&currency, &principalStr, &accruedStr); err != nil {
			slots.Close()
			return fmt.Errorf("failed to scan claimed slot: %w", err)
		}
		principal, err := decimal.NewFromString(principalStr)
		if err != nil {
			slots.Close()
			return fmt.Errorf("failed to parse principal '%s': %w", principalStr, err)
		}
		accrued, err := decimal.NewFromString(accruedStr)
		if err != nil {
			slots.Close()
			return fmt.Errorf("failed to parse accrued '%s': %w", accruedStr, err)
		}
		expected[currency] = expected[currency].Add(principal).Add(accrued)
	}
	if err := slots.Err(); err != nil {
		slots.Close()
		return fmt.Errorf("error iterating claimed slots: %w", err)
	}
	slots.Close()

	credited := map[string]decimal.Decimal{}
	rows, err := s.db.QueryContext(ctx, queryClaimTransactionAmounts)
	if err != nil {
		return fmt.Errorf("failed to read claim transactions: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)
	for rows.Next() {
		var currency, amountStr string
		if err := rows.Scan(&currency, &amountStr); err != nil {
			return fmt.Errorf("failed to scan claim transaction: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		credited[currency] = credited[currency].Add(amount)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating claim transactions: %w", err)
	}

	for currency := range mergeKeys(expected, credited) {
		if !expected[currency].Equal(credited[currency]) {
			zap.L().Error("Claim conservation violated",
				zap.String("currency", currency),
				zap.String("expected", expected[currency].String()),
				zap.String("credited", credited[currency].String()))
			return fmt.Errorf("claim conservation mismatch for %s: payouts=%s, credited=%s",
				currency, expected[currency].String(), credited[currency].String())
		}
	}
	return nil
}

func mergeKeys(a, b map[string]decimal.Decimal) map[string]struct{} {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	return keys
}
