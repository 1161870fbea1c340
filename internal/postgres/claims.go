package postgres

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

func (s *Service) ClaimSlot(ctx context.Context, params store.ClaimParams) (*models.ClaimResult, error) {
	claimedAt := params.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = time.Now()
	}
	claimedAt = utc(claimedAt)
	origin := models.GetClaimOrigin(ctx)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lockQuery := queryLockSlot
	if params.SkipLocked {
		lockQuery = queryLockSlotSkipLocked
	}
	slot, err := getSlot(ctx, tx, lockQuery, params.SlotId)
	if errors.Is(err, sql.ErrNoRows) {
		if params.SkipLocked {
			var exists bool
			if err := tx.GetContext(ctx, &exists, querySlotExists, params.SlotId); err == nil && exists {
				return nil, fmt.Errorf("%w: %s", store.ErrSlotLocked, params.SlotId)
			}
		}
		return nil, fmt.Errorf("%w: %s", store.ErrSlotNotFound, params.SlotId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock slot: %w", classifyError(err))
	}

	if params.OwnerId != "" && slot.OwnerId != params.OwnerId {
		return nil, fmt.Errorf("%w: %s", store.ErrSlotNotFound, params.SlotId)
	}
	switch slot.State {
	case models.SlotStateClaimed:
		return nil, fmt.Errorf("%w: %s", store.ErrSlotAlreadyClaimed, params.SlotId)
	case models.SlotStateActive:
		return nil, fmt.Errorf("%w: %s expires at %s", store.ErrSlotNotExpired, params.SlotId, slot.ExpiresAt.Format(time.RFC3339))
	}

	result, err := tx.ExecContext(ctx, queryClaimSlot, claimedAt, slot.Id, slot.LockVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to mark slot claimed: %w", classifyError(err))
	}
	if rows, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	} else if rows == 0 {
		return nil, fmt.Errorf("claim of slot %s failed - %w", slot.Id, store.ErrConcurrentModification)
	}

	payout := slot.Payout()
	transaction, wallet, err := s.applyTransaction(ctx, tx, walletChange{
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
		zap.String("payout", payout.String()))
	return &models.ClaimResult{Slot: *slot, Transaction: *transaction, Wallet: *wallet}, nil
}

type conservationRow struct {
	Currency string          `db:"currency"`
	Payouts  decimal.Decimal `db:"payouts"`
	Credited decimal.Decimal `db:"credited"`
}

func (s *Service) VerifyClaimConservation(ctx context.Context) error {
	var rows []conservationRow
	if err := s.db.SelectContext(ctx, &rows, queryClaimConservation); err != nil {
		return fmt.Errorf("failed to compute claim conservation: %w", err)
	}
	for _, row := range rows {
		if !row.Payouts.Equal(row.Credited) {
			zap.L().Error("Claim conservation violated",
				zap.String("currency", row.Currency),
				zap.String("expected", row.Payouts.String()),
				zap.String("credited", row.Credited.String()))
			return fmt.Errorf("claim conservation mismatch for %s: payouts=%s, credited=%s",
				row.Currency, row.Payouts.String(), row.Credited.String())
		}
	}
	return nil
}
