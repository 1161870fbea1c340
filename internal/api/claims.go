package api

import (
	"context"
	"errors"
	"fmt"

	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	"go.uber.org/zap"
)

// ClaimSlot is the owner-initiated claim of an expired slot. It runs the same
// transaction as the auto-claim processor; whichever commits first wins.
func (s *LedgerService) ClaimSlot(ctx context.Context, ownerId, slotId string) (*models.ClaimView, error) {
	if ownerId == "" || slotId == "" {
		return nil, fmt.Errorf("owner_id and slot_id are required")
	}

	now := s.now()
	result, err := s.store.ClaimSlot(models.WithClaimOrigin(ctx, models.ClaimOriginManual), store.ClaimParams{
		SlotId:    slotId,
		OwnerId:   ownerId,
		ClaimedAt: now,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSlotNotFound),
			errors.Is(err, store.ErrSlotNotExpired),
			errors.Is(err, store.ErrSlotAlreadyClaimed):
			zap.L().Info("Manual claim rejected",
				zap.String("owner_id", ownerId),
				zap.String("slot_id", slotId),
				zap.Error(err))
		default:
			zap.L().Error("Manual claim failed",
				zap.String("owner_id", ownerId),
				zap.String("slot_id", slotId),
				zap.Error(err))
		}
		return nil, err
	}

	s.publisher.Publish(events.FromClaim(*result, now)...)

	zap.L().Info("Slot claimed",
		zap.String("owner_id", ownerId),
		zap.String("slot_id", slotId),
		zap.String("payout", result.Transaction.Amount.String()),
		zap.String("new_balance", result.Wallet.Balance.String()))

	view := s.views.Claim(*result)
	return &view, nil
}
