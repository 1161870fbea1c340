package formance

import (
	"context"
	"fmt"
	"time"

	"slot-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Numscript templates. Metadata is set inside the script via set_tx_meta() so
// each Formance transaction is self-describing.
//
// Accounts:
//   @users:<owner>          owner funds that left the wallet for slots
//   @slots:<slot>:escrow    principal and earnings locked in a slot
//   @platform:yield         issuer of slot earnings
// ---------------------------------------------------------------------------

const numscriptSlotPurchase = `vars {
  asset $asset
  number $amount
  account $owner_id
  account $slot_id
  string $weekly_rate
  string $expires_at
}

send [$asset $amount] (
  source = @users:$owner_id allowing unbounded overdraft
  destination = @slots:$slot_id:escrow
)

set_tx_meta("event_type", "slot_purchase")
set_tx_meta("weekly_rate", $weekly_rate)
set_tx_meta("expires_at", $expires_at)
`

const numscriptSlotClaim = `vars {
  asset $asset
  number $earnings
  number $payout
  account $owner_id
  account $slot_id
  string $claim_origin
  string $accrued_earnings
}

send [$asset $earnings] (
  source = @platform:yield allowing unbounded overdraft
  destination = @slots:$slot_id:escrow
)

send [$asset $payout] (
  source = @slots:$slot_id:escrow
  destination = @users:$owner_id
)

set_tx_meta("event_type", "slot_claimed")
set_tx_meta("claim_origin", $claim_origin)
set_tx_meta("accrued_earnings", $accrued_earnings)
`

// RecordPurchase journals the principal moving from the owner into the slot.
func (s *Service) RecordPurchase(ctx context.Context, slot models.Slot) error {
	vars := map[string]string{
		"asset":       formanceAsset(slot.Currency, s.precision),
		"amount":      s.minorUnits(slot.Principal),
		"owner_id":    slot.OwnerId,
		"slot_id":     slot.Id,
		"weekly_rate": slot.EffectiveWeeklyRate.String(),
		"expires_at":  slot.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if err := s.post(ctx, models.PurchaseRef(slot.Id), numscriptSlotPurchase, vars, slot.CreatedAt); err != nil {
		return err
	}

	zap.L().Debug("Slot purchase mirrored",
		zap.String("slot_id", slot.Id),
		zap.String("owner_id", slot.OwnerId),
		zap.String("principal", slot.Principal.String()))
	return nil
}

// RecordClaim journals the slot's earnings and its payout to the owner. The
// purchase is posted first so a claim never lands on an empty escrow.
func (s *Service) RecordClaim(ctx context.Context, slot models.Slot, origin string) error {
	if slot.State != models.SlotStateClaimed {
		return fmt.Errorf("slot %s is %s, not claimed", slot.Id, slot.State)
	}
	if err := s.RecordPurchase(ctx, slot); err != nil {
		return err
	}

	at := time.Time{}
	if slot.ClaimedAt != nil {
		at = *slot.ClaimedAt
	}
	if origin == "" {
		origin = models.ClaimOriginAuto
	}

	vars := map[string]string{
		"asset":            formanceAsset(slot.Currency, s.precision),
		"earnings":         s.minorUnits(slot.AccruedEarnings),
		"payout":           s.minorUnits(slot.Payout()),
		"owner_id":         slot.OwnerId,
		"slot_id":          slot.Id,
		"claim_origin":     origin,
		"accrued_earnings": slot.AccruedEarnings.String(),
	}
	if err := s.post(ctx, models.ClaimRef(slot.Id), numscriptSlotClaim, vars, at); err != nil {
		return err
	}

	zap.L().Info("Slot claim mirrored",
		zap.String("slot_id", slot.Id),
		zap.String("owner_id", slot.OwnerId),
		zap.String("payout", slot.Payout().String()),
		zap.String("origin", origin))
	return nil
}

// minorUnits renders an amount as an integer count of the smallest unit.
func (s *Service) minorUnits(amount decimal.Decimal) string {
	return amount.Shift(s.precision).Truncate(0).BigInt().String()
}
