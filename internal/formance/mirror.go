package formance

import (
	"context"
	"strings"

	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Recorder is what the mirror posts to; *Service implements it.
type Recorder interface {
	RecordPurchase(ctx context.Context, slot models.Slot) error
	RecordClaim(ctx context.Context, slot models.Slot, origin string) error
}

// SlotSource lists the slots a backfill walks
type SlotSource interface {
	ListOwners(ctx context.Context) ([]string, error)
	ListOwnerSlots(ctx context.Context, ownerId string) ([]models.Slot, error)
}

// Mirror turns committed bus events into Formance postings
type Mirror struct {
	recorder Recorder
}

func NewMirror(recorder Recorder) *Mirror {
	return &Mirror{recorder: recorder}
}

// Run consumes bus events until ctx is done or the subscription closes.
// Postings that fail are logged; Backfill picks them up later.
func (m *Mirror) Run(ctx context.Context, sub *events.Subscription) {
	zap.L().Info("Formance mirror started")
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := m.Handle(ctx, evt); err != nil {
				zap.L().Warn("Failed to mirror event to Formance",
					zap.String("type", string(evt.Type)),
					zap.String("owner_id", evt.OwnerId),
					zap.Error(err))
			}
		}
	}
}

// Handle posts the movement behind one event, if it has one
func (m *Mirror) Handle(ctx context.Context, evt events.Event) error {
	switch evt.Type {
	case events.SlotUpdated:
		if evt.Slot == nil || !isOpening(*evt.Slot) {
			return nil
		}
		return m.recorder.RecordPurchase(ctx, *evt.Slot)
	case events.SlotClaimed:
		if evt.Claim == nil {
			return nil
		}
		return m.recorder.RecordClaim(ctx, evt.Claim.Slot, claimOrigin(evt.Claim.Transaction))
	}
	return nil
}

// Backfill posts every purchase and claim the store knows about. Postings are
// keyed by reference, so rerunning it is harmless.
func (m *Mirror) Backfill(ctx context.Context, source SlotSource) (int, error) {
	owners, err := source.ListOwners(ctx)
	if err != nil {
		return 0, err
	}

	posted := 0
	var errs error
	failed := 0
	for _, owner := range owners {
		slots, err := source.ListOwnerSlots(ctx, owner)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, slot := range slots {
			if ctx.Err() != nil {
				return posted, ctx.Err()
			}
			if slot.State == models.SlotStateClaimed {
				err = m.recorder.RecordClaim(ctx, slot, "")
			} else {
				err = m.recorder.RecordPurchase(ctx, slot)
			}
			if err != nil {
				errs = multierr.Append(errs, err)
				failed++
				continue
			}
			posted++
		}
	}

	zap.L().Info("Formance backfill finished",
		zap.Int("owners", len(owners)),
		zap.Int("posted", posted),
		zap.Int("failed", failed))
	return posted, errs
}

// isOpening reports whether a SLOT_UPDATED carries a freshly bought slot.
// Every accrual moves LastAccruedAt past CreatedAt, so only the purchase
// itself publishes a slot with the two equal.
func isOpening(slot models.Slot) bool {
	return slot.State == models.SlotStateActive && slot.LastAccruedAt.Equal(slot.CreatedAt)
}

// claimOrigin recovers auto/manual from the claim credit reference
func claimOrigin(tx models.Transaction) string {
	return strings.TrimSuffix(tx.Reference, " claim")
}
