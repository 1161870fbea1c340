package processor

import (
	"context"
	"errors"
	"fmt"

	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/metrics"
	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	"go.uber.org/zap"
)

const AutoClaimName = "autoclaim"

// AutoClaimProcessor credits principal plus earnings of EXPIRED_UNCLAIMED
// slots. Each slot is its own transaction: a failure rolls back that slot
// only and leaves it for the next tick.
type AutoClaimProcessor struct {
	store ClaimStore
	opts  Options
}

func NewAutoClaimProcessor(s ClaimStore, opts Options) *AutoClaimProcessor {
	return &AutoClaimProcessor{store: s, opts: opts.withDefaults(100)}
}

func (p *AutoClaimProcessor) Name() string { return AutoClaimName }

func (p *AutoClaimProcessor) Tick(ctx context.Context) (Result, error) {
	slots, err := p.store.ListClaimCandidates(ctx, p.opts.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list claim candidates: %w", err)
	}

	claimCtx := models.WithClaimOrigin(ctx, models.ClaimOriginAuto)
	result := Result{Scanned: len(slots)}
	for i := range slots {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		slot := &slots[i]
		now := p.opts.Now()

		claim, err := p.store.ClaimSlot(claimCtx, store.ClaimParams{
			SlotId:     slot.Id,
			ClaimedAt:  now,
			SkipLocked: true,
		})
		switch {
		case err == nil:
		case store.IsContention(err):
			result.Contended++
			p.opts.Metrics.CountSlot(AutoClaimName, metrics.OutcomeContended)
			zap.L().Debug("Slot contended, skipping", zap.String("slot_id", slot.Id), zap.Error(err))
			continue
		case errors.Is(err, store.ErrSlotAlreadyClaimed):
			// A manual claim got there first
			result.Unchanged++
			p.opts.Metrics.CountSlot(AutoClaimName, metrics.OutcomeUnchanged)
			continue
		default:
			result.Failed++
			p.opts.Metrics.CountSlot(AutoClaimName, metrics.OutcomeFailed)
			zap.L().Error("Failed to claim slot",
				zap.String("slot_id", slot.Id),
				zap.String("owner_id", slot.OwnerId),
				zap.Error(err))
			continue
		}

		result.Updated++
		p.opts.Metrics.CountSlot(AutoClaimName, metrics.OutcomeUpdated)
		p.opts.Publisher.Publish(events.FromClaim(*claim, now)...)
	}

	return result, nil
}
