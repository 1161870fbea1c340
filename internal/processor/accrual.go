package processor

import (
	"context"
	"fmt"

	"slot-ledger-go/internal/accrual"
	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/metrics"
	"slot-ledger-go/internal/store"

	"go.uber.org/zap"
)

const AccrualName = "accrual"

// AccrualProcessor advances earnings of ACTIVE slots up to min(now, expiry)
type AccrualProcessor struct {
	store AccrualStore
	opts  Options
}

func NewAccrualProcessor(s AccrualStore, opts Options) *AccrualProcessor {
	return &AccrualProcessor{store: s, opts: opts.withDefaults(500)}
}

func (p *AccrualProcessor) Name() string { return AccrualName }

func (p *AccrualProcessor) Tick(ctx context.Context) (Result, error) {
	now := p.opts.Now()

	slots, err := p.store.ListAccrualCandidates(ctx, now, p.opts.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list accrual candidates: %w", err)
	}

	result := Result{Scanned: len(slots)}
	for i := range slots {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		slot := &slots[i]

		step := accrual.Advance(slot, now, p.opts.Precision)
		reportAlerts(AccrualName, p.opts.Metrics, slot, step.Alerts)
		if !step.Changed {
			result.Unchanged++
			p.opts.Metrics.CountSlot(AccrualName, metrics.OutcomeUnchanged)
			continue
		}

		updated, err := p.store.ApplyAccrual(ctx, store.AccrualUpdate{
			SlotId:          slot.Id,
			ExpectedVersion: slot.LockVersion,
			AccruedEarnings: step.Accrued,
			LastAccruedAt:   step.AccruedAt,
		})
		if store.IsContention(err) {
			// Another tick or the expiration processor holds it; the elapsed
			// window is picked up next tick.
			result.Contended++
			p.opts.Metrics.CountSlot(AccrualName, metrics.OutcomeContended)
			zap.L().Debug("Slot contended, skipping", zap.String("slot_id", slot.Id), zap.Error(err))
			continue
		}
		if err != nil {
			result.Failed++
			p.opts.Metrics.CountSlot(AccrualName, metrics.OutcomeFailed)
			zap.L().Error("Failed to apply accrual",
				zap.String("slot_id", slot.Id),
				zap.String("owner_id", slot.OwnerId),
				zap.Error(err))
			continue
		}

		result.Updated++
		p.opts.Metrics.CountSlot(AccrualName, metrics.OutcomeUpdated)
		p.opts.Publisher.Publish(events.FromSlot(events.SlotUpdated, *updated, now))
	}

	return result, nil
}
