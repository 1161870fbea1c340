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

const ExpirationName = "expiration"

// ExpirationProcessor settles ACTIVE slots past their term at exactly the cap
// and moves them to EXPIRED_UNCLAIMED.
type ExpirationProcessor struct {
	store ExpiryStore
	opts  Options
}

func NewExpirationProcessor(s ExpiryStore, opts Options) *ExpirationProcessor {
	return &ExpirationProcessor{store: s, opts: opts.withDefaults(200)}
}

func (p *ExpirationProcessor) Name() string { return ExpirationName }

func (p *ExpirationProcessor) Tick(ctx context.Context) (Result, error) {
	now := p.opts.Now()

	slots, err := p.store.ListExpiryCandidates(ctx, now, p.opts.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list expiry candidates: %w", err)
	}

	result := Result{Scanned: len(slots)}
	for i := range slots {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		slot := &slots[i]

		step := accrual.Finalize(slot, p.opts.Precision)
		reportAlerts(ExpirationName, p.opts.Metrics, slot, step.Alerts)

		expired, err := p.store.ExpireSlot(ctx, store.ExpireUpdate{
			SlotId:          slot.Id,
			ExpectedVersion: slot.LockVersion,
			AccruedEarnings: step.Accrued,
			LastAccruedAt:   step.AccruedAt,
			ExpiredAt:       now,
		})
		if store.IsContention(err) {
			result.Contended++
			p.opts.Metrics.CountSlot(ExpirationName, metrics.OutcomeContended)
			zap.L().Debug("Slot contended, skipping", zap.String("slot_id", slot.Id), zap.Error(err))
			continue
		}
		if err != nil {
			result.Failed++
			p.opts.Metrics.CountSlot(ExpirationName, metrics.OutcomeFailed)
			zap.L().Error("Failed to expire slot",
				zap.String("slot_id", slot.Id),
				zap.String("owner_id", slot.OwnerId),
				zap.Error(err))
			continue
		}

		result.Updated++
		p.opts.Metrics.CountSlot(ExpirationName, metrics.OutcomeUpdated)
		p.opts.Publisher.Publish(
			events.FromSlot(events.SlotUpdated, *expired, now),
			events.FromSlot(events.SlotExpired, *expired, now),
		)
	}

	return result, nil
}
