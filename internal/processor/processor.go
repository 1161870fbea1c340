// Package processor holds the background jobs that move slots through their
// lifecycle: accrual, expiration and auto-claim. Each job reads a bounded
// batch, mutates one slot per store call, and publishes only after the
// store has committed.
package processor

import (
	"context"
	"time"

	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/metrics"
	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	"go.uber.org/zap"
)

// Job is one independently scheduled unit of work
type Job interface {
	Name() string
	Tick(ctx context.Context) (Result, error)
}

// Result summarises a tick
type Result struct {
	Scanned   int
	Updated   int
	Unchanged int
	Contended int
	Failed    int
}

func (r Result) fields() []zap.Field {
	return []zap.Field{
		zap.Int("scanned", r.Scanned),
		zap.Int("updated", r.Updated),
		zap.Int("unchanged", r.Unchanged),
		zap.Int("contended", r.Contended),
		zap.Int("failed", r.Failed),
	}
}

type AccrualStore interface {
	ListAccrualCandidates(ctx context.Context, now time.Time, limit int) ([]models.Slot, error)
	ApplyAccrual(ctx context.Context, update store.AccrualUpdate) (*models.Slot, error)
}

type ExpiryStore interface {
	ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]models.Slot, error)
	ExpireSlot(ctx context.Context, update store.ExpireUpdate) (*models.Slot, error)
}

type ClaimStore interface {
	ListClaimCandidates(ctx context.Context, limit int) ([]models.Slot, error)
	ClaimSlot(ctx context.Context, params store.ClaimParams) (*models.ClaimResult, error)
}

// DefaultPrecision applies only when Options.Precision is negative
const DefaultPrecision int32 = 6

// Options are shared by all processors
type Options struct {
	BatchSize int
	// Precision is the settlement scale. Zero is a valid whole-unit currency.
	Precision int32
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

func (o Options) withDefaults(batch int) Options {
	if o.BatchSize <= 0 {
		o.BatchSize = batch
	}
	if o.Precision < 0 {
		o.Precision = DefaultPrecision
	}
	if o.Publisher == nil {
		o.Publisher = discard{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type discard struct{}

func (discard) Publish(...events.Event) {}

func reportAlerts(processor string, m *metrics.Metrics, slot *models.Slot, alerts []string) {
	for _, alert := range alerts {
		m.CountAlert(alert)
		zap.L().Warn("Accrual integrity alert",
			zap.String("processor", processor),
			zap.String("alert", alert),
			zap.String("slot_id", slot.Id),
			zap.String("owner_id", slot.OwnerId),
			zap.String("accrued", slot.AccruedEarnings.String()),
			zap.Time("last_accrued_at", slot.LastAccruedAt))
	}
}
