package formance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- fakes (no Formance stack needed) ----------

type fakePoster struct {
	mu       sync.Mutex
	requests []operations.V2CreateTransactionRequest
	seen     map[string]bool
	err      error
}

func newFakePoster() *fakePoster {
	return &fakePoster{seen: map[string]bool{}}
}

func (f *fakePoster) CreateTransaction(_ context.Context, req operations.V2CreateTransactionRequest, _ ...operations.Option) (*operations.V2CreateTransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	ref := *req.V2PostTransaction.Reference
	if f.seen[ref] {
		return nil, &sdkerrors.V2ErrorResponse{ErrorCode: shared.V2ErrorsEnumConflict, ErrorMessage: "reference already used"}
	}
	f.seen[ref] = true
	return &operations.V2CreateTransactionResponse{}, nil
}

func (f *fakePoster) references() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs := make([]string, 0, len(f.requests))
	for _, req := range f.requests {
		refs = append(refs, *req.V2PostTransaction.Reference)
	}
	return refs
}

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func activeSlot() models.Slot {
	return models.Slot{
		Id:                  "slot-1",
		OwnerId:             "owner-1",
		Currency:            "USDT",
		Principal:           decimal.NewFromInt(100),
		EffectiveWeeklyRate: decimal.RequireFromString("0.3"),
		CreatedAt:           t0,
		LastAccruedAt:       t0,
		ExpiresAt:           t0.Add(7 * 24 * time.Hour),
		AccruedEarnings:     decimal.Zero,
		State:               models.SlotStateActive,
		LockVersion:         1,
	}
}

func claimedSlot() models.Slot {
	slot := activeSlot()
	claimedAt := slot.ExpiresAt.Add(time.Minute)
	slot.State = models.SlotStateClaimed
	slot.AccruedEarnings = decimal.RequireFromString("30.5")
	slot.LastAccruedAt = slot.ExpiresAt
	slot.ClaimedAt = &claimedAt
	return slot
}

// ---------- helpers ----------

func TestFormanceAsset(t *testing.T) {
	assert.Equal(t, "USDT/6", formanceAsset("USDT", 6))
	assert.Equal(t, "USD/2", formanceAsset("USD", 2))
}

func TestMinorUnits(t *testing.T) {
	svc := newService(newFakePoster(), "test", 6)
	assert.Equal(t, "130500000", svc.minorUnits(decimal.RequireFromString("130.5")))
	assert.Equal(t, "1", svc.minorUnits(decimal.RequireFromString("0.0000019")))
	assert.Equal(t, "0", svc.minorUnits(decimal.Zero))
}

func TestIsConflictError(t *testing.T) {
	assert.False(t, isConflictError(nil))
	assert.False(t, isConflictError(errors.New("boom")))
	assert.True(t, isConflictError(&sdkerrors.V2ErrorResponse{ErrorCode: shared.V2ErrorsEnumConflict}))
}

// ---------- postings ----------

func TestRecordClaim_PostsPurchaseThenClaim(t *testing.T) {
	poster := newFakePoster()
	svc := newService(poster, "test", 6)

	require.NoError(t, svc.RecordClaim(context.Background(), claimedSlot(), models.ClaimOriginManual))

	require.Equal(t, []string{"purchase:slot-1", "claim:slot-1"}, poster.references())

	claim := poster.requests[1]
	assert.Equal(t, "test", claim.Ledger)
	vars := claim.V2PostTransaction.Script.Vars
	assert.Equal(t, "USDT/6", vars["asset"])
	assert.Equal(t, "30500000", vars["earnings"])
	assert.Equal(t, "130500000", vars["payout"])
	assert.Equal(t, "manual", vars["claim_origin"])
	require.NotNil(t, claim.V2PostTransaction.Timestamp)
	assert.True(t, claim.V2PostTransaction.Timestamp.Equal(*claimedSlot().ClaimedAt))
}

func TestRecordClaim_RejectsUnclaimedSlot(t *testing.T) {
	poster := newFakePoster()
	svc := newService(poster, "test", 6)

	assert.Error(t, svc.RecordClaim(context.Background(), activeSlot(), ""))
	assert.Empty(t, poster.references())
}

func TestPost_DuplicateReferenceIsPosted(t *testing.T) {
	poster := newFakePoster()
	svc := newService(poster, "test", 6)

	for i := 0; i < 10; i++ {
		require.NoError(t, svc.RecordPurchase(context.Background(), activeSlot()))
	}
	// Conflicts never trip the breaker
	assert.Len(t, poster.references(), 10)
}

func TestPost_BreakerOpensAfterFailures(t *testing.T) {
	poster := newFakePoster()
	poster.err = errors.New("stack unreachable")
	svc := newService(poster, "test", 6)

	for i := 0; i < 5; i++ {
		err := svc.RecordPurchase(context.Background(), activeSlot())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrMirrorUnavailable)
	}

	err := svc.RecordPurchase(context.Background(), activeSlot())
	assert.ErrorIs(t, err, ErrMirrorUnavailable)
	assert.Len(t, poster.references(), 5, "an open breaker does not reach the stack")
}

// ---------- mirror ----------

func TestMirror_Handle(t *testing.T) {
	poster := newFakePoster()
	mirror := NewMirror(newService(poster, "test", 6))
	ctx := context.Background()

	require.NoError(t, mirror.Handle(ctx, events.FromSlot(events.SlotUpdated, activeSlot(), t0)))

	accrued := activeSlot()
	accrued.LastAccruedAt = t0.Add(time.Hour)
	accrued.AccruedEarnings = decimal.RequireFromString("0.178571")
	require.NoError(t, mirror.Handle(ctx, events.FromSlot(events.SlotUpdated, accrued, t0)))
	require.NoError(t, mirror.Handle(ctx, events.FromSlot(events.SlotExpired, claimedSlot(), t0)))

	result := models.ClaimResult{
		Slot:        claimedSlot(),
		Transaction: models.Transaction{Reference: "auto claim"},
	}
	for _, evt := range events.FromClaim(result, t0) {
		require.NoError(t, mirror.Handle(ctx, evt))
	}

	assert.Equal(t, []string{"purchase:slot-1", "purchase:slot-1", "claim:slot-1"}, poster.references())
	assert.Equal(t, "auto", poster.requests[2].V2PostTransaction.Script.Vars["claim_origin"])
}

type fakeSource struct {
	slots map[string][]models.Slot
}

func (f fakeSource) ListOwners(context.Context) ([]string, error) {
	owners := make([]string, 0, len(f.slots))
	for owner := range f.slots {
		owners = append(owners, owner)
	}
	return owners, nil
}

func (f fakeSource) ListOwnerSlots(_ context.Context, owner string) ([]models.Slot, error) {
	if owner == "broken" {
		return nil, errors.New("read failed")
	}
	return f.slots[owner], nil
}

func TestMirror_Backfill(t *testing.T) {
	poster := newFakePoster()
	mirror := NewMirror(newService(poster, "test", 6))

	other := activeSlot()
	other.Id = "slot-2"
	source := fakeSource{slots: map[string][]models.Slot{
		"owner-1": {claimedSlot(), other},
		"broken":  nil,
	}}

	posted, err := mirror.Backfill(context.Background(), source)
	assert.Error(t, err, "the unreadable owner is reported")
	assert.Equal(t, 2, posted)
	assert.ElementsMatch(t, []string{"purchase:slot-1", "claim:slot-1", "purchase:slot-2"}, poster.references())

	// A second pass only meets duplicate references
	posted, err = mirror.Backfill(context.Background(), fakeSource{slots: map[string][]models.Slot{"owner-1": {claimedSlot(), other}}})
	require.NoError(t, err)
	assert.Equal(t, 2, posted)
}
