package predictor

import (
	"path/filepath"
	"testing"
	"time"

	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func slotView(accrued string, lastAccruedAt time.Time, version int64) models.SlotView {
	return models.SlotView{
		Id:                  "slot1",
		OwnerId:             "owner1",
		Currency:            "USDT",
		Principal:           decimal.NewFromInt(100),
		EffectiveWeeklyRate: decimal.RequireFromString("0.30"),
		Cap:                 decimal.NewFromInt(30),
		AccruedEarnings:     decimal.RequireFromString(accrued),
		LastAccruedAt:       lastAccruedAt,
		CreatedAt:           t0,
		ExpiresAt:           t0.Add(7 * 24 * time.Hour),
		State:               models.SlotStateActive,
		LockVersion:         version,
	}
}

func stateAt(serverTime time.Time, slots ...models.SlotView) models.StateView {
	return models.StateView{
		OwnerId:    "owner1",
		ServerTime: serverTime,
		Precision:  6,
		Slots:      slots,
		Wallets: []models.WalletView{
			{Currency: "USDT", Balance: decimal.Zero, Version: 2},
		},
	}
}

func TestPredict_Interpolates(t *testing.T) {
	p := New(nil)
	p.Reconcile(stateAt(t0, slotView("0", t0, 1)), t0)

	got, err := p.Predict("slot1", t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "4.285714", got.String())

	got, err = p.Predict("slot1", t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "no earnings before the snapshot")

	_, err = p.Predict("missing", t0)
	assert.ErrorIs(t, err, ErrUnknownSlot)
}

func TestPredict_FastForwardsAfterLongAbsence(t *testing.T) {
	p := New(nil)
	p.Reconcile(stateAt(t0, slotView("0", t0, 1)), t0)

	got, err := p.Predict("slot1", t0.Add(90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "30", got.String())
}

func TestPredict_MonotonicAndCapped(t *testing.T) {
	p := New(nil)
	p.Reconcile(stateAt(t0, slotView("0", t0, 1)), t0)

	last := decimal.Zero
	for at := t0; at.Before(t0.Add(8 * 24 * time.Hour)); at = at.Add(37 * time.Minute) {
		got, err := p.Predict("slot1", at)
		require.NoError(t, err)
		require.False(t, got.LessThan(last), "estimate went down at %v", at)
		require.False(t, got.GreaterThan(decimal.NewFromInt(30)), "estimate passed the cap at %v", at)
		last = got
	}
}

func TestReconcile_UsesServerClock(t *testing.T) {
	p := New(nil)
	// Local clock runs one hour behind the server
	local := t0.Add(24 * time.Hour)
	server := local.Add(time.Hour)
	p.Reconcile(stateAt(server, slotView("4.285714", t0.Add(24*time.Hour), 5)), local)

	assert.Equal(t, time.Hour, p.Offset())

	got, err := p.Predict("slot1", local)
	require.NoError(t, err)
	// Estimated at server time day 1 + 1h
	assert.Equal(t, "4.464285", got.String())
}

func TestReconcile_ReplacesLocalState(t *testing.T) {
	p := New(nil)
	p.Reconcile(stateAt(t0, slotView("0", t0, 1)), t0)

	expired := slotView("30", t0.Add(7*24*time.Hour), 9)
	expired.State = models.SlotStateExpiredUnclaimed
	p.Reconcile(stateAt(t0.Add(8*24*time.Hour), expired), t0.Add(8*24*time.Hour))

	got, err := p.Predict("slot1", t0.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "30", got.String())
	assert.Len(t, p.PredictAll(t0), 1)
}

func TestApplySlotUpdated_IgnoresStalePushes(t *testing.T) {
	p := New(nil)
	p.Reconcile(stateAt(t0, slotView("4.285714", t0.Add(24*time.Hour), 5)), t0)

	assert.False(t, p.ApplySlotUpdated(slotView("1", t0.Add(6*time.Hour), 3)))
	assert.True(t, p.ApplySlotUpdated(slotView("8.571428", t0.Add(48*time.Hour), 6)))

	got, err := p.Predict("slot1", t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "8.571428", got.String())

	fresh := slotView("0", t0, 1)
	fresh.Id = "slot2"
	assert.True(t, p.ApplySlotUpdated(fresh), "new slots are adopted")
	assert.Len(t, p.PredictAll(t0), 2)
}

func TestApply_Messages(t *testing.T) {
	p := New(nil)
	p.Reconcile(stateAt(t0, slotView("29.9", t0.Add(6*24*time.Hour), 5)), t0)

	assert.True(t, p.Apply(events.Message{
		Type:    events.SlotExpired,
		Expired: &events.SlotExpiredPayload{SlotId: "slot1", AccruedEarnings: decimal.NewFromInt(30)},
	}))
	got, err := p.Predict("slot1", t0.Add(6*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "30", got.String(), "expired slots show the settled value")

	assert.True(t, p.Apply(events.Message{
		Type:  events.SlotClaimed,
		Claim: &models.ClaimView{SlotId: "slot1", Payout: decimal.NewFromInt(130)},
	}))
	assert.False(t, p.Apply(events.Message{
		Type:  events.SlotClaimed,
		Claim: &models.ClaimView{SlotId: "slot1"},
	}), "second claim notice changes nothing")

	assert.True(t, p.Apply(events.Message{
		Type:    events.BalanceUpdated,
		Balance: &events.BalancePayload{Currency: "USDT", NewBalance: decimal.NewFromInt(130), Version: 3},
	}))
	assert.False(t, p.Apply(events.Message{
		Type:    events.BalanceUpdated,
		Balance: &events.BalancePayload{Currency: "USDT", NewBalance: decimal.NewFromInt(1), Version: 1},
	}))
	wallet, ok := p.Wallet("USDT")
	require.True(t, ok)
	assert.Equal(t, "130", wallet.Balance.String())
}

func TestApply_ClaimOutranksReplayedPush(t *testing.T) {
	p := New(nil)
	expired := slotView("30", t0.Add(7*24*time.Hour), 7)
	expired.State = models.SlotStateExpiredUnclaimed
	p.Reconcile(stateAt(t0, expired), t0)

	require.True(t, p.Apply(events.Message{
		Type:  events.SlotClaimed,
		Claim: &models.ClaimView{SlotId: "slot1", Payout: decimal.NewFromInt(130)},
	}))
	assert.False(t, p.Apply(events.Message{Type: events.SlotUpdated, Slot: &expired}),
		"a replayed push with the pre-claim version is stale")

	all := p.PredictAll(t0.Add(8 * 24 * time.Hour))
	require.Len(t, all, 1)
	assert.Equal(t, models.SlotStateClaimed, all[0].Slot.State)
	assert.Equal(t, int64(8), all[0].Slot.LockVersion)
}

func TestPredict_WholeUnitPrecision(t *testing.T) {
	p := New(nil)
	view := slotView("0", t0, 1)
	view.Currency = "JPY"
	view.Principal = decimal.NewFromInt(10)
	view.EffectiveWeeklyRate = decimal.RequireFromString("0.333")
	view.Cap = decimal.NewFromInt(3)
	state := stateAt(t0, view)
	state.Precision = 0
	p.Reconcile(state, t0)

	got, err := p.Predict("slot1", t0.Add(3*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "1", got.String())

	got, err = p.Predict("slot1", t0.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "3", got.String(), "capped at whole units")
}

func TestFileCache_RestoresAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client", "state.json")

	first := New(NewFileCache(path))
	first.Reconcile(stateAt(t0.Add(time.Hour), slotView("0", t0, 1)), t0)

	second := New(NewFileCache(path))
	assert.Equal(t, time.Hour, second.Offset())

	want, err := first.Predict("slot1", t0.Add(24*time.Hour))
	require.NoError(t, err)
	got, err := second.Predict("slot1", t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

func TestMemoryCache_EmptyLoad(t *testing.T) {
	snapshot, err := NewMemoryCache().Load()
	require.NoError(t, err)
	assert.Nil(t, snapshot)

	missing, err := NewFileCache(filepath.Join(t.TempDir(), "none.json")).Load()
	require.NoError(t, err)
	assert.Nil(t, missing)
}
