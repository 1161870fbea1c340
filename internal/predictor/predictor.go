// Package predictor interpolates slot earnings on the client between server
// pushes. Everything it shows is an estimate: server snapshots always
// replace local values and nothing here is ever written back.
package predictor

import (
	"errors"
	"sync"
	"time"

	"slot-ledger-go/internal/accrual"
	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrUnknownSlot = errors.New("unknown slot")

// Snapshot is what the predictor persists between sessions
type Snapshot struct {
	State models.StateView `json:"state"`
	// ReceivedAt is the local clock reading when State.ServerTime was current.
	ReceivedAt time.Time `json:"receivedAt"`
}

type Predictor struct {
	mu        sync.RWMutex
	ownerId   string
	precision int32
	slots     map[string]models.SlotView
	order     []string
	wallets   map[string]models.WalletView
	// offset is server clock minus local clock at the last reconcile
	offset     time.Duration
	serverTime time.Time
	receivedAt time.Time
	cache      Cache
}

// New builds a predictor, restoring the last snapshot from cache when one
// exists. A nil cache keeps everything in memory.
func New(cache Cache) *Predictor {
	p := &Predictor{
		precision: 6,
		slots:     make(map[string]models.SlotView),
		wallets:   make(map[string]models.WalletView),
		cache:     cache,
	}
	if cache == nil {
		return p
	}

	snapshot, err := cache.Load()
	if err != nil {
		zap.L().Warn("Failed to restore predictor snapshot", zap.Error(err))
		return p
	}
	if snapshot != nil {
		p.adopt(snapshot.State, snapshot.ReceivedAt)
	}
	return p
}

// Reconcile discards local interpolation and adopts a full server pull
func (p *Predictor) Reconcile(state models.StateView, localNow time.Time) {
	p.mu.Lock()
	p.adopt(state, localNow)
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	p.save(snapshot)
}

func (p *Predictor) adopt(state models.StateView, localNow time.Time) {
	p.ownerId = state.OwnerId
	if state.Precision >= 0 {
		p.precision = state.Precision
	}
	p.slots = make(map[string]models.SlotView, len(state.Slots))
	p.order = p.order[:0]
	for _, slot := range state.Slots {
		p.slots[slot.Id] = slot
		p.order = append(p.order, slot.Id)
	}
	p.wallets = make(map[string]models.WalletView, len(state.Wallets))
	for _, wallet := range state.Wallets {
		p.wallets[wallet.Currency] = wallet
	}
	if !state.ServerTime.IsZero() && !localNow.IsZero() {
		p.offset = state.ServerTime.Sub(localNow)
	}
	p.serverTime = state.ServerTime
	p.receivedAt = localNow
}

// ApplySlotUpdated adopts a pushed slot unless the held snapshot is newer.
// It reports whether the push was adopted.
func (p *Predictor) ApplySlotUpdated(view models.SlotView) bool {
	p.mu.Lock()
	held, ok := p.slots[view.Id]
	if ok && view.LockVersion < held.LockVersion {
		p.mu.Unlock()
		return false
	}
	if !ok {
		p.order = append(p.order, view.Id)
	}
	p.slots[view.Id] = view
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	p.save(snapshot)
	return true
}

// Apply feeds one websocket message and reports whether anything changed
func (p *Predictor) Apply(msg events.Message) bool {
	switch msg.Type {
	case events.SlotUpdated:
		if msg.Slot != nil {
			return p.ApplySlotUpdated(*msg.Slot)
		}
	case events.SlotExpired:
		if msg.Expired != nil {
			return p.markSlot(msg.Expired.SlotId, func(v *models.SlotView) bool {
				if v.State != models.SlotStateActive {
					return false
				}
				v.State = models.SlotStateExpiredUnclaimed
				v.AccruedEarnings = msg.Expired.AccruedEarnings
				v.LastAccruedAt = v.ExpiresAt
				v.LockVersion++
				return true
			})
		}
	case events.SlotClaimed:
		if msg.Claim != nil {
			return p.markSlot(msg.Claim.SlotId, func(v *models.SlotView) bool {
				if v.State == models.SlotStateClaimed {
					return false
				}
				// The store bumps the version on claim; a replay of the
				// pre-claim push must not reopen the slot.
				v.State = models.SlotStateClaimed
				v.LockVersion++
				return true
			})
		}
	case events.BalanceUpdated:
		if msg.Balance != nil {
			return p.applyBalance(*msg.Balance)
		}
	}
	return false
}

func (p *Predictor) markSlot(slotId string, mutate func(*models.SlotView) bool) bool {
	p.mu.Lock()
	view, ok := p.slots[slotId]
	if !ok || !mutate(&view) {
		p.mu.Unlock()
		return false
	}
	p.slots[slotId] = view
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	p.save(snapshot)
	return true
}

func (p *Predictor) applyBalance(balance events.BalancePayload) bool {
	p.mu.Lock()
	held, ok := p.wallets[balance.Currency]
	if ok && balance.Version != 0 && balance.Version < held.Version {
		p.mu.Unlock()
		return false
	}
	p.wallets[balance.Currency] = models.WalletView{
		Currency: balance.Currency,
		Balance:  balance.NewBalance,
		Version:  balance.Version,
		Display:  balance.Display,
	}
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	p.save(snapshot)
	return true
}

// Predict returns the displayed earnings of a slot at local time now.
// Only ACTIVE slots move; the estimate never passes the cap.
func (p *Predictor) Predict(slotId string, now time.Time) (decimal.Decimal, error) {
	p.mu.RLock()
	view, ok := p.slots[slotId]
	offset, precision := p.offset, p.precision
	p.mu.RUnlock()

	if !ok {
		return decimal.Zero, ErrUnknownSlot
	}
	return estimate(view, now.Add(offset), precision), nil
}

func estimate(view models.SlotView, serverNow time.Time, precision int32) decimal.Decimal {
	if view.State != models.SlotStateActive {
		return view.AccruedEarnings
	}

	horizon := serverNow
	if horizon.After(view.ExpiresAt) {
		horizon = view.ExpiresAt
	}
	capAmount := view.Cap
	if capAmount.IsZero() {
		capAmount = accrual.Cap(view.Principal, view.EffectiveWeeklyRate, precision)
	}

	// Closed form over the whole gap, however long the client was away
	inc := accrual.Incremental(view.Principal, view.EffectiveWeeklyRate, view.LastAccruedAt, horizon, precision)
	return accrual.SaturatingAdd(view.AccruedEarnings, inc, capAmount)
}

// Estimate is one row of PredictAll
type Estimate struct {
	Slot    models.SlotView
	Earning decimal.Decimal
}

// PredictAll estimates every known slot in server order
func (p *Predictor) PredictAll(now time.Time) []Estimate {
	p.mu.RLock()
	defer p.mu.RUnlock()

	serverNow := now.Add(p.offset)
	out := make([]Estimate, 0, len(p.order))
	for _, id := range p.order {
		view := p.slots[id]
		out = append(out, Estimate{Slot: view, Earning: estimate(view, serverNow, p.precision)})
	}
	return out
}

// Wallet returns the last server balance of a currency
func (p *Predictor) Wallet(currency string) (models.WalletView, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	wallet, ok := p.wallets[currency]
	return wallet, ok
}

// Offset is the estimated server clock minus local clock
func (p *Predictor) Offset() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.offset
}

func (p *Predictor) snapshotLocked() *Snapshot {
	state := models.StateView{
		OwnerId:    p.ownerId,
		ServerTime: p.serverTime,
		Precision:  p.precision,
		Slots:      make([]models.SlotView, 0, len(p.order)),
		Wallets:    make([]models.WalletView, 0, len(p.wallets)),
	}
	for _, id := range p.order {
		state.Slots = append(state.Slots, p.slots[id])
	}
	for _, wallet := range p.wallets {
		state.Wallets = append(state.Wallets, wallet)
	}
	return &Snapshot{State: state, ReceivedAt: p.receivedAt}
}

func (p *Predictor) save(snapshot *Snapshot) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Save(snapshot); err != nil {
		zap.L().Warn("Failed to persist predictor snapshot", zap.Error(err))
	}
}
