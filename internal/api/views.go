package api

import (
	"slot-ledger-go/internal/accrual"
	"slot-ledger-go/internal/common"
	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/models"
)

// Renderer turns ledger records into the client-facing views and
// websocket envelopes.
type Renderer struct {
	catalog *common.CurrencyCatalog
}

func NewRenderer(catalog *common.CurrencyCatalog) *Renderer {
	return &Renderer{catalog: catalog}
}

func (r *Renderer) Precision() int32 {
	return r.catalog.Settlement.Precision
}

func (r *Renderer) Slot(slot models.Slot) models.SlotView {
	return models.SlotView{
		Id:                  slot.Id,
		OwnerId:             slot.OwnerId,
		Currency:            slot.Currency,
		Principal:           slot.Principal,
		EffectiveWeeklyRate: slot.EffectiveWeeklyRate,
		Cap:                 accrual.Cap(slot.Principal, slot.EffectiveWeeklyRate, r.Precision()),
		AccruedEarnings:     slot.AccruedEarnings,
		LastAccruedAt:       slot.LastAccruedAt,
		CreatedAt:           slot.CreatedAt,
		ExpiresAt:           slot.ExpiresAt,
		State:               slot.State,
		LockVersion:         slot.LockVersion,
		Display:             r.catalog.Convert(slot.AccruedEarnings),
	}
}

func (r *Renderer) Slots(slots []models.Slot) []models.SlotView {
	out := make([]models.SlotView, len(slots))
	for i := range slots {
		out[i] = r.Slot(slots[i])
	}
	return out
}

func (r *Renderer) Wallet(wallet models.Wallet) models.WalletView {
	return models.WalletView{
		Currency: wallet.Currency,
		Balance:  wallet.Balance,
		Version:  wallet.Version,
		Display:  r.catalog.Convert(wallet.Balance),
	}
}

func (r *Renderer) Claim(result models.ClaimResult) models.ClaimView {
	claimedAt := result.Transaction.CreatedAt
	if result.Slot.ClaimedAt != nil {
		claimedAt = *result.Slot.ClaimedAt
	}
	return models.ClaimView{
		SlotId:        result.Slot.Id,
		Payout:        result.Transaction.Amount,
		Currency:      result.Slot.Currency,
		NewBalance:    result.Wallet.Balance,
		TransactionId: result.Transaction.Id,
		ClaimedAt:     claimedAt,
	}
}

// Message builds the websocket envelope for a committed event
func (r *Renderer) Message(evt events.Event) events.Message {
	msg := events.Message{Type: evt.Type, OwnerId: evt.OwnerId, SentAt: evt.At}

	switch evt.Type {
	case events.SlotUpdated:
		if evt.Slot != nil {
			view := r.Slot(*evt.Slot)
			msg.Slot = &view
		}
	case events.SlotExpired:
		if evt.Slot != nil {
			expiredAt := evt.At
			if evt.Slot.ExpiredAt != nil {
				expiredAt = *evt.Slot.ExpiredAt
			}
			msg.Expired = &events.SlotExpiredPayload{
				SlotId:          evt.Slot.Id,
				AccruedEarnings: evt.Slot.AccruedEarnings,
				ExpiredAt:       expiredAt,
			}
		}
	case events.SlotClaimed:
		if evt.Claim != nil {
			view := r.Claim(*evt.Claim)
			msg.Claim = &view
		}
	case events.BalanceUpdated:
		if evt.Wallet != nil {
			msg.Balance = &events.BalancePayload{
				Currency:   evt.Wallet.Currency,
				NewBalance: evt.Wallet.Balance,
				Version:    evt.Wallet.Version,
				Display:    r.catalog.Convert(evt.Wallet.Balance),
			}
		}
	}
	return msg
}
