/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"errors"
	"fmt"

	"slot-ledger-go/internal/accrual"
	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Deposit credits an owner's settlement wallet. A repeated externalRef is
// reported as store.ErrDuplicateTransaction and changes nothing.
func (s *LedgerService) Deposit(ctx context.Context, ownerId string, amount decimal.Decimal, externalRef string) (*models.WalletView, error) {
	if ownerId == "" || !amount.IsPositive() {
		return nil, fmt.Errorf("owner_id and a positive amount are required")
	}
	amount = s.catalog.Round(amount)
	if amount.IsZero() {
		return nil, fmt.Errorf("amount is below the settlement unit")
	}

	zap.L().Info("Processing deposit",
		zap.String("owner_id", ownerId),
		zap.String("amount", amount.String()),
		zap.String("external_ref", externalRef))

	_, wallet, err := s.store.RecordWalletTransaction(ctx, store.WalletTransactionParams{
		OwnerId:         ownerId,
		Currency:        s.catalog.Settlement.Symbol,
		TransactionType: models.TransactionTypeDeposit,
		Amount:          amount,
		ExternalRef:     externalRef,
		Reference:       "deposit",
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			zap.L().Info("Duplicate deposit detected",
				zap.String("owner_id", ownerId),
				zap.String("external_ref", externalRef))
		} else {
			zap.L().Error("Deposit processing failed",
				zap.String("owner_id", ownerId),
				zap.String("amount", amount.String()),
				zap.Error(err))
		}
		return nil, err
	}

	s.publisher.Publish(events.FromWallet(*wallet, s.now()))

	zap.L().Info("Deposit processed successfully",
		zap.String("owner_id", ownerId),
		zap.String("amount", amount.String()),
		zap.String("new_balance", wallet.Balance.String()))

	view := s.views.Wallet(*wallet)
	return &view, nil
}

// Invest opens a slot funded from the owner's wallet. A zero rate means the
// configured default.
func (s *LedgerService) Invest(ctx context.Context, ownerId string, principal, weeklyRate decimal.Decimal) (*models.SlotView, error) {
	if ownerId == "" || !principal.IsPositive() {
		return nil, fmt.Errorf("owner_id and a positive principal are required")
	}
	if weeklyRate.IsZero() {
		weeklyRate = s.defaultRate
	}
	if weeklyRate.IsNegative() {
		return nil, fmt.Errorf("weekly rate cannot be negative")
	}

	principal = s.catalog.Round(principal)
	now := s.now()

	slot, wallet, err := s.store.CreateSlot(ctx, store.CreateSlotParams{
		OwnerId:             ownerId,
		Currency:            s.catalog.Settlement.Symbol,
		Principal:           principal,
		EffectiveWeeklyRate: weeklyRate,
		CreatedAt:           now,
		Term:                accrual.Term,
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			zap.L().Info("Investment rejected, insufficient funds",
				zap.String("owner_id", ownerId),
				zap.String("principal", principal.String()))
		} else {
			zap.L().Error("Failed to open slot",
				zap.String("owner_id", ownerId),
				zap.String("principal", principal.String()),
				zap.Error(err))
		}
		return nil, err
	}

	s.publisher.Publish(
		events.FromSlot(events.SlotUpdated, *slot, now),
		events.FromWallet(*wallet, now),
	)

	zap.L().Info("Slot opened",
		zap.String("owner_id", ownerId),
		zap.String("slot_id", slot.Id),
		zap.String("principal", principal.String()),
		zap.String("weekly_rate", weeklyRate.String()),
		zap.Time("expires_at", slot.ExpiresAt))

	view := s.views.Slot(*slot)
	return &view, nil
}
