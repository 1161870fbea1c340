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
	"fmt"

	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	"go.uber.org/zap"
)

// ListSlots returns every slot the owner holds, newest first
func (s *LedgerService) ListSlots(ctx context.Context, ownerId string) ([]models.SlotView, error) {
	if ownerId == "" {
		return nil, fmt.Errorf("owner_id is required")
	}

	slots, err := s.store.ListOwnerSlots(ctx, ownerId)
	if err != nil {
		zap.L().Error("Failed to list slots", zap.String("owner_id", ownerId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve slots: %w", err)
	}
	return s.views.Slots(slots), nil
}

// GetSlot returns one slot. A slot held by someone else reads as not found.
func (s *LedgerService) GetSlot(ctx context.Context, ownerId, slotId string) (*models.SlotView, error) {
	if ownerId == "" || slotId == "" {
		return nil, fmt.Errorf("owner_id and slot_id are required")
	}

	slot, err := s.store.GetSlot(ctx, slotId)
	if err != nil {
		return nil, err
	}
	if slot.OwnerId != ownerId {
		return nil, store.ErrSlotNotFound
	}
	view := s.views.Slot(*slot)
	return &view, nil
}

// ListWallets returns the owner's balances. An owner with no history still
// gets a zero settlement wallet.
func (s *LedgerService) ListWallets(ctx context.Context, ownerId string) ([]models.WalletView, error) {
	if ownerId == "" {
		return nil, fmt.Errorf("owner_id is required")
	}

	wallets, err := s.store.ListWallets(ctx, ownerId)
	if err != nil {
		zap.L().Error("Failed to list wallets", zap.String("owner_id", ownerId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve wallets: %w", err)
	}

	if len(wallets) == 0 {
		wallets = []models.Wallet{{OwnerId: ownerId, Currency: s.catalog.Settlement.Symbol}}
	}

	result := make([]models.WalletView, len(wallets))
	for i, wallet := range wallets {
		result[i] = s.views.Wallet(wallet)
	}
	return result, nil
}

// State is the full pull a client reconciles against
func (s *LedgerService) State(ctx context.Context, ownerId string) (*models.StateView, error) {
	slots, err := s.ListSlots(ctx, ownerId)
	if err != nil {
		return nil, err
	}
	wallets, err := s.ListWallets(ctx, ownerId)
	if err != nil {
		return nil, err
	}

	return &models.StateView{
		OwnerId:    ownerId,
		ServerTime: s.now().UTC(),
		Precision:  s.views.Precision(),
		Slots:      slots,
		Wallets:    wallets,
	}, nil
}

// GetTransactionHistory returns paginated wallet history for an owner
func (s *LedgerService) GetTransactionHistory(ctx context.Context, ownerId string, limit, offset int) ([]models.Transaction, error) {
	if ownerId == "" {
		return nil, fmt.Errorf("owner_id is required")
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	transactions, err := s.store.GetTransactionHistory(ctx, ownerId, s.catalog.Settlement.Symbol, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get transaction history",
			zap.String("owner_id", ownerId),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve transaction history: %w", err)
	}
	return transactions, nil
}
