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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SlotView is the read-only projection of a slot served to clients
type SlotView struct {
	Id                  string                     `json:"slotId"`
	OwnerId             string                     `json:"ownerId"`
	Currency            string                     `json:"currency"`
	Principal           decimal.Decimal            `json:"principal"`
	EffectiveWeeklyRate decimal.Decimal            `json:"effectiveWeeklyRate"`
	Cap                 decimal.Decimal            `json:"cap"`
	AccruedEarnings     decimal.Decimal            `json:"accruedEarnings"`
	LastAccruedAt       time.Time                  `json:"lastAccruedAt"`
	CreatedAt           time.Time                  `json:"createdAt"`
	ExpiresAt           time.Time                  `json:"expiresAt"`
	State               SlotState                  `json:"state"`
	LockVersion         int64                      `json:"lockVersion"`
	Display             map[string]decimal.Decimal `json:"display,omitempty"`
}

// WalletView represents an owner's balance for the settlement currency
type WalletView struct {
	Currency string                     `json:"currency"`
	Balance  decimal.Decimal            `json:"balance"`
	Version  int64                      `json:"version"`
	Display  map[string]decimal.Decimal `json:"display,omitempty"`
}

// StateView is the full-state pull used by clients to reconcile
type StateView struct {
	OwnerId    string       `json:"ownerId"`
	ServerTime time.Time    `json:"serverTime"`
	Precision  int32        `json:"precision"`
	Slots      []SlotView   `json:"slots"`
	Wallets    []WalletView `json:"wallets"`
}

// ClaimView represents the result of a manual claim
type ClaimView struct {
	SlotId        string          `json:"slotId"`
	Payout        decimal.Decimal `json:"payout"`
	Currency      string          `json:"currency"`
	NewBalance    decimal.Decimal `json:"newBalance"`
	TransactionId string          `json:"transactionId"`
	ClaimedAt     time.Time       `json:"claimedAt"`
}
