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

package database

const slotColumns = `id, owner_id, currency, principal, effective_weekly_rate, created_at, expires_at,
		last_accrued_at, accrued_earnings, state, lock_version, expired_at, claimed_at`

const (
	// Slot queries
	queryInsertSlot = `
		INSERT INTO slots (id, owner_id, currency, principal, effective_weekly_rate, created_at, expires_at,
			last_accrued_at, accrued_earnings, state, lock_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '0', 'ACTIVE', 1)
		RETURNING ` + slotColumns

	queryGetSlot = `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE id = ?`

	queryGetOwnerSlots = `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE owner_id = ?
		ORDER BY created_at DESC`

	queryAccrualCandidates = `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE state = 'ACTIVE'
		  AND last_accrued_at < ?
		  AND last_accrued_at < expires_at
		ORDER BY last_accrued_at
		LIMIT ?`

	queryExpiryCandidates = `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE state = 'ACTIVE' AND expires_at <= ?
		ORDER BY expires_at
		LIMIT ?`

	queryClaimCandidates = `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE state = 'EXPIRED_UNCLAIMED'
		ORDER BY expired_at
		LIMIT ?`

	queryApplyAccrual = `
		UPDATE slots
		SET accrued_earnings = ?, last_accrued_at = ?, lock_version = lock_version + 1
		WHERE id = ? AND state = 'ACTIVE' AND lock_version = ?
		  AND last_accrued_at <= ? AND ? <= expires_at
		RETURNING ` + slotColumns

	queryExpireSlot = `
		UPDATE slots
		SET accrued_earnings = ?, last_accrued_at = ?, state = 'EXPIRED_UNCLAIMED', expired_at = ?,
		    lock_version = lock_version + 1
		WHERE id = ? AND state = 'ACTIVE' AND lock_version = ? AND expires_at <= ?
		RETURNING ` + slotColumns

	queryClaimSlot = `
		UPDATE slots
		SET state = 'CLAIMED', claimed_at = ?, lock_version = lock_version + 1
		WHERE id = ? AND state = 'EXPIRED_UNCLAIMED' AND lock_version = ?`

	queryClaimedSlotPayouts = `
		SELECT currency, principal, accrued_earnings
		FROM slots
		WHERE state = 'CLAIMED'`

	queryListOwners = `
		SELECT owner_id FROM wallets
		UNION
		SELECT owner_id FROM slots
		ORDER BY 1`

	// Wallet queries
	queryGetWallet = `
		SELECT id, owner_id, currency, balance, COALESCE(last_transaction_id, ''), version, updated_at
		FROM wallets
		WHERE owner_id = ? AND currency = ?`

	queryGetOwnerWallets = `
		SELECT id, owner_id, currency, balance, COALESCE(last_transaction_id, ''), version, updated_at
		FROM wallets
		WHERE owner_id = ?
		ORDER BY currency`

	queryInsertWallet = `
		INSERT INTO wallets (id, owner_id, currency, balance, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryUpdateWalletBalance = `
		UPDATE wallets
		SET balance = ?, last_transaction_id = ?, version = version + 1, updated_at = ?
		WHERE owner_id = ? AND currency = ? AND version = ?`

	queryWalletTransactionAmounts = `
		SELECT amount
		FROM wallet_transactions
		WHERE owner_id = ? AND currency = ?`

	queryClaimTransactionAmounts = `
		SELECT currency, amount
		FROM wallet_transactions
		WHERE transaction_type = 'claim'`

	// Transaction queries
	queryCheckDuplicateTransaction = `
		SELECT id FROM wallet_transactions WHERE external_ref = ? LIMIT 1`

	queryInsertTransaction = `
		INSERT INTO wallet_transactions (
			id, owner_id, currency, transaction_type, amount, balance_before, balance_after,
			external_ref, slot_id, reference, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, transaction_id, account_type, account_id, debit_amount, credit_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryGetTransactionHistory = `
		SELECT id, owner_id, currency, transaction_type, amount, balance_before, balance_after,
		       external_ref, slot_id, reference, created_at
		FROM wallet_transactions
		WHERE owner_id = ? AND currency = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`
)
