package postgres

const slotColumns = `id, owner_id, currency, principal, effective_weekly_rate, created_at, expires_at,
		last_accrued_at, accrued_earnings, state, lock_version, expired_at, claimed_at`

const (
	queryInsertSlot = `
		INSERT INTO slots (id, owner_id, currency, principal, effective_weekly_rate, created_at, expires_at, last_accrued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $6)
		RETURNING ` + slotColumns

	queryGetSlot = `SELECT ` + slotColumns + ` FROM slots WHERE id = $1`

	queryLockSlot = `SELECT ` + slotColumns + ` FROM slots WHERE id = $1 FOR UPDATE`

	queryLockSlotSkipLocked = `SELECT ` + slotColumns + ` FROM slots WHERE id = $1 FOR UPDATE SKIP LOCKED`

	querySlotExists = `SELECT EXISTS (SELECT 1 FROM slots WHERE id = $1)`

	queryGetOwnerSlots = `SELECT ` + slotColumns + ` FROM slots WHERE owner_id = $1 ORDER BY created_at DESC`

	queryAccrualCandidates = `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE state = 'ACTIVE' AND last_accrued_at < $1 AND last_accrued_at < expires_at
		ORDER BY last_accrued_at
		LIMIT $2`

	queryExpiryCandidates = `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE state = 'ACTIVE' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`

	queryClaimCandidates = `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE state = 'EXPIRED_UNCLAIMED'
		ORDER BY expired_at
		LIMIT $1`

	queryApplyAccrual = `
		UPDATE slots
		SET accrued_earnings = $1, last_accrued_at = $2, lock_version = lock_version + 1
		WHERE id = $3 AND state = 'ACTIVE' AND lock_version = $4
		  AND last_accrued_at <= $2 AND $2 <= expires_at
		RETURNING ` + slotColumns

	queryExpireSlot = `
		UPDATE slots
		SET accrued_earnings = $1, last_accrued_at = $2, state = 'EXPIRED_UNCLAIMED', expired_at = $3,
		    lock_version = lock_version + 1
		WHERE id = $4 AND state = 'ACTIVE' AND lock_version = $5 AND expires_at <= $3
		RETURNING ` + slotColumns

	queryClaimSlot = `
		UPDATE slots
		SET state = 'CLAIMED', claimed_at = $1, lock_version = lock_version + 1
		WHERE id = $2 AND state = 'EXPIRED_UNCLAIMED' AND lock_version = $3`

	queryClaimConservation = `
		SELECT COALESCE(c.currency, t.currency) AS currency,
		       COALESCE(c.payouts, 0) AS payouts, COALESCE(t.credited, 0) AS credited
		FROM (
			SELECT currency, SUM(principal + accrued_earnings) AS payouts
			FROM slots WHERE state = 'CLAIMED' GROUP BY currency
		) c
		FULL OUTER JOIN (
			SELECT currency, SUM(amount) AS credited
			FROM wallet_transactions WHERE transaction_type = 'claim' GROUP BY currency
		) t ON t.currency = c.currency`

	queryListOwners = `SELECT owner_id FROM wallets UNION SELECT owner_id FROM slots ORDER BY 1`

	walletColumns = `id, owner_id, currency, balance, COALESCE(last_transaction_id, '') AS last_transaction_id, version, updated_at`

	queryGetWallet = `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 AND currency = $2`

	queryGetOwnerWallets = `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 ORDER BY currency`

	queryEnsureWallet = `
		INSERT INTO wallets (id, owner_id, currency, balance, version, updated_at)
		VALUES ($1, $2, $3, 0, 1, $4)
		ON CONFLICT (owner_id, currency) DO NOTHING`

	// Additive so concurrent credits to one wallet never lose an update
	queryCreditWallet = `
		UPDATE wallets
		SET balance = balance + $1, last_transaction_id = $2, version = version + 1, updated_at = $3
		WHERE owner_id = $4 AND currency = $5 AND balance + $1 >= 0
		RETURNING ` + walletColumns

	queryInsertTransaction = `
		INSERT INTO wallet_transactions (
			id, owner_id, currency, transaction_type, amount, balance_before, balance_after,
			external_ref, slot_id, reference, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, transaction_id, account_type, account_id, debit_amount, credit_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	queryGetTransactionHistory = `
		SELECT id, owner_id, currency, transaction_type, amount, balance_before, balance_after,
		       external_ref, slot_id, reference, created_at
		FROM wallet_transactions
		WHERE owner_id = $1 AND currency = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	queryReconcileWallet = `
		SELECT COALESCE(SUM(amount), 0)
		FROM wallet_transactions
		WHERE owner_id = $1 AND currency = $2`
)
