package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func scanSlot(row rowScanner) (*models.Slot, error) {
	var slot models.Slot
	var principalStr, rateStr, accruedStr, state string
	var createdAt, expiresAt, lastAccruedAt int64
	var expiredAt, claimedAt sql.NullInt64

	if err := row.Scan(&slot.Id, &slot.OwnerId, &slot.Currency, &principalStr, &rateStr,
		&createdAt, &expiresAt, &lastAccruedAt, &accruedStr, &state, &slot.LockVersion,
		&expiredAt, &claimedAt); err != nil {
		return nil, err
	}

	var err error
	if slot.Principal, err = decimal.NewFromString(principalStr); err != nil {
		return nil, fmt.Errorf("failed to parse principal '%s': %w", principalStr, err)
	}
	if slot.EffectiveWeeklyRate, err = decimal.NewFromString(rateStr); err != nil {
		return nil, fmt.Errorf("failed to parse weekly rate '%s': %w", rateStr, err)
	}
	if slot.AccruedEarnings, err = decimal.NewFromString(accruedStr); err != nil {
		return nil, fmt.Errorf("failed to parse accrued earnings '%s': %w", accruedStr, err)
	}

	slot.State = models.SlotState(state)
	slot.CreatedAt = fromMicros(createdAt)
	slot.ExpiresAt = fromMicros(expiresAt)
	slot.LastAccruedAt = fromMicros(lastAccruedAt)
	if expiredAt.Valid {
		t := fromMicros(expiredAt.Int64)
		slot.ExpiredAt = &t
	}
	if claimedAt.Valid {
		t := fromMicros(claimedAt.Int64)
		slot.ClaimedAt = &t
	}
	return &slot, nil
}

func (s *Service) querySlots(ctx context.Context, query string, args ...any) ([]models.Slot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var slots []models.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		slots = append(slots, *slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slot rows: %w", err)
	}
	return slots, nil
}

// CreateSlot debits the principal and opens an ACTIVE slot in one transaction
func (s *Service) CreateSlot(ctx context.Context, params store.CreateSlotParams) (*models.Slot, *models.Wallet, error) {
	if params.OwnerId == "" || params.Currency == "" {
		return nil, nil, fmt.Errorf("owner and currency are required")
	}
	if !params.Principal.IsPositive() {
		return nil, nil, fmt.Errorf("principal must be positive, got %s", params.Principal.String())
	}
	if params.EffectiveWeeklyRate.IsNegative() {
		return nil, nil, fmt.Errorf("weekly rate cannot be negative, got %s", params.EffectiveWeeklyRate.String())
	}
	if params.Term <= 0 {
		return nil, nil, fmt.Errorf("term must be positive, got %v", params.Term)
	}

	slotId := params.SlotId
	if slotId == "" {
		slotId = uuid.New().String()
	}
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = normalize(createdAt)
	expiresAt := normalize(createdAt.Add(params.Term))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", classifyError(err))
	}
	defer tx.Rollback()

	_, wallet, err := s.subledger.applyTransaction(ctx, tx, ProcessTransactionParams{
		OwnerId:         params.OwnerId,
		Currency:        params.Currency,
		TransactionType: models.TransactionTypeSlotDebit,
		Amount:          params.Principal.Neg(),
		ExternalRef:     models.PurchaseRef(slotId),
		SlotId:          slotId,
		Reference:       "slot purchase",
		CreatedAt:       createdAt,
	})
	if err != nil {
		return nil, nil, err
	}

	slot, err := scanSlot(tx.QueryRowContext(ctx, queryInsertSlot,
		slotId, params.OwnerId, params.Currency, params.Principal.String(), params.EffectiveWeeklyRate.String(),
		toMicros(createdAt), toMicros(expiresAt), toMicros(createdAt)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert slot: %w", classifyError(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit slot creation: %w", classifyError(err))
	}

	zap.L().Info("Slot created",
		zap.String("slot_id", slot.Id),
		zap.String("owner_id", slot.OwnerId),
		zap.String("principal", slot.Principal.String()),
		zap.String("weekly_rate", slot.EffectiveWeeklyRate.String()),
		zap.Time("expires_at", slot.ExpiresAt))

	return slot, wallet, nil
}

func (s *Service) GetSlot(ctx context.Context, slotId string) (*models.Slot, error) {
	slot, err := scanSlot(s.db.QueryRowContext(ctx, queryGetSlot, slotId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrSlotNotFound, slotId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", classifyError(err))
	}
	return slot, nil
}

func (s *Service) ListOwnerSlots(ctx context.Context, ownerId string) ([]models.Slot, error) {
	slots, err := s.querySlots(ctx, queryGetOwnerSlots, ownerId)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots for owner %s: %w", ownerId, err)
	}
	return slots, nil
}

// ListAccrualCandidates returns ACTIVE slots behind now, stalest first
func (s *Service) ListAccrualCandidates(ctx context.Context, now time.Time, limit int) ([]models.Slot, error) {
	slots, err := s.querySlots(ctx, queryAccrualCandidates, toMicros(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list accrual candidates: %w", err)
	}
	return slots, nil
}

// ListExpiryCandidates returns ACTIVE slots whose term has ended
func (s *Service) ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]models.Slot, error) {
	slots, err := s.querySlots(ctx, queryExpiryCandidates, toMicros(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiry candidates: %w", err)
	}
	return slots, nil
}

// ListClaimCandidates returns EXPIRED_UNCLAIMED slots, oldest expiry first
func (s *Service) ListClaimCandidates(ctx context.Context, limit int) ([]models.Slot, error) {
	slots, err := s.querySlots(ctx, queryClaimCandidates, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list claim candidates: %w", err)
	}
	return slots, nil
}

// ApplyAccrual persists an accrual step guarded by the slot's lock version
func (s *Service) ApplyAccrual(ctx context.Context, update store.AccrualUpdate) (*models.Slot, error) {
	if update.AccruedEarnings.IsNegative() {
		return nil, fmt.Errorf("accrued earnings cannot be negative, got %s", update.AccruedEarnings.String())
	}
	at := toMicros(normalize(update.LastAccruedAt))

	slot, err := scanSlot(s.db.QueryRowContext(ctx, queryApplyAccrual,
		update.AccruedEarnings.String(), at, update.SlotId, update.ExpectedVersion, at, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.classifyMiss(ctx, update.SlotId, update.ExpectedVersion, models.SlotStateActive)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply accrual: %w", classifyError(err))
	}
	return slot, nil
}

// ExpireSlot finalizes earnings and moves the slot to EXPIRED_UNCLAIMED
func (s *Service) ExpireSlot(ctx context.Context, update store.ExpireUpdate) (*models.Slot, error) {
	if update.AccruedEarnings.IsNegative() {
		return nil, fmt.Errorf("accrued earnings cannot be negative, got %s", update.AccruedEarnings.String())
	}
	expiredAt := toMicros(normalize(update.ExpiredAt))

	slot, err := scanSlot(s.db.QueryRowContext(ctx, queryExpireSlot,
		update.AccruedEarnings.String(), toMicros(normalize(update.LastAccruedAt)), expiredAt,
		update.SlotId, update.ExpectedVersion, expiredAt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.classifyMiss(ctx, update.SlotId, update.ExpectedVersion, models.SlotStateActive)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to expire slot: %w", classifyError(err))
	}

	zap.L().Info("Slot expired",
		zap.String("slot_id", slot.Id),
		zap.String("owner_id", slot.OwnerId),
		zap.String("accrued", slot.AccruedEarnings.String()))
	return slot, nil
}

// classifyMiss explains why a guarded update matched no row
func (s *Service) classifyMiss(ctx context.Context, slotId string, expectedVersion int64, wantState models.SlotState) error {
	current, err := s.GetSlot(ctx, slotId)
	if err != nil {
		return err
	}
	if current.LockVersion != expectedVersion {
		return fmt.Errorf("slot %s at version %d, expected %d: %w",
			slotId, current.LockVersion, expectedVersion, store.ErrConcurrentModification)
	}
	if current.State != wantState {
		return fmt.Errorf("slot %s is %s: %w", slotId, current.State, store.ErrInvalidTransition)
	}
	return fmt.Errorf("slot %s rejected update outside its term: %w", slotId, store.ErrInvalidTransition)
}
