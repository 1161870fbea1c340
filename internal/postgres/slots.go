package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// normalizeSlot puts every timestamp lib/pq returned into UTC
func normalizeSlot(slot *models.Slot) {
	slot.CreatedAt = slot.CreatedAt.UTC()
	slot.ExpiresAt = slot.ExpiresAt.UTC()
	slot.LastAccruedAt = slot.LastAccruedAt.UTC()
	if slot.ExpiredAt != nil {
		t := slot.ExpiredAt.UTC()
		slot.ExpiredAt = &t
	}
	if slot.ClaimedAt != nil {
		t := slot.ClaimedAt.UTC()
		slot.ClaimedAt = &t
	}
}

func getSlot(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*models.Slot, error) {
	var slot models.Slot
	if err := sqlx.GetContext(ctx, q, &slot, query, args...); err != nil {
		return nil, err
	}
	normalizeSlot(&slot)
	return &slot, nil
}

func (s *Service) selectSlots(ctx context.Context, query string, args ...any) ([]models.Slot, error) {
	var slots []models.Slot
	if err := s.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, classifyError(err)
	}
	for i := range slots {
		normalizeSlot(&slots[i])
	}
	return slots, nil
}

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
	createdAt = utc(createdAt)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, wallet, err := s.applyTransaction(ctx, tx, walletChange{
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

	slot, err := getSlot(ctx, tx, queryInsertSlot, slotId, params.OwnerId, params.Currency,
		params.Principal, params.EffectiveWeeklyRate, createdAt, utc(createdAt.Add(params.Term)))
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
		zap.Time("expires_at", slot.ExpiresAt))
	return slot, wallet, nil
}

func (s *Service) GetSlot(ctx context.Context, slotId string) (*models.Slot, error) {
	slot, err := getSlot(ctx, s.db, queryGetSlot, slotId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrSlotNotFound, slotId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return slot, nil
}

func (s *Service) ListOwnerSlots(ctx context.Context, ownerId string) ([]models.Slot, error) {
	return s.selectSlots(ctx, queryGetOwnerSlots, ownerId)
}

func (s *Service) ListAccrualCandidates(ctx context.Context, now time.Time, limit int) ([]models.Slot, error) {
	return s.selectSlots(ctx, queryAccrualCandidates, utc(now), limit)
}

func (s *Service) ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]models.Slot, error) {
	return s.selectSlots(ctx, queryExpiryCandidates, utc(now), limit)
}

func (s *Service) ListClaimCandidates(ctx context.Context, limit int) ([]models.Slot, error) {
	return s.selectSlots(ctx, queryClaimCandidates, limit)
}

func (s *Service) ApplyAccrual(ctx context.Context, update store.AccrualUpdate) (*models.Slot, error) {
	if update.AccruedEarnings.IsNegative() {
		return nil, fmt.Errorf("accrued earnings cannot be negative, got %s", update.AccruedEarnings.String())
	}
	slot, err := getSlot(ctx, s.db, queryApplyAccrual,
		update.AccruedEarnings, utc(update.LastAccruedAt), update.SlotId, update.ExpectedVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.classifyMiss(ctx, update.SlotId, update.ExpectedVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply accrual: %w", classifyError(err))
	}
	return slot, nil
}

func (s *Service) ExpireSlot(ctx context.Context, update store.ExpireUpdate) (*models.Slot, error) {
	if update.AccruedEarnings.IsNegative() {
		return nil, fmt.Errorf("accrued earnings cannot be negative, got %s", update.AccruedEarnings.String())
	}
	slot, err := getSlot(ctx, s.db, queryExpireSlot,
		update.AccruedEarnings, utc(update.LastAccruedAt), utc(update.ExpiredAt), update.SlotId, update.ExpectedVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.classifyMiss(ctx, update.SlotId, update.ExpectedVersion)
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

func (s *Service) classifyMiss(ctx context.Context, slotId string, expectedVersion int64) error {
	current, err := s.GetSlot(ctx, slotId)
	if err != nil {
		return err
	}
	if current.LockVersion != expectedVersion {
		return fmt.Errorf("slot %s at version %d, expected %d: %w",
			slotId, current.LockVersion, expectedVersion, store.ErrConcurrentModification)
	}
	return fmt.Errorf("slot %s is %s: %w", slotId, current.State, store.ErrInvalidTransition)
}
