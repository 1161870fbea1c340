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

package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"slot-ledger-go/internal/accrual"
	"slot-ledger-go/internal/common"
	"slot-ledger-go/internal/config"
	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalOwners      int
	ownersWithFunds  int
	totalSlots       int
	activeSlots      int
	reconcileFailure int
}

func printWallet(wallet models.Wallet, precision int32, isLast bool) {
	fmt.Printf("%s wallet %-8s: %24s (v%d, updated: %s)\n",
		common.BoxPrefix(isLast),
		wallet.Currency,
		wallet.Balance.StringFixed(precision),
		wallet.Version,
		wallet.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func printSlot(slot models.Slot, precision int32, isLast bool) {
	limit := accrual.Cap(slot.Principal, slot.EffectiveWeeklyRate, precision)
	fmt.Printf("%s slot %-11s: %s of %s earned on %s @ %s/wk [%s, expires %s]\n",
		common.BoxPrefix(isLast),
		common.ShortId(slot.Id),
		slot.AccruedEarnings.StringFixed(precision),
		limit.StringFixed(precision),
		common.FormatAmount(slot.Principal, precision, slot.Currency),
		slot.EffectiveWeeklyRate.String(),
		slot.State,
		slot.ExpiresAt.Format("2006-01-02 15:04"))
}

func printOwnerHeader(ownerId string, wallets, slots int) {
	fmt.Printf("\n┌─ Owner: %s\n", ownerId)
	fmt.Printf("│  Wallets: %d  Slots: %d\n", wallets, slots)
	common.PrintBoxSeparator(78)
}

func processOwner(ctx context.Context, ownerId string, slotStore store.SlotStore, precision int32) ([]models.Wallet, []models.Slot, error) {
	wallets, err := slotStore.ListWallets(ctx, ownerId)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get wallets: %w", err)
	}
	slots, err := slotStore.ListOwnerSlots(ctx, ownerId)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get slots: %w", err)
	}

	if len(wallets) == 0 && len(slots) == 0 {
		return nil, nil, nil
	}

	printOwnerHeader(ownerId, len(wallets), len(slots))
	lines := len(wallets) + len(slots)
	for i, wallet := range wallets {
		printWallet(wallet, precision, i == lines-1)
	}
	for i, slot := range slots {
		printSlot(slot, precision, len(wallets)+i == lines-1)
	}
	return wallets, slots, nil
}

func reconcileOwner(ctx context.Context, ownerId string, wallets []models.Wallet, slotStore store.SlotStore, logger *zap.Logger) int {
	failures := 0
	for _, wallet := range wallets {
		if err := slotStore.ReconcileWallet(ctx, ownerId, wallet.Currency); err != nil {
			failures++
			logger.Error("Wallet does not match its transaction history",
				zap.String("owner_id", ownerId),
				zap.String("currency", wallet.Currency),
				zap.Error(err))
			fmt.Printf("   ✗ %s wallet does not match its history: %v\n", wallet.Currency, err)
		}
	}
	return failures
}

func processOwnersAndGenerateReport(ctx context.Context, owners []string, slotStore store.SlotStore, precision int32, reconcile bool, logger *zap.Logger) balanceStats {
	stats := balanceStats{}

	for _, ownerId := range owners {
		stats.totalOwners++

		wallets, slots, err := processOwner(ctx, ownerId, slotStore, precision)
		if err != nil {
			logger.Error("Failed to process owner",
				zap.String("owner_id", ownerId),
				zap.Error(err))
			continue
		}

		for _, wallet := range wallets {
			if wallet.Balance.IsPositive() {
				stats.ownersWithFunds++
				break
			}
		}
		stats.totalSlots += len(slots)
		for _, slot := range slots {
			if slot.State == models.SlotStateActive {
				stats.activeSlots++
			}
		}

		if reconcile {
			stats.reconcileFailure += reconcileOwner(ctx, ownerId, wallets, slotStore, logger)
		}
	}

	return stats
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ownerFlag := flag.String("owner", "", "Filter by a specific owner id (optional)")
	reconcileFlag := flag.Bool("reconcile", false, "Check every wallet against its transactions and claims against payouts")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Read-only: no processors, no broadcaster
	slotStore, err := common.InitializeStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize ledger", zap.Error(err))
	}
	defer slotStore.Close()

	owners, err := common.InitializeOwners(ctx, slotStore, *ownerFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize owners", zap.Error(err))
	}

	precision := cfg.Ledger.SettlementPrecision
	common.PrintHeader("SLOT LEDGER REPORT", common.WideWidth)

	stats := processOwnersAndGenerateReport(ctx, owners, slotStore, precision, *reconcileFlag, logger)

	if *reconcileFlag {
		if err := slotStore.VerifyClaimConservation(ctx); err != nil {
			stats.reconcileFailure++
			logger.Error("Claim conservation check failed", zap.Error(err))
			fmt.Printf("\n✗ Claim credits do not match claimed payouts: %v\n", err)
		} else {
			fmt.Println("\n✓ Claim credits match claimed payouts")
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d owners with funds, %d slots (%d active) across %d owners queried",
		stats.ownersWithFunds, stats.totalSlots, stats.activeSlots, stats.totalOwners)
	if *reconcileFlag {
		summary += fmt.Sprintf(", %d reconciliation failures", stats.reconcileFailure)
	}
	common.PrintFooter(summary, common.WideWidth)

	logger.Info("Balance query completed",
		zap.Int("owners_queried", stats.totalOwners),
		zap.Int("owners_with_funds", stats.ownersWithFunds),
		zap.Int("slots", stats.totalSlots),
		zap.Int("reconcile_failures", stats.reconcileFailure))
}
