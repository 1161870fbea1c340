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
	"errors"
	"flag"
	"fmt"

	"slot-ledger-go/internal/api"
	"slot-ledger-go/internal/common"
	"slot-ledger-go/internal/config"
	"slot-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func parseDecimal(name, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ownerFlag := flag.String("owner", "", "Owner id (required)")
	principalFlag := flag.String("principal", "", "Principal taken from the owner's wallet (required)")
	rateFlag := flag.String("rate", "", "Weekly rate as a fraction, e.g. 0.30 (default: DEFAULT_WEEKLY_RATE)")
	flag.Parse()

	if *ownerFlag == "" || *principalFlag == "" {
		logger.Fatal("Flags --owner and --principal are required")
	}
	principal, err := parseDecimal("principal", *principalFlag)
	if err != nil {
		logger.Fatal("Invalid arguments", zap.Error(err))
	}
	rate, err := parseDecimal("rate", *rateFlag)
	if err != nil {
		logger.Fatal("Invalid arguments", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	var opts []api.Option
	if cfg.Ledger.DefaultWeeklyRate != "" {
		defaultRate, err := parseDecimal("DEFAULT_WEEKLY_RATE", cfg.Ledger.DefaultWeeklyRate)
		if err != nil {
			logger.Fatal("Invalid configuration", zap.Error(err))
		}
		opts = append(opts, api.WithDefaultRate(defaultRate))
	}
	ledger := api.NewLedgerService(services.Store, services.Catalog, nil, opts...)

	slot, err := ledger.Invest(ctx, *ownerFlag, principal, rate)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			fmt.Printf("\nInsufficient funds: deposit at least %s %s first\n\n", principal.String(), services.Catalog.Settlement.Symbol)
			return
		}
		logger.Fatal("Investment failed", zap.Error(err))
	}

	precision := services.Catalog.Settlement.Precision
	common.PrintHeader("SLOT OPENED", common.DefaultWidth)
	fmt.Printf("Slot:        %s\n", slot.Id)
	fmt.Printf("Owner:       %s\n", slot.OwnerId)
	fmt.Printf("Principal:   %s\n", common.FormatAmount(slot.Principal, precision, slot.Currency))
	fmt.Printf("Weekly rate: %s\n", slot.EffectiveWeeklyRate.String())
	fmt.Printf("Earns:       %s by %s\n",
		common.FormatAmount(slot.Cap, precision, slot.Currency),
		slot.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	common.PrintFooter("Earnings accrue while the engine runs", common.DefaultWidth)
}
