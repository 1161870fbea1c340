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

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type depositRequest struct {
	ownerId     string
	amount      decimal.Decimal
	externalRef string
}

func parseAndValidateFlags() (*depositRequest, error) {
	ownerFlag := flag.String("owner", "", "Owner id (required)")
	amountFlag := flag.String("amount", "", "Amount to credit in the settlement currency (required)")
	refFlag := flag.String("ref", "", "External reference; reusing one makes the deposit a no-op (default: random)")
	flag.Parse()

	if *ownerFlag == "" || *amountFlag == "" {
		return nil, fmt.Errorf("flags --owner and --amount are required")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	ref := *refFlag
	if ref == "" {
		ref = "cli:" + uuid.New().String()
	}

	return &depositRequest{ownerId: *ownerFlag, amount: amount, externalRef: ref}, nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
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

	// Connected clients see the new balance on their next state pull
	ledger := api.NewLedgerService(services.Store, services.Catalog, nil)

	wallet, err := ledger.Deposit(ctx, req.ownerId, req.amount, req.externalRef)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			fmt.Printf("\nDeposit %s was already recorded, nothing changed\n\n", req.externalRef)
			return
		}
		logger.Fatal("Deposit failed", zap.Error(err))
	}

	precision := services.Catalog.Settlement.Precision
	common.PrintHeader("DEPOSIT RECORDED", common.DefaultWidth)
	fmt.Printf("Owner:       %s\n", req.ownerId)
	fmt.Printf("Amount:      %s\n", common.FormatAmount(services.Catalog.Round(req.amount), precision, wallet.Currency))
	fmt.Printf("Reference:   %s\n", req.externalRef)
	fmt.Printf("New balance: %s (v%d)\n", common.FormatAmount(wallet.Balance, precision, wallet.Currency), wallet.Version)
	for symbol, value := range wallet.Display {
		fmt.Printf("             ≈ %s %s\n", value.String(), symbol)
	}
	common.PrintFooter("Done", common.DefaultWidth)
}
