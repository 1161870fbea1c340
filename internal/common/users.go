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

package common

import (
	"context"
	"fmt"

	"slot-ledger-go/internal/store"

	"go.uber.org/zap"
)

// InitializeOwners returns the owners a command-line report should cover.
// If ownerFilter is provided, returns just that owner.
// If ownerFilter is empty, returns every owner with a wallet or a slot.
func InitializeOwners(ctx context.Context, slotStore store.SlotStore, ownerFilter string, logger *zap.Logger) ([]string, error) {
	if ownerFilter != "" {
		logger.Info("Filtering by owner", zap.String("owner_id", ownerFilter))
		return []string{ownerFilter}, nil
	}

	owners, err := slotStore.ListOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get owners: %w", err)
	}

	logger.Info("Retrieved owners", zap.Int("count", len(owners)))
	return owners, nil
}
