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
	"time"

	"slot-ledger-go/internal/common"
	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

// LedgerService is the owner-facing API over the slot store
type LedgerService struct {
	store     store.SlotStore
	catalog   *common.CurrencyCatalog
	publisher events.Publisher
	views     *Renderer

	defaultRate decimal.Decimal
	now         func() time.Time
}

type Option func(*LedgerService)

// WithDefaultRate sets the weekly rate used when an investment names none
func WithDefaultRate(rate decimal.Decimal) Option {
	return func(s *LedgerService) { s.defaultRate = rate }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

func NewLedgerService(slotStore store.SlotStore, catalog *common.CurrencyCatalog, publisher events.Publisher, opts ...Option) *LedgerService {
	s := &LedgerService{
		store:       slotStore,
		catalog:     catalog,
		publisher:   publisher,
		views:       NewRenderer(catalog),
		defaultRate: decimal.RequireFromString("0.30"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = noopPublisher{}
	}
	return s
}

func (s *LedgerService) Views() *Renderer {
	return s.views
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(...events.Event) {}
