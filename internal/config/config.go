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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"slot-ledger-go/internal/models"
)

func Load() (*models.Config, error) {
	durations := map[string]struct {
		def time.Duration
		dst *time.Duration
	}{}
	cfg := &models.Config{}

	bind := func(key string, def time.Duration, dst *time.Duration) {
		durations[key] = struct {
			def time.Duration
			dst *time.Duration
		}{def, dst}
	}

	bind("DB_CONN_MAX_LIFETIME", 5*time.Minute, &cfg.Database.ConnMaxLifetime)
	bind("DB_CONN_MAX_IDLE_TIME", 30*time.Second, &cfg.Database.ConnMaxIdleTime)
	bind("DB_PING_TIMEOUT", 5*time.Second, &cfg.Database.PingTimeout)
	bind("DB_BUSY_TIMEOUT", 5*time.Second, &cfg.Database.BusyTimeout)
	bind("PG_CONN_MAX_LIFETIME", 5*time.Minute, &cfg.Postgres.ConnMaxLifetime)
	bind("PG_PING_TIMEOUT", 10*time.Second, &cfg.Postgres.PingTimeout)
	bind("ACCRUAL_INTERVAL", 5*time.Second, &cfg.Processor.AccrualInterval)
	bind("EXPIRATION_INTERVAL", 30*time.Second, &cfg.Processor.ExpirationInterval)
	bind("AUTO_CLAIM_INTERVAL", 15*time.Second, &cfg.Processor.AutoClaimInterval)
	bind("PROCESSOR_TICK_TIMEOUT", 0, &cfg.Processor.TickTimeout)
	bind("SERVER_READ_TIMEOUT", 15*time.Second, &cfg.Server.ReadTimeout)
	bind("SERVER_WRITE_TIMEOUT", 15*time.Second, &cfg.Server.WriteTimeout)
	bind("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second, &cfg.Server.ShutdownTimeout)
	bind("SESSION_TOKEN_TTL", 24*time.Hour, &cfg.Server.TokenTTL)
	bind("REDIS_LEASE_TTL", 30*time.Second, &cfg.Redis.LeaseTTL)
	bind("CLIENT_PULL_INTERVAL", 30*time.Second, &cfg.Client.PullInterval)

	for key, b := range durations {
		value, err := getEnvDuration(key, b.def)
		if err != nil {
			return nil, err
		}
		*b.dst = value
	}

	cfg.Database.Path = getEnvString("DATABASE_PATH", "slots.db")
	cfg.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)

	cfg.Postgres.URL = getEnvString("POSTGRES_URL", "")
	cfg.Postgres.MaxOpenConns = getEnvInt("PG_MAX_OPEN_CONNS", 25)
	cfg.Postgres.MaxIdleConns = getEnvInt("PG_MAX_IDLE_CONNS", 5)
	cfg.Postgres.MigrateOnStart = getEnvBool("PG_MIGRATE_ON_START", true)

	cfg.Ledger.Backend = getEnvString("LEDGER_BACKEND", "sqlite")
	cfg.Ledger.SettlementCurrency = getEnvString("SETTLEMENT_CURRENCY", "USDT")
	cfg.Ledger.SettlementPrecision = int32(getEnvInt("SETTLEMENT_PRECISION", 6))
	cfg.Ledger.CurrenciesFile = getEnvString("CURRENCIES_FILE", "")
	cfg.Ledger.DefaultWeeklyRate = getEnvString("DEFAULT_WEEKLY_RATE", "0.30")

	cfg.Processor.AccrualBatchSize = getEnvInt("ACCRUAL_BATCH_SIZE", 500)
	cfg.Processor.ExpiryBatchSize = getEnvInt("EXPIRY_BATCH_SIZE", 200)
	cfg.Processor.ClaimBatchSize = getEnvInt("CLAIM_BATCH_SIZE", 100)
	cfg.Processor.AutoClaimEnabled = getEnvBool("AUTO_CLAIM_ENABLED", true)

	cfg.Server.Addr = getEnvString("SERVER_ADDR", ":8080")
	cfg.Server.JWTSecret = getEnvString("JWT_SECRET", "")
	cfg.Server.ClaimRatePerMinute = getEnvInt("CLAIM_RATE_PER_MINUTE", 30)
	cfg.Server.ClaimBurst = getEnvInt("CLAIM_BURST", 5)
	cfg.Server.SendBufferSize = getEnvInt("WS_SEND_BUFFER", 256)

	cfg.Redis.Enabled = getEnvBool("REDIS_LEASE_ENABLED", false)
	cfg.Redis.Addr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Formance.Enabled = getEnvBool("FORMANCE_ENABLED", false)
	cfg.Formance.StackURL = getEnvString("FORMANCE_STACK_URL", "")
	cfg.Formance.ClientID = getEnvString("FORMANCE_CLIENT_ID", "")
	cfg.Formance.ClientSecret = getEnvString("FORMANCE_CLIENT_SECRET", "")
	cfg.Formance.LedgerName = getEnvString("FORMANCE_LEDGER", "slot-ledger")

	cfg.Telegram.Enabled = getEnvBool("TELEGRAM_ENABLED", false)
	cfg.Telegram.BotToken = getEnvString("TELEGRAM_BOT_TOKEN", "")

	cfg.Client.ServerURL = getEnvString("CLIENT_SERVER_URL", "http://localhost:8080")
	cfg.Client.CacheFile = getEnvString("CLIENT_CACHE_FILE", "")

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
