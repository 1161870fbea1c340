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
	"flag"
	"fmt"
	"time"

	"slot-ledger-go/internal/common"
	"slot-ledger-go/internal/config"
	"slot-ledger-go/internal/server"

	"go.uber.org/zap"
)

func main() {
	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ownerFlag := flag.String("owner", "", "Owner id the session belongs to (required)")
	ttlFlag := flag.Duration("ttl", 0, "Token lifetime (default: SESSION_TOKEN_TTL)")
	flag.Parse()

	if *ownerFlag == "" {
		logger.Fatal("Flag --owner is required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ttl := cfg.Server.TokenTTL
	if *ttlFlag > 0 {
		ttl = *ttlFlag
	}

	token, expiresAt, err := server.IssueToken(*ownerFlag, cfg.Server.JWTSecret, ttl)
	if err != nil {
		logger.Fatal("Failed to issue token", zap.Error(err))
	}

	logger.Info("Session token issued",
		zap.String("owner_id", *ownerFlag),
		zap.Time("expires_at", expiresAt))

	fmt.Println(token)
	fmt.Printf("# expires %s\n", expiresAt.Format(time.RFC3339))
}
