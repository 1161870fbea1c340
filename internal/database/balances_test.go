package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"slot-ledger-go/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupServiceTestDB(t *testing.T) (*Service, func()) {
	t.Helper()

	cfg := models.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns:    8,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		PingTimeout:     5 * time.Second,
		BusyTimeout:     5 * time.Second,
	}

	service, err := NewService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create test service: %v", err)
	}

	return service, service.Close
}

func TestGetWallet_NoWallet(t *testing.T) {
	service, cleanup := setupServiceTestDB(t)
	defer cleanup()

	wallet, err := service.GetWallet(context.Background(), "owner1", "USDT")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}

	if !wallet.Balance.Equal(decimal.Zero) {
		t.Errorf("Expected balance 0, got %s", wallet.Balance.String())
	}
}

func TestGetWallet_WithTransactions(t *testing.T) {
	service, cleanup := setupServiceTestDB(t)
	defer cleanup()

	ctx := context.Background()

	if _, _, err := service.subledger.ProcessTransaction(ctx, deposit("owner1", "USDT", "2", "dep1")); err != nil {
		t.Fatalf("Failed to create deposit: %v", err)
	}

	_, _, err := service.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		OwnerId:         "owner1",
		Currency:        "USDT",
		TransactionType: models.TransactionTypeWithdrawal,
		Amount:          decimal.RequireFromString("-0.5"),
		ExternalRef:     "wd1",
	})
	if err != nil {
		t.Fatalf("Failed to create withdrawal: %v", err)
	}

	wallet, err := service.GetWallet(ctx, "owner1", "USDT")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}

	expectedBalance := decimal.RequireFromString("1.5")
	if !wallet.Balance.Equal(expectedBalance) {
		t.Errorf("Expected balance %s, got %s", expectedBalance.String(), wallet.Balance.String())
	}
	if wallet.Version != 3 {
		t.Errorf("Expected version 3 after two updates, got %d", wallet.Version)
	}
}

func TestListWallets(t *testing.T) {
	service, cleanup := setupServiceTestDB(t)
	defer cleanup()

	ctx := context.Background()

	if _, _, err := service.subledger.ProcessTransaction(ctx, deposit("owner1", "USDT", "1", "tx1")); err != nil {
		t.Fatalf("Failed to create USDT deposit: %v", err)
	}
	if _, _, err := service.subledger.ProcessTransaction(ctx, deposit("owner1", "USDC", "10", "tx2")); err != nil {
		t.Fatalf("Failed to create USDC deposit: %v", err)
	}

	wallets, err := service.ListWallets(ctx, "owner1")
	if err != nil {
		t.Fatalf("ListWallets failed: %v", err)
	}

	if len(wallets) != 2 {
		t.Fatalf("Expected 2 wallets, got %d", len(wallets))
	}

	found := make(map[string]decimal.Decimal)
	for _, wallet := range wallets {
		found[wallet.Currency] = wallet.Balance
	}

	if !found["USDT"].Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected USDT balance 1, got %s", found["USDT"].String())
	}
	if !found["USDC"].Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected USDC balance 10, got %s", found["USDC"].String())
	}
}

func TestReconcileWallet(t *testing.T) {
	service, cleanup := setupServiceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	for i, amount := range []string{"0.1", "0.2", "0.000001"} {
		ref := "dep" + string(rune('a'+i))
		if _, _, err := service.subledger.ProcessTransaction(ctx, deposit("owner1", "USDT", amount, ref)); err != nil {
			t.Fatalf("Deposit %s failed: %v", amount, err)
		}
	}

	if err := service.ReconcileWallet(ctx, "owner1", "USDT"); err != nil {
		t.Fatalf("Expected reconciliation to pass, got: %v", err)
	}

	// Tamper with the hot balance
	if _, err := service.db.ExecContext(ctx, `UPDATE wallets SET balance = '99' WHERE owner_id = 'owner1'`); err != nil {
		t.Fatalf("Failed to tamper balance: %v", err)
	}
	if err := service.ReconcileWallet(ctx, "owner1", "USDT"); err == nil {
		t.Error("Expected reconciliation to fail after tampering")
	}
}

func TestListOwners(t *testing.T) {
	service, cleanup := setupServiceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	for _, owner := range []string{"bob", "alice", "bob"} {
		if _, _, err := service.subledger.ProcessTransaction(ctx, deposit(owner, "USDT", "1", "")); err != nil {
			t.Fatalf("Deposit for %s failed: %v", owner, err)
		}
	}

	owners, err := service.ListOwners(ctx)
	if err != nil {
		t.Fatalf("ListOwners failed: %v", err)
	}
	if len(owners) != 2 || owners[0] != "alice" || owners[1] != "bob" {
		t.Errorf("Expected [alice bob], got %v", owners)
	}
}
