package common

import (
	"os"
	"path/filepath"
	"testing"

	"slot-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

const sampleCurrencies = `
display:
  - symbol: usd
    rate: "1"
    precision: 2
  - symbol: NON
    rate: "12.5"
    precision: 4
`

func TestParseDisplayCurrencies(t *testing.T) {
	currencies, err := ParseDisplayCurrencies([]byte(sampleCurrencies))
	if err != nil {
		t.Fatalf("ParseDisplayCurrencies failed: %v", err)
	}
	if len(currencies) != 2 {
		t.Fatalf("Expected 2 currencies, got %d", len(currencies))
	}
	if currencies[0].Symbol != "USD" {
		t.Errorf("Expected symbol to be upper-cased, got %s", currencies[0].Symbol)
	}
	if !currencies[1].Rate.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("Expected rate 12.5, got %s", currencies[1].Rate)
	}
}

func TestParseDisplayCurrencies_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing symbol", "display:\n  - rate: \"1\"\n"},
		{"bad rate", "display:\n  - symbol: USD\n    rate: abc\n"},
		{"zero rate", "display:\n  - symbol: USD\n    rate: \"0\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDisplayCurrencies([]byte(tt.data)); err == nil {
				t.Error("Expected an error, got nil")
			}
		})
	}
}

func TestLoadCurrencyCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "currencies.yaml")
	if err := os.WriteFile(path, []byte(sampleCurrencies), 0o600); err != nil {
		t.Fatalf("Failed to write currencies file: %v", err)
	}

	catalog, err := LoadCurrencyCatalog(models.LedgerConfig{
		SettlementCurrency:  "usdt",
		SettlementPrecision: 6,
		CurrenciesFile:      path,
	})
	if err != nil {
		t.Fatalf("LoadCurrencyCatalog failed: %v", err)
	}
	if catalog.Settlement.Symbol != "USDT" {
		t.Errorf("Expected USDT, got %s", catalog.Settlement.Symbol)
	}

	display := catalog.Convert(decimal.RequireFromString("4.285714"))
	if !display["USD"].Equal(decimal.RequireFromString("4.28")) {
		t.Errorf("Expected USD 4.28, got %s", display["USD"])
	}
	if !display["NON"].Equal(decimal.RequireFromString("53.5714")) {
		t.Errorf("Expected NON 53.5714, got %s", display["NON"])
	}
}

func TestLoadCurrencyCatalog_NoFile(t *testing.T) {
	catalog, err := LoadCurrencyCatalog(models.LedgerConfig{SettlementCurrency: "USDT", SettlementPrecision: 6})
	if err != nil {
		t.Fatalf("LoadCurrencyCatalog failed: %v", err)
	}
	if catalog.Convert(decimal.NewFromInt(1)) != nil {
		t.Error("Expected no display conversions without a currencies file")
	}
}

func TestLoadCurrencyCatalog_RejectsSettlementDuplicate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "currencies.yaml")
	data := "display:\n  - symbol: USDT\n    rate: \"1\"\n    precision: 6\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("Failed to write currencies file: %v", err)
	}

	_, err := LoadCurrencyCatalog(models.LedgerConfig{SettlementCurrency: "USDT", SettlementPrecision: 6, CurrenciesFile: path})
	if err == nil {
		t.Error("Expected an error for a display currency equal to the settlement currency")
	}
}
