package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"slot-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// SettlementCurrency is the single currency the ledger settles in.
type SettlementCurrency struct {
	Symbol    string
	Precision int32
}

// DisplayCurrency converts settlement amounts for display only.
// Rate is units of Symbol per one settlement unit.
type DisplayCurrency struct {
	Symbol    string          `yaml:"symbol"`
	Rate      decimal.Decimal `yaml:"-"`
	RawRate   string          `yaml:"rate"`
	Precision int32           `yaml:"precision"`
}

type currenciesFile struct {
	Display []DisplayCurrency `yaml:"display"`
}

// CurrencyCatalog holds the settlement currency and its display conversions.
type CurrencyCatalog struct {
	Settlement SettlementCurrency
	Display    []DisplayCurrency
}

// LoadCurrencyCatalog builds the catalogue from config. The currencies file
// is optional; without it amounts are only shown in the settlement currency.
func LoadCurrencyCatalog(cfg models.LedgerConfig) (*CurrencyCatalog, error) {
	if cfg.SettlementCurrency == "" {
		return nil, fmt.Errorf("settlement currency cannot be empty")
	}
	if cfg.SettlementPrecision < 0 || cfg.SettlementPrecision > 18 {
		return nil, fmt.Errorf("settlement precision must be between 0 and 18, got %d", cfg.SettlementPrecision)
	}

	catalog := &CurrencyCatalog{
		Settlement: SettlementCurrency{
			Symbol:    strings.ToUpper(cfg.SettlementCurrency),
			Precision: cfg.SettlementPrecision,
		},
	}

	if cfg.CurrenciesFile == "" {
		return catalog, nil
	}

	display, err := LoadDisplayCurrencies(cfg.CurrenciesFile)
	if err != nil {
		return nil, err
	}
	for _, c := range display {
		if c.Symbol == catalog.Settlement.Symbol {
			return nil, fmt.Errorf("display currency %s duplicates the settlement currency", c.Symbol)
		}
	}
	catalog.Display = display
	return catalog, nil
}

func LoadDisplayCurrencies(currenciesFile string) ([]DisplayCurrency, error) {
	var currenciesPath string
	if filepath.IsAbs(currenciesFile) {
		currenciesPath = currenciesFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		currenciesPath = filepath.Join(wd, currenciesFile)
	}

	data, err := os.ReadFile(currenciesPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", currenciesFile, err)
	}
	return ParseDisplayCurrencies(data)
}

func ParseDisplayCurrencies(data []byte) ([]DisplayCurrency, error) {
	var config currenciesFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse currencies: %w", err)
	}

	for i := range config.Display {
		c := &config.Display[i]
		if c.Symbol == "" {
			return nil, fmt.Errorf("currency at index %d missing symbol", i)
		}
		c.Symbol = strings.ToUpper(c.Symbol)
		rate, err := decimal.NewFromString(c.RawRate)
		if err != nil {
			return nil, fmt.Errorf("currency %s has invalid rate %q: %w", c.Symbol, c.RawRate, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("currency %s rate must be positive", c.Symbol)
		}
		c.Rate = rate
	}

	return config.Display, nil
}

// Round floors an amount to the settlement unit.
func (c *CurrencyCatalog) Round(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundFloor(c.Settlement.Precision)
}

// Convert returns the display conversions of a settlement amount, or nil
// when no display currencies are configured.
func (c *CurrencyCatalog) Convert(amount decimal.Decimal) map[string]decimal.Decimal {
	if len(c.Display) == 0 {
		return nil
	}
	out := make(map[string]decimal.Decimal, len(c.Display))
	for _, dc := range c.Display {
		out[dc.Symbol] = amount.Mul(dc.Rate).RoundFloor(dc.Precision)
	}
	return out
}
