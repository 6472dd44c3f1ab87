/*
Package config loads the fee configuration: the mapping from fee type to
base amount, plus an active flag per fee type.

FORMAT (TOML):

  currency = "GBP"

  [fees.MATCH]
  amount = "5.00"

  [fees.YELLOW_CARD]
  amount = "5.00"

  [fees.YEARLY_SUBS]
  amount = "120.00"
  active = false

Amounts are decimal strings; floats in config files invite rounding drift.
Any fee type not present falls back to the built-in defaults.
*/
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/clubledger/finance-engine/ledger"
)

// FeeRate is one configured fee.
type FeeRate struct {
	Amount ledger.Money
	Active bool
}

// Config is the loaded fee configuration. Implements engine.FeeConfig.
type Config struct {
	Currency string
	rates    map[ledger.FeeType]FeeRate
}

// BaseAmount returns the configured base amount for a fee type.
// The second return is false for unknown or inactive fee types.
func (c *Config) BaseAmount(ft ledger.FeeType) (ledger.Money, bool) {
	r, ok := c.rates[ft]
	if !ok || !r.Active {
		return ledger.ZeroMoney(), false
	}
	return r.Amount, true
}

// Default returns the built-in fee schedule.
func Default() *Config {
	return &Config{
		Currency: "GBP",
		rates: map[ledger.FeeType]FeeRate{
			ledger.FeeMatch:       {Amount: ledger.MustParseMoney("5.00"), Active: true},
			ledger.FeeTraining:    {Amount: ledger.MustParseMoney("3.00"), Active: true},
			ledger.FeeSocialEvent: {Amount: ledger.MustParseMoney("10.00"), Active: true},
			ledger.FeeYellowCard:  {Amount: ledger.MustParseMoney("5.00"), Active: true},
			ledger.FeeRedCard:     {Amount: ledger.MustParseMoney("10.00"), Active: true},
			ledger.FeeYearlySubs:  {Amount: ledger.MustParseMoney("120.00"), Active: true},
		},
	}
}

// fileFormat mirrors the TOML document shape.
type fileFormat struct {
	Currency string                 `toml:"currency"`
	Fees     map[string]feeRateToml `toml:"fees"`
}

type feeRateToml struct {
	Amount string `toml:"amount"`
	Active *bool  `toml:"active"`
}

// Load reads a TOML fee configuration, overlaying it on the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fee config: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes a TOML document, overlaying it on the defaults.
func Parse(doc string) (*Config, error) {
	var ff fileFormat
	if _, err := toml.Decode(doc, &ff); err != nil {
		return nil, fmt.Errorf("decoding fee config: %w", err)
	}

	cfg := Default()
	if ff.Currency != "" {
		cfg.Currency = ff.Currency
	}

	for name, raw := range ff.Fees {
		amount, err := decimal.NewFromString(raw.Amount)
		if err != nil {
			return nil, fmt.Errorf("fee %s: bad amount %q: %w", name, raw.Amount, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("fee %s: negative amount %q", name, raw.Amount)
		}
		active := true
		if raw.Active != nil {
			active = *raw.Active
		}
		cfg.rates[ledger.FeeType(name)] = FeeRate{
			Amount: ledger.Money{Value: amount},
			Active: active,
		}
	}
	return cfg, nil
}
