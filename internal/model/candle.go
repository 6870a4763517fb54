package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents one period of OHLCV market data for a single instrument.
// All prices and the volume are decimals so arithmetic never leaves exact
// representation; conversion to float64 happens only at declared boundaries.
type Candle struct {
	Symbol string          `json:"symbol,omitempty"`
	TS     time.Time       `json:"ts"` // period start time (UTC)
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Validate checks the candle's domain invariants: volume must be
// non-negative and low must not exceed high. Timestamp ordering across a
// series is the caller's responsibility and is not checked here.
func (c *Candle) Validate() error {
	if c.Volume.IsNegative() {
		return &ValidationError{Field: "volume", Constraint: "must be >= 0"}
	}
	if c.Low.GreaterThan(c.High) {
		return &ValidationError{Field: "low", Constraint: "must be <= high"}
	}
	return nil
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
