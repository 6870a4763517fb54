package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// IndicatorResult is one value emitted by an indicator computation step.
//
// Scalar indicators populate Value only. Multi-output indicators (MACD,
// Bollinger Bands) additionally populate Values with every named component;
// Value then carries the primary component so scalar consumers keep working.
type IndicatorResult struct {
	Value    decimal.Decimal            `json:"value"`
	Values   map[string]decimal.Decimal `json:"values,omitempty"`
	TS       time.Time                  `json:"ts"`
	Metadata map[string]any             `json:"metadata,omitempty"`
}

// Component returns the named component from Values, falling back to Value
// when the result is scalar or the component is the primary one.
func (r *IndicatorResult) Component(name string) (decimal.Decimal, bool) {
	if r.Values != nil {
		if v, ok := r.Values[name]; ok {
			return v, true
		}
		return decimal.Decimal{}, false
	}
	if name == "value" {
		return r.Value, true
	}
	return decimal.Decimal{}, false
}

// JSON returns the JSON-encoded result.
func (r *IndicatorResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
