package model

import "github.com/shopspring/decimal"

// Field names one OHLCV component of a candle. Fields are the vocabulary of
// pipeline input mappings: a stage configured with {close: high} computes
// over a view of the series where every close is replaced by the high.
type Field string

const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
)

// Valid reports whether f names a known candle field.
func (f Field) Valid() bool {
	switch f {
	case FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume:
		return true
	}
	return false
}

// FieldValue extracts the named field from the candle.
func (c *Candle) FieldValue(f Field) (decimal.Decimal, error) {
	switch f {
	case FieldOpen:
		return c.Open, nil
	case FieldHigh:
		return c.High, nil
	case FieldLow:
		return c.Low, nil
	case FieldClose:
		return c.Close, nil
	case FieldVolume:
		return c.Volume, nil
	}
	return decimal.Decimal{}, &InvalidDataFormatError{
		Expected: "one of open/high/low/close/volume",
		Received: string(f),
		Index:    -1,
	}
}

// setField overwrites the named field. Unknown fields are ignored; callers
// validate field names before remapping.
func (c *Candle) setField(f Field, v decimal.Decimal) {
	switch f {
	case FieldOpen:
		c.Open = v
	case FieldHigh:
		c.High = v
	case FieldLow:
		c.Low = v
	case FieldClose:
		c.Close = v
	case FieldVolume:
		c.Volume = v
	}
}

// Remap returns a copy of the candle with fields replaced according to
// mapping (target field ← source field). The source values are all taken
// from the original candle, so swaps like {close: high, high: close} behave
// as expected.
func (c Candle) Remap(mapping map[Field]Field) (Candle, error) {
	if len(mapping) == 0 {
		return c, nil
	}
	out := c
	for target, source := range mapping {
		if !target.Valid() {
			return Candle{}, &InvalidDataFormatError{Expected: "valid target field", Received: string(target), Index: -1}
		}
		v, err := c.FieldValue(source)
		if err != nil {
			return Candle{}, err
		}
		out.setField(target, v)
	}
	return out, nil
}

// RemapSeries applies Remap to every candle in the series, returning a new
// slice. The input series is never mutated.
func RemapSeries(candles []Candle, mapping map[Field]Field) ([]Candle, error) {
	if len(mapping) == 0 {
		return candles, nil
	}
	out := make([]Candle, len(candles))
	for i := range candles {
		c, err := candles[i].Remap(mapping)
		if err != nil {
			if dfe, ok := err.(*InvalidDataFormatError); ok {
				dfe.Index = i
			}
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// Closes extracts the close series from the candles.
func Closes(candles []Candle) []decimal.Decimal {
	out := make([]decimal.Decimal, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

// Volumes extracts the volume series from the candles.
func Volumes(candles []Candle) []decimal.Decimal {
	out := make([]decimal.Decimal, len(candles))
	for i := range candles {
		out[i] = candles[i].Volume
	}
	return out
}

// FieldSeries extracts an arbitrary field series from the candles.
func FieldSeries(candles []Candle, f Field) ([]decimal.Decimal, error) {
	if !f.Valid() {
		return nil, &InvalidDataFormatError{Expected: "valid field", Received: string(f), Index: -1}
	}
	out := make([]decimal.Decimal, len(candles))
	for i := range candles {
		v, _ := candles[i].FieldValue(f)
		out[i] = v
	}
	return out, nil
}
