// Package indicator provides technical indicator calculations over candle data.
//
// Every indicator implements the Indicator interface two ways at once: a
// batch Calculate over a full candle series, and an incremental
// InitState/UpdateState pair consuming one candle per call. Both paths share
// the same warm-up rules, so replaying a series point by point through
// UpdateState produces exactly the results Calculate returns in one shot.
//
// All arithmetic stays in decimal form. Values cross into float64 only at
// declared boundaries (the Bollinger square root) and results are rounded
// to ResultPrecision places at emission, never earlier.
package indicator

import (
	"time"

	"github.com/shopspring/decimal"

	"ta-enginev1/internal/model"
)

// ResultPrecision is the number of decimal places applied to emitted
// values. Internal accumulators keep full precision between calls.
const ResultPrecision = 8

// State is an opaque incremental accumulator. It is created by InitState,
// advanced only by the UpdateState of the indicator that created it, and
// never inspected by anything else. Handing a state to a different
// indicator fails with StreamStateError.
type State any

// Indicator is the capability contract every indicator implements. Any
// type exposing these operations plugs into the pipeline without engine
// changes.
type Indicator interface {
	// Name returns the registry name (e.g. "sma", "rsi").
	Name() string

	// ValidateParams checks the parameter set against the indicator's
	// metadata. Unknown parameters are rejected, not ignored.
	ValidateParams(p Params) error

	// RequiredPeriods returns the minimum number of candles needed before
	// the first result, for the given params (defaults when p is nil).
	RequiredPeriods(p Params) int

	// Calculate computes all results over the series in one pass. Params
	// are validated first; a series shorter than RequiredPeriods fails
	// with InsufficientDataError.
	Calculate(candles []model.Candle, p Params) ([]model.IndicatorResult, error)

	// InitState returns a fresh accumulator for params that have passed
	// ValidateParams.
	InitState(p Params) State

	// UpdateState advances the accumulator by one candle and returns the
	// state for the next call plus at most one result: nil while warming
	// up, exactly one per call once warmed.
	UpdateState(st State, c model.Candle) (State, *model.IndicatorResult, error)
}

// ParamDescriber is implemented by indicators that expose parameter
// metadata for discovery and generic validation.
type ParamDescriber interface {
	Metadata() []ParamMetadata
}

// runBatch implements Calculate for any indicator as a fold over its own
// streaming update, which keeps batch and streaming output identical by
// construction.
func runBatch(ind Indicator, candles []model.Candle, p Params) ([]model.IndicatorResult, error) {
	if err := ind.ValidateParams(p); err != nil {
		return nil, err
	}
	required := ind.RequiredPeriods(p)
	if len(candles) < required {
		return nil, &InsufficientDataError{Required: required, Provided: len(candles)}
	}
	st := ind.InitState(p)
	results := make([]model.IndicatorResult, 0, len(candles)-required+1)
	for i := range candles {
		next, res, err := ind.UpdateState(st, candles[i])
		if err != nil {
			return nil, err
		}
		st = next
		if res != nil {
			results = append(results, *res)
		}
	}
	return results, nil
}

// emit builds a scalar result rounded to ResultPrecision. A period of 0
// means the indicator has no window length (e.g. OBV) and the metadata
// key is omitted.
func emit(name string, period int, ts time.Time, v decimal.Decimal) *model.IndicatorResult {
	md := map[string]any{"indicator": name}
	if period > 0 {
		md["period"] = period
	}
	return &model.IndicatorResult{
		Value:    v.Round(ResultPrecision),
		TS:       ts,
		Metadata: md,
	}
}

// emitMulti builds a multi-component result. Every component is rounded;
// the component named primary doubles as the scalar Value.
func emitMulti(name, primary string, ts time.Time, components map[string]decimal.Decimal, md map[string]any) *model.IndicatorResult {
	values := make(map[string]decimal.Decimal, len(components))
	for k, v := range components {
		values[k] = v.Round(ResultPrecision)
	}
	if md == nil {
		md = make(map[string]any, 1)
	}
	md["indicator"] = name
	return &model.IndicatorResult{
		Value:    values[primary],
		Values:   values,
		TS:       ts,
		Metadata: md,
	}
}

// badState is the uniform failure for a state handed to the wrong
// indicator.
func badState(op string) *StreamStateError {
	return &StreamStateError{Operation: op, Reason: "state does not belong to this indicator"}
}
