package indicator

import (
	"github.com/shopspring/decimal"

	"ta-enginev1/internal/model"
)

// MACD computes Moving Average Convergence Divergence as a composite of
// three EMA accumulators: fast and slow over closes, signal over the macd
// line fed back in as a synthetic close. Nothing is emitted until all
// three have warmed up.
//
// Components: "macd" (fast EMA - slow EMA, also the scalar value),
// "signal" (EMA of macd) and "histogram" (macd - signal).
type MACD struct{}

// NewMACD creates the MACD indicator.
func NewMACD() *MACD { return &MACD{} }

func (*MACD) Name() string { return "macd" }

func (*MACD) Metadata() []ParamMetadata {
	return []ParamMetadata{
		{Name: "fast_period", Type: "int", Default: 12, Min: f64ptr(1), Description: "period of the fast EMA"},
		{Name: "slow_period", Type: "int", Default: 26, Min: f64ptr(1), Description: "period of the slow EMA"},
		{Name: "signal_period", Type: "int", Default: 9, Min: f64ptr(1), Description: "period of the signal EMA over the macd line"},
	}
}

func (m *MACD) ValidateParams(p Params) error {
	meta := m.Metadata()
	if err := validateParams(meta, p); err != nil {
		return err
	}
	fast := intParam(p, meta, "fast_period")
	slow := intParam(p, meta, "slow_period")
	if fast >= slow {
		return &InvalidParamsError{Param: "fast_period", Value: fast, Expected: "less than slow_period"}
	}
	return nil
}

func (m *MACD) RequiredPeriods(p Params) int {
	meta := m.Metadata()
	slow := intParam(p, meta, "slow_period")
	signal := intParam(p, meta, "signal_period")
	// Slow EMA warms at slow, then the signal EMA needs signal macd values.
	return slow + signal - 1
}

func (m *MACD) Calculate(candles []model.Candle, p Params) ([]model.IndicatorResult, error) {
	return runBatch(m, candles, p)
}

type macdState struct {
	fast, slow, signal int
	ema                *EMA
	fastSt             State
	slowSt             State
	signalSt           State
}

func (m *MACD) InitState(p Params) State {
	meta := m.Metadata()
	fast := intParam(p, meta, "fast_period")
	slow := intParam(p, meta, "slow_period")
	signal := intParam(p, meta, "signal_period")
	ema := NewEMA()
	return &macdState{
		fast: fast, slow: slow, signal: signal,
		ema:      ema,
		fastSt:   ema.InitState(Params{"period": fast}),
		slowSt:   ema.InitState(Params{"period": slow}),
		signalSt: ema.InitState(Params{"period": signal}),
	}
}

func (m *MACD) UpdateState(st State, c model.Candle) (State, *model.IndicatorResult, error) {
	state, ok := st.(*macdState)
	if !ok {
		return st, nil, badState("macd.update")
	}

	var fastRes, slowRes, sigRes *model.IndicatorResult
	var err error
	state.fastSt, fastRes, err = state.ema.UpdateState(state.fastSt, c)
	if err != nil {
		return state, nil, err
	}
	state.slowSt, slowRes, err = state.ema.UpdateState(state.slowSt, c)
	if err != nil {
		return state, nil, err
	}
	if fastRes == nil || slowRes == nil {
		return state, nil, nil
	}

	macdLine := fastRes.Value.Sub(slowRes.Value)

	// Feed the macd line into the signal EMA as a synthetic close.
	state.signalSt, sigRes, err = state.ema.UpdateState(state.signalSt, model.Candle{TS: c.TS, Close: macdLine})
	if err != nil {
		return state, nil, err
	}
	if sigRes == nil {
		return state, nil, nil
	}

	res := emitMulti("macd", "macd", c.TS, map[string]decimal.Decimal{
		"macd":      macdLine,
		"signal":    sigRes.Value,
		"histogram": macdLine.Sub(sigRes.Value),
	}, map[string]any{
		"fast_period":   state.fast,
		"slow_period":   state.slow,
		"signal_period": state.signal,
	})
	return state, res, nil
}
