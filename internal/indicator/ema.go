package indicator

import (
	"github.com/shopspring/decimal"

	"ta-enginev1/internal/model"
)

// EMA computes the exponential moving average of closes, seeded with the
// simple average of the first period values.
type EMA struct{}

// NewEMA creates the EMA indicator.
func NewEMA() *EMA { return &EMA{} }

func (*EMA) Name() string { return "ema" }

func (*EMA) Metadata() []ParamMetadata {
	return []ParamMetadata{periodParam(14)}
}

func (e *EMA) ValidateParams(p Params) error {
	return validateParams(e.Metadata(), p)
}

func (e *EMA) RequiredPeriods(p Params) int {
	return intParam(p, e.Metadata(), "period")
}

func (e *EMA) Calculate(candles []model.Candle, p Params) ([]model.IndicatorResult, error) {
	return runBatch(e, candles, p)
}

type emaState struct {
	period int
	count  int
	sum    decimal.Decimal // accumulates the SMA seed
	mult   decimal.Decimal // 2 / (period + 1)
	value  decimal.Decimal // unrounded; the recursion chains on this
}

func (e *EMA) InitState(p Params) State {
	period := intParam(p, e.Metadata(), "period")
	return &emaState{
		period: period,
		mult:   decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period) + 1)),
	}
}

func (e *EMA) UpdateState(st State, c model.Candle) (State, *model.IndicatorResult, error) {
	state, ok := st.(*emaState)
	if !ok {
		return st, nil, badState("ema.update")
	}
	state.count++

	if state.count <= state.period {
		state.sum = state.sum.Add(c.Close)
		if state.count < state.period {
			return state, nil, nil
		}
		state.value = state.sum.Div(decimal.NewFromInt(int64(state.period)))
		return state, emit("ema", state.period, c.TS, state.value), nil
	}

	// EMA = close*mult + prev*(1-mult), always chained on the unrounded
	// previous value.
	oneMinus := decimal.NewFromInt(1).Sub(state.mult)
	state.value = c.Close.Mul(state.mult).Add(state.value.Mul(oneMinus))
	return state, emit("ema", state.period, c.TS, state.value), nil
}
