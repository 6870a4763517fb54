package indicator

import (
	"github.com/shopspring/decimal"

	"ta-enginev1/internal/model"
)

// ATR computes the Average True Range with Wilder's smoothing. True range
// needs a previous close, so the first value needs period+1 candles.
type ATR struct{}

// NewATR creates the ATR indicator.
func NewATR() *ATR { return &ATR{} }

func (*ATR) Name() string { return "atr" }

func (*ATR) Metadata() []ParamMetadata {
	return []ParamMetadata{periodParam(14)}
}

func (a *ATR) ValidateParams(p Params) error {
	return validateParams(a.Metadata(), p)
}

func (a *ATR) RequiredPeriods(p Params) int {
	return intParam(p, a.Metadata(), "period") + 1
}

func (a *ATR) Calculate(candles []model.Candle, p Params) ([]model.IndicatorResult, error) {
	return runBatch(a, candles, p)
}

type atrState struct {
	period    int
	count     int
	prevClose decimal.Decimal
	trSum     decimal.Decimal // accumulates the seed
	value     decimal.Decimal // unrounded
}

func (a *ATR) InitState(p Params) State {
	period := intParam(p, a.Metadata(), "period")
	return &atrState{period: period}
}

func (a *ATR) UpdateState(st State, c model.Candle) (State, *model.IndicatorResult, error) {
	state, ok := st.(*atrState)
	if !ok {
		return st, nil, badState("atr.update")
	}
	state.count++

	if state.count == 1 {
		state.prevClose = c.Close
		return state, nil, nil
	}

	tr := trueRange(c, state.prevClose)
	state.prevClose = c.Close

	p := decimal.NewFromInt(int64(state.period))
	if state.count <= state.period+1 {
		state.trSum = state.trSum.Add(tr)
		if state.count < state.period+1 {
			return state, nil, nil
		}
		state.value = state.trSum.Div(p)
		return state, emit("atr", state.period, c.TS, state.value), nil
	}

	// ATR = (prev*(period-1) + TR) / period
	state.value = state.value.Mul(p.Sub(decimal.NewFromInt(1))).Add(tr).Div(p)
	return state, emit("atr", state.period, c.TS, state.value), nil
}

// trueRange is the largest of high-low, |high-prevClose| and
// |low-prevClose|.
func trueRange(c model.Candle, prevClose decimal.Decimal) decimal.Decimal {
	return decimal.Max(
		c.High.Sub(c.Low),
		c.High.Sub(prevClose).Abs(),
		c.Low.Sub(prevClose).Abs(),
	)
}
