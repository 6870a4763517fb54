package indicator

import (
	"github.com/shopspring/decimal"

	"ta-enginev1/internal/model"
)

// RSI computes the Relative Strength Index with Wilder's smoothing.
// The first value needs period+1 candles (period deltas).
type RSI struct{}

// NewRSI creates the RSI indicator.
func NewRSI() *RSI { return &RSI{} }

func (*RSI) Name() string { return "rsi" }

func (*RSI) Metadata() []ParamMetadata {
	return []ParamMetadata{periodParam(14)}
}

func (r *RSI) ValidateParams(p Params) error {
	return validateParams(r.Metadata(), p)
}

func (r *RSI) RequiredPeriods(p Params) int {
	return intParam(p, r.Metadata(), "period") + 1
}

func (r *RSI) Calculate(candles []model.Candle, p Params) ([]model.IndicatorResult, error) {
	return runBatch(r, candles, p)
}

type rsiState struct {
	period    int
	count     int
	prevClose decimal.Decimal
	avgGain   decimal.Decimal
	avgLoss   decimal.Decimal
}

func (r *RSI) InitState(p Params) State {
	period := intParam(p, r.Metadata(), "period")
	return &rsiState{period: period}
}

func (r *RSI) UpdateState(st State, c model.Candle) (State, *model.IndicatorResult, error) {
	state, ok := st.(*rsiState)
	if !ok {
		return st, nil, badState("rsi.update")
	}
	state.count++

	if state.count == 1 {
		// First candle, no delta yet.
		state.prevClose = c.Close
		return state, nil, nil
	}

	delta := c.Close.Sub(state.prevClose)
	state.prevClose = c.Close

	gain, loss := decimal.Zero, decimal.Zero
	if delta.IsPositive() {
		gain = delta
	} else {
		loss = delta.Neg()
	}

	p := decimal.NewFromInt(int64(state.period))
	if state.count <= state.period+1 {
		// Accumulation phase, building the SMA seed averages.
		state.avgGain = state.avgGain.Add(gain)
		state.avgLoss = state.avgLoss.Add(loss)
		if state.count < state.period+1 {
			return state, nil, nil
		}
		state.avgGain = state.avgGain.Div(p)
		state.avgLoss = state.avgLoss.Div(p)
		return state, emit("rsi", state.period, c.TS, rsiValue(state.avgGain, state.avgLoss)), nil
	}

	// Wilder's smoothing: avg = (prevAvg*(period-1) + new) / period
	pm1 := p.Sub(decimal.NewFromInt(1))
	state.avgGain = state.avgGain.Mul(pm1).Add(gain).Div(p)
	state.avgLoss = state.avgLoss.Mul(pm1).Add(loss).Div(p)
	return state, emit("rsi", state.period, c.TS, rsiValue(state.avgGain, state.avgLoss)), nil
}

// rsiValue maps smoothed gain/loss averages to the 0..100 index. A zero
// average loss means no downward movement and pins the index at 100.
func rsiValue(avgGain, avgLoss decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	if avgLoss.IsZero() {
		return hundred
	}
	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}
