package indicator

import (
	"github.com/shopspring/decimal"

	"ta-enginev1/internal/model"
)

// SMMA computes the smoothed moving average (Wilder's moving average),
// seeded with the simple average of the first period closes.
type SMMA struct{}

// NewSMMA creates the SMMA indicator.
func NewSMMA() *SMMA { return &SMMA{} }

func (*SMMA) Name() string { return "smma" }

func (*SMMA) Metadata() []ParamMetadata {
	return []ParamMetadata{periodParam(14)}
}

func (s *SMMA) ValidateParams(p Params) error {
	return validateParams(s.Metadata(), p)
}

func (s *SMMA) RequiredPeriods(p Params) int {
	return intParam(p, s.Metadata(), "period")
}

func (s *SMMA) Calculate(candles []model.Candle, p Params) ([]model.IndicatorResult, error) {
	return runBatch(s, candles, p)
}

type smmaState struct {
	period int
	count  int
	sum    decimal.Decimal
	value  decimal.Decimal // unrounded
}

func (s *SMMA) InitState(p Params) State {
	period := intParam(p, s.Metadata(), "period")
	return &smmaState{period: period}
}

func (s *SMMA) UpdateState(st State, c model.Candle) (State, *model.IndicatorResult, error) {
	state, ok := st.(*smmaState)
	if !ok {
		return st, nil, badState("smma.update")
	}
	state.count++
	p := decimal.NewFromInt(int64(state.period))

	if state.count <= state.period {
		state.sum = state.sum.Add(c.Close)
		if state.count < state.period {
			return state, nil, nil
		}
		state.value = state.sum.Div(p)
		return state, emit("smma", state.period, c.TS, state.value), nil
	}

	// SMMA = (prev*(period-1) + close) / period
	state.value = state.value.Mul(p.Sub(decimal.NewFromInt(1))).Add(c.Close).Div(p)
	return state, emit("smma", state.period, c.TS, state.value), nil
}
