package indicator

import (
	"github.com/shopspring/decimal"

	"ta-enginev1/internal/model"
)

// WMA computes the linearly weighted moving average of closes. The newest
// value carries weight period, the oldest weight 1.
type WMA struct{}

// NewWMA creates the WMA indicator.
func NewWMA() *WMA { return &WMA{} }

func (*WMA) Name() string { return "wma" }

func (*WMA) Metadata() []ParamMetadata {
	return []ParamMetadata{periodParam(14)}
}

func (w *WMA) ValidateParams(p Params) error {
	return validateParams(w.Metadata(), p)
}

func (w *WMA) RequiredPeriods(p Params) int {
	return intParam(p, w.Metadata(), "period")
}

func (w *WMA) Calculate(candles []model.Candle, p Params) ([]model.IndicatorResult, error) {
	return runBatch(w, candles, p)
}

type wmaState struct {
	period  int
	win     *window
	divisor decimal.Decimal // period*(period+1)/2
}

func (w *WMA) InitState(p Params) State {
	period := intParam(p, w.Metadata(), "period")
	return &wmaState{
		period:  period,
		win:     newWindow(period),
		divisor: decimal.NewFromInt(int64(period) * int64(period+1) / 2),
	}
}

func (w *WMA) UpdateState(st State, c model.Candle) (State, *model.IndicatorResult, error) {
	state, ok := st.(*wmaState)
	if !ok {
		return st, nil, badState("wma.update")
	}
	state.win.Push(c.Close)
	if !state.win.Full() {
		return state, nil, nil
	}
	weighted := decimal.Zero
	for i, v := range state.win.Values() {
		weighted = weighted.Add(v.Mul(decimal.NewFromInt(int64(i + 1))))
	}
	return state, emit("wma", state.period, c.TS, weighted.Div(state.divisor)), nil
}
