package indicator

import (
	"math"

	"github.com/shopspring/decimal"

	"ta-enginev1/internal/model"
)

// Bollinger computes Bollinger Bands: an SMA middle band with upper and
// lower bands offset by a multiple of the population standard deviation
// of the window.
//
// Components: "upper", "middle" (the scalar value) and "lower".
type Bollinger struct{}

// NewBollinger creates the Bollinger Bands indicator.
func NewBollinger() *Bollinger { return &Bollinger{} }

func (*Bollinger) Name() string { return "bollinger" }

func (*Bollinger) Metadata() []ParamMetadata {
	return []ParamMetadata{
		periodParam(20),
		{Name: "stddev", Type: "float", Default: 2.0, Min: f64ptr(0), Description: "band width in standard deviations"},
	}
}

func (b *Bollinger) ValidateParams(p Params) error {
	return validateParams(b.Metadata(), p)
}

func (b *Bollinger) RequiredPeriods(p Params) int {
	return intParam(p, b.Metadata(), "period")
}

func (b *Bollinger) Calculate(candles []model.Candle, p Params) ([]model.IndicatorResult, error) {
	return runBatch(b, candles, p)
}

type bollingerState struct {
	period int
	mult   decimal.Decimal
	win    *window
}

func (b *Bollinger) InitState(p Params) State {
	meta := b.Metadata()
	period := intParam(p, meta, "period")
	return &bollingerState{
		period: period,
		mult:   decimal.NewFromFloat(floatParam(p, meta, "stddev")),
		win:    newWindow(period),
	}
}

func (b *Bollinger) UpdateState(st State, c model.Candle) (State, *model.IndicatorResult, error) {
	state, ok := st.(*bollingerState)
	if !ok {
		return st, nil, badState("bollinger.update")
	}
	state.win.Push(c.Close)
	if !state.win.Full() {
		return state, nil, nil
	}

	middle := state.win.Mean()
	offset := state.mult.Mul(stddev(state.win.Values(), middle))

	res := emitMulti("bollinger", "middle", c.TS, map[string]decimal.Decimal{
		"upper":  middle.Add(offset),
		"middle": middle,
		"lower":  middle.Sub(offset),
	}, map[string]any{
		"period": state.period,
		"stddev": state.mult,
	})
	return state, res, nil
}

// stddev is the population standard deviation of vals. The square root is
// the one step that passes through float64.
func stddev(vals []decimal.Decimal, mean decimal.Decimal) decimal.Decimal {
	sumSq := decimal.Zero
	for _, v := range vals {
		d := v.Sub(mean)
		sumSq = sumSq.Add(d.Mul(d))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(vals))))
	f, _ := variance.Float64()
	return decimal.NewFromFloat(math.Sqrt(f))
}
