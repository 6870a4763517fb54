package indicator

import (
	"github.com/shopspring/decimal"

	"ta-enginev1/internal/model"
)

// OBV computes On-Balance Volume: a running volume total that adds on up
// closes and subtracts on down closes. The first candle emits its own
// volume, so one candle is enough.
type OBV struct{}

// NewOBV creates the OBV indicator.
func NewOBV() *OBV { return &OBV{} }

func (*OBV) Name() string { return "obv" }

func (*OBV) Metadata() []ParamMetadata { return nil }

func (o *OBV) ValidateParams(p Params) error {
	return validateParams(o.Metadata(), p)
}

func (o *OBV) RequiredPeriods(Params) int { return 1 }

func (o *OBV) Calculate(candles []model.Candle, p Params) ([]model.IndicatorResult, error) {
	return runBatch(o, candles, p)
}

type obvState struct {
	count     int
	prevClose decimal.Decimal
	value     decimal.Decimal
}

func (o *OBV) InitState(Params) State {
	return &obvState{}
}

func (o *OBV) UpdateState(st State, c model.Candle) (State, *model.IndicatorResult, error) {
	state, ok := st.(*obvState)
	if !ok {
		return st, nil, badState("obv.update")
	}
	state.count++

	if state.count == 1 {
		state.value = c.Volume
	} else {
		switch {
		case c.Close.GreaterThan(state.prevClose):
			state.value = state.value.Add(c.Volume)
		case c.Close.LessThan(state.prevClose):
			state.value = state.value.Sub(c.Volume)
		}
	}
	state.prevClose = c.Close
	return state, emit("obv", 0, c.TS, state.value), nil
}
