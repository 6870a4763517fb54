package indicator

import "ta-enginev1/internal/model"

// SMA computes the simple moving average of closes over a rolling window.
type SMA struct{}

// NewSMA creates the SMA indicator.
func NewSMA() *SMA { return &SMA{} }

func (*SMA) Name() string { return "sma" }

func (*SMA) Metadata() []ParamMetadata {
	return []ParamMetadata{periodParam(14)}
}

func (s *SMA) ValidateParams(p Params) error {
	return validateParams(s.Metadata(), p)
}

func (s *SMA) RequiredPeriods(p Params) int {
	return intParam(p, s.Metadata(), "period")
}

func (s *SMA) Calculate(candles []model.Candle, p Params) ([]model.IndicatorResult, error) {
	return runBatch(s, candles, p)
}

type smaState struct {
	period int
	win    *window
}

func (s *SMA) InitState(p Params) State {
	period := intParam(p, s.Metadata(), "period")
	return &smaState{period: period, win: newWindow(period)}
}

func (s *SMA) UpdateState(st State, c model.Candle) (State, *model.IndicatorResult, error) {
	state, ok := st.(*smaState)
	if !ok {
		return st, nil, badState("sma.update")
	}
	state.win.Push(c.Close)
	if !state.win.Full() {
		return state, nil, nil
	}
	return state, emit("sma", state.period, c.TS, state.win.Mean()), nil
}
