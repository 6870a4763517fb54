package pipeline

import (
	"time"

	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/model"
)

// Stream is the mutable per-stream container: one accumulator per stage,
// the latest result per stage and rolling metrics. A Stream belongs to a
// single logical feed and must not be shared across goroutines; create
// one per stream and drop it when done.
type Stream struct {
	pipeline *Pipeline
	states   map[string]indicator.State
	latest   map[string]model.IndicatorResult
	metrics  ExecutionMetrics
}

// TickResult carries one streaming call's output: one entry per stage,
// nil while that stage is still warming up, plus any stage errors under
// ContinueOnError.
type TickResult struct {
	Results map[string]*model.IndicatorResult
	Errors  []StageError
}

// InitStreaming creates a fresh Stream with one accumulator per stage.
// Stage parameters were validated at build time, so initialization cannot
// fail on a built pipeline.
func (p *Pipeline) InitStreaming() *Stream {
	states := make(map[string]indicator.State, len(p.order))
	for _, id := range p.order {
		st := p.byID[id]
		states[id] = st.Indicator.InitState(st.Params)
	}
	return &Stream{
		pipeline: p,
		states:   states,
		latest:   make(map[string]model.IndicatorResult, len(p.order)),
		metrics:  newMetrics(p.order),
	}
}

// Update advances every stage by one candle, in execution order. Each
// stage receives the incoming candle (remapped per its input mapping),
// never another stage's streaming output; cross-stage composition is
// wired explicitly via input mappings or composite indicators.
//
// Under FailFast the first stage error aborts the call and the failing
// stage's accumulator is left unchanged. Under ContinueOnError the error
// is recorded, that stage skips the tick and the rest proceed.
func (s *Stream) Update(c model.Candle) (*TickResult, error) {
	start := time.Now()
	p := s.pipeline
	tick := &TickResult{Results: make(map[string]*model.IndicatorResult, len(p.order))}

	for _, id := range p.order {
		st := p.byID[id]
		sm := s.metrics.Stages[id]

		input := c
		if len(st.InputMapping) > 0 {
			mapped, err := c.Remap(st.InputMapping)
			if err != nil {
				sm.ErrorCount++
				se := StageError{StageID: id, Err: err}
				if p.errHandling == FailFast {
					return nil, se
				}
				tick.Errors = append(tick.Errors, se)
				continue
			}
			input = mapped
		}

		next, res, err := st.Indicator.UpdateState(s.states[id], input)
		if err != nil {
			sm.ErrorCount++
			se := StageError{StageID: id, Err: err}
			if p.errHandling == FailFast {
				return nil, se
			}
			tick.Errors = append(tick.Errors, se)
			continue
		}

		s.states[id] = next
		sm.Executions++
		tick.Results[id] = res
		if res != nil {
			s.latest[id] = *res
		}
	}

	s.metrics.TotalExecutions++
	s.metrics.TotalProcessingTime += time.Since(start)
	s.metrics.LastExecutionTime = time.Now()
	return tick, nil
}

// Latest returns the most recent result the stage has produced on this
// stream.
func (s *Stream) Latest(stageID string) (model.IndicatorResult, bool) {
	res, ok := s.latest[stageID]
	return res, ok
}

// Metrics returns a copy of the stream's rolling metrics.
func (s *Stream) Metrics() ExecutionMetrics {
	return s.metrics.clone()
}
