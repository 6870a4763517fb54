package pipeline

import (
	"fmt"
	"sync"
	"time"

	"ta-enginev1/internal/model"
)

// StageError ties a runtime error to the stage that produced it.
type StageError struct {
	StageID string
	Err     error
}

func (e StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.StageID, e.Err) }
func (e StageError) Unwrap() error { return e.Err }

// RunResult is the outcome of one batch run.
type RunResult struct {
	PipelineID   string
	StageResults map[string][]model.IndicatorResult
	Aggregated   []model.IndicatorResult
	Metrics      ExecutionMetrics
	Errors       []StageError
}

// Execute runs the pipeline once over the full candle series. Under
// FailFast the first stage error aborts the run; under ContinueOnError
// every stage runs and errors are collected alongside partial results.
// A failed stage's dependents still run against the original dataset.
func (p *Pipeline) Execute(data []model.Candle) (*RunResult, error) {
	start := time.Now()
	run := &RunResult{
		PipelineID:   p.id,
		StageResults: make(map[string][]model.IndicatorResult, len(p.order)),
		Metrics:      newMetrics(p.order),
	}

	var execErr error
	if p.mode == Parallel {
		execErr = p.runParallel(run, data)
	} else {
		execErr = p.runSequential(run, data)
	}

	run.Metrics.TotalExecutions = 1
	run.Metrics.TotalProcessingTime = time.Since(start)
	run.Metrics.LastExecutionTime = time.Now()

	if execErr != nil {
		return nil, execErr
	}
	run.Aggregated = p.aggregator(run.StageResults)
	return run, nil
}

type stageOutcome struct {
	stageID  string
	results  []model.IndicatorResult
	duration time.Duration
	cacheHit bool
	err      error
}

func (p *Pipeline) runSequential(run *RunResult, data []model.Candle) error {
	for _, id := range p.order {
		out := p.runStage(p.byID[id], data)
		p.record(run, out)
		if out.err != nil && p.errHandling == FailFast {
			return StageError{StageID: out.stageID, Err: out.err}
		}
	}
	return nil
}

// runParallel dispatches each dependency layer concurrently, bounded by
// parallelStages, and joins before admitting the next layer. Outcomes are
// recorded in layer order, so results and metrics stay deterministic.
func (p *Pipeline) runParallel(run *RunResult, data []model.Candle) error {
	sem := make(chan struct{}, p.parallelStages)
	for _, layer := range p.layers {
		outcomes := make([]stageOutcome, len(layer))
		var wg sync.WaitGroup
		for i, id := range layer {
			wg.Add(1)
			go func(slot int, st Stage) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				outcomes[slot] = p.runStage(st, data)
			}(i, p.byID[id])
		}
		wg.Wait()

		var failed error
		for _, out := range outcomes {
			p.record(run, out)
			if out.err != nil && failed == nil {
				failed = StageError{StageID: out.stageID, Err: out.err}
			}
		}
		if failed != nil && p.errHandling == FailFast {
			return failed
		}
	}
	return nil
}

// runStage resolves the stage's effective input, consults the cache and
// calls the indicator's batch Calculate once.
func (p *Pipeline) runStage(st Stage, data []model.Candle) (out stageOutcome) {
	begin := time.Now()
	out.stageID = st.ID
	defer func() { out.duration = time.Since(begin) }()

	input := data
	if len(st.InputMapping) > 0 {
		mapped, err := model.RemapSeries(data, st.InputMapping)
		if err != nil {
			out.err = err
			return out
		}
		input = mapped
	}

	var key string
	if p.cache != nil {
		key = p.cacheKey(st, input)
		if cached, ok := p.cache.Get(key); ok {
			out.results = cached
			out.cacheHit = true
			return out
		}
	}

	results, err := st.Indicator.Calculate(input, st.Params)
	if err != nil {
		out.err = err
		return out
	}
	out.results = results
	if p.cache != nil {
		p.cache.Put(key, results)
	}
	return out
}

func (p *Pipeline) record(run *RunResult, out stageOutcome) {
	sm := run.Metrics.Stages[out.stageID]
	sm.Executions++
	sm.Duration += out.duration
	if out.cacheHit {
		sm.CacheHits++
	}
	if out.err != nil {
		sm.ErrorCount++
		run.Errors = append(run.Errors, StageError{StageID: out.stageID, Err: out.err})
		run.StageResults[out.stageID] = []model.IndicatorResult{}
		return
	}
	run.StageResults[out.stageID] = out.results
}
