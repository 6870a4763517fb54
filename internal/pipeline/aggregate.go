package pipeline

import "ta-enginev1/internal/model"

// AggregationMode selects how AggregateResults combines runs.
type AggregationMode string

const (
	// AggregateMerge concatenates every run's stage results and errors
	// and sums metric counters.
	AggregateMerge AggregationMode = "merge"
	// AggregateLatest keeps only the last run's stage results, aggregate
	// and errors. Metric counters are still summed across all runs, a
	// quirk kept for compatibility with existing consumers.
	AggregateLatest AggregationMode = "latest"
)

// AggregateResults combines several run results into one. An empty input
// yields a canonical empty result with initialized, empty collections.
// The combined PipelineID is taken from the last run.
func AggregateResults(runs []*RunResult, mode AggregationMode) *RunResult {
	out := &RunResult{
		StageResults: make(map[string][]model.IndicatorResult),
		Aggregated:   []model.IndicatorResult{},
		Metrics:      ExecutionMetrics{Stages: make(map[string]*StageMetrics)},
		Errors:       []StageError{},
	}
	if len(runs) == 0 {
		return out
	}

	for _, run := range runs {
		out.Metrics.TotalExecutions += run.Metrics.TotalExecutions
		out.Metrics.TotalProcessingTime += run.Metrics.TotalProcessingTime
		if run.Metrics.LastExecutionTime.After(out.Metrics.LastExecutionTime) {
			out.Metrics.LastExecutionTime = run.Metrics.LastExecutionTime
		}
		out.Metrics.addStages(run.Metrics)
	}

	last := runs[len(runs)-1]
	out.PipelineID = last.PipelineID

	switch mode {
	case AggregateLatest:
		for id, rs := range last.StageResults {
			out.StageResults[id] = append([]model.IndicatorResult(nil), rs...)
		}
		out.Aggregated = append(out.Aggregated, last.Aggregated...)
		out.Errors = append(out.Errors, last.Errors...)
	default:
		for _, run := range runs {
			for id, rs := range run.StageResults {
				out.StageResults[id] = append(out.StageResults[id], rs...)
			}
			out.Aggregated = append(out.Aggregated, run.Aggregated...)
			out.Errors = append(out.Errors, run.Errors...)
		}
	}
	return out
}
