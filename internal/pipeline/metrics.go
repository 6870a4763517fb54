package pipeline

import "time"

// ExecutionMetrics captures the cost of one run, or the sum of several
// when produced by AggregateResults.
type ExecutionMetrics struct {
	TotalExecutions     int
	TotalProcessingTime time.Duration
	LastExecutionTime   time.Time
	Stages              map[string]*StageMetrics
}

// StageMetrics captures per-stage counters within a run.
type StageMetrics struct {
	Executions int
	ErrorCount int
	Duration   time.Duration
	CacheHits  int
}

func newMetrics(stageIDs []string) ExecutionMetrics {
	m := ExecutionMetrics{Stages: make(map[string]*StageMetrics, len(stageIDs))}
	for _, id := range stageIDs {
		m.Stages[id] = &StageMetrics{}
	}
	return m
}

// clone returns a deep copy so callers can hold metrics without aliasing
// live counters.
func (m ExecutionMetrics) clone() ExecutionMetrics {
	out := m
	out.Stages = make(map[string]*StageMetrics, len(m.Stages))
	for id, sm := range m.Stages {
		cp := *sm
		out.Stages[id] = &cp
	}
	return out
}

// addStages sums other's per-stage counters into m, creating entries as
// needed.
func (m *ExecutionMetrics) addStages(other ExecutionMetrics) {
	for id, sm := range other.Stages {
		dst, ok := m.Stages[id]
		if !ok {
			dst = &StageMetrics{}
			m.Stages[id] = dst
		}
		dst.Executions += sm.Executions
		dst.ErrorCount += sm.ErrorCount
		dst.Duration += sm.Duration
		dst.CacheHits += sm.CacheHits
	}
}
