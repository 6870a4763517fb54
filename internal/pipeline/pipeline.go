// Package pipeline composes indicator instances into a dependency-ordered
// multi-stage computation.
//
// Stages accumulate in a mutable Builder; Build validates the dependency
// graph and freezes it into an immutable Pipeline, a plan reusable across
// any number of runs. A Pipeline executes in batch over a full candle
// series, sequentially or with bounded parallelism, or incrementally via a
// Stream that advances every stage by one candle per call.
package pipeline

import (
	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/model"
)

// ExecutionMode selects how batch runs schedule their stages.
type ExecutionMode string

const (
	// Sequential runs stages one at a time in execution order.
	Sequential ExecutionMode = "sequential"
	// Parallel runs each dependency layer concurrently, bounded by the
	// pipeline's parallel stage limit, joining between layers.
	Parallel ExecutionMode = "parallel"
)

// ErrorHandling selects what a run does when a stage fails.
type ErrorHandling string

const (
	// FailFast aborts the run on the first stage error.
	FailFast ErrorHandling = "fail_fast"
	// ContinueOnError records the error, stores an empty result for the
	// failed stage and keeps running the remaining stages.
	ContinueOnError ErrorHandling = "continue_on_error"
)

// DefaultParallelStages bounds concurrent stages when Parallel mode is
// configured without an explicit limit.
const DefaultParallelStages = 4

// Stage is one indicator invocation within a pipeline.
type Stage struct {
	ID           string
	Indicator    indicator.Indicator
	Params       indicator.Params
	DependsOn    []string
	InputMapping map[model.Field]model.Field
}

// Pipeline is a frozen, validated execution plan. It is immutable and
// safe to share across concurrent runs.
type Pipeline struct {
	id             string
	stages         []Stage
	byID           map[string]Stage
	order          []string
	layers         [][]string
	mode           ExecutionMode
	errHandling    ErrorHandling
	parallelStages int
	aggregator     Aggregator
	cache          *Cache
}

// ID returns the unique id assigned at build time.
func (p *Pipeline) ID() string { return p.id }

// Mode returns the configured execution mode.
func (p *Pipeline) Mode() ExecutionMode { return p.mode }

// ErrorHandling returns the configured error policy.
func (p *Pipeline) ErrorHandling() ErrorHandling { return p.errHandling }

// ExecutionOrder returns stage ids topologically sorted, with ties broken
// by insertion order.
func (p *Pipeline) ExecutionOrder() []string {
	return append([]string(nil), p.order...)
}

// Stages returns the frozen stage records in insertion order.
func (p *Pipeline) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

// Stage returns the stage with the given id.
func (p *Pipeline) Stage(id string) (Stage, bool) {
	st, ok := p.byID[id]
	return st, ok
}
