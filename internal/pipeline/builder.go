package pipeline

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/model"
)

// Builder accumulates stages and dependencies before validation. The
// zero-value config is sequential execution, fail-fast error handling and
// caching enabled.
type Builder struct {
	id             string
	stages         []Stage
	deps           map[string][]string // dependent id -> dependency ids, insertion order
	mode           ExecutionMode
	errHandling    ErrorHandling
	caching        bool
	parallelStages int
	aggregator     Aggregator
	cache          *Cache
}

// NewBuilder creates an empty builder with default configuration.
func NewBuilder() *Builder {
	return &Builder{
		deps:           make(map[string][]string),
		mode:           Sequential,
		errHandling:    FailFast,
		caching:        true,
		parallelStages: DefaultParallelStages,
	}
}

// StageOption customizes a single stage at AddStage time.
type StageOption func(*Stage)

// WithInputMapping remaps candle fields for the stage: each target field
// reads from the named source field of the incoming candle.
func WithInputMapping(mapping map[model.Field]model.Field) StageOption {
	return func(s *Stage) { s.InputMapping = mapping }
}

// AddStage appends a stage. Validation happens at Build.
func (b *Builder) AddStage(id string, ind indicator.Indicator, params indicator.Params, opts ...StageOption) *Builder {
	st := Stage{ID: id, Indicator: ind, Params: params}
	for _, opt := range opts {
		opt(&st)
	}
	b.stages = append(b.stages, st)
	return b
}

// AddDependency declares that dependent runs after dependency. Re-adding
// the same edge is a no-op.
func (b *Builder) AddDependency(dependent, dependency string) *Builder {
	for _, existing := range b.deps[dependent] {
		if existing == dependency {
			return b
		}
	}
	b.deps[dependent] = append(b.deps[dependent], dependency)
	return b
}

// Option adjusts builder configuration; unset knobs keep their defaults.
type Option func(*Builder)

// WithID sets a stable pipeline id. Useful when downstream consumers
// key off the id and need it to survive process restarts. Left unset,
// Build generates a fresh one.
func WithID(id string) Option {
	return func(b *Builder) { b.id = id }
}

// WithExecutionMode selects sequential or parallel batch execution.
func WithExecutionMode(m ExecutionMode) Option {
	return func(b *Builder) { b.mode = m }
}

// WithErrorHandling selects the per-stage failure policy.
func WithErrorHandling(h ErrorHandling) Option {
	return func(b *Builder) { b.errHandling = h }
}

// WithCaching toggles memoization of batch stage results.
func WithCaching(on bool) Option {
	return func(b *Builder) { b.caching = on }
}

// WithParallelStages bounds concurrent stages in Parallel mode. Values
// below 1 are ignored.
func WithParallelStages(n int) Option {
	return func(b *Builder) {
		if n >= 1 {
			b.parallelStages = n
		}
	}
}

// WithAggregator installs the run-level reduction over stage results.
func WithAggregator(fn Aggregator) Option {
	return func(b *Builder) { b.aggregator = fn }
}

// WithCache injects a shared cache, enabling caching regardless of the
// WithCaching toggle.
func WithCache(c *Cache) Option {
	return func(b *Builder) { b.cache = c }
}

// Configure applies options on top of the current configuration.
func (b *Builder) Configure(opts ...Option) *Builder {
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates the accumulated stages and freezes them into an
// immutable Pipeline. The builder stays usable; later mutations never
// affect an already built Pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if len(b.stages) == 0 {
		return nil, ErrNoStages
	}

	byID := make(map[string]Stage, len(b.stages))
	for _, st := range b.stages {
		if st.Indicator == nil {
			return nil, fmt.Errorf("%w: stage %q", ErrNilIndicator, st.ID)
		}
		if _, dup := byID[st.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStage, st.ID)
		}
		byID[st.ID] = st
	}

	for _, st := range b.stages {
		for _, dep := range b.deps[st.ID] {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("%w: stage %q depends on unknown stage %q", ErrUnknownDependency, st.ID, dep)
			}
		}
	}
	for dependent := range b.deps {
		if _, ok := byID[dependent]; !ok {
			return nil, fmt.Errorf("%w: dependency declared for unknown stage %q", ErrUnknownDependency, dependent)
		}
	}

	for _, st := range b.stages {
		if err := st.Indicator.ValidateParams(st.Params); err != nil {
			return nil, fmt.Errorf("stage %q: %w", st.ID, err)
		}
	}

	order, layers, err := b.sort()
	if err != nil {
		return nil, err
	}

	stages := make([]Stage, len(b.stages))
	for i, st := range b.stages {
		st.Params = cloneParams(st.Params)
		st.DependsOn = append([]string(nil), b.deps[st.ID]...)
		st.InputMapping = cloneMapping(st.InputMapping)
		stages[i] = st
		byID[st.ID] = st
	}

	cache := b.cache
	if cache == nil && b.caching {
		cache = NewCache(DefaultCacheSize)
	}
	aggregator := b.aggregator
	if aggregator == nil {
		aggregator = defaultAggregator
	}
	id := b.id
	if id == "" {
		id = uuid.NewString()
	}

	return &Pipeline{
		id:             id,
		stages:         stages,
		byID:           byID,
		order:          order,
		layers:         layers,
		mode:           b.mode,
		errHandling:    b.errHandling,
		parallelStages: b.parallelStages,
		aggregator:     aggregator,
		cache:          cache,
	}, nil
}

// sort produces the topological execution order and its dependency
// layers. Each round collects every stage whose dependencies are already
// done, scanning in insertion order so independent stages keep a stable,
// deterministic position. An empty round with stages remaining means a
// cycle.
func (b *Builder) sort() ([]string, [][]string, error) {
	done := make(map[string]bool, len(b.stages))
	order := make([]string, 0, len(b.stages))
	var layers [][]string
	remaining := len(b.stages)

	for remaining > 0 {
		var layer []string
		for _, st := range b.stages {
			if done[st.ID] {
				continue
			}
			ready := true
			for _, dep := range b.deps[st.ID] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, st.ID)
			}
		}
		if len(layer) == 0 {
			cyclic := make([]string, 0, remaining)
			for _, st := range b.stages {
				if !done[st.ID] {
					cyclic = append(cyclic, st.ID)
				}
			}
			return nil, nil, fmt.Errorf("%w: %s", ErrCircularDependency, strings.Join(cyclic, ", "))
		}
		for _, id := range layer {
			done[id] = true
			remaining--
		}
		order = append(order, layer...)
		layers = append(layers, layer)
	}
	return order, layers, nil
}

func cloneParams(p indicator.Params) indicator.Params {
	if p == nil {
		return nil
	}
	out := make(indicator.Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func cloneMapping(m map[model.Field]model.Field) map[model.Field]model.Field {
	if m == nil {
		return nil
	}
	out := make(map[model.Field]model.Field, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
