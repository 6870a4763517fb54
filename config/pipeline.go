package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"ta-enginev1/internal/alert"
	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/model"
	"ta-enginev1/internal/pipeline"
)

// PipelineSpec is the YAML document describing one pipeline plus its
// alert rules. Example:
//
//	id: momentum
//	execution_mode: parallel
//	error_handling: continue_on_error
//	stages:
//	  - id: rsi_main
//	    indicator: rsi
//	    params: {period: 14}
//	  - id: macd_main
//	    indicator: macd
//	    params: {fast_period: 12, slow_period: 26, signal_period: 9}
//	alerts:
//	  - name: rsi_overbought
//	    stage: rsi_main
//	    op: gt
//	    threshold: "70"
//	    level: WARNING
type PipelineSpec struct {
	ID             string      `yaml:"id"`
	ExecutionMode  string      `yaml:"execution_mode"`
	ErrorHandling  string      `yaml:"error_handling"`
	ParallelStages int         `yaml:"parallel_stages"`
	Caching        *bool       `yaml:"caching"`
	Stages         []StageSpec `yaml:"stages"`
	Alerts         []AlertSpec `yaml:"alerts"`
}

// StageSpec describes one pipeline stage.
type StageSpec struct {
	ID           string            `yaml:"id"`
	Indicator    string            `yaml:"indicator"`
	Params       map[string]any    `yaml:"params"`
	DependsOn    []string          `yaml:"depends_on"`
	InputMapping map[string]string `yaml:"input_mapping"`
}

// AlertSpec describes one alert rule. Threshold is a string so exact
// decimal values survive the YAML round trip.
type AlertSpec struct {
	Name      string `yaml:"name"`
	Stage     string `yaml:"stage"`
	Component string `yaml:"component"`
	Op        string `yaml:"op"`
	Threshold string `yaml:"threshold"`
	Level     string `yaml:"level"`
}

// LoadPipelineSpec reads and parses a pipeline YAML file.
func LoadPipelineSpec(path string) (*PipelineSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read pipeline file: %w", err)
	}
	spec, err := ParsePipelineSpec(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return spec, nil
}

// ParsePipelineSpec parses YAML bytes into a PipelineSpec.
func ParsePipelineSpec(data []byte) (*PipelineSpec, error) {
	var spec PipelineSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse pipeline yaml: %w", err)
	}
	return &spec, nil
}

// Build resolves indicator names against the registry and assembles the
// frozen pipeline. All structural validation (unknown dependencies,
// cycles, parameter ranges) happens inside Build.
func (s *PipelineSpec) Build() (*pipeline.Pipeline, error) {
	b := pipeline.NewBuilder()

	var opts []pipeline.Option
	if s.ID != "" {
		opts = append(opts, pipeline.WithID(s.ID))
	}
	if s.ExecutionMode != "" {
		switch pipeline.ExecutionMode(s.ExecutionMode) {
		case pipeline.Sequential, pipeline.Parallel:
			opts = append(opts, pipeline.WithExecutionMode(pipeline.ExecutionMode(s.ExecutionMode)))
		default:
			return nil, fmt.Errorf("config: unknown execution_mode %q", s.ExecutionMode)
		}
	}
	if s.ErrorHandling != "" {
		switch pipeline.ErrorHandling(s.ErrorHandling) {
		case pipeline.FailFast, pipeline.ContinueOnError:
			opts = append(opts, pipeline.WithErrorHandling(pipeline.ErrorHandling(s.ErrorHandling)))
		default:
			return nil, fmt.Errorf("config: unknown error_handling %q", s.ErrorHandling)
		}
	}
	if s.ParallelStages > 0 {
		opts = append(opts, pipeline.WithParallelStages(s.ParallelStages))
	}
	if s.Caching != nil {
		opts = append(opts, pipeline.WithCaching(*s.Caching))
	}
	b.Configure(opts...)

	for _, st := range s.Stages {
		ind, ok := indicator.Lookup(st.Indicator)
		if !ok {
			return nil, fmt.Errorf("config: stage %q: unknown indicator %q", st.ID, st.Indicator)
		}
		var stageOpts []pipeline.StageOption
		if len(st.InputMapping) > 0 {
			mapping, err := parseInputMapping(st.InputMapping)
			if err != nil {
				return nil, fmt.Errorf("config: stage %q: %w", st.ID, err)
			}
			stageOpts = append(stageOpts, pipeline.WithInputMapping(mapping))
		}
		b.AddStage(st.ID, ind, indicator.Params(st.Params), stageOpts...)
		for _, dep := range st.DependsOn {
			b.AddDependency(st.ID, dep)
		}
	}

	return b.Build()
}

// AlertRules converts the alert section into engine rules. Rules that
// reference a stage missing from the stages section are rejected here so
// a typo fails at startup.
func (s *PipelineSpec) AlertRules() ([]alert.Rule, error) {
	if len(s.Alerts) == 0 {
		return nil, nil
	}
	stageIDs := make(map[string]bool, len(s.Stages))
	for _, st := range s.Stages {
		stageIDs[st.ID] = true
	}

	rules := make([]alert.Rule, 0, len(s.Alerts))
	for _, a := range s.Alerts {
		if !stageIDs[a.Stage] {
			return nil, fmt.Errorf("config: alert %q references unknown stage %q", a.Name, a.Stage)
		}
		threshold, err := decimal.NewFromString(a.Threshold)
		if err != nil {
			return nil, fmt.Errorf("config: alert %q: bad threshold %q: %w", a.Name, a.Threshold, err)
		}
		rule := alert.Rule{
			Name:      a.Name,
			Stage:     a.Stage,
			Component: a.Component,
			Op:        alert.Op(a.Op),
			Threshold: threshold,
			Level:     alert.AlertLevel(a.Level),
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseInputMapping(raw map[string]string) (map[model.Field]model.Field, error) {
	mapping := make(map[model.Field]model.Field, len(raw))
	for target, source := range raw {
		tf, sf := model.Field(target), model.Field(source)
		if !tf.Valid() {
			return nil, fmt.Errorf("input_mapping: unknown target field %q", target)
		}
		if !sf.Valid() {
			return nil, fmt.Errorf("input_mapping: unknown source field %q", source)
		}
		mapping[tf] = sf
	}
	return mapping, nil
}
