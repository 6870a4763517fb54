package indicator

import (
	"fmt"
	"math"
	"strings"
)

// Params is the free-form parameter set passed to an indicator.
// Values are checked against the indicator's ParamMetadata before use.
type Params map[string]any

// ParamMetadata describes one accepted parameter.
type ParamMetadata struct {
	Name        string
	Type        string // "int", "float" or "string"
	Default     any
	Required    bool
	Min         *float64
	Max         *float64
	Options     []string
	Description string
}

func f64ptr(v float64) *float64 { return &v }

// periodParam is the rolling-window length parameter shared by most
// indicators.
func periodParam(def int) ParamMetadata {
	return ParamMetadata{
		Name:        "period",
		Type:        "int",
		Default:     def,
		Min:         f64ptr(1),
		Description: "number of candles in the rolling window",
	}
}

// validateParams checks p against meta: unknown names are rejected,
// required params must be present, and each value must coerce to its
// declared type and fall inside [Min, Max] or Options.
func validateParams(meta []ParamMetadata, p Params) error {
	byName := make(map[string]ParamMetadata, len(meta))
	for _, m := range meta {
		byName[m.Name] = m
	}
	for name, value := range p {
		m, ok := byName[name]
		if !ok {
			return &InvalidParamsError{Param: name, Value: value, Expected: "no such parameter"}
		}
		if err := checkParam(m, value); err != nil {
			return err
		}
	}
	for _, m := range meta {
		if !m.Required {
			continue
		}
		if _, ok := p[m.Name]; !ok {
			return &InvalidParamsError{Param: m.Name, Value: nil, Expected: "required parameter"}
		}
	}
	return nil
}

func checkParam(m ParamMetadata, value any) error {
	switch m.Type {
	case "int":
		n, ok := toInt(value)
		if !ok {
			return &InvalidParamsError{Param: m.Name, Value: value, Expected: "integer"}
		}
		return checkRange(m, float64(n))
	case "float":
		f, ok := toFloat(value)
		if !ok {
			return &InvalidParamsError{Param: m.Name, Value: value, Expected: "number"}
		}
		return checkRange(m, f)
	case "string":
		s, ok := value.(string)
		if !ok {
			return &InvalidParamsError{Param: m.Name, Value: value, Expected: "string"}
		}
		if len(m.Options) == 0 {
			return nil
		}
		for _, opt := range m.Options {
			if s == opt {
				return nil
			}
		}
		return &InvalidParamsError{Param: m.Name, Value: value, Expected: "one of " + strings.Join(m.Options, "|")}
	}
	return nil
}

func checkRange(m ParamMetadata, v float64) error {
	if m.Min != nil && v < *m.Min {
		return &InvalidParamsError{Param: m.Name, Value: v, Expected: fmt.Sprintf(">= %g", *m.Min)}
	}
	if m.Max != nil && v > *m.Max {
		return &InvalidParamsError{Param: m.Name, Value: v, Expected: fmt.Sprintf("<= %g", *m.Max)}
	}
	return nil
}

// toInt coerces ints and whole floats. YAML and JSON decoders hand back
// different concrete types for the same document, so accept them all.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		if float64(n) == math.Trunc(float64(n)) {
			return int(n), true
		}
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// intParam resolves a validated int parameter, falling back to the
// metadata default when absent.
func intParam(p Params, meta []ParamMetadata, name string) int {
	if v, ok := p[name]; ok {
		if n, ok := toInt(v); ok {
			return n
		}
	}
	for _, m := range meta {
		if m.Name == name {
			if n, ok := toInt(m.Default); ok {
				return n
			}
		}
	}
	return 0
}

// floatParam resolves a validated float parameter, falling back to the
// metadata default when absent.
func floatParam(p Params, meta []ParamMetadata, name string) float64 {
	if v, ok := p[name]; ok {
		if f, ok := toFloat(v); ok {
			return f
		}
	}
	for _, m := range meta {
		if m.Name == name {
			if f, ok := toFloat(m.Default); ok {
				return f
			}
		}
	}
	return 0
}
