package indicator

import (
	"errors"
	"testing"
)

func testMeta() []ParamMetadata {
	return []ParamMetadata{
		{Name: "period", Type: "int", Default: 14, Min: f64ptr(1), Max: f64ptr(500)},
		{Name: "weight", Type: "float", Default: 1.0, Min: f64ptr(0), Max: f64ptr(10)},
		{Name: "source", Type: "string", Default: "close", Options: []string{"open", "high", "low", "close"}},
		{Name: "symbol", Type: "string", Required: true},
	}
}

func TestValidateParams(t *testing.T) {
	cases := []struct {
		name    string
		p       Params
		ok      bool
		param   string // expected failing param when !ok
	}{
		{"all valid", Params{"period": 20, "weight": 2.5, "source": "high", "symbol": "RELIANCE"}, true, ""},
		{"missing required", Params{"period": 20}, false, "symbol"},
		{"unknown param", Params{"symbol": "X", "lookback": 5}, false, "lookback"},
		{"period below min", Params{"symbol": "X", "period": 0}, false, "period"},
		{"period above max", Params{"symbol": "X", "period": 1000}, false, "period"},
		{"period not integer", Params{"symbol": "X", "period": 2.5}, false, "period"},
		{"period wrong type", Params{"symbol": "X", "period": "ten"}, false, "period"},
		{"weight above max", Params{"symbol": "X", "weight": 11.0}, false, "weight"},
		{"source not in options", Params{"symbol": "X", "source": "median"}, false, "source"},
		{"symbol wrong type", Params{"symbol": 42}, false, "symbol"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateParams(testMeta(), tc.p)
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ipe *InvalidParamsError
			if !errors.As(err, &ipe) {
				t.Fatalf("expected InvalidParamsError, got %v", err)
			}
			if ipe.Param != tc.param {
				t.Errorf("error names param %q, want %q", ipe.Param, tc.param)
			}
		})
	}
}

func TestValidateParams_DecoderTypes(t *testing.T) {
	// YAML hands back int, JSON float64; both must pass for an int param.
	for _, v := range []any{int(20), int32(20), int64(20), float64(20)} {
		if err := validateParams(testMeta(), Params{"symbol": "X", "period": v}); err != nil {
			t.Errorf("period as %T rejected: %v", v, err)
		}
	}
}

func TestParamResolvers(t *testing.T) {
	meta := testMeta()

	if got := intParam(Params{"period": 21}, meta, "period"); got != 21 {
		t.Errorf("explicit period = %d, want 21", got)
	}
	if got := intParam(nil, meta, "period"); got != 14 {
		t.Errorf("default period = %d, want 14", got)
	}
	if got := intParam(Params{"period": int64(9)}, meta, "period"); got != 9 {
		t.Errorf("int64 period = %d, want 9", got)
	}

	if got := floatParam(Params{"weight": 2.5}, meta, "weight"); got != 2.5 {
		t.Errorf("explicit weight = %v, want 2.5", got)
	}
	if got := floatParam(nil, meta, "weight"); got != 1.0 {
		t.Errorf("default weight = %v, want 1.0", got)
	}
	if got := floatParam(Params{"weight": 3}, meta, "weight"); got != 3.0 {
		t.Errorf("int weight = %v, want 3.0", got)
	}
}
