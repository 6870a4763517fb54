package indicator

import "fmt"

// InsufficientDataError reports an input series shorter than the warm-up
// requirement. Recoverable by supplying more data; never retried here.
type InsufficientDataError struct {
	Required int
	Provided int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: need %d candles, got %d", e.Required, e.Provided)
}

// InvalidParamsError reports a parameter that failed validation. Raised
// before any computation; a present-but-invalid value is never replaced
// by the default.
type InvalidParamsError struct {
	Param    string
	Value    any
	Expected string
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("invalid param %q=%v: expected %s", e.Param, e.Value, e.Expected)
}

// StreamStateError reports a state object that does not belong to the
// indicator it was handed to. Always fatal for that call.
type StreamStateError struct {
	Operation string
	Reason    string
}

func (e *StreamStateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Operation, e.Reason)
}
