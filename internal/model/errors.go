package model

import "fmt"

// ValidationError reports a violated domain invariant on an input record,
// e.g. a candle whose low exceeds its high.
type ValidationError struct {
	Field      string
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: field %q %s", e.Field, e.Constraint)
}

// InvalidDataFormatError reports a structurally malformed input record or an
// unresolvable field reference. Index is the offending record's position in
// the input series, or -1 when no position applies.
type InvalidDataFormatError struct {
	Expected string
	Received string
	Index    int
}

func (e *InvalidDataFormatError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("invalid data format at index %d: expected %s, received %s", e.Index, e.Expected, e.Received)
	}
	return fmt.Sprintf("invalid data format: expected %s, received %s", e.Expected, e.Received)
}
