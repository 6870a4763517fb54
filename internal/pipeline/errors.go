package pipeline

import "errors"

// Build-time validation failures. All are recoverable by fixing the
// builder and calling Build again; none can occur on a built Pipeline.
var (
	ErrNoStages           = errors.New("pipeline: at least one stage required")
	ErrDuplicateStage     = errors.New("pipeline: duplicate stage id")
	ErrNilIndicator       = errors.New("pipeline: stage has no indicator")
	ErrUnknownDependency  = errors.New("pipeline: unknown dependency")
	ErrCircularDependency = errors.New("pipeline: circular dependency")
)
