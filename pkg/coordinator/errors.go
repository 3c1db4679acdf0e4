package coordinator

import "fmt"

// Stage labels the step an identifier failed at
type Stage string

const (
	StageFetch         Stage = "fetch"
	StageAggregate     Stage = "aggregate"
	StageCountExisting Stage = "count_existing"
	StageReplace       Stage = "replace"
)

// StageError is the failure of one identifier at one stage
type StageError struct {
	Identifier string
	Stage      Stage
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed at %s: %v", e.Identifier, e.Stage, e.Err)
}

// Cause returns the underlying error (github.com/pkg/errors)
func (e *StageError) Cause() error { return e.Err }

func (e *StageError) Unwrap() error { return e.Err }
