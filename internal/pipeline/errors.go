package pipeline

import (
	"errors"
	"fmt"
)

// ErrMissingColumns is returned when an input batch lacks required columns.
// The batch is rejected before anything is written.
var ErrMissingColumns = errors.New("input is missing required columns")

// ErrUnreadableInput is returned when the input source could not be parsed.
var ErrUnreadableInput = errors.New("input could not be read")

// StageError reports the stage a run failed in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
