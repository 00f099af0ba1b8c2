package fetcher

import "fmt"

// Stage names the step of a station download that failed
type Stage string

const (
	StageRequest  Stage = "request"
	StageStatus   Stage = "status"
	StageDecode   Stage = "decode"
	StageIdentify Stage = "identify"
	StageWrite    Stage = "write"
)

// StageError represents a failed station download at a specific stage
type StageError struct {
	Stage Stage
	Code  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("station %s failed at %s stage: %v", e.Code, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a new StageError
func NewStageError(stage Stage, code string, err error) *StageError {
	return &StageError{
		Stage: stage,
		Code:  code,
		Err:   err,
	}
}
