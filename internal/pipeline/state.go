package pipeline

import "fmt"

// State is a step of a training run.
type State int32

const (
	StateIdle State = iota
	StateLoadingImages
	StateExtractingFeatures
	StateTraining
	StateSaving
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:               "Idle",
	StateLoadingImages:      "LoadingImages",
	StateExtractingFeatures: "ExtractingFeatures",
	StateTraining:           "Training",
	StateSaving:             "Saving",
	StateDone:               "Done",
	StateFailed:             "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}

// StageError is returned by Training.Run. State is the step that failed.
type StageError struct {
	State State
	Err   error
}

func (e *StageError) Error() string {
	return e.State.String() + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }
