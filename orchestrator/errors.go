package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/docenrich/docpipe"
)

var (
	// ErrStageRegression is returned when a transition would move backwards.
	ErrStageRegression = errors.New("orchestrator: stage regression")
	// ErrUnknownStage is returned for a stage outside Stages.
	ErrUnknownStage = errors.New("orchestrator: unknown stage")
	// ErrStatePersist is returned when processing_state.json cannot be
	// written. Processing stops: progress without durable state is lost
	// on restart.
	ErrStatePersist = errors.New("orchestrator: state not persisted")
	// ErrAlreadyRunning is returned when the document is being processed
	// by this process.
	ErrAlreadyRunning = errors.New("orchestrator: document already running")
	// ErrNoSource is returned when the document has no uploaded PDF.
	ErrNoSource = errors.New("orchestrator: source pdf missing")
	// ErrNoValidTypes is returned when an explicit selection names no type
	// of the registry.
	ErrNoValidTypes = errors.New("orchestrator: no valid enhancement types selected")
)

// Error kinds recorded on StageError and in the state error list.
const (
	KindInput     = "input_defect"
	KindCancelled = "cancelled"
	KindStage     = "stage_failed"
)

// StageError reports the stage a run stopped at.
type StageError struct {
	Stage Stage
	Kind  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("orchestrator: %s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func classify(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, docpipe.ErrInputDefect), errors.Is(err, ErrNoSource):
		return KindInput
	default:
		return KindStage
	}
}
