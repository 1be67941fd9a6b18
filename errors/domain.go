package errors

import (
	"fmt"
)

// Engine sentinels
var (
	// ErrModelNotLoaded is returned by prediction paths when the model id is not in the cache
	ErrModelNotLoaded = New("model not loaded")

	// ErrModelTooBig is returned when a model alone exceeds the model cache capacity
	ErrModelTooBig = New("model exceeds model cache capacity")

	// ErrNoProvider is returned when no language source could serve a request
	ErrNoProvider = New("no provider could successfully fulfill request")

	// ErrInvalidRange is returned when tagging an utterance outside of its token offsets
	ErrInvalidRange = New("invalid range")
)

// ModelLoadingError reports a serialized model (or model component) that
// failed structural validation. Models are never partially trusted.
type ModelLoadingError struct {
	Component string
	Err       error
}

// NewModelLoadingError wraps err as a loading failure of component
func NewModelLoadingError(component string, err error) *ModelLoadingError {
	return &ModelLoadingError{Component: component, Err: err}
}

func (e *ModelLoadingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("could not load %s", e.Component)
	}
	return fmt.Sprintf("could not load %s: %v", e.Component, e.Err)
}

func (e *ModelLoadingError) Unwrap() error { return e.Err }

// TrainingAlreadyStartedError is returned when a second training is
// requested for a train id that is still running.
type TrainingAlreadyStartedError struct {
	TrainID string
}

func (e *TrainingAlreadyStartedError) Error() string {
	return fmt.Sprintf("training %s already started", e.TrainID)
}

// TrainingCanceledError is returned to the caller of a training that was canceled.
type TrainingCanceledError struct {
	TrainID string
}

func (e *TrainingCanceledError) Error() string {
	return fmt.Sprintf("training %s was canceled", e.TrainID)
}

// TrainingExitedUnexpectedlyError reports a worker process that died
// without a done/error/canceled handshake.
type TrainingExitedUnexpectedlyError struct {
	WorkerID string
	ExitCode int
	Signal   string
}

func (e *TrainingExitedUnexpectedlyError) Error() string {
	return fmt.Sprintf("training worker %s exited unexpectedly with exit code %d and signal %q",
		e.WorkerID, e.ExitCode, e.Signal)
}

// IsTrainingCanceled reports whether err is or wraps a TrainingCanceledError
func IsTrainingCanceled(err error) bool {
	var target *TrainingCanceledError
	return err != nil && As(err, &target)
}

// IsTrainingAlreadyStarted reports whether err is or wraps a TrainingAlreadyStartedError
func IsTrainingAlreadyStarted(err error) bool {
	var target *TrainingAlreadyStartedError
	return err != nil && As(err, &target)
}

// IsModelLoadingError reports whether err is or wraps a ModelLoadingError
func IsModelLoadingError(err error) bool {
	var target *ModelLoadingError
	return err != nil && As(err, &target)
}
