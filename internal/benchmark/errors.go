package benchmark

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResponse is returned when the stream finished with no usable text.
	ErrEmptyResponse = errors.New("the model did not return a response")
	// ErrRunInProgress is returned when Run is called while another run is outstanding.
	ErrRunInProgress = errors.New("a benchmark run is already in progress")
)

// ModelUnavailableError reports a failed availability precondition.
type ModelUnavailableError struct {
	Reason string
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model is unavailable: %s", e.Reason)
}

// StreamError wraps a failure reported by the generator while streaming.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("response stream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
