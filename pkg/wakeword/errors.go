package wakeword

import (
	"errors"
	"fmt"

	"github.com/MrWong99/hotword/pkg/provider/detector"
)

// ErrAlreadyReleased is returned when a [Session] is used or closed after its
// engine handle has been released.
var ErrAlreadyReleased = errors.New("wakeword: engine handle already released")

// ErrStreamConsumed is yielded when a [Stream] is iterated a second time.
// Streams are single-pass.
var ErrStreamConsumed = errors.New("wakeword: stream already consumed")

// FormatError reports audio that does not match the engine's requirements:
// a malformed header, the wrong sample rate or bit depth, or an unsupported
// channel count.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wakeword: invalid audio format: %s: %v", e.Reason, e.Err)
	}
	return "wakeword: invalid audio format: " + e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }

// InitError reports an engine that could not be created: a missing model or
// keyword file, an unknown built-in keyword, inconsistent sensitivities, or
// a failure inside the engine itself.
type InitError struct {
	Reason string
	Err    error
}

func (e *InitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wakeword: engine init failed: %s: %v", e.Reason, e.Err)
	}
	return "wakeword: engine init failed: " + e.Reason
}

func (e *InitError) Unwrap() error { return e.Err }

// ProcessError reports a non-success result from the engine while
// processing a frame. Status is the engine's code, or -1 when the failure
// did not carry one.
type ProcessError struct {
	Status detector.Status
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("wakeword: process failed with status %s: %v", e.Status, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }
