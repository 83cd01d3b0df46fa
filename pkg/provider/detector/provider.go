// Package detector defines the Backend interface for wake-word detection
// engines.
//
// A Backend wraps an opaque, frame-level keyword spotter (typically a
// precompiled native library) behind the create/process/delete triad. The
// engine decides the frame length and sample rate; callers must feed exactly
// FrameLength mono 16-bit samples per Process call at SampleRate.
//
// A Handle is owned by exactly one caller. Backends do not guarantee that
// Process is reentrant for a single Handle; callers must serialise calls on
// the same Handle. Distinct handles may be used from different goroutines.
package detector

import (
	"errors"
	"fmt"
)

// Handle is an opaque reference to engine-internal state returned by
// [Backend.Create]. The zero Handle is never valid.
type Handle uintptr

// NoDetection is the index returned by [Backend.Process] when no keyword was
// detected in the frame.
const NoDetection = -1

// Backend is the foreign-function boundary to a wake-word engine.
type Backend interface {
	// Create initialises the engine with the model parameters at modelPath
	// and one keyword model per entry of keywordPaths. sensitivities holds one
	// value in [0, 1] per keyword, in the same order. Returns a
	// *[StatusError] when the engine rejects the arguments.
	Create(modelPath string, keywordPaths []string, sensitivities []float32) (Handle, error)

	// Process runs detection on one frame of exactly FrameLength samples and
	// returns the 0-based index of the detected keyword, or [NoDetection].
	Process(h Handle, pcm []int16) (int, error)

	// Delete releases the engine state behind h. It must be called exactly
	// once per successful Create.
	Delete(h Handle)

	// FrameLength is the number of samples per frame.
	FrameLength() int

	// SampleRate is the required audio sample rate in Hz.
	SampleRate() int

	// Version returns the engine library version string.
	Version() string
}

// Status is a return code from the native engine.
type Status int

// Status codes reported by the engine.
const (
	StatusSuccess         Status = 0
	StatusOutOfMemory     Status = 1
	StatusIOError         Status = 2
	StatusInvalidArgument Status = 3
)

// String returns the engine's name for s.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusOutOfMemory:
		return "OUT_OF_MEMORY"
	case StatusIOError:
		return "IO_ERROR"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// StatusError reports a non-success status from an engine call.
type StatusError struct {
	// Op is the engine operation that failed ("init", "process").
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("detector: %s failed with status %s", e.Op, e.Status)
}

// StatusOf extracts the engine status from err. It returns false when err
// does not wrap a *[StatusError].
func StatusOf(err error) (Status, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return 0, false
}
