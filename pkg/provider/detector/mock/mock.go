// Package mock provides a test double for the detector.Backend interface.
//
// Backend records every call and lets tests script per-frame results:
//
//	b := &mock.Backend{
//	    Frames: 512,
//	    Rate:   16000,
//	    Results: map[int]int{9: 3}, // 10th frame detects keyword 3
//	}
//	h, _ := b.Create("model.pv", []string{"a.ppn"}, []float32{0.5})
package mock

import (
	"slices"
	"sync"

	"github.com/MrWong99/hotword/pkg/provider/detector"
)

// Ensure Backend implements detector.Backend at compile time.
var _ detector.Backend = (*Backend)(nil)

// CreateCall records a single invocation of Backend.Create.
type CreateCall struct {
	ModelPath     string
	KeywordPaths  []string
	Sensitivities []float32
}

// ProcessCall records a single invocation of Backend.Process.
type ProcessCall struct {
	Handle detector.Handle
	// Frame is a copy of the samples passed to Process.
	Frame []int16
}

// Backend is a mock implementation of detector.Backend. The zero value
// reports a frame length of 512 at 16 kHz and never detects anything.
type Backend struct {
	mu sync.Mutex

	// Frames is the value returned by FrameLength. Zero means 512.
	Frames int

	// Rate is the value returned by SampleRate. Zero means 16000.
	Rate int

	// VersionString is returned by Version.
	VersionString string

	// CreateErr, if non-nil, is returned by Create.
	CreateErr error

	// Results maps a 0-based frame number (counted across all handles) to
	// the keyword index returned for that frame. Frames not present return
	// detector.NoDetection.
	Results map[int]int

	// Detect, if non-nil, overrides Results and is called with each frame.
	Detect func(frame []int16) int

	// ProcessErr, if non-nil, is returned by Process starting at frame
	// number ProcessErrAt.
	ProcessErr   error
	ProcessErrAt int

	// --- Call records ---

	CreateCalls  []CreateCall
	ProcessCalls []ProcessCall
	// DeleteCalls lists every handle passed to Delete, in order.
	DeleteCalls []detector.Handle

	next detector.Handle
	live map[detector.Handle]bool
}

// Create records the call and returns a fresh handle, or CreateErr.
func (b *Backend) Create(modelPath string, keywordPaths []string, sensitivities []float32) (detector.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CreateCalls = append(b.CreateCalls, CreateCall{
		ModelPath:     modelPath,
		KeywordPaths:  slices.Clone(keywordPaths),
		Sensitivities: slices.Clone(sensitivities),
	})
	if b.CreateErr != nil {
		return 0, b.CreateErr
	}
	if b.live == nil {
		b.live = make(map[detector.Handle]bool)
	}
	b.next++
	b.live[b.next] = true
	return b.next, nil
}

// Process records the frame and returns the scripted result.
func (b *Backend) Process(h detector.Handle, pcm []int16) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.ProcessCalls)
	b.ProcessCalls = append(b.ProcessCalls, ProcessCall{Handle: h, Frame: slices.Clone(pcm)})
	if b.ProcessErr != nil && n >= b.ProcessErrAt {
		return detector.NoDetection, b.ProcessErr
	}
	if b.Detect != nil {
		return b.Detect(pcm), nil
	}
	if idx, ok := b.Results[n]; ok {
		return idx, nil
	}
	return detector.NoDetection, nil
}

// Delete records the call.
func (b *Backend) Delete(h detector.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DeleteCalls = append(b.DeleteCalls, h)
	delete(b.live, h)
}

// FrameLength returns Frames, or 512.
func (b *Backend) FrameLength() int {
	if b.Frames > 0 {
		return b.Frames
	}
	return 512
}

// SampleRate returns Rate, or 16000.
func (b *Backend) SampleRate() int {
	if b.Rate > 0 {
		return b.Rate
	}
	return 16000
}

// Version returns VersionString, or "mock".
func (b *Backend) Version() string {
	if b.VersionString != "" {
		return b.VersionString
	}
	return "mock"
}

// Live reports how many created handles have not been deleted yet.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

// ProcessedFrames returns a copy of every frame passed to Process, in order.
func (b *Backend) ProcessedFrames() [][]int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]int16, len(b.ProcessCalls))
	for i, c := range b.ProcessCalls {
		out[i] = c.Frame
	}
	return out
}

// DeleteCount returns the number of Delete calls.
func (b *Backend) DeleteCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.DeleteCalls)
}
