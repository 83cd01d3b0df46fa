// Package native implements detector.Backend on top of the engine's
// precompiled shared library (libpv_porcupine.so / .dylib / .dll).
//
// The library is loaded at runtime from an explicit path: dlopen on Linux and
// macOS (requires cgo), LoadDLL on Windows. Nothing is loaded at package
// initialisation; every Backend owns its own library reference.
package native

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/MrWong99/hotword/pkg/provider/detector"
)

// Compile-time assertion that Backend satisfies detector.Backend.
var _ detector.Backend = (*Backend)(nil)

// ErrUnsupported is returned by [New] on platforms where the native library
// cannot be loaded (for example a unix build without cgo).
var ErrUnsupported = errors.New("native: dynamic library loading not supported on this platform")

// Required exported symbols.
const (
	symInit        = "pv_porcupine_init"
	symProcess     = "pv_porcupine_process"
	symDelete      = "pv_porcupine_delete"
	symFrameLength = "pv_porcupine_frame_length"
	symSampleRate  = "pv_sample_rate"
	symVersion     = "pv_porcupine_version"
)

// Backend is a detector.Backend backed by a dynamically loaded engine
// library. It is safe for concurrent use across handles; calls on a single
// handle must still be serialised by the caller.
type Backend struct {
	path string
	lib  *library

	frameLength int
	sampleRate  int
	version     string

	mu      sync.Mutex
	next    detector.Handle
	objects map[detector.Handle]object
}

// New loads the engine library at libraryPath and resolves its symbols.
// The caller must call Close when no handles remain.
func New(libraryPath string) (*Backend, error) {
	if libraryPath == "" {
		return nil, errors.New("native: library path must not be empty")
	}
	if _, err := os.Stat(libraryPath); err != nil {
		return nil, fmt.Errorf("native: library %q: %w", libraryPath, err)
	}
	lib, err := openLibrary(libraryPath)
	if err != nil {
		return nil, fmt.Errorf("native: load %q: %w", libraryPath, err)
	}

	b := &Backend{
		path:        libraryPath,
		lib:         lib,
		frameLength: lib.frameLength(),
		sampleRate:  lib.sampleRate(),
		version:     lib.version(),
		objects:     make(map[detector.Handle]object),
	}
	slog.Debug("native engine loaded",
		"path", libraryPath,
		"version", b.version,
		"frame_length", b.frameLength,
		"sample_rate", b.sampleRate,
	)
	return b, nil
}

// Create initialises a new engine instance.
func (b *Backend) Create(modelPath string, keywordPaths []string, sensitivities []float32) (detector.Handle, error) {
	if len(keywordPaths) == 0 || len(keywordPaths) != len(sensitivities) {
		return 0, &detector.StatusError{Op: "init", Status: detector.StatusInvalidArgument}
	}

	obj, status := b.lib.init(modelPath, keywordPaths, sensitivities)
	if status != detector.StatusSuccess {
		return 0, &detector.StatusError{Op: "init", Status: status}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.objects[b.next] = obj
	return b.next, nil
}

// Process runs the engine on one frame.
func (b *Backend) Process(h detector.Handle, pcm []int16) (int, error) {
	if len(pcm) != b.frameLength {
		return detector.NoDetection, fmt.Errorf("native: frame has %d samples, engine expects %d", len(pcm), b.frameLength)
	}
	b.mu.Lock()
	obj, ok := b.objects[h]
	b.mu.Unlock()
	if !ok {
		return detector.NoDetection, fmt.Errorf("native: unknown or deleted handle %d", h)
	}

	idx, status := b.lib.process(obj, pcm)
	if status != detector.StatusSuccess {
		return detector.NoDetection, &detector.StatusError{Op: "process", Status: status}
	}
	return idx, nil
}

// Delete releases the engine instance behind h. Unknown handles are ignored,
// so a handle is never released twice.
func (b *Backend) Delete(h detector.Handle) {
	b.mu.Lock()
	obj, ok := b.objects[h]
	delete(b.objects, h)
	b.mu.Unlock()
	if !ok {
		slog.Warn("native: delete of unknown handle ignored", "handle", h)
		return
	}
	b.lib.delete(obj)
}

// FrameLength returns the engine's samples per frame.
func (b *Backend) FrameLength() int { return b.frameLength }

// SampleRate returns the engine's required sample rate in Hz.
func (b *Backend) SampleRate() int { return b.sampleRate }

// Version returns the engine library version.
func (b *Backend) Version() string { return b.version }

// Path returns the file the library was loaded from.
func (b *Backend) Path() string { return b.path }

// Close unloads the library. It fails while handles are still live.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.objects); n > 0 {
		return fmt.Errorf("native: %d engine handle(s) still live", n)
	}
	if b.lib == nil {
		return nil
	}
	err := b.lib.close()
	b.lib = nil
	return err
}
