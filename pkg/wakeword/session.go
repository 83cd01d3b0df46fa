package wakeword

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/hotword/pkg/provider/detector"
)

// Processor consumes exactly-sized frames and reports detections. [Session]
// is the production implementation; wrappers (metrics, tracing) delegate to
// it.
type Processor interface {
	// FrameLength is the number of mono samples per frame.
	FrameLength() int

	// SampleRate is the audio rate frames must be sampled at.
	SampleRate() int

	// Process runs detection on one frame and returns the keyword index or
	// detector.NoDetection.
	Process(frame []int16) (int, error)

	// Keyword returns the display label for a detection index.
	Keyword(index int) string
}

// Compile-time interface check.
var _ Processor = (*Session)(nil)

// Session owns one engine handle. It is created by [NewSession] and must be
// closed exactly once with [Session.Close]; further Close calls return
// [ErrAlreadyReleased] without touching the engine.
//
// Process calls are serialised internally, so the engine is never entered
// concurrently through the same Session.
type Session struct {
	backend detector.Backend

	labels        []string
	sensitivities []float32

	mu       sync.Mutex
	handle   detector.Handle
	released bool
}

// NewSession validates cfg and creates an engine instance on backend.
// Validation failures and engine rejections are reported as *[InitError];
// the engine is not called when validation fails.
func NewSession(backend detector.Backend, cfg EngineConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend.FrameLength() <= 0 || backend.SampleRate() <= 0 {
		return nil, &InitError{Reason: fmt.Sprintf(
			"engine reports frame length %d and sample rate %d", backend.FrameLength(), backend.SampleRate())}
	}

	sens := cfg.resolvedSensitivities()
	h, err := backend.Create(cfg.ModelPath, slices.Clone(cfg.KeywordPaths), slices.Clone(sens))
	if err != nil {
		return nil, &InitError{Reason: "engine rejected configuration", Err: err}
	}

	s := &Session{
		backend:       backend,
		handle:        h,
		labels:        cfg.resolvedLabels(),
		sensitivities: sens,
	}
	slog.Debug("wakeword session created",
		"keywords", s.labels,
		"frame_length", backend.FrameLength(),
		"sample_rate", backend.SampleRate(),
	)
	return s, nil
}

// FrameLength implements [Processor].
func (s *Session) FrameLength() int { return s.backend.FrameLength() }

// SampleRate implements [Processor].
func (s *Session) SampleRate() int { return s.backend.SampleRate() }

// Keyword implements [Processor]. Out-of-range indices yield "#<index>".
func (s *Session) Keyword(index int) string {
	if index >= 0 && index < len(s.labels) {
		return s.labels[index]
	}
	return fmt.Sprintf("#%d", index)
}

// Labels returns the display labels in detection-index order.
func (s *Session) Labels() []string { return slices.Clone(s.labels) }

// Sensitivities returns the effective sensitivities in detection-index
// order.
func (s *Session) Sensitivities() []float32 { return slices.Clone(s.sensitivities) }

// Process runs the engine on one frame. Engine failures are returned as
// *[ProcessError]; a released session returns [ErrAlreadyReleased].
func (s *Session) Process(frame []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return detector.NoDetection, ErrAlreadyReleased
	}
	if len(frame) != s.backend.FrameLength() {
		return detector.NoDetection, &ProcessError{
			Status: detector.StatusInvalidArgument,
			Err:    fmt.Errorf("frame has %d samples, want %d", len(frame), s.backend.FrameLength()),
		}
	}

	idx, err := s.backend.Process(s.handle, frame)
	if err != nil {
		st, ok := detector.StatusOf(err)
		if !ok {
			st = -1
		}
		return detector.NoDetection, &ProcessError{Status: st, Err: err}
	}
	return idx, nil
}

// Open validates the WAV header read from r against this engine's sample
// rate and 16-bit depth.
func (s *Session) Open(r io.Reader) (*Stream, error) {
	return Open(r, s.SampleRate(), 16)
}

// Close releases the engine handle. Only the first call reaches the engine.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrAlreadyReleased
	}
	s.released = true
	s.backend.Delete(s.handle)
	slog.Debug("wakeword session released", "keywords", s.labels)
	return nil
}
