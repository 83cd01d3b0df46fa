// Package wakeword feeds audio to a wake-word engine frame by frame.
//
// Audio arrives either as a WAV file ([Open] / [Stream.Feed]) or as a
// channel of live PCM chunks ([Listen]). In both cases samples are reduced
// to the left channel, cut into frames of exactly the engine's frame length
// and handed to a [Processor]. Every non-negative result becomes a
// [Detection] stamped with its offset into the stream.
//
// A [Session] owns the engine handle. Callers create it with [NewSession],
// defer [Session.Close], and iterate:
//
//	sess, err := wakeword.NewSession(backend, cfg)
//	if err != nil { ... }
//	defer sess.Close()
//
//	stream, err := sess.Open(f)
//	if err != nil { ... }
//	for det, err := range stream.Feed(sess) {
//	    if err != nil { ... }
//	    fmt.Printf("Detected '%s' at %.2f sec\n", det.Keyword, det.Seconds())
//	}
package wakeword

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/hotword/pkg/wav"
)

// readFrames is the number of engine frames read from the source per read.
const readFrames = 4

// Stream is a validated WAV source. It can be consumed once.
type Stream struct {
	r      io.Reader
	header wav.Header
	used   atomic.Bool
}

// Open reads the 44-byte WAV header from r and checks it against the
// engine's requirements. Mono and stereo are accepted (stereo with a
// warning, since only the left channel is used); anything else is a
// *[FormatError]. Samples are always decoded as 16-bit little-endian, so a
// requiredBitDepth other than 16 is rejected before the header is read.
func Open(r io.Reader, requiredSampleRate, requiredBitDepth int) (*Stream, error) {
	if requiredBitDepth != 16 {
		return nil, &FormatError{Reason: fmt.Sprintf(
			"bit depth %d cannot be decoded, only 16-bit PCM is supported", requiredBitDepth)}
	}
	h, err := wav.ReadHeader(r)
	if err != nil {
		return nil, &FormatError{Reason: "unreadable WAV header", Err: err}
	}
	if h.SampleRate != requiredSampleRate {
		return nil, &FormatError{Reason: fmt.Sprintf(
			"audio sample rate %d Hz, engine requires %d Hz", h.SampleRate, requiredSampleRate)}
	}
	if h.BitDepth != requiredBitDepth {
		return nil, &FormatError{Reason: fmt.Sprintf(
			"audio bit depth %d, engine requires %d", h.BitDepth, requiredBitDepth)}
	}
	switch h.Channels {
	case 1:
	case 2:
		slog.Warn("stereo audio: only the left channel will be processed")
	default:
		return nil, &FormatError{Reason: fmt.Sprintf(
			"audio has %d channels, only mono and stereo are supported", h.Channels)}
	}
	return &Stream{r: bufio.NewReader(r), header: h}, nil
}

// Channels returns the channel count declared in the header.
func (s *Stream) Channels() int { return s.header.Channels }

// SampleRate returns the sample rate declared in the header.
func (s *Stream) SampleRate() int { return s.header.SampleRate }

// Header returns the parsed WAV header.
func (s *Stream) Header() wav.Header { return s.header }

// Feed returns a lazy sequence of detections produced by running the
// stream through p. Audio is pulled only as the sequence is iterated; the
// sequence ends at end of input (a trailing partial frame is discarded),
// when the caller stops, or after yielding the first error. A *[ProcessError]
// from the engine is yielded once and ends the sequence.
//
// The stream can be iterated only once. Later iterations yield
// [ErrStreamConsumed].
func (s *Stream) Feed(p Processor) iter.Seq2[Detection, error] {
	return func(yield func(Detection, error) bool) {
		if !s.used.CompareAndSwap(false, true) {
			yield(Detection{}, ErrStreamConsumed)
			return
		}
		if p.FrameLength() <= 0 {
			yield(Detection{}, &ProcessError{Status: -1, Err: fmt.Errorf("invalid frame length %d", p.FrameLength())})
			return
		}
		if p.SampleRate() != s.header.SampleRate {
			yield(Detection{}, &FormatError{Reason: fmt.Sprintf(
				"stream is %d Hz, processor expects %d Hz", s.header.SampleRate, p.SampleRate())})
			return
		}

		f := newFramer(p, s.header.Channels, s.header.SampleRate)
		buf := make([]byte, p.FrameLength()*s.header.BlockAlign()*readFrames)
		for {
			n, err := s.r.Read(buf)
			if n > 0 && !f.push(buf[:n], yield) {
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Detection{}, fmt.Errorf("wakeword: read audio: %w", err))
				return
			}
		}
	}
}
