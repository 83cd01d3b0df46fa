package wakeword

import (
	"context"
	"fmt"
	"iter"

	"github.com/MrWong99/hotword/pkg/audio"
)

// Listen returns a sequence of detections from a live source. Chunks are
// framed exactly like [Stream.Feed] and timestamps count sample instants
// from the first chunk.
//
// Every chunk must carry the processor's sample rate and one or two
// channels; a mismatch yields a *[FormatError] and ends the sequence.
// The sequence ends when in is closed, when ctx is cancelled (yielding
// ctx.Err()), on the first engine error, or when the caller stops. In every
// case but a closed channel the remaining chunks are drained in the
// background so the producer never blocks.
func Listen(ctx context.Context, p Processor, in <-chan audio.Chunk) iter.Seq2[Detection, error] {
	return func(yield func(Detection, error) bool) {
		closed := false
		defer func() {
			if !closed {
				go audio.Drain(in)
			}
		}()

		if p.FrameLength() <= 0 {
			yield(Detection{}, &ProcessError{Status: -1, Err: fmt.Errorf("invalid frame length %d", p.FrameLength())})
			return
		}

		var f *framer
		for {
			select {
			case <-ctx.Done():
				yield(Detection{}, ctx.Err())
				return
			case chunk, ok := <-in:
				if !ok {
					closed = true
					return
				}
				if len(chunk.Data) == 0 {
					continue
				}
				channels := chunk.Channels
				if channels == 0 {
					channels = 1
				}
				if chunk.SampleRate != p.SampleRate() {
					yield(Detection{}, &FormatError{Reason: fmt.Sprintf(
						"chunk is %d Hz, engine requires %d Hz", chunk.SampleRate, p.SampleRate())})
					return
				}
				if channels > 2 {
					yield(Detection{}, &FormatError{Reason: fmt.Sprintf(
						"chunk has %d channels, only mono and stereo are supported", channels)})
					return
				}
				if f == nil {
					f = newFramer(p, channels, chunk.SampleRate)
				} else if f.channels != channels {
					yield(Detection{}, &FormatError{Reason: fmt.Sprintf(
						"channel count changed from %d to %d mid-stream", f.channels, channels)})
					return
				}
				if !f.push(chunk.Data, yield) {
					return
				}
			}
		}
	}
}
