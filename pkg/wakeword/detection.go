package wakeword

import (
	"encoding/binary"
	"time"
)

// Detection is a single keyword hit.
type Detection struct {
	// Index is the 0-based position of the keyword in the engine config.
	Index int

	// Keyword is the display label of the detected keyword.
	Keyword string

	// Timestamp is the stream offset at the end of the detecting frame:
	// sample instants consumed so far divided by the sample rate.
	Timestamp time.Duration
}

// Seconds returns Timestamp in seconds.
func (d Detection) Seconds() float64 { return d.Timestamp.Seconds() }

// framer slices interleaved PCM into exact mono frames and runs them through
// a Processor. Only the left channel is kept; partial frames stay buffered
// until more audio arrives and are dropped at end of stream.
type framer struct {
	p          Processor
	channels   int
	sampleRate int

	frame    []int16
	carry    []byte
	consumed int64
}

func newFramer(p Processor, channels, sampleRate int) *framer {
	return &framer{
		p:          p,
		channels:   channels,
		sampleRate: sampleRate,
		frame:      make([]int16, 0, p.FrameLength()),
	}
}

// push feeds pcm and yields detections. It returns false when iteration must
// stop, either because yield asked to or because the engine failed.
func (f *framer) push(pcm []byte, yield func(Detection, error) bool) bool {
	step := 2 * f.channels
	if len(f.carry) > 0 {
		need := step - len(f.carry)
		if len(pcm) < need {
			f.carry = append(f.carry, pcm...)
			return true
		}
		f.carry = append(f.carry, pcm[:need]...)
		pcm = pcm[need:]
		if !f.instant(f.carry, yield) {
			return false
		}
		f.carry = f.carry[:0]
	}

	n := len(pcm) / step * step
	for off := 0; off < n; off += step {
		if !f.instant(pcm[off:off+step], yield) {
			return false
		}
	}
	if rest := pcm[n:]; len(rest) > 0 {
		f.carry = append(f.carry, rest...)
	}
	return true
}

// instant consumes one sample instant, keeping the left (first) sample.
func (f *framer) instant(b []byte, yield func(Detection, error) bool) bool {
	f.frame = append(f.frame, int16(binary.LittleEndian.Uint16(b)))
	f.consumed++
	if len(f.frame) < cap(f.frame) {
		return true
	}

	idx, err := f.p.Process(f.frame)
	f.frame = f.frame[:0]
	if err != nil {
		yield(Detection{}, err)
		return false
	}
	if idx < 0 {
		return true
	}
	return yield(Detection{
		Index:     idx,
		Keyword:   f.p.Keyword(idx),
		Timestamp: f.offset(),
	}, nil)
}

// offset converts consumed instants to a duration without overflowing on
// long streams.
func (f *framer) offset() time.Duration {
	rate := int64(f.sampleRate)
	secs := f.consumed / rate
	rem := f.consumed % rate
	return time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/time.Duration(rate)
}
