// Package audio holds the PCM plumbing shared by every audio source in
// hotword: the [Chunk] unit pushed by live producers, sample conversion
// helpers, and channel utilities.
//
// All PCM in this package is 16-bit signed little-endian, interleaved when
// multi-channel.
package audio

import "time"

// Chunk is a block of raw PCM pushed by a live producer (microphone,
// network client) toward the frame consumer. Chunks are not aligned to the
// detector's frame length; the consumer re-slices them.
type Chunk struct {
	// Data is interleaved 16-bit little-endian PCM.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono or 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this chunk was captured, relative to stream start.
	Timestamp time.Duration
}

// Instants returns the number of sample instants (one sample per channel)
// carried by c. Trailing bytes that do not form a full instant are ignored.
func (c Chunk) Instants() int {
	ch := c.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(c.Data) / (2 * ch)
}
