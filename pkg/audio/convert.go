package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// FormatConverter converts chunks to a mono target format. Channel reduction
// keeps the left channel only, then the result is resampled. It logs a
// warning on the first format mismatch and drops misaligned PCM.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	// Target must be mono; Channels other than 1 are treated as 1.
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a chunk to the target format. If the source format already
// matches the target, the chunk is returned unchanged (zero allocation).
func (c *FormatConverter) Convert(chunk Chunk) Chunk {
	channels := chunk.Channels
	if channels <= 0 {
		channels = 1
	}
	if len(chunk.Data)%(2*channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: misaligned PCM data, dropping chunk",
				"bytes", len(chunk.Data),
				"sampleRate", chunk.SampleRate,
				"channels", channels,
			)
		})
		return Chunk{
			SampleRate: c.Target.SampleRate,
			Channels:   1,
			Timestamp:  chunk.Timestamp,
		}
	}

	if chunk.SampleRate == c.Target.SampleRate && channels == 1 {
		return chunk
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(chunk.SampleRate, channels),
			"to", formatString(c.Target.SampleRate, 1),
		)
	})

	pcm := chunk.Data
	if channels > 1 {
		pcm = LeftChannel(pcm, channels)
	}
	if chunk.SampleRate != c.Target.SampleRate {
		pcm = ResampleMono16(pcm, chunk.SampleRate, c.Target.SampleRate)
	}

	return Chunk{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   1,
		Timestamp:  chunk.Timestamp,
	}
}

// ConvertStream wraps an input channel with a conversion goroutine. It closes
// the returned channel when in closes. Uses cap(in) for the output channel
// buffer. Chunks that convert to empty data are dropped.
func ConvertStream(in <-chan Chunk, target Format) <-chan Chunk {
	out := make(chan Chunk, cap(in))
	go func() {
		defer close(out)
		conv := FormatConverter{Target: target}
		for chunk := range in {
			converted := conv.Convert(chunk)
			if len(converted.Data) == 0 {
				continue
			}
			out <- converted
		}
	}()
	return out
}

// LeftChannel extracts the first channel of interleaved 16-bit PCM. The other
// channels are discarded, not mixed in. Trailing bytes that do not form a
// complete instant are dropped.
func LeftChannel(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := 2 * channels
	instants := len(pcm) / stride
	out := make([]byte, instants*2)
	for i := range instants {
		out[i*2] = pcm[i*stride]
		out[i*2+1] = pcm[i*stride+1]
	}
	return out
}

// AppendInt16s decodes little-endian 16-bit PCM from pcm and appends the
// samples to dst. A trailing odd byte is ignored.
func AppendInt16s(dst []int16, pcm []byte) []int16 {
	for i := 0; i+1 < len(pcm); i += 2 {
		dst = append(dst, int16(binary.LittleEndian.Uint16(pcm[i:])))
	}
	return dst
}

// Int16sToBytes encodes samples as little-endian 16-bit PCM.
func Int16sToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
