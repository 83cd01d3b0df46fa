package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/hotword/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestLeftChannel(t *testing.T) {
	stereo := samplesToBytes([]int16{100, -7, -100, 32000, 5, 6})
	got := bytesToSamples(audio.LeftChannel(stereo, 2))
	equalSamples(t, got, []int16{100, -100, 5})
}

func TestLeftChannel_DropsIncompleteInstant(t *testing.T) {
	// Two full instants plus a lone left sample.
	stereo := samplesToBytes([]int16{1, 2, 3, 4, 5})
	got := bytesToSamples(audio.LeftChannel(stereo, 2))
	equalSamples(t, got, []int16{1, 3})
}

func TestLeftChannel_MonoIsIdentity(t *testing.T) {
	mono := samplesToBytes([]int16{1, 2, 3})
	out := audio.LeftChannel(mono, 1)
	if &out[0] != &mono[0] {
		t.Error("expected the same slice for mono input")
	}
}

func TestAppendInt16s(t *testing.T) {
	pcm := samplesToBytes([]int16{-32768, 0, 32767})
	pcm = append(pcm, 0x7f) // odd trailing byte
	got := audio.AppendInt16s([]int16{42}, pcm)
	equalSamples(t, got, []int16{42, -32768, 0, 32767})
}

func TestInt16sToBytes(t *testing.T) {
	in := []int16{-1, 256, 7}
	equalSamples(t, bytesToSamples(audio.Int16sToBytes(in)), in)
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 16000, 16000)
	if &out[0] != &pcm[0] {
		t.Error("expected same slice for same sample rate")
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	// 2 samples at 16kHz → 6 samples at 48kHz (3x)
	pcm := samplesToBytes([]int16{1000, 2000})
	got := bytesToSamples(audio.ResampleMono16(pcm, 16000, 48000))
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	last := got[len(got)-1]
	if last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	// 48 kHz → 16 kHz keeps every third sample position.
	pcm := samplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	got := bytesToSamples(audio.ResampleMono16(pcm, 48000, 16000))
	equalSamples(t, got, []int16{100, 400})
}

func TestFormatConverter_NoOp(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	chunk := audio.Chunk{
		Data:       samplesToBytes([]int16{100, 200}),
		SampleRate: 16000,
		Channels:   1,
	}
	result := conv.Convert(chunk)
	if &result.Data[0] != &chunk.Data[0] {
		t.Error("expected same slice (zero allocation) for matching format")
	}
}

func TestFormatConverter_StereoKeepsLeft(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	chunk := audio.Chunk{
		Data:       samplesToBytes([]int16{10, 9999, 20, -9999}),
		SampleRate: 16000,
		Channels:   2,
		Timestamp:  40 * time.Millisecond,
	}
	result := conv.Convert(chunk)
	if result.Channels != 1 {
		t.Errorf("channels: got %d, want 1", result.Channels)
	}
	if result.Timestamp != chunk.Timestamp {
		t.Errorf("timestamp: got %v, want %v", result.Timestamp, chunk.Timestamp)
	}
	equalSamples(t, bytesToSamples(result.Data), []int16{10, 20})
}

func TestFormatConverter_MisalignedDropped(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	result := conv.Convert(audio.Chunk{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
	if len(result.Data) != 0 {
		t.Errorf("expected empty data, got %d bytes", len(result.Data))
	}
}

func TestConvertStream(t *testing.T) {
	in := make(chan audio.Chunk, 4)
	in <- audio.Chunk{Data: samplesToBytes([]int16{1, 2, 3, 4, 5, 6}), SampleRate: 48000, Channels: 1}
	in <- audio.Chunk{Data: []byte{1}, SampleRate: 48000, Channels: 1}
	close(in)

	out := audio.ConvertStream(in, audio.Format{SampleRate: 16000, Channels: 1})
	var chunks []audio.Chunk
	for c := range out {
		chunks = append(chunks, c)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk after dropping misaligned input, got %d", len(chunks))
	}
	if chunks[0].SampleRate != 16000 {
		t.Errorf("sample rate: got %d, want 16000", chunks[0].SampleRate)
	}
	equalSamples(t, bytesToSamples(chunks[0].Data), []int16{1, 4})
}

func TestChunkInstants(t *testing.T) {
	tests := []struct {
		name string
		c    audio.Chunk
		want int
	}{
		{"mono", audio.Chunk{Data: make([]byte, 10), Channels: 1}, 5},
		{"stereo", audio.Chunk{Data: make([]byte, 10), Channels: 2}, 2},
		{"zero channels treated as mono", audio.Chunk{Data: make([]byte, 4)}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Instants(); got != tt.want {
				t.Errorf("Instants() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDrain(t *testing.T) {
	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	close(ch)
	audio.Drain(ch) // must return once the channel is closed
}
