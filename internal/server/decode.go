package server

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"time"

	"layeh.com/gopus"

	"github.com/MrWong99/hotword/pkg/audio"
)

// Stream encodings accepted on /v1/listen.
const (
	EncodingPCM  = "pcm"
	EncodingOpus = "opus"
)

// opusRates are the sample rates an Opus decoder can produce.
var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// opusMaxFrame is the longest Opus frame (120 ms) in samples per channel at
// rate.
func opusMaxFrame(rate int) int { return rate * 120 / 1000 }

// streamParams is the audio format a client declares when opening a stream.
type streamParams struct {
	Encoding   string
	SampleRate int
	Channels   int
}

// parseParams reads encoding, sample_rate and channels from q. Missing
// values default to raw mono PCM at the engine rate.
func parseParams(q url.Values, engineRate int) (streamParams, error) {
	p := streamParams{
		Encoding:   EncodingPCM,
		SampleRate: engineRate,
		Channels:   1,
	}
	var errs []error

	if v := q.Get("encoding"); v != "" {
		p.Encoding = v
	}
	if p.Encoding != EncodingPCM && p.Encoding != EncodingOpus {
		errs = append(errs, fmt.Errorf("encoding %q is not one of %s, %s", p.Encoding, EncodingPCM, EncodingOpus))
	}

	if v := q.Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("sample_rate %q is not an integer", v))
		} else {
			p.SampleRate = n
		}
	}
	switch {
	case p.Encoding == EncodingOpus && !slices.Contains(opusRates, p.SampleRate):
		errs = append(errs, fmt.Errorf("sample_rate %d is not an Opus rate %v", p.SampleRate, opusRates))
	case p.SampleRate < 8000 || p.SampleRate > 48000:
		errs = append(errs, fmt.Errorf("sample_rate %d is out of range [8000, 48000]", p.SampleRate))
	}

	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || (n != 1 && n != 2) {
			errs = append(errs, fmt.Errorf("channels %q must be 1 or 2", v))
		} else {
			p.Channels = n
		}
	}

	return p, errors.Join(errs...)
}

// decodeError reports a client message that could not be turned into PCM.
type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode audio: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// decoder turns binary websocket messages into PCM chunks at the engine
// rate. When the client rate already matches, chunks pass through with their
// channel layout intact and the frame consumer keeps the left channel;
// otherwise they are reduced to mono and resampled here.
type decoder struct {
	params   streamParams
	opus     *gopus.Decoder
	conv     *audio.FormatConverter
	instants int64
}

func newDecoder(p streamParams, engineRate int) (*decoder, error) {
	d := &decoder{params: p}
	if p.Encoding == EncodingOpus {
		dec, err := gopus.NewDecoder(p.SampleRate, p.Channels)
		if err != nil {
			return nil, fmt.Errorf("server: create opus decoder: %w", err)
		}
		d.opus = dec
	}
	if p.SampleRate != engineRate {
		d.conv = &audio.FormatConverter{Target: audio.Format{SampleRate: engineRate, Channels: 1}}
	}
	return d, nil
}

// decode converts one message. Opus messages must hold exactly one packet.
func (d *decoder) decode(msg []byte) (audio.Chunk, error) {
	data := msg
	if d.opus != nil {
		pcm, err := d.opus.Decode(msg, opusMaxFrame(d.params.SampleRate), false)
		if err != nil {
			return audio.Chunk{}, &decodeError{err: err}
		}
		data = audio.Int16sToBytes(pcm)
	}

	chunk := audio.Chunk{
		Data:       data,
		SampleRate: d.params.SampleRate,
		Channels:   d.params.Channels,
		Timestamp:  time.Duration(d.instants) * time.Second / time.Duration(d.params.SampleRate),
	}
	d.instants += int64(chunk.Instants())

	if d.conv != nil {
		chunk = d.conv.Convert(chunk)
	}
	return chunk, nil
}
