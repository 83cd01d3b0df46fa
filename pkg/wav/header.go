// Package wav reads and writes the canonical 44-byte RIFF/WAVE header used by
// 16-bit PCM recordings.
//
// Only the fixed layout is understood: "RIFF" at offset 0, "WAVE" at offset 8,
// the channel count at 22, the sample rate at 24, the bit depth at 34, and
// sample data starting at offset 44. Files with extra chunks before "data"
// are not supported.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the length of the canonical WAV header in bytes.
const HeaderSize = 44

// Header field offsets.
const (
	offRIFF       = 0
	offRIFFSize   = 4
	offWAVE       = 8
	offFmt        = 12
	offChannels   = 22
	offSampleRate = 24
	offByteRate   = 28
	offBlockAlign = 32
	offBitDepth   = 34
	offData       = 36
	offDataSize   = 40
)

var (
	// ErrShortHeader is returned when fewer than [HeaderSize] bytes could be read.
	ErrShortHeader = errors.New("wav: header shorter than 44 bytes")

	// ErrNotRIFF is returned when bytes [0:4) are not "RIFF".
	ErrNotRIFF = errors.New("wav: missing RIFF marker")

	// ErrNotWAVE is returned when bytes [8:12) are not "WAVE".
	ErrNotWAVE = errors.New("wav: missing WAVE marker")
)

// Header holds the fields of a canonical WAV header that matter to a PCM
// consumer.
type Header struct {
	Channels   int
	SampleRate int
	BitDepth   int

	// DataSize is the declared byte length of the data chunk. Recorders that
	// were interrupted often leave it zero; readers should stream until EOF
	// rather than trust it.
	DataSize uint32
}

// BlockAlign returns the byte size of one sample instant across all channels.
func (h Header) BlockAlign() int {
	return h.Channels * h.BitDepth / 8
}

// ReadHeader consumes exactly [HeaderSize] bytes from r and decodes them.
// On success r is positioned at the first sample.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, ErrShortHeader
		}
		return Header{}, fmt.Errorf("wav: read header: %w", err)
	}
	return ParseHeader(buf[:])
}

// ParseHeader decodes a header from b, which must be at least [HeaderSize]
// bytes long.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	if string(b[offRIFF:offRIFF+4]) != "RIFF" {
		return Header{}, ErrNotRIFF
	}
	if string(b[offWAVE:offWAVE+4]) != "WAVE" {
		return Header{}, ErrNotWAVE
	}
	le := binary.LittleEndian
	return Header{
		Channels:   int(le.Uint16(b[offChannels:])),
		SampleRate: int(le.Uint32(b[offSampleRate:])),
		BitDepth:   int(le.Uint16(b[offBitDepth:])),
		DataSize:   le.Uint32(b[offDataSize:]),
	}, nil
}

// AppendHeader appends the 44-byte header for h to dst. A zero h.BitDepth
// is written as 16.
func AppendHeader(dst []byte, h Header) []byte {
	bits := h.BitDepth
	if bits == 0 {
		bits = 16
	}
	blockAlign := h.Channels * bits / 8

	var buf [HeaderSize]byte
	le := binary.LittleEndian
	copy(buf[offRIFF:], "RIFF")
	le.PutUint32(buf[offRIFFSize:], 36+h.DataSize)
	copy(buf[offWAVE:], "WAVE")
	copy(buf[offFmt:], "fmt ")
	le.PutUint32(buf[offFmt+4:], 16) // fmt chunk size
	le.PutUint16(buf[offFmt+8:], 1)  // PCM
	le.PutUint16(buf[offChannels:], uint16(h.Channels))
	le.PutUint32(buf[offSampleRate:], uint32(h.SampleRate))
	le.PutUint32(buf[offByteRate:], uint32(h.SampleRate*blockAlign))
	le.PutUint16(buf[offBlockAlign:], uint16(blockAlign))
	le.PutUint16(buf[offBitDepth:], uint16(bits))
	copy(buf[offData:], "data")
	le.PutUint32(buf[offDataSize:], h.DataSize)
	return append(dst, buf[:]...)
}
