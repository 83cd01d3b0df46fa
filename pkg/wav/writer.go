package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Writer streams 16-bit PCM into a WAV file. The header is written up front
// with zero sizes and patched on Close, so the destination must be seekable.
//
// Writer is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	ws      io.WriteSeeker
	header  Header
	written uint32
	closed  bool
}

// NewWriter writes a placeholder header for 16-bit PCM at sampleRate and
// channels to ws and returns a Writer positioned at the first sample.
func NewWriter(ws io.WriteSeeker, sampleRate, channels int) (*Writer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("wav: invalid format %d Hz, %d channels", sampleRate, channels)
	}
	h := Header{Channels: channels, SampleRate: sampleRate, BitDepth: 16}
	if _, err := ws.Write(AppendHeader(nil, h)); err != nil {
		return nil, fmt.Errorf("wav: write header: %w", err)
	}
	return &Writer{ws: ws, header: h}, nil
}

// Write appends raw little-endian PCM bytes.
func (w *Writer) Write(pcm []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, errors.New("wav: write after close")
	}
	n, err := w.ws.Write(pcm)
	w.written += uint32(n)
	return n, err
}

// Close patches the RIFF and data chunk sizes. It does not close the
// underlying writer. Calling Close more than once is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], 36+w.written)
	if _, err := w.ws.Seek(offRIFFSize, io.SeekStart); err != nil {
		return fmt.Errorf("wav: seek riff size: %w", err)
	}
	if _, err := w.ws.Write(size[:]); err != nil {
		return fmt.Errorf("wav: patch riff size: %w", err)
	}

	binary.LittleEndian.PutUint32(size[:], w.written)
	if _, err := w.ws.Seek(offDataSize, io.SeekStart); err != nil {
		return fmt.Errorf("wav: seek data size: %w", err)
	}
	if _, err := w.ws.Write(size[:]); err != nil {
		return fmt.Errorf("wav: patch data size: %w", err)
	}
	_, err := w.ws.Seek(0, io.SeekEnd)
	return err
}
