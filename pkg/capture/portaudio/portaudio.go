// Package portaudio captures microphone audio through PortAudio and pushes it
// as [audio.Chunk] values for the wake-word consumer.
//
// The recorder opens a mono 16-bit input stream at the engine's sample rate
// with one engine frame per buffer, so each chunk normally carries exactly
// one frame. Optionally every captured buffer is also written to a WAV file.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/hotword/pkg/audio"
	"github.com/MrWong99/hotword/pkg/wav"
)

// DefaultDevice selects the host's default input device.
const DefaultDevice = -1

// Device describes one capture-capable audio device.
type Device struct {
	Index             int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// Devices lists every device with at least one input channel. Indices match
// the values accepted by [WithDevice].
func Devices() ([]Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer pa.Terminate()

	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()
	return inputDevices(infos, def), nil
}

func inputDevices(infos []*pa.DeviceInfo, def *pa.DeviceInfo) []Device {
	var out []Device
	for i, d := range infos {
		if d == nil || d.MaxInputChannels < 1 {
			continue
		}
		dev := Device{
			Index:             i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && d.Name == def.Name && d.HostApi == def.HostApi,
		}
		if d.HostApi != nil {
			dev.HostAPI = d.HostApi.Name
		}
		out = append(out, dev)
	}
	return out
}

// selectDevice resolves index against infos. DefaultDevice returns def.
func selectDevice(infos []*pa.DeviceInfo, def *pa.DeviceInfo, index int) (*pa.DeviceInfo, error) {
	if index == DefaultDevice {
		if def == nil {
			return nil, errors.New("portaudio: no default input device")
		}
		return def, nil
	}
	if index < 0 || index >= len(infos) || infos[index] == nil {
		return nil, fmt.Errorf("portaudio: device index %d out of range [0, %d)", index, len(infos))
	}
	if infos[index].MaxInputChannels < 1 {
		return nil, fmt.Errorf("portaudio: device %d (%s) has no input channels", index, infos[index].Name)
	}
	return infos[index], nil
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithDevice selects the capture device by index (see [Devices]).
// Default: [DefaultDevice].
func WithDevice(index int) Option {
	return func(r *Recorder) { r.deviceIndex = index }
}

// WithRecording writes every captured buffer to w. The recorder does not
// close w.
func WithRecording(w *wav.Writer) Option {
	return func(r *Recorder) { r.rec = w }
}

// WithBuffer sets the capacity of the chunk channel. Default: 32.
func WithBuffer(n int) Option {
	return func(r *Recorder) { r.queue = n }
}

// Recorder is a running PortAudio input stream.
type Recorder struct {
	deviceIndex int
	rec         *wav.Writer
	queue       int

	sampleRate int
	buf        []int16
	stream     *pa.Stream
	device     string

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
	done      chan struct{}
}

// Open initialises PortAudio and opens a mono input stream delivering
// frameLength samples per buffer at sampleRate. The caller must Close it.
func Open(sampleRate, frameLength int, opts ...Option) (*Recorder, error) {
	if sampleRate <= 0 || frameLength <= 0 {
		return nil, fmt.Errorf("portaudio: invalid format %d Hz / %d samples", sampleRate, frameLength)
	}
	r := &Recorder{
		deviceIndex: DefaultDevice,
		queue:       32,
		sampleRate:  sampleRate,
		buf:         make([]int16, frameLength),
	}
	for _, o := range opts {
		o(r)
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	infos, err := pa.Devices()
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()
	dev, err := selectDevice(infos, def, r.deviceIndex)
	if err != nil {
		pa.Terminate()
		return nil, err
	}

	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = frameLength

	stream, err := pa.OpenStream(params, r.buf)
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	r.stream = stream
	r.device = dev.Name
	return r, nil
}

// Device returns the name of the capture device in use.
func (r *Recorder) Device() string { return r.device }

// Start begins capturing and returns the chunk channel. The channel is
// closed when ctx is cancelled or capture fails; check [Recorder.Err]
// afterwards.
func (r *Recorder) Start(ctx context.Context) (<-chan audio.Chunk, error) {
	if err := r.stream.Start(); err != nil {
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}
	out := make(chan audio.Chunk, r.queue)
	r.done = make(chan struct{})
	go r.capture(ctx, out)
	slog.Debug("portaudio capture started", "device", r.device, "sample_rate", r.sampleRate, "frame_length", len(r.buf))
	return out, nil
}

func (r *Recorder) capture(ctx context.Context, out chan<- audio.Chunk) {
	defer close(r.done)
	defer close(out)

	var instants int64
	for ctx.Err() == nil {
		if err := r.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				slog.Debug("portaudio input overflowed, dropping buffer")
				continue
			}
			r.setErr(fmt.Errorf("portaudio: read: %w", err))
			return
		}

		data := audio.Int16sToBytes(r.buf)
		if r.rec != nil {
			if _, err := r.rec.Write(data); err != nil {
				r.setErr(fmt.Errorf("portaudio: record: %w", err))
				return
			}
		}

		chunk := audio.Chunk{
			Data:       data,
			SampleRate: r.sampleRate,
			Channels:   1,
			Timestamp:  time.Duration(instants) * time.Second / time.Duration(r.sampleRate),
		}
		instants += int64(len(r.buf))

		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Recorder) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// Err returns the error that stopped capture, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close stops the stream and releases PortAudio. It waits for the capture
// goroutine when one was started, so cancel its context first.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.done != nil {
			<-r.done
			err = r.stream.Stop()
		}
		err = errors.Join(err, r.stream.Close(), pa.Terminate())
	})
	return err
}
