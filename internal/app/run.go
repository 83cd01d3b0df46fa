package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hotword/internal/config"
	"github.com/MrWong99/hotword/internal/journal"
	"github.com/MrWong99/hotword/internal/server"
	"github.com/MrWong99/hotword/pkg/audio"
	"github.com/MrWong99/hotword/pkg/capture/portaudio"
	"github.com/MrWong99/hotword/pkg/wakeword"
	"github.com/MrWong99/hotword/pkg/wav"
)

// ─── File ────────────────────────────────────────────────────────────────────

// RunFile runs the WAV file at path through a fresh session and prints one
// line per detection to w. It returns the number of detections.
func (a *App) RunFile(ctx context.Context, path string, w io.Writer) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("app: open audio: %w", err)
	}
	defer f.Close()

	sess, err := a.sessions.Open(ctx, "file")
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	stream, err := sess.engine.Open(f)
	if err != nil {
		return 0, err
	}

	count := 0
	for d, err := range stream.Feed(sess) {
		if err != nil {
			return count, err
		}
		count++
		fmt.Fprintf(w, "Detected '%s' at %.2f sec\n", d.Keyword, d.Seconds())
		a.record(ctx, sess.ID(), "file", d)
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
	}
	slog.Debug("file processed", "path", path, "detections", count)
	return count, nil
}

// ─── Microphone ──────────────────────────────────────────────────────────────

// ChunkSource is a live audio source. *portaudio.Recorder implements it.
type ChunkSource interface {
	Start(ctx context.Context) (<-chan audio.Chunk, error)
	Err() error
	Close() error
}

// MicOptions configures [App.RunMic].
type MicOptions struct {
	// Device is the capture device index. Default: the host's default
	// input device.
	Device int

	// OutputPath, when set, receives the captured audio as a mono WAV file.
	OutputPath string

	// Out receives the banner and one line per detection. Default: stdout.
	Out io.Writer

	// OpenSource replaces the PortAudio recorder. Used by tests.
	OpenSource func(sampleRate, frameLength int, rec *wav.Writer) (ChunkSource, error)

	// Now returns the wall clock time printed with each detection.
	// Default: time.Now.
	Now func() time.Time
}

// RunMic listens on a microphone until ctx is cancelled, printing a line per
// detection. Cancellation is a normal stop and returns nil.
func (a *App) RunMic(ctx context.Context, opts MicOptions) (err error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OpenSource == nil {
		device := opts.Device
		opts.OpenSource = func(rate, frameLength int, rec *wav.Writer) (ChunkSource, error) {
			popts := []portaudio.Option{portaudio.WithDevice(device)}
			if rec != nil {
				popts = append(popts, portaudio.WithRecording(rec))
			}
			r, err := portaudio.Open(rate, frameLength, popts...)
			if err != nil {
				return nil, err
			}
			slog.Info("capturing audio", "device", r.Device())
			return r, nil
		}
	}

	sess, err := a.sessions.Open(ctx, "mic")
	if err != nil {
		return err
	}
	defer sess.Close()

	var rec *wav.Writer
	if opts.OutputPath != "" {
		f, err := os.Create(opts.OutputPath)
		if err != nil {
			return fmt.Errorf("app: create recording: %w", err)
		}
		rec, err = wav.NewWriter(f, sess.SampleRate(), 1)
		if err != nil {
			f.Close()
			return err
		}
		defer func() {
			err = errors.Join(err, rec.Close(), f.Close())
		}()
	}

	src, err := opts.OpenSource(sess.SampleRate(), sess.FrameLength(), rec)
	if err != nil {
		return err
	}

	captureCtx, stop := context.WithCancel(ctx)
	defer stop()
	chunks, err := src.Start(captureCtx)
	if err != nil {
		return errors.Join(err, src.Close())
	}

	// Devices that cannot run at the engine rate are resampled here; chunks
	// already in the engine format pass through untouched.
	chunks = audio.ConvertStream(chunks, audio.Format{SampleRate: sess.SampleRate(), Channels: 1})

	fmt.Fprintln(opts.Out, banner(sess.Labels(), sess.Sensitivities()))

	var listenErr error
	for d, err := range wakeword.Listen(captureCtx, sess, chunks) {
		if err != nil {
			if ctx.Err() == nil {
				listenErr = err
			}
			break
		}
		fmt.Fprintf(opts.Out, "[%s] Detected '%s'\n", opts.Now().Format("15:04:05"), d.Keyword)
		a.record(ctx, sess.ID(), "mic", d)
	}

	stop()
	closeErr := src.Close()
	if listenErr != nil {
		return listenErr
	}
	if err := src.Err(); err != nil {
		return err
	}
	return closeErr
}

// banner formats the keyword list printed before listening, e.g.
// "Listening for { porcupine(0.50), bumblebee(0.65) }".
func banner(labels []string, sensitivities []float32) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = fmt.Sprintf("%s(%.2f)", l, sensitivities[i])
	}
	return "Listening for { " + strings.Join(parts, ", ") + " }"
}

// ─── Server ──────────────────────────────────────────────────────────────────

// Serve runs the streaming detection server until ctx is cancelled. When
// watcher is non-nil it runs alongside the server; its changes must be
// routed to [App.ApplyConfig] through [config.WithOnChange].
func (a *App) Serve(ctx context.Context, watcher *config.Watcher) error {
	srv := a.Server()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var cert, key string
		if tls := a.cfg.Server.TLS; tls != nil {
			cert, key = tls.CertFile, tls.KeyFile
		}
		return srv.ListenAndServe(ctx, a.cfg.Server.ListenAddr, cert, key)
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(ctx) })
	}
	return g.Wait()
}

// Server builds the HTTP server over this app's sessions, journal and
// health checks.
func (a *App) Server() *server.Server {
	return server.New(a.sessions,
		server.WithJournal(a.journal),
		server.WithMetrics(a.metrics),
		server.WithHealth(a.health),
		server.WithMaxSessions(a.cfg.Server.MaxSessions),
	)
}

// record writes d to the journal, if one is configured.
func (a *App) record(ctx context.Context, sessionID, source string, d wakeword.Detection) {
	if a.journal == nil {
		return
	}
	if err := a.journal.Record(ctx, journal.FromDetection(sessionID, source, d, time.Now())); err != nil {
		slog.Warn("journal record failed", "session_id", sessionID, "err", err)
	}
}
