package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/hotword/internal/journal"
	"github.com/MrWong99/hotword/internal/observe"
	"github.com/MrWong99/hotword/pkg/audio"
	"github.com/MrWong99/hotword/pkg/wakeword"
)

// readLimit caps a single websocket message.
const readLimit = 1 << 20

// chunkBuffer is the number of decoded chunks queued between the websocket
// reader and the frame consumer.
const chunkBuffer = 16

// Messages sent to the client, distinguished by Type.
type (
	readyMessage struct {
		Type        string   `json:"type"` // "ready"
		SessionID   string   `json:"session_id"`
		SampleRate  int      `json:"sample_rate"`
		FrameLength int      `json:"frame_length"`
		Keywords    []string `json:"keywords"`
	}

	detectionMessage struct {
		Type    string `json:"type"` // "detection"
		Index   int    `json:"index"`
		Keyword string `json:"keyword"`
		// Timestamp is seconds of audio consumed when the keyword ended.
		Timestamp float64 `json:"timestamp"`
	}

	errorMessage struct {
		Type    string `json:"type"` // "error"
		Message string `json:"message"`
	}

	endMessage struct {
		Type string `json:"type"` // "end"
	}
)

// controlMessage is a text message from the client. The only command is
// {"type":"stop"}, which ends the audio and lets pending detections flush.
type controlMessage struct {
	Type string `json:"type"`
}

// handleListen upgrades to a websocket and runs one detection session over
// the binary audio messages the client sends.
func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	info := s.opener.Info()
	params, err := parseParams(r.URL.Query(), info.SampleRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.sem.TryAcquire(1) {
		s.metrics.RecordRejectedSession(r.Context())
		writeError(w, http.StatusServiceUnavailable, "too many active streams")
		return
	}
	defer s.sem.Release(1)

	dec, err := newDecoder(params, info.SampleRate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	det, err := s.opener.OpenSession(r.Context(), "stream")
	if err != nil {
		observe.Logger(r.Context()).Error("open detection session", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer func() {
		if err := det.Close(); err != nil {
			slog.Warn("close detection session", "session_id", det.ID(), "err", err)
		}
	}()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := observe.Logger(ctx).With("session_id", det.ID(), "encoding", params.Encoding,
		"sample_rate", params.SampleRate, "channels", params.Channels)
	log.Info("stream started")

	if err := wsjson.Write(ctx, conn, readyMessage{
		Type:        "ready",
		SessionID:   det.ID(),
		SampleRate:  det.SampleRate(),
		FrameLength: det.FrameLength(),
		Keywords:    det.Labels(),
	}); err != nil {
		log.Warn("write ready message", "err", err)
		return
	}

	chunks := make(chan audio.Chunk, chunkBuffer)
	readErr := make(chan error, 1)
	go func() { readErr <- readAudio(ctx, conn, dec, chunks) }()

	count := 0
	for d, err := range wakeword.Listen(ctx, det, chunks) {
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error("stream detection failed", "err", err)
			_ = wsjson.Write(ctx, conn, errorMessage{Type: "error", Message: err.Error()})
			conn.Close(websocket.StatusInternalError, "detection failed")
			return
		}
		count++
		log.Info("keyword detected", "keyword", d.Keyword, "offset", d.Timestamp)
		s.record(ctx, det.ID(), d)
		if err := wsjson.Write(ctx, conn, detectionMessage{
			Type:      "detection",
			Index:     d.Index,
			Keyword:   d.Keyword,
			Timestamp: d.Seconds(),
		}); err != nil {
			log.Warn("write detection", "err", err)
			return
		}
	}

	err = <-readErr
	var de *decodeError
	switch {
	case errors.As(err, &de):
		log.Warn("stream rejected", "err", err)
		_ = wsjson.Write(ctx, conn, errorMessage{Type: "error", Message: err.Error()})
		conn.Close(websocket.StatusUnsupportedData, "undecodable audio")
	case err != nil:
		log.Info("stream ended", "detections", count, "reason", err)
	default:
		log.Info("stream ended", "detections", count)
		if werr := wsjson.Write(ctx, conn, endMessage{Type: "end"}); werr == nil {
			conn.Close(websocket.StatusNormalClosure, "")
		}
	}
}

// record writes d to the journal, if any. Failures are logged and do not
// interrupt the stream.
func (s *Server) record(ctx context.Context, sessionID string, d wakeword.Detection) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, journal.FromDetection(sessionID, "stream", d, time.Now())); err != nil {
		slog.Warn("journal record failed", "session_id", sessionID, "err", err)
	}
}

// readAudio pumps binary messages from conn through dec into out until the
// client stops, disconnects or sends undecodable audio. It closes out on
// return. A client "stop" or normal closure returns nil.
func readAudio(ctx context.Context, conn *websocket.Conn, dec *decoder, out chan<- audio.Chunk) error {
	defer close(out)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return err
		}

		if typ == websocket.MessageText {
			var ctl controlMessage
			if err := json.Unmarshal(data, &ctl); err == nil && ctl.Type == "stop" {
				return nil
			}
			slog.Debug("ignoring unknown control message", "data", string(data))
			continue
		}

		chunk, err := dec.decode(data)
		if err != nil {
			return err
		}
		if len(chunk.Data) == 0 {
			continue
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
