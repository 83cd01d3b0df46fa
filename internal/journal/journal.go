// Package journal records keyword detections so they can be inspected after
// the fact. Two stores are provided: [FileStore] appends JSON lines to a
// local file and [PostgresStore] writes to a detections table.
package journal

import (
	"context"
	"time"

	"github.com/MrWong99/hotword/pkg/wakeword"
)

// Store persists detections. Implementations are safe for concurrent use.
type Store interface {
	// Record appends one entry.
	Record(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first. A limit <= 0
	// returns everything.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Ping reports whether the store can currently accept writes.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// Entry is one recorded detection.
type Entry struct {
	// SessionID groups the detections of one file, microphone run or stream.
	SessionID string `json:"session_id"`

	// Source is where the audio came from: "file", "mic" or "stream".
	Source string `json:"source"`

	Index   int    `json:"index"`
	Keyword string `json:"keyword"`

	// Offset is the position in the audio at which the keyword ended.
	Offset time.Duration `json:"offset"`

	// Time is the wall-clock time of the detection.
	Time time.Time `json:"time"`
}

// FromDetection builds an entry for d observed at now.
func FromDetection(sessionID, source string, d wakeword.Detection, now time.Time) Entry {
	return Entry{
		SessionID: sessionID,
		Source:    source,
		Index:     d.Index,
		Keyword:   d.Keyword,
		Offset:    d.Timestamp,
		Time:      now.UTC(),
	}
}
