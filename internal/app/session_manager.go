package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hotword/internal/observe"
	"github.com/MrWong99/hotword/internal/server"
	"github.com/MrWong99/hotword/pkg/provider/detector"
	"github.com/MrWong99/hotword/pkg/wakeword"
)

// SessionInfo holds metadata about an active session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// Source is where the audio comes from: "file", "mic" or "stream".
	Source string

	// StartedAt is when the session was opened.
	StartedAt time.Time

	// Keywords are the labels the session listens for, in index order.
	Keywords []string
}

// SessionManager creates engine sessions from the current engine config and
// tracks the ones still open. The engine config can be swapped at runtime;
// open sessions keep the config they were created with.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	backend detector.Backend
	metrics *observe.Metrics

	mu     sync.Mutex
	engine wakeword.EngineConfig
	active map[string]SessionInfo
	seq    uint64
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Backend detector.Backend
	Engine  wakeword.EngineConfig
	Metrics *observe.Metrics
}

// Compile-time interface check.
var _ server.SessionOpener = (*SessionManager)(nil)

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &SessionManager{
		backend: cfg.Backend,
		metrics: m,
		engine:  cfg.Engine,
		active:  make(map[string]SessionInfo),
	}
}

// Open creates a session for audio from source. The returned session must
// be closed.
func (sm *SessionManager) Open(ctx context.Context, source string) (*Session, error) {
	sm.mu.Lock()
	cfg := sm.engine
	sm.seq++
	seq := sm.seq
	sm.mu.Unlock()

	engine, err := wakeword.NewSession(sm.backend, cfg)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	info := SessionInfo{
		SessionID: fmt.Sprintf("%s-%s-%d", source, now.Format("20060102T150405Z"), seq),
		Source:    source,
		StartedAt: now,
		Keywords:  engine.Labels(),
	}

	ctx, span := observe.StartSession(ctx, info.SessionID, source)

	s := &Session{
		Processor: observe.WrapProcessor(ctx, engine, sm.metrics, source),
		engine:    engine,
		info:      info,
		sm:        sm,
		span:      span,
	}

	sm.mu.Lock()
	sm.active[info.SessionID] = info
	sm.mu.Unlock()
	sm.metrics.ActiveSessions.Add(ctx, 1)

	observe.Logger(ctx).Info("session opened",
		"source", source,
		"keywords", info.Keywords,
	)
	return s, nil
}

// OpenSession implements [server.SessionOpener].
func (sm *SessionManager) OpenSession(ctx context.Context, source string) (server.Detector, error) {
	s, err := sm.Open(ctx, source)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Info implements [server.SessionOpener].
func (sm *SessionManager) Info() server.EngineInfo {
	cfg := sm.Engine()
	labels := make([]string, len(cfg.KeywordPaths))
	for i, p := range cfg.KeywordPaths {
		if i < len(cfg.Labels) && cfg.Labels[i] != "" {
			labels[i] = cfg.Labels[i]
		} else {
			labels[i] = keywordLabel(p)
		}
	}
	return server.EngineInfo{
		Version:     sm.backend.Version(),
		SampleRate:  sm.backend.SampleRate(),
		FrameLength: sm.backend.FrameLength(),
		Keywords:    labels,
	}
}

// Engine returns the engine config new sessions are created with.
func (sm *SessionManager) Engine() wakeword.EngineConfig {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.engine
}

// SetEngine validates cfg and uses it for sessions opened from now on.
func (sm *SessionManager) SetEngine(cfg wakeword.EngineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sm.mu.Lock()
	sm.engine = cfg
	sm.mu.Unlock()
	slog.Info("engine config updated", "keywords", len(cfg.KeywordPaths))
	return nil
}

// Active returns the open sessions, oldest first.
func (sm *SessionManager) Active() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]SessionInfo, 0, len(sm.active))
	for _, info := range sm.active {
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	return out
}

func (sm *SessionManager) release(ctx context.Context, id string) {
	sm.mu.Lock()
	delete(sm.active, id)
	sm.mu.Unlock()
	sm.metrics.ActiveSessions.Add(ctx, -1)
}

// Session is one open engine instance with its metrics and trace span. It
// satisfies [wakeword.Processor] and [server.Detector].
type Session struct {
	*observe.Processor

	engine *wakeword.Session
	info   SessionInfo
	sm     *SessionManager
	span   trace.Span

	closeOnce sync.Once
	closeErr  error
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.info.SessionID }

// Labels returns the keyword labels in index order.
func (s *Session) Labels() []string { return s.engine.Labels() }

// Sensitivities returns the per-keyword sensitivities in index order.
func (s *Session) Sensitivities() []float32 { return s.engine.Sensitivities() }

// Info returns the session metadata.
func (s *Session) Info() SessionInfo { return s.info }

// Close releases the engine instance. Calls after the first return the
// first call's result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		err := s.engine.Close()
		if errors.Is(err, wakeword.ErrAlreadyReleased) {
			err = nil
		}
		s.closeErr = err
		s.sm.release(context.Background(), s.info.SessionID)
		s.span.End()
		slog.Info("session closed", "session_id", s.info.SessionID)
	})
	return s.closeErr
}
