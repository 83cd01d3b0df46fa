package journal_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/hotword/internal/journal"
	"github.com/MrWong99/hotword/internal/resilience"
	"github.com/MrWong99/hotword/pkg/wakeword"
)

func entry(session string, i int) journal.Entry {
	return journal.Entry{
		SessionID: session,
		Source:    "file",
		Index:     i,
		Keyword:   "porcupine",
		Offset:    time.Duration(i) * 32 * time.Millisecond,
		Time:      time.Date(2026, 1, 2, 3, 4, i, 0, time.UTC),
	}
}

func TestFromDetection(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.FixedZone("CEST", 2*3600))
	d := wakeword.Detection{Index: 2, Keyword: "jarvis", Timestamp: 1500 * time.Millisecond}

	got := journal.FromDetection("s1", "mic", d, now)
	want := journal.Entry{
		SessionID: "s1",
		Source:    "mic",
		Index:     2,
		Keyword:   "jarvis",
		Offset:    1500 * time.Millisecond,
		Time:      now.UTC(),
	}
	if got != want {
		t.Errorf("FromDetection = %+v, want %+v", got, want)
	}
}

func TestFileStore_RecordAndRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := journal.NewFileStore(filepath.Join(t.TempDir(), "detections.jsonl"))
	t.Cleanup(func() { _ = s.Close() })

	for i := range 5 {
		if err := s.Record(ctx, entry("a", i)); err != nil {
			t.Fatalf("Record(%d): %v", i, err)
		}
	}

	tests := []struct {
		name      string
		limit     int
		wantFirst int
		wantLen   int
	}{
		{"all", 0, 4, 5},
		{"limited", 2, 4, 2},
		{"limit above count", 10, 4, 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.Recent(ctx, tc.limit)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != tc.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tc.wantLen)
			}
			if got[0].Index != tc.wantFirst {
				t.Errorf("newest index = %d, want %d", got[0].Index, tc.wantFirst)
			}
			if got[0] != entry("a", tc.wantFirst) {
				t.Errorf("round trip = %+v, want %+v", got[0], entry("a", tc.wantFirst))
			}
		})
	}
}

func TestFileStore_RecentMissingFile(t *testing.T) {
	t.Parallel()
	s := journal.NewFileStore(filepath.Join(t.TempDir(), "none.jsonl"))

	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Recent = %v, want empty non-nil slice", got)
	}
}

func TestFileStore_SkipsMalformedLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "detections.jsonl")
	s := journal.NewFileStore(path)
	ctx := context.Background()

	if err := s.Record(ctx, entry("a", 0)); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("{not json\n\n")
	_ = f.Close()
	if err := s.Record(ctx, entry("a", 1)); err != nil {
		t.Fatal(err)
	}

	got, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestFileStore_ConcurrentRecord(t *testing.T) {
	t.Parallel()
	s := journal.NewFileStore(filepath.Join(t.TempDir(), "detections.jsonl"))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Record(ctx, entry("c", i)); err != nil {
				t.Errorf("Record: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 20 {
		t.Errorf("len = %d, want 20", len(got))
	}
}

func TestFileStore_Ping(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if err := journal.NewFileStore(filepath.Join(dir, "j.jsonl")).Ping(context.Background()); err != nil {
		t.Errorf("Ping existing dir: %v", err)
	}
	if err := journal.NewFileStore(filepath.Join(dir, "missing", "j.jsonl")).Ping(context.Background()); err == nil {
		t.Error("Ping missing dir: expected error")
	}
}

// testDSN returns the test database DSN from the environment, or skips the
// test if HOTWORD_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("HOTWORD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HOTWORD_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func TestPostgresStore(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS detections CASCADE"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	s, err := journal.NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	// Migrate is idempotent.
	if err := journal.Migrate(ctx, pool); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	for i := range 3 {
		if err := s.Record(ctx, entry("pg", i)); err != nil {
			t.Fatalf("Record(%d): %v", i, err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Index != 2 || got[1].Index != 1 {
		t.Errorf("order = [%d %d], want [2 1]", got[0].Index, got[1].Index)
	}
	if got[0].Offset != 64*time.Millisecond {
		t.Errorf("offset = %v, want 64ms", got[0].Offset)
	}
	if !got[0].Time.Equal(entry("pg", 2).Time) {
		t.Errorf("time = %v, want %v", got[0].Time, entry("pg", 2).Time)
	}
}

// ─── FailoverStore ────────────────────────────────────────────────────────────

// brokenStore fails every call.
type brokenStore struct {
	mu     sync.Mutex
	calls  int
	closed bool
}

var errDown = errors.New("store down")

func (s *brokenStore) Record(context.Context, journal.Entry) error { return s.fail() }
func (s *brokenStore) Recent(context.Context, int) ([]journal.Entry, error) {
	return nil, s.fail()
}
func (s *brokenStore) Ping(context.Context) error { return s.fail() }
func (s *brokenStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *brokenStore) fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return errDown
}

func TestFailoverStore_FallsBackToFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	primary := &brokenStore{}
	file := journal.NewFileStore(filepath.Join(t.TempDir(), "journal.jsonl"))
	s := journal.NewFailoverStore(
		journal.NamedStore{Name: "postgres", Store: primary},
		journal.NamedStore{Name: "file", Store: file},
	)

	for i := range 5 {
		if err := s.Record(ctx, entry("s", i)); err != nil {
			t.Fatalf("Record(%d) error: %v", i, err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(got) != 2 || got[0].Index != 4 || got[1].Index != 3 {
		t.Errorf("Recent(2) = %+v, want entries 4 and 3", got)
	}

	if st := s.States()["postgres"]; st != resilience.StateOpen {
		t.Errorf("primary breaker = %v, want open", st)
	}
	// Three failures open the breaker; later calls skip the primary.
	if primary.calls != 3 {
		t.Errorf("primary calls = %d, want 3", primary.calls)
	}

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() = %v, want nil while the file store works", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if !primary.closed {
		t.Error("primary was not closed")
	}
}

func TestFailoverStore_AllDown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := journal.NewFailoverStore(
		journal.NamedStore{Name: "a", Store: &brokenStore{}},
		journal.NamedStore{Name: "b", Store: &brokenStore{}},
	)
	if err := s.Record(ctx, entry("s", 0)); !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("Record() = %v, want ErrAllFailed", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, errDown) {
		t.Errorf("Ping() = %v, want errDown", err)
	}
}
