package native_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/hotword/pkg/provider/detector"
	"github.com/MrWong99/hotword/pkg/provider/detector/native"
)

// testLibrary returns the engine library path for integration tests, read
// from HOTWORD_LIBRARY_PATH. The test is skipped when unset.
func testLibrary(t *testing.T) (lib, model, keyword string) {
	t.Helper()
	lib = os.Getenv("HOTWORD_LIBRARY_PATH")
	model = os.Getenv("HOTWORD_MODEL_PATH")
	keyword = os.Getenv("HOTWORD_KEYWORD_PATH")
	if lib == "" || model == "" || keyword == "" {
		t.Skip("HOTWORD_LIBRARY_PATH, HOTWORD_MODEL_PATH or HOTWORD_KEYWORD_PATH not set; skipping native engine test")
	}
	return lib, model, keyword
}

func TestNew_EmptyPath_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := native.New(""); err == nil {
		t.Fatal("expected error for empty library path, got nil")
	}
}

func TestNew_MissingFile_ReturnsError(t *testing.T) {
	t.Parallel()
	_, err := native.New(filepath.Join(t.TempDir(), "libpv_porcupine.so"))
	if err == nil {
		t.Fatal("expected error for missing library, got nil")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist in chain, got %v", err)
	}
}

func TestNew_NotALibrary_ReturnsError(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "libpv_porcupine.so")
	if err := os.WriteFile(p, []byte("not a shared object"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := native.New(p); err == nil {
		t.Fatal("expected error for garbage library file, got nil")
	}
}

func TestBackend_ProcessSilence(t *testing.T) {
	lib, model, keyword := testLibrary(t)

	b, err := native.New(lib)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()
	if b.FrameLength() <= 0 || b.SampleRate() <= 0 {
		t.Fatalf("FrameLength=%d SampleRate=%d, want positive", b.FrameLength(), b.SampleRate())
	}

	h, err := b.Create(model, []string{keyword}, []float32{0.5})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer b.Delete(h)

	silence := make([]int16, b.FrameLength())
	for range 10 {
		idx, err := b.Process(h, silence)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if idx != detector.NoDetection {
			t.Errorf("Process(silence) = %d, want %d", idx, detector.NoDetection)
		}
	}

	if _, err := b.Process(h, silence[:1]); err == nil {
		t.Error("expected error for short frame")
	}
}

func TestBackend_CreateBadModel(t *testing.T) {
	lib, _, keyword := testLibrary(t)

	b, err := native.New(lib)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	_, err = b.Create(filepath.Join(t.TempDir(), "missing.pv"), []string{keyword}, []float32{0.5})
	if err == nil {
		t.Fatal("expected error for missing model")
	}
	if _, ok := detector.StatusOf(err); !ok {
		t.Errorf("expected *detector.StatusError, got %T", err)
	}
}
