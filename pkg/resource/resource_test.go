package resource_test

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/MrWong99/hotword/pkg/resource"
)

func testFS(osName string) fstest.MapFS {
	dir := "resources/keyword_files/" + osName + "/"
	return fstest.MapFS{
		resource.ModelFile:                      {Data: []byte("model-params")},
		"lib/linux/x86_64/libpv_porcupine.so":   {Data: []byte("elf")},
		"lib/mac/x86_64/libpv_porcupine.dylib":  {Data: []byte("macho")},
		"lib/windows/amd64/libpv_porcupine.dll": {Data: []byte("pe")},
		dir + "porcupine_" + osName + ".ppn":    {Data: []byte("kw-porcupine")},
		dir + "hey google_" + osName + ".ppn":   {Data: []byte("kw-hey-google")},
		dir + "computer_" + osName + ".ppn":     {Data: []byte("kw-computer")},
		dir + "README.md":                       {Data: []byte("ignored")},
	}
}

func hostOS(t *testing.T) string {
	t.Helper()
	name := resource.OSName(runtime.GOOS)
	if name == "" {
		t.Skipf("%s has no bundle layout", runtime.GOOS)
	}
	return name
}

func TestKeywordName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		file string
		want string
	}{
		{"porcupine_linux.ppn", "porcupine"},
		{"hey google_mac.ppn", "hey google"},
		{"resources/keyword_files/windows/ok google_windows.ppn", "ok google"},
		{"custom.ppn", "custom"},
	}
	for _, tt := range tests {
		if got := resource.KeywordName(tt.file); got != tt.want {
			t.Errorf("KeywordName(%q) = %q, want %q", tt.file, got, tt.want)
		}
	}
}

func TestOSNameAndLibraryFile(t *testing.T) {
	t.Parallel()
	tests := []struct {
		goos    string
		osName  string
		lib     string
		wantErr bool
	}{
		{"linux", "linux", "lib/linux/x86_64/libpv_porcupine.so", false},
		{"darwin", "mac", "lib/mac/x86_64/libpv_porcupine.dylib", false},
		{"windows", "windows", "lib/windows/amd64/libpv_porcupine.dll", false},
		{"plan9", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			t.Parallel()
			if got := resource.OSName(tt.goos); got != tt.osName {
				t.Errorf("OSName = %q, want %q", got, tt.osName)
			}
			lib, err := resource.LibraryFile(tt.goos)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LibraryFile err = %v, wantErr %v", err, tt.wantErr)
			}
			if lib != tt.lib {
				t.Errorf("LibraryFile = %q, want %q", lib, tt.lib)
			}
		})
	}
}

func TestKeywords(t *testing.T) {
	t.Parallel()
	kw, err := resource.Keywords(testFS("linux"), "linux")
	if err != nil {
		t.Fatalf("Keywords: %v", err)
	}
	want := map[string]string{
		"porcupine":  "resources/keyword_files/linux/porcupine_linux.ppn",
		"hey google": "resources/keyword_files/linux/hey google_linux.ppn",
		"computer":   "resources/keyword_files/linux/computer_linux.ppn",
	}
	if len(kw) != len(want) {
		t.Fatalf("got %d keywords, want %d: %v", len(kw), len(want), kw)
	}
	for k, v := range want {
		if kw[k] != v {
			t.Errorf("kw[%q] = %q, want %q", k, kw[k], v)
		}
	}
}

func TestKeywords_MissingDir(t *testing.T) {
	t.Parallel()
	if _, err := resource.Keywords(testFS("linux"), "windows"); err == nil {
		t.Fatal("expected error for missing keyword directory")
	}
}

func TestBundle_Extract(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	b := resource.New(testFS("linux"), dir)

	p, err := b.Extract(resource.ModelFile)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if want := filepath.Join(dir, "lib", "common", "porcupine_params.pv"); p != want {
		t.Errorf("path = %q, want %q", p, want)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "model-params" {
		t.Errorf("content = %q", data)
	}

	// Identical content is not rewritten.
	info1, _ := os.Stat(p)
	p2, err := b.Extract("/" + resource.ModelFile)
	if err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	info2, _ := os.Stat(p2)
	if p2 != p || !info1.ModTime().Equal(info2.ModTime()) {
		t.Error("second extraction rewrote the file")
	}
}

func TestBundle_Extract_ReplacesStaleFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	stale := filepath.Join(dir, "lib", "common", "porcupine_params.pv")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := resource.New(testFS("linux"), dir)
	if _, err := b.Extract(resource.ModelFile); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	data, _ := os.ReadFile(stale)
	if string(data) != "model-params" {
		t.Errorf("content = %q, want refreshed", data)
	}
}

func TestBundle_Extract_Errors(t *testing.T) {
	t.Parallel()
	b := resource.New(testFS("linux"), t.TempDir())
	for _, name := range []string{"", "../escape", "missing/file.pv"} {
		if _, err := b.Extract(name); err == nil {
			t.Errorf("Extract(%q): expected error", name)
		}
	}
}

func TestBundle_Extract_Concurrent(t *testing.T) {
	t.Parallel()
	b := resource.New(testFS("linux"), t.TempDir())

	var wg sync.WaitGroup
	paths := make([]string, 16)
	errs := make([]error, 16)
	for i := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			paths[i], errs[i] = b.Extract("lib/linux/x86_64/libpv_porcupine.so")
		}()
	}
	wg.Wait()
	for i := range paths {
		if errs[i] != nil {
			t.Fatalf("Extract[%d]: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Errorf("paths differ: %q vs %q", paths[i], paths[0])
		}
	}
}

func TestBundle_ExtractKeyword(t *testing.T) {
	t.Parallel()
	osName := hostOS(t)
	b := resource.New(testFS(osName), t.TempDir())

	p, err := b.ExtractKeyword("Hey Google")
	if err != nil {
		t.Fatalf("ExtractKeyword: %v", err)
	}
	data, _ := os.ReadFile(p)
	if string(data) != "kw-hey-google" {
		t.Errorf("content = %q", data)
	}

	names, err := b.KeywordNames()
	if err != nil {
		t.Fatalf("KeywordNames: %v", err)
	}
	if want := []string{"computer", "hey google", "porcupine"}; !slices.Equal(names, want) {
		t.Errorf("KeywordNames = %v, want %v", names, want)
	}
}

func TestBundle_ExtractKeyword_Unknown(t *testing.T) {
	t.Parallel()
	osName := hostOS(t)
	b := resource.New(testFS(osName), t.TempDir())

	_, err := b.ExtractKeyword("porcupin")
	var uk *resource.UnknownKeywordError
	if !errors.As(err, &uk) {
		t.Fatalf("expected *UnknownKeywordError, got %v", err)
	}
	if uk.Suggestion != "porcupine" {
		t.Errorf("Suggestion = %q, want %q", uk.Suggestion, "porcupine")
	}
	if len(uk.Available) != 3 {
		t.Errorf("Available = %v", uk.Available)
	}
}

func TestOpen_Directory(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	model := filepath.Join(src, filepath.FromSlash(resource.ModelFile))
	if err := os.MkdirAll(filepath.Dir(model), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(model, []byte("params"), 0o644); err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	b, err := resource.Open(src, resource.WithExtractionRoot(root))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if filepath.Dir(b.Dir()) != root {
		t.Errorf("Dir = %q, want child of %q", b.Dir(), root)
	}
	p, err := b.ExtractModel()
	if err != nil {
		t.Fatalf("ExtractModel: %v", err)
	}
	data, _ := os.ReadFile(p)
	if string(data) != "params" {
		t.Errorf("content = %q", data)
	}
}

func TestOpen_RejectsPlainFile(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "bundle.tar")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := resource.Open(p); err == nil {
		t.Fatal("expected error for non-zip file")
	}
	if _, err := resource.Open(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing bundle")
	}
}

func TestSuggest(t *testing.T) {
	t.Parallel()
	names := []string{"alexa", "computer", "hey google", "jarvis", "porcupine", "terminator"}
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"porcupin", "porcupine", true},
		{"jarvs", "jarvis", true},
		{"Computr", "computer", true},
		{"zzz", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := resource.Suggest(tt.in, names)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Suggest(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
