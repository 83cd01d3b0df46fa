package resource

import (
	"fmt"
	"io/fs"
	"path"
	"runtime"
	"slices"
	"strings"
)

// ModelFile is the bundle path of the default model parameters.
const ModelFile = "lib/common/porcupine_params.pv"

// keywordDir is the bundle directory holding per-OS keyword files.
const keywordDir = "resources/keyword_files"

// OSName maps a GOOS value to the bundle's platform directory name. It
// returns "" for unsupported systems.
func OSName(goos string) string {
	switch goos {
	case "darwin":
		return "mac"
	case "linux":
		return "linux"
	case "windows":
		return "windows"
	default:
		return ""
	}
}

// LibraryFile returns the bundle path of the engine library for goos.
func LibraryFile(goos string) (string, error) {
	switch goos {
	case "darwin":
		return "lib/mac/x86_64/libpv_porcupine.dylib", nil
	case "linux":
		return "lib/linux/x86_64/libpv_porcupine.so", nil
	case "windows":
		return "lib/windows/amd64/libpv_porcupine.dll", nil
	default:
		return "", fmt.Errorf("resource: %s is not a supported OS", goos)
	}
}

// KeywordName returns the built-in keyword name encoded in a keyword file
// name: the part before the first underscore, e.g. "hey google" for
// "hey google_linux.ppn".
func KeywordName(file string) string {
	base := path.Base(file)
	if i := strings.IndexByte(base, '_'); i >= 0 {
		return base[:i]
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// Keywords lists the built-in keywords shipped for goos, mapping each name
// to its bundle path.
func Keywords(fsys fs.FS, goos string) (map[string]string, error) {
	osName := OSName(goos)
	if osName == "" {
		return nil, fmt.Errorf("resource: %s is not a supported OS", goos)
	}
	dir := path.Join(keywordDir, osName)
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("resource: list keywords: %w", err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".ppn" {
			continue
		}
		out[KeywordName(e.Name())] = path.Join(dir, e.Name())
	}
	return out, nil
}

// KeywordNames returns the sorted names of the built-in keywords for the
// running OS.
func (b *Bundle) KeywordNames() ([]string, error) {
	kw, err := Keywords(b.fsys, runtime.GOOS)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(kw))
	for n := range kw {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

// UnknownKeywordError reports a built-in keyword name that the bundle does
// not ship.
type UnknownKeywordError struct {
	Name       string
	Available  []string
	Suggestion string
}

func (e *UnknownKeywordError) Error() string {
	msg := fmt.Sprintf("resource: %q is not a built-in keyword (available: %s)", e.Name, strings.Join(e.Available, ", "))
	if e.Suggestion != "" {
		msg += fmt.Sprintf("; did you mean %q?", e.Suggestion)
	}
	return msg
}

// ExtractKeyword extracts the built-in keyword file for name on the running
// OS. Names are matched case-insensitively.
func (b *Bundle) ExtractKeyword(name string) (string, error) {
	kw, err := Keywords(b.fsys, runtime.GOOS)
	if err != nil {
		return "", err
	}
	want := strings.ToLower(strings.TrimSpace(name))
	if p, ok := kw[want]; ok {
		return b.Extract(p)
	}

	available := make([]string, 0, len(kw))
	for n := range kw {
		available = append(available, n)
	}
	slices.Sort(available)
	suggestion, _ := Suggest(want, available)
	return "", &UnknownKeywordError{Name: name, Available: available, Suggestion: suggestion}
}

// ExtractModel extracts the default model parameters file.
func (b *Bundle) ExtractModel() (string, error) {
	return b.Extract(ModelFile)
}

// ExtractLibrary extracts the engine library for the running OS.
func (b *Bundle) ExtractLibrary() (string, error) {
	name, err := LibraryFile(runtime.GOOS)
	if err != nil {
		return "", err
	}
	return b.Extract(name)
}
