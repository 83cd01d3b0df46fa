// Package resource locates and extracts the engine's resource bundle.
//
// A bundle is a directory or a .zip archive laid out as
//
//	lib/common/porcupine_params.pv
//	lib/<os>/<arch>/libpv_porcupine.{so,dylib,dll}
//	resources/keyword_files/<os>/<name>_<os>.ppn
//
// Files are extracted on demand into a per-bundle directory under the system
// temp dir and reused afterwards. A [Bundle] is safe for concurrent use.
package resource

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"
)

// Provider materialises bundle files on the local filesystem.
type Provider interface {
	// Extract returns an absolute filesystem path holding the bundle file
	// name (slash-separated, relative to the bundle root).
	Extract(name string) (string, error)
}

// Compile-time interface check.
var _ Provider = (*Bundle)(nil)

// Option configures a [Bundle].
type Option func(*Bundle)

// WithExtractionRoot overrides the parent directory for extracted files.
// Default: <os.TempDir()>/hotword.
func WithExtractionRoot(dir string) Option {
	return func(b *Bundle) { b.root = dir }
}

// Bundle is a [Provider] over an fs.FS.
type Bundle struct {
	fsys   fs.FS
	root   string
	dir    string
	closer io.Closer

	group singleflight.Group
}

// Open opens the bundle at path, which is either a directory or a .zip
// archive. Extracted files land in <root>/<digest>/ where digest identifies
// the bundle, so two different bundles never share extracted files.
func Open(bundlePath string, opts ...Option) (*Bundle, error) {
	abs, err := filepath.Abs(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("resource: resolve %q: %w", bundlePath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}

	b := &Bundle{root: filepath.Join(os.TempDir(), "hotword")}
	for _, o := range opts {
		o(b)
	}

	var digest string
	if info.IsDir() {
		b.fsys = os.DirFS(abs)
		digest = shortDigest([]byte(abs))
	} else {
		if !strings.EqualFold(filepath.Ext(abs), ".zip") {
			return nil, fmt.Errorf("resource: %q is neither a directory nor a .zip archive", bundlePath)
		}
		digest, err = fileDigest(abs)
		if err != nil {
			return nil, err
		}
		zr, err := zip.OpenReader(abs)
		if err != nil {
			return nil, fmt.Errorf("resource: open archive %q: %w", bundlePath, err)
		}
		b.fsys = zr
		b.closer = zr
	}
	b.dir = filepath.Join(b.root, digest)

	slog.Debug("resource bundle opened", "path", abs, "extraction_dir", b.dir)
	return b, nil
}

// New returns a Bundle over fsys that extracts into dir. It is mainly useful
// for embedded bundles and tests.
func New(fsys fs.FS, dir string) *Bundle {
	return &Bundle{fsys: fsys, root: dir, dir: dir}
}

// FS returns the underlying bundle filesystem.
func (b *Bundle) FS() fs.FS { return b.fsys }

// Dir returns the extraction directory.
func (b *Bundle) Dir() string { return b.dir }

// Extract copies name out of the bundle and returns its path. Concurrent
// calls for the same name share one extraction. A destination file that
// already has identical content is left untouched.
func (b *Bundle) Extract(name string) (string, error) {
	name = path.Clean(strings.TrimPrefix(name, "/"))
	if !fs.ValidPath(name) || name == "." {
		return "", fmt.Errorf("resource: invalid bundle path %q", name)
	}
	v, err, _ := b.group.Do(name, func() (any, error) {
		return b.extract(name)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *Bundle) extract(name string) (string, error) {
	data, err := fs.ReadFile(b.fsys, name)
	if err != nil {
		return "", fmt.Errorf("resource: read %q: %w", name, err)
	}
	dst := filepath.Join(b.dir, filepath.FromSlash(name))

	if existing, err := os.ReadFile(dst); err == nil && bytes.Equal(existing, data) {
		return dst, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("resource: create %q: %w", filepath.Dir(dst), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".extract-*")
	if err != nil {
		return "", fmt.Errorf("resource: extract %q: %w", name, err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("resource: extract %q: %w", name, err)
	}
	// Shared libraries must be loadable.
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("resource: extract %q: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("resource: extract %q: %w", name, err)
	}
	slog.Debug("resource extracted", "name", name, "path", dst, "bytes", len(data))
	return dst, nil
}

// Close releases the archive reader, if any. Extracted files are kept.
func (b *Bundle) Close() error {
	if b.closer == nil {
		return nil
	}
	err := b.closer.Close()
	b.closer = nil
	return err
}

func fileDigest(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("resource: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("resource: hash %q: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

func shortDigest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
