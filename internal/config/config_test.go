package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/hotword/internal/config"
	"github.com/MrWong99/hotword/pkg/provider/detector"
	"github.com/MrWong99/hotword/pkg/provider/detector/mock"
)

const fullYAML = `
log_level: debug
engine:
  backend: native
  library_path: /opt/hotword/libpv_porcupine.so
  resource_path: /opt/hotword/bundle.zip
keywords:
  - name: porcupine
  - name: hey google
    label: Google
    sensitivity: 0.7
  - path: /srv/keywords/hello_linux.ppn
server:
  listen_addr: "127.0.0.1:9000"
  max_sessions: 2
  tls:
    cert_file: /etc/tls/cert.pem
    key_file: /etc/tls/key.pem
journal:
  path: /var/lib/hotword/detections.jsonl
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.LogLevel, config.LogDebug)
	}
	if cfg.Engine.LibraryPath != "/opt/hotword/libpv_porcupine.so" {
		t.Errorf("engine.library_path: got %q", cfg.Engine.LibraryPath)
	}
	if len(cfg.Keywords) != 3 {
		t.Fatalf("keywords: got %d, want 3", len(cfg.Keywords))
	}
	if cfg.Keywords[0].Sensitivity != nil {
		t.Errorf("keywords[0].sensitivity: got %v, want nil", *cfg.Keywords[0].Sensitivity)
	}
	if s := cfg.Keywords[1].Sensitivity; s == nil || *s != 0.7 {
		t.Errorf("keywords[1].sensitivity: got %v, want 0.7", s)
	}
	wantLabels := []string{"porcupine", "Google", "/srv/keywords/hello_linux.ppn"}
	for i, want := range wantLabels {
		if got := cfg.Keywords[i].DisplayName(); got != want {
			t.Errorf("keywords[%d].DisplayName() = %q, want %q", i, got, want)
		}
	}
	if cfg.Server.MaxSessions != 2 {
		t.Errorf("server.max_sessions: got %d, want 2", cfg.Server.MaxSessions)
	}
	if cfg.Server.TLS == nil || cfg.Server.TLS.KeyFile != "/etc/tls/key.pem" {
		t.Errorf("server.tls: got %+v", cfg.Server.TLS)
	}
	if cfg.Journal.Path != "/var/lib/hotword/detections.jsonl" {
		t.Errorf("journal.path: got %q", cfg.Journal.Path)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{"", "engine:\n  library_path: /lib.so\n"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", doc, err)
		}
		if cfg.LogLevel != config.LogInfo {
			t.Errorf("log_level: got %q, want info", cfg.LogLevel)
		}
		if cfg.Engine.Backend != config.DefaultBackend {
			t.Errorf("engine.backend: got %q, want %q", cfg.Engine.Backend, config.DefaultBackend)
		}
		if cfg.Server.ListenAddr != config.DefaultListenAddr {
			t.Errorf("server.listen_addr: got %q", cfg.Server.ListenAddr)
		}
		if cfg.Server.MaxSessions != config.DefaultMaxSessions {
			t.Errorf("server.max_sessions: got %d", cfg.Server.MaxSessions)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("engine:\n  libary_path: typo\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{
			name:    "invalid log level",
			yaml:    "log_level: loud\n",
			wantSub: "log_level",
		},
		{
			name:    "keyword without name or path",
			yaml:    "engine:\n  resource_path: /b\nkeywords:\n  - label: x\n",
			wantSub: "one of name or path",
		},
		{
			name:    "keyword with name and path",
			yaml:    "engine:\n  resource_path: /b\nkeywords:\n  - name: alexa\n    path: /a.ppn\n",
			wantSub: "mutually exclusive",
		},
		{
			name:    "sensitivity out of range",
			yaml:    "keywords:\n  - path: /a.ppn\n    sensitivity: 1.5\n",
			wantSub: "out of range",
		},
		{
			name:    "duplicate labels",
			yaml:    "engine:\n  resource_path: /b\nkeywords:\n  - name: alexa\n  - name: alexa\n",
			wantSub: "duplicate",
		},
		{
			name:    "built-in without bundle",
			yaml:    "keywords:\n  - name: alexa\n",
			wantSub: "requires engine.resource_path",
		},
		{
			name:    "negative max sessions",
			yaml:    "server:\n  max_sessions: -1\n",
			wantSub: "max_sessions",
		},
		{
			name:    "incomplete tls",
			yaml:    "server:\n  tls:\n    cert_file: /c.pem\n",
			wantSub: "key_file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error should mention %q, got: %v", tt.wantSub, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("log_level: loud\nserver:\n  max_sessions: -3\n"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") || !strings.Contains(err.Error(), "max_sessions") {
		t.Errorf("expected both failures reported, got: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hotword.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	_, err := reg.CreateBackend(config.EngineConfig{Backend: "mock"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Fatalf("expected ErrBackendNotRegistered, got %v", err)
	}

	var got config.EngineConfig
	reg.RegisterBackend("mock", func(e config.EngineConfig) (detector.Backend, error) {
		got = e
		return &mock.Backend{}, nil
	})
	b, err := reg.CreateBackend(config.EngineConfig{Backend: "mock", LibraryPath: "/lib.so"})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	if b == nil {
		t.Fatal("CreateBackend returned nil backend")
	}
	if got.LibraryPath != "/lib.so" {
		t.Errorf("factory received %+v", got)
	}
	if names := reg.Backends(); len(names) != 1 || names[0] != "mock" {
		t.Errorf("Backends() = %v", names)
	}
}
