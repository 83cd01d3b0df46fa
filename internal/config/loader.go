package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists the backend names shipped with hotword.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = []string{"native"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields of cfg with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.Engine.Backend == "" {
		cfg.Engine.Backend = DefaultBackend
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.MaxSessions == 0 {
		cfg.Server.MaxSessions = DefaultMaxSessions
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	validateBackendName(cfg.Engine.Backend)

	if cfg.Engine.ResourcePath == "" {
		if cfg.Engine.LibraryPath == "" {
			slog.Warn("engine.library_path and engine.resource_path are both empty; the engine library must be given on the command line")
		}
		for i, kw := range cfg.Keywords {
			if kw.Name != "" {
				errs = append(errs, fmt.Errorf("keywords[%d]: built-in keyword %q requires engine.resource_path", i, kw.Name))
			}
		}
	}

	labelsSeen := make(map[string]int, len(cfg.Keywords))
	for i, kw := range cfg.Keywords {
		prefix := fmt.Sprintf("keywords[%d]", i)
		switch {
		case kw.Name == "" && kw.Path == "":
			errs = append(errs, fmt.Errorf("%s: one of name or path is required", prefix))
		case kw.Name != "" && kw.Path != "":
			errs = append(errs, fmt.Errorf("%s: name and path are mutually exclusive", prefix))
		}
		if kw.Sensitivity != nil && (*kw.Sensitivity < 0 || *kw.Sensitivity > 1) {
			errs = append(errs, fmt.Errorf("%s.sensitivity %.2f is out of range [0, 1]", prefix, *kw.Sensitivity))
		}
		if label := kw.DisplayName(); label != "" {
			if prev, ok := labelsSeen[label]; ok {
				errs = append(errs, fmt.Errorf("%s: label %q is a duplicate of keywords[%d]", prefix, label, prev))
			}
			labelsSeen[label] = i
		}
	}

	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions %d must not be negative", cfg.Server.MaxSessions))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not one of
// [ValidBackendNames].
func validateBackendName(name string) {
	if name == "" || slices.Contains(ValidBackendNames, name) {
		return
	}
	slog.Warn("unknown engine backend; it must be registered before use",
		"name", name,
		"known", ValidBackendNames,
	)
}
