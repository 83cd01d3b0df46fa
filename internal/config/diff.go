package config

import (
	"cmp"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EngineChanged is true when the backend, library, model or bundle
	// changed. New sessions then need a fresh backend.
	EngineChanged bool

	KeywordsChanged bool          // true if any keyword was added, removed, modified or reordered
	KeywordChanges  []KeywordDiff // per-keyword diffs, keyed by display name

	// RestartRequired lists settings that only take effect after a restart
	// (listen address, TLS, journal).
	RestartRequired []string
}

// KeywordDiff describes what changed for a single keyword between two
// configs.
type KeywordDiff struct {
	Label              string
	SourceChanged      bool
	SensitivityChanged bool
	Added              bool
	Removed            bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	d.EngineChanged = old.Engine != new.Engine

	oldKW := make(map[string]*KeywordConfig, len(old.Keywords))
	for i := range old.Keywords {
		oldKW[old.Keywords[i].DisplayName()] = &old.Keywords[i]
	}
	newKW := make(map[string]*KeywordConfig, len(new.Keywords))
	for i := range new.Keywords {
		newKW[new.Keywords[i].DisplayName()] = &new.Keywords[i]
	}

	for label, o := range oldKW {
		n, exists := newKW[label]
		if !exists {
			d.KeywordChanges = append(d.KeywordChanges, KeywordDiff{Label: label, Removed: true})
			continue
		}
		kd := diffKeyword(label, o, n)
		if kd.SourceChanged || kd.SensitivityChanged {
			d.KeywordChanges = append(d.KeywordChanges, kd)
		}
	}
	for label := range newKW {
		if _, exists := oldKW[label]; !exists {
			d.KeywordChanges = append(d.KeywordChanges, KeywordDiff{Label: label, Added: true})
		}
	}
	slices.SortFunc(d.KeywordChanges, func(a, b KeywordDiff) int {
		return cmp.Compare(a.Label, b.Label)
	})

	// Order matters to detection indices even when the set is unchanged.
	d.KeywordsChanged = len(d.KeywordChanges) > 0 || !slices.EqualFunc(old.Keywords, new.Keywords, func(a, b KeywordConfig) bool {
		return a.DisplayName() == b.DisplayName()
	})

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.MaxSessions != new.Server.MaxSessions {
		d.RestartRequired = append(d.RestartRequired, "server.max_sessions")
	}
	if !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}

	return d
}

// diffKeyword compares two keyword configs with the same label.
func diffKeyword(label string, old, new *KeywordConfig) KeywordDiff {
	kd := KeywordDiff{Label: label}
	if old.Name != new.Name || old.Path != new.Path {
		kd.SourceChanged = true
	}
	if !floatPtrEqual(old.Sensitivity, new.Sensitivity) {
		kd.SensitivityChanged = true
	}
	return kd
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
