package wakeword

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/MrWong99/hotword/pkg/resource"
)

// DefaultSensitivity is applied to every keyword when no sensitivities are
// configured.
const DefaultSensitivity float32 = 0.5

// EngineConfig describes one engine instance. It is built once at startup
// and passed to [NewSession]; nothing in this package keeps global engine
// state.
type EngineConfig struct {
	// ModelPath is the engine's model parameter file.
	ModelPath string

	// KeywordPaths lists one keyword model file per keyword. Detection
	// indices refer to positions in this slice.
	KeywordPaths []string

	// Labels are display names, parallel to KeywordPaths. Empty entries (or
	// a nil slice) fall back to the keyword file's name prefix.
	Labels []string

	// Sensitivities holds one value in [0, 1] per keyword. A nil slice means
	// [DefaultSensitivity] for every keyword.
	Sensitivities []float32
}

// Validate checks cfg without touching the engine. Every violation is
// reported as an *[InitError].
func (c EngineConfig) Validate() error {
	var errs []error

	if c.ModelPath == "" {
		errs = append(errs, &InitError{Reason: "model path must not be empty"})
	} else if _, err := os.Stat(c.ModelPath); err != nil {
		errs = append(errs, &InitError{Reason: fmt.Sprintf("model file %q not found", c.ModelPath), Err: err})
	}

	if len(c.KeywordPaths) == 0 {
		errs = append(errs, &InitError{Reason: "at least one keyword is required"})
	}
	for i, p := range c.KeywordPaths {
		if p == "" {
			errs = append(errs, &InitError{Reason: fmt.Sprintf("keyword path [%d] is empty", i)})
			continue
		}
		if _, err := os.Stat(p); err != nil {
			errs = append(errs, &InitError{Reason: fmt.Sprintf("keyword file %q not found", p), Err: err})
		}
	}

	if c.Sensitivities != nil && len(c.Sensitivities) != len(c.KeywordPaths) {
		errs = append(errs, &InitError{Reason: fmt.Sprintf(
			"keyword count (%d) does not match sensitivity count (%d)",
			len(c.KeywordPaths), len(c.Sensitivities))})
	}
	for i, s := range c.Sensitivities {
		if s < 0 || s > 1 || math.IsNaN(float64(s)) {
			errs = append(errs, &InitError{Reason: fmt.Sprintf("sensitivity [%d] = %g is outside [0, 1]", i, s)})
		}
	}

	if c.Labels != nil && len(c.Labels) != len(c.KeywordPaths) {
		errs = append(errs, &InitError{Reason: fmt.Sprintf(
			"keyword count (%d) does not match label count (%d)",
			len(c.KeywordPaths), len(c.Labels))})
	}

	return errors.Join(errs...)
}

// resolvedSensitivities returns the configured sensitivities or the default
// for every keyword.
func (c EngineConfig) resolvedSensitivities() []float32 {
	if c.Sensitivities != nil {
		return c.Sensitivities
	}
	out := make([]float32, len(c.KeywordPaths))
	for i := range out {
		out[i] = DefaultSensitivity
	}
	return out
}

// resolvedLabels returns one display label per keyword.
func (c EngineConfig) resolvedLabels() []string {
	out := make([]string, len(c.KeywordPaths))
	for i, p := range c.KeywordPaths {
		if i < len(c.Labels) && c.Labels[i] != "" {
			out[i] = c.Labels[i]
			continue
		}
		out[i] = resource.KeywordName(strings.ReplaceAll(p, `\`, "/"))
	}
	return out
}

// KeywordExtractor resolves built-in keyword names to files. *resource.Bundle
// implements it.
type KeywordExtractor interface {
	ExtractKeyword(name string) (string, error)
}

// BuiltinKeywords resolves built-in keyword names through src and returns
// their file paths and labels, in order. An unknown name yields an
// *[InitError] wrapping the extractor's error (which may carry a suggestion).
func BuiltinKeywords(src KeywordExtractor, names []string) (paths, labels []string, err error) {
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		p, err := src.ExtractKeyword(n)
		if err != nil {
			return nil, nil, &InitError{Reason: fmt.Sprintf("built-in keyword %q", n), Err: err}
		}
		paths = append(paths, p)
		labels = append(labels, strings.ToLower(n))
	}
	return paths, labels, nil
}
