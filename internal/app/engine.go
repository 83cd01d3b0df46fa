package app

import (
	"fmt"
	"path/filepath"

	"github.com/MrWong99/hotword/internal/config"
	"github.com/MrWong99/hotword/pkg/resource"
	"github.com/MrWong99/hotword/pkg/wakeword"
)

// EngineConfig resolves the keywords and model of cfg into an engine config.
// Built-in keyword names and a missing model path are extracted from bundle,
// which may be nil when neither is needed.
func EngineConfig(cfg *config.Config, bundle *resource.Bundle) (wakeword.EngineConfig, error) {
	out := wakeword.EngineConfig{
		ModelPath:     cfg.Engine.ModelPath,
		KeywordPaths:  make([]string, 0, len(cfg.Keywords)),
		Labels:        make([]string, 0, len(cfg.Keywords)),
		Sensitivities: make([]float32, 0, len(cfg.Keywords)),
	}

	if out.ModelPath == "" {
		if bundle == nil {
			return wakeword.EngineConfig{}, &wakeword.InitError{Reason: "engine.model_path or engine.resource_path is required"}
		}
		p, err := bundle.ExtractModel()
		if err != nil {
			return wakeword.EngineConfig{}, &wakeword.InitError{Reason: "extract model", Err: err}
		}
		out.ModelPath = p
	}

	for i, kw := range cfg.Keywords {
		path, label := kw.Path, kw.Label
		if kw.Name != "" {
			if bundle == nil {
				return wakeword.EngineConfig{}, &wakeword.InitError{
					Reason: fmt.Sprintf("keywords[%d]: built-in keyword %q needs a resource bundle", i, kw.Name),
				}
			}
			paths, labels, err := wakeword.BuiltinKeywords(bundle, []string{kw.Name})
			if err != nil {
				return wakeword.EngineConfig{}, err
			}
			path = paths[0]
			if label == "" {
				label = labels[0]
			}
		}

		sens := wakeword.DefaultSensitivity
		if kw.Sensitivity != nil {
			sens = float32(*kw.Sensitivity)
		}

		out.KeywordPaths = append(out.KeywordPaths, path)
		out.Labels = append(out.Labels, label)
		out.Sensitivities = append(out.Sensitivities, sens)
	}
	return out, nil
}

// keywordLabel is the fallback label of a keyword file: its name up to the
// first underscore.
func keywordLabel(path string) string {
	return resource.KeywordName(filepath.ToSlash(path))
}
