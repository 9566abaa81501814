package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Config files may pull in other files with a top-level "$include" (or
// bare "include") key: a path or list of paths, resolved relative to the
// including file. Included values load first; the including file wins on
// conflict, merged map-by-map.
const includeKey = "$include"

// Load reads the config file at path, resolves includes, decodes it over
// the defaults, and validates schema version and contents.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeOverDefaults(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRaw reads path into a merged raw map with includes resolved and
// environment variables expanded, for callers that want the pre-decode
// view.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return resolveFile(path, nil)
}

// resolveFile loads one file and, recursively, everything it includes.
// stack holds the chain of absolute paths currently being resolved, for
// cycle detection.
func resolveFile(path string, stack []string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, ancestor := range stack {
		if ancestor == abs {
			return nil, fmt.Errorf("config include cycle: %s includes itself via %s", abs, strings.Join(stack, " -> "))
		}
	}
	stack = append(stack, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	// Every $VAR / ${VAR} expands from the environment except the include
	// directive's own key, which must survive expansion to be found below.
	expanded := os.Expand(string(data), func(key string) string {
		if "$"+key == includeKey {
			return includeKey
		}
		return os.Getenv(key)
	})
	raw, err := decodeRaw([]byte(expanded), filepath.Ext(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	includes, err := takeIncludes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	merged := map[string]any{}
	for _, inc := range includes {
		if strings.TrimSpace(inc) == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		sub, err := resolveFile(inc, stack)
		if err != nil {
			return nil, err
		}
		merged = deepMerge(merged, sub)
	}
	return deepMerge(merged, raw), nil
}

// decodeRaw parses one file's bytes by extension: .json/.json5 via the
// JSON5 decoder, everything else as a single YAML document.
func decodeRaw(data []byte, ext string) (map[string]any, error) {
	raw := map[string]any{}
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&raw); err != nil && err != io.EOF {
			return nil, err
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			return nil, fmt.Errorf("expected a single document")
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// takeIncludes removes and returns the include directive, if present.
func takeIncludes(raw map[string]any) ([]string, error) {
	var value any
	for _, key := range []string{includeKey, "include"} {
		if v, ok := raw[key]; ok {
			value = v
			delete(raw, key)
			break
		}
	}
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{typed}, nil
	case []string:
		return typed, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			p, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings")
			}
			paths = append(paths, p)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("include must be a string or list of strings")
	}
}

// deepMerge overlays src onto dst, descending into maps so an include can
// set one field of a section without clobbering the rest.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				dst[key] = deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// decodeOverDefaults strictly decodes the merged raw map on top of
// Default(), so unset fields keep their defaults and unknown keys fail
// loudly.
func decodeOverDefaults(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	cfg := *Default()
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
