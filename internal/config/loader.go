package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey names the files merged underneath a config document. Values
// from the including file win over included ones.
const includeKey = "$include"

// Environment variables consulted when the matching setting is empty.
const (
	envAPIKey  = "OPENAI_API_KEY"
	envBaseURL = "OPENAI_BASE_URL"
)

// LoadRaw reads path and every file it includes into one merged map.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	l := &rawLoader{}
	return l.load(path)
}

// rawLoader resolves $include chains depth first. stack holds the files
// currently being loaded and is used for cycle detection and error context.
type rawLoader struct {
	stack []string
}

func (l *rawLoader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, open := range l.stack {
		if open == abs {
			return nil, fmt.Errorf("config include cycle detected: %s -> %s", strings.Join(l.stack, " -> "), abs)
		}
	}
	l.stack = append(l.stack, abs)
	defer func() { l.stack = l.stack[:len(l.stack)-1] }()

	doc, err := readDocument(abs)
	if err != nil {
		return nil, err
	}
	includes, err := takeIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	merged := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		base, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, base)
	}
	return mergeMaps(merged, doc), nil
}

// readDocument parses one file. ".json" and ".json5" files are read as
// JSON5, everything else as a single YAML document. Paths in the storage
// and llm sections are made relative to the file that names them.
func readDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = []byte(expandEnv(string(data)))

	var doc map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: expected a single YAML document", path)
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	anchorPath(doc, filepath.Dir(path), "storage", "path")
	anchorPath(doc, filepath.Dir(path), "llm", "tape_path")
	return doc, nil
}

// anchorPath rewrites a relative file setting to be relative to dir.
func anchorPath(doc map[string]any, dir, section, key string) {
	sec, ok := doc[section].(map[string]any)
	if !ok {
		return
	}
	p, ok := sec[key].(string)
	if !ok || p == "" || filepath.IsAbs(p) {
		return
	}
	sec[key] = filepath.Join(dir, p)
}

// expandEnv replaces ${VAR} and $VAR from the environment. ${VAR:-fallback}
// uses fallback when VAR is unset or empty. The $include key is kept.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		if key == strings.TrimPrefix(includeKey, "$") {
			return includeKey
		}
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" || !hasFallback {
			return value
		}
		return fallback
	})
}

// takeIncludes removes the include directive from doc and returns its paths.
func takeIncludes(doc map[string]any) ([]string, error) {
	val, ok := doc[includeKey]
	if !ok {
		return nil, nil
	}
	delete(doc, includeKey)

	switch v := val.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []any:
		paths := make([]string, 0, len(v))
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings", includeKey)
			}
			if strings.TrimSpace(s) != "" {
				paths = append(paths, s)
			}
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("%s must be a string or a list of strings", includeKey)
	}
}

// mergeMaps merges src into dst. Nested sections merge key by key; any
// other value in src replaces the one in dst.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		sub, isMap := value.(map[string]any)
		existing, hasMap := dst[key].(map[string]any)
		if isMap && hasMap {
			dst[key] = mergeMaps(existing, sub)
			continue
		}
		dst[key] = value
	}
	return dst
}

// decodeRawConfig decodes the merged map into Config, rejecting unknown
// fields so typos in any section are reported.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// applyEnv fills the model credentials from the environment when the
// config leaves them empty.
func applyEnv(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv(envAPIKey)
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = os.Getenv(envBaseURL)
	}
}
