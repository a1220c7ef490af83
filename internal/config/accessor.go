package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// tree renders cfg as nested maps keyed by JSON field names.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "server.port").
// Sections return the whole sub-tree.
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	var current any = m
	for _, key := range strings.Split(path, ".") {
		section, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: %q is not a section", path, key)
		}
		if current, ok = section[key]; !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
	}
	return current, nil
}

// SetByPath assigns a leaf value by dot-notation path. The string form is
// converted to the type of the value it replaces; list fields take a
// comma-separated string. Unknown keys are rejected.
func SetByPath(cfg *Config, path string, value string) error {
	m, err := tree(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	section := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := section[key].(map[string]any)
		if !ok {
			return fmt.Errorf("unknown section %q in %s", key, path)
		}
		section = child
	}

	leaf := parts[len(parts)-1]
	current, known := section[leaf]
	if !known && !optionalLeaf(path) {
		return fmt.Errorf("unknown key: %s", path)
	}
	if _, isSection := current.(map[string]any); isSection {
		return fmt.Errorf("%s is a section, set one of its keys", path)
	}

	converted, err := convertLike(current, value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	section[leaf] = converted

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// optionalLeaf reports keys tagged omitempty, absent from the tree while unset.
func optionalLeaf(path string) bool {
	switch path {
	case "server.apiKey", "server.corsOrigins", "dispatch.redisAddr", "dispatch.redisPassword", "log.addSource":
		return true
	}
	return false
}

func convertLike(current any, s string) (any, error) {
	switch current.(type) {
	case bool:
		return strconv.ParseBool(s)
	case float64:
		return strconv.ParseFloat(s, 64)
	case []any:
		return splitList(s), nil
	case string:
		return s, nil
	}
	// Absent optional key: infer from the text.
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	if strings.Contains(s, ",") {
		return splitList(s), nil
	}
	return s, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	if out.Server.APIKey != "" {
		out.Server.APIKey = maskString(out.Server.APIKey)
	}
	if out.Dispatch.RedisPassword != "" {
		out.Dispatch.RedisPassword = "***"
	}
	return &out
}

// maskString keeps the first and last 4 characters of long secrets.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// Leaf is one settable path and its current value.
type Leaf struct {
	Path  string
	Value any
}

// ListPaths returns every leaf of cfg sorted by path.
func ListPaths(cfg *Config) []Leaf {
	m, err := tree(cfg)
	if err != nil {
		return nil
	}
	var leaves []Leaf
	walk("", m, &leaves)
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Path < leaves[j].Path })
	return leaves
}

func walk(prefix string, m map[string]any, out *[]Leaf) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			walk(path, sub, out)
			continue
		}
		*out = append(*out, Leaf{Path: path, Value: v})
	}
}
