package config

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ApplyOverrides sets section.key=value entries on top of the current
// values. Keys are case-insensitive and accept '-' for '_'.
func (c *Config) ApplyOverrides(entries []string) error {
	if len(entries) == 0 {
		return nil
	}
	tree := map[string]any{}
	for _, entry := range entries {
		key, value, err := parseOverride(entry)
		if err != nil {
			return err
		}
		if err := setPath(tree, strings.Split(key, "."), value); err != nil {
			return fmt.Errorf("config override %q: %w", entry, err)
		}
	}

	var encoded bytes.Buffer
	if err := toml.NewEncoder(&encoded).Encode(tree); err != nil {
		return fmt.Errorf("encode config overrides: %w", err)
	}
	meta, err := toml.Decode(encoded.String(), c)
	if err != nil {
		return fmt.Errorf("apply config overrides: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config override: unknown key %q", undecoded[0].String())
	}
	c.markKeys(meta, SourceOverride)
	return nil
}

func parseOverride(entry string) (string, any, error) {
	trimmed := strings.TrimSpace(entry)
	if trimmed == "" {
		return "", nil, fmt.Errorf("config override cannot be empty")
	}
	rawKey, rawValue, ok := strings.Cut(trimmed, "=")
	if !ok {
		return "", nil, fmt.Errorf("config override must be key=value: %q", entry)
	}
	key := normalizeKey(rawKey)
	if key == "" {
		return "", nil, fmt.Errorf("config override key cannot be empty")
	}
	if !strings.Contains(key, ".") {
		return "", nil, fmt.Errorf("config override key must be section.key: %q", rawKey)
	}
	return key, parseOverrideValue(strings.TrimSpace(rawValue)), nil
}

func parseOverrideValue(value string) any {
	if strings.EqualFold(value, "true") {
		return true
	}
	if strings.EqualFold(value, "false") {
		return false
	}
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
		return parsed
	}
	if parsed, err := strconv.ParseFloat(value, 64); err == nil {
		return parsed
	}
	return value
}

func setPath(tree map[string]any, path []string, value any) error {
	node := tree
	for _, part := range path[:len(path)-1] {
		child, exists := node[part]
		if !exists {
			next := map[string]any{}
			node[part] = next
			node = next
			continue
		}
		next, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is not a table", part)
		}
		node = next
	}
	node[path[len(path)-1]] = value
	return nil
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	parts := strings.Split(key, ".")
	for i, part := range parts {
		parts[i] = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(part)), "-", "_")
	}
	return strings.Join(parts, ".")
}
