package loader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultEnvPrefix is the prefix of environment variables read by NewEnvLoader.
const DefaultEnvPrefix = "HOOKWIRE_"

// ListKind says how a list-valued variable is split.
type ListKind int

const (
	// ListNone means the value is not a list.
	ListNone ListKind = iota
	// ListPaths splits on the OS path list separator.
	ListPaths
	// ListComma splits on commas.
	ListComma
)

// EnvMapping binds an environment variable to a config path.
type EnvMapping struct {
	Path string
	List ListKind
}

// EnvLoader loads configuration from environment variables.
type EnvLoader struct {
	prefix  string
	mapping map[string]EnvMapping
	skip    map[string]bool
	lookup  func() []string
}

// NewEnvLoader creates a new environment variable loader.
// The prefix should include the trailing underscore (e.g., "HOOKWIRE_").
func NewEnvLoader(prefix string) *EnvLoader {
	return NewEnvLoaderWithMapping(prefix, defaultEnvMapping(prefix))
}

// NewEnvLoaderWithMapping creates a loader with custom environment variable mappings.
func NewEnvLoaderWithMapping(prefix string, mapping map[string]EnvMapping) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: mapping,
		skip:    map[string]bool{prefix + "CONFIG": true},
		lookup:  os.Environ,
	}
}

// defaultEnvMapping covers variables that do not follow the
// PREFIX_SECTION_NAME convention or need list splitting.
func defaultEnvMapping(prefix string) map[string]EnvMapping {
	return map[string]EnvMapping{
		prefix + "PLUGIN_PATHS":   {Path: "plugins.paths", List: ListPaths},
		prefix + "PLUGINS_PATHS":  {Path: "plugins.paths", List: ListPaths},
		prefix + "PLUGINS_ACTIVE": {Path: "plugins.active", List: ListComma},
		prefix + "LUA_TIMEOUT":    {Path: "lua.executionTimeout"},
		prefix + "STATIC_TIMEOUT": {Path: "hooks.staticTimeout"},
	}
}

// Load reads environment variables and returns a configuration map.
// Empty values are treated as set.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)

	for _, env := range l.lookup() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) || l.skip[name] {
			continue
		}

		if m, mapped := l.mapping[name]; mapped {
			setByPath(config, m.Path, l.mappedValue(m, value))
			continue
		}

		// HOOKWIRE_PLUGINS_AUTO_ACTIVATE becomes plugins.autoActivate
		setByPath(config, l.envToPath(name), parseValue(value))
	}

	return config, nil
}

// AddMapping adds a custom environment variable mapping.
func (l *EnvLoader) AddMapping(envVar string, m EnvMapping) {
	if l.mapping == nil {
		l.mapping = make(map[string]EnvMapping)
	}
	l.mapping[envVar] = m
}

// Skip excludes envVar from loading.
func (l *EnvLoader) Skip(envVar string) {
	l.skip[envVar] = true
}

func (l *EnvLoader) mappedValue(m EnvMapping, value string) any {
	switch m.List {
	case ListPaths:
		return toAnySlice(filepath.SplitList(value))
	case ListComma:
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		return toAnySlice(items)
	default:
		return parseValue(value)
	}
}

// envToPath converts PREFIX_SECTION_SOME_NAME to section.someName.
func (l *EnvLoader) envToPath(env string) string {
	name := strings.TrimPrefix(env, l.prefix)
	parts := strings.Split(name, "_")

	section := strings.ToLower(parts[0])
	if len(parts) == 1 {
		return section
	}

	setting := strings.ToLower(parts[1])
	for _, part := range parts[2:] {
		if part != "" {
			setting += strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
		}
	}
	return section + "." + setting
}

// parseValue converts an environment string into a typed value.
// Durations are kept as strings; the decoder parses them.
func parseValue(s string) any {
	if s == "" {
		return s
	}

	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}

	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}

	if _, err := time.ParseDuration(s); err == nil {
		return s
	}

	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}

	return s
}

func toAnySlice(items []string) []any {
	out := make([]any, 0, len(items))
	for _, s := range items {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data

	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}

	current[parts[len(parts)-1]] = value
}

// GetByPath returns the value at a dot-separated path.
func GetByPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	current := data
	for i, part := range parts {
		v, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		if current, ok = v.(map[string]any); !ok {
			return nil, false
		}
	}
	return nil, false
}
