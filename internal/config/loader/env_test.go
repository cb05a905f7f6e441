package loader

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLoader(vars ...string) *EnvLoader {
	l := NewEnvLoader("HOOKWIRE_")
	l.lookup = func() []string { return vars }
	return l
}

func TestEnvLoader_Load(t *testing.T) {
	l := envLoader(
		"HOOKWIRE_LOG_LEVEL=debug",
		"HOOKWIRE_PLUGINS_AUTO_ACTIVATE=no",
		"HOOKWIRE_LUA_QUEUE_SIZE=1",
		"HOOKWIRE_HOOKS_STATIC_TIMEOUT=750ms",
		"HOOKWIRE_PLUGINS_ACTIVE=hookwire-plugin-a, hookwire-plugin-b,,",
		"HOOKWIRE_PLUGIN_PATHS="+strings.Join([]string{"/a", "/b"}, string(filepath.ListSeparator)),
		"HOOKWIRE_CONFIG=/etc/hookwire.toml",
		"OTHER_LOG_LEVEL=warn",
	)

	config, err := l.Load()
	require.NoError(t, err)

	tests := []struct {
		path string
		want any
	}{
		{"log.level", "debug"},
		{"plugins.autoActivate", false},
		{"lua.queueSize", int64(1)},
		{"hooks.staticTimeout", "750ms"},
		{"plugins.active", []any{"hookwire-plugin-a", "hookwire-plugin-b"}},
		{"plugins.paths", []any{"/a", "/b"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			v, ok := GetByPath(config, tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.want, v)
		})
	}

	_, ok := config["config"]
	assert.False(t, ok, "HOOKWIRE_CONFIG names the file, it is not a setting")
}

func TestEnvLoader_RealEnvironment(t *testing.T) {
	t.Setenv("HOOKWIRE_LOG_FORMAT", "json")

	config, err := NewEnvLoader(DefaultEnvPrefix).Load()
	require.NoError(t, err)
	v, ok := GetByPath(config, "log.format")
	assert.True(t, ok)
	assert.Equal(t, "json", v)
}

func TestEnvLoader_CustomMapping(t *testing.T) {
	l := envLoader("HOOKWIRE_X=5s", "HOOKWIRE_SECRET=1")
	l.AddMapping("HOOKWIRE_X", EnvMapping{Path: "lua.executionTimeout"})
	l.Skip("HOOKWIRE_SECRET")

	config, err := l.Load()
	require.NoError(t, err)
	v, _ := GetByPath(config, "lua.executionTimeout")
	assert.Equal(t, "5s", v)
	_, ok := config["secret"]
	assert.False(t, ok)
}

func TestEnvLoader_EnvToPath(t *testing.T) {
	l := NewEnvLoader("HOOKWIRE_")
	tests := []struct {
		env  string
		want string
	}{
		{"HOOKWIRE_LOG_LEVEL", "log.level"},
		{"HOOKWIRE_PLUGINS_WATCH_DEBOUNCE", "plugins.watchDebounce"},
		{"HOOKWIRE_LUA_EXECUTION_TIMEOUT", "lua.executionTimeout"},
		{"HOOKWIRE_VERBOSE", "verbose"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.envToPath(tt.env), tt.env)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"", ""},
		{"true", true},
		{"Yes", true},
		{"off", false},
		{"1", int64(1)},
		{"0", int64(0)},
		{"-3", int64(-3)},
		{"1.5", 1.5},
		{"5s", "5s"},
		{`["a","b"]`, []any{"a", "b"}},
		{`{"k":"v"}`, map[string]any{"k": "v"}},
		{"[broken", "[broken"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseValue(tt.in))
		})
	}
}
