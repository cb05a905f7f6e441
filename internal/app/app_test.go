package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/hookwire/internal/config"
	"github.com/dshills/hookwire/internal/hook"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greeterManifest = `{
	"id": "hookwire-plugin-greeter",
	"hooks": [
		{ "hook": "filter:greeting.build", "method": "build" },
		{ "hook": "static:app.load", "method": "boot" }
	]
}`

const greeterLua = `
booted = false
function boot(data) booted = true end
function build(data)
	data.text = "hello " .. data.name
	data.booted = booted
	return data
end
`

func writeGreeter(t *testing.T, base, code string) string {
	t.Helper()
	dir := filepath.Join(base, "greeter")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(greeterManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "init.lua"), []byte(code), 0o644))
	return dir
}

func newTestApp(t *testing.T, base string, extra ...config.Option) *Application {
	t.Helper()
	logger := zerolog.Nop()
	a, err := New(Options{
		PluginPaths:   []string{base},
		Logger:        &logger,
		ConfigOptions: append([]config.Option{config.WithSearchDirs(t.TempDir()), config.WithoutEnv()}, extra...),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestApplication_StartAndFire(t *testing.T) {
	base := t.TempDir()
	writeGreeter(t, base, greeterLua)
	a := newTestApp(t, base)
	ctx := context.Background()

	require.NoError(t, a.Start(ctx))
	assert.Equal(t, []string{"hookwire-plugin-greeter"}, a.Plugins().ListActive())

	out, err := a.Fire(ctx, "filter:greeting.build", hook.Payload{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "hello ada", out["text"])
	assert.Equal(t, true, out["booted"])
}

func TestApplication_FireJSON(t *testing.T) {
	base := t.TempDir()
	writeGreeter(t, base, greeterLua)
	a := newTestApp(t, base)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	raw, err := a.FireJSON(ctx, "filter:greeting.build", []byte(`{"name":"bob"}`))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "hello bob", out["text"])

	raw, err = a.FireJSON(ctx, "action:nobody.listens", nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))

	for _, bad := range []string{`[1,2]`, `null`, `{`} {
		_, err = a.FireJSON(ctx, "filter:greeting.build", []byte(bad))
		assert.ErrorIs(t, err, ErrInvalidPayload, bad)
	}
}

func TestApplication_StartReportsBrokenPlugin(t *testing.T) {
	base := t.TempDir()
	writeGreeter(t, base, greeterLua)
	broken := filepath.Join(base, "broken")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "plugin.json"), []byte(`{"id": "nope"}`), 0o644))

	a := newTestApp(t, base)
	err := a.Start(context.Background())
	assert.ErrorContains(t, err, "1 plugins failed")
	assert.Equal(t, 1, a.Plugins().Count())
}

func TestApplication_ConfigFileAndDeprecations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hookwire.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hooks:
  deprecated:
    "filter:greeting.old": "filter:greeting.build"
log:
  level: warn
`), 0o644))

	logger := zerolog.Nop()
	a, err := New(Options{
		ConfigPath:    path,
		LogLevel:      "debug",
		PluginPaths:   []string{t.TempDir()},
		Logger:        &logger,
		ConfigOptions: []config.Option{config.WithoutEnv()},
	})
	require.NoError(t, err)
	defer a.Shutdown(context.Background())

	assert.Equal(t, path, a.Config().Source)
	assert.Equal(t, "debug", a.Config().Log.Level)
	d, ok := a.Registry().Deprecation("filter:greeting.old")
	require.True(t, ok)
	assert.Equal(t, "filter:greeting.build", d.Alternative)
}

func TestApplication_InvalidConfig(t *testing.T) {
	_, err := New(Options{
		LogLevel:      "shouty",
		ConfigOptions: []config.Option{config.WithSearchDirs(t.TempDir()), config.WithoutEnv()},
	})
	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "config", ie.Component)
	assert.ErrorIs(t, err, config.ErrValidationFailed)
}

func TestApplication_WatchReloadsPlugin(t *testing.T) {
	base := t.TempDir()
	dir := writeGreeter(t, base, greeterLua)
	a := newTestApp(t, base)
	a.config.Plugins.WatchDebounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- a.Watch(ctx) }()
	require.Eventually(t, func() bool { return a.running.Load() }, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, a.Watch(ctx), ErrAlreadyRunning)

	// Give the watcher time to register the plugin directories
	time.Sleep(100 * time.Millisecond)
	updated := `
function boot(data) end
function build(data) data.text = "hi " .. data.name return data end
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "init.lua"), []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		out, err := a.Fire(ctx, "filter:greeting.build", hook.Payload{"name": "cy"})
		return err == nil && out["text"] == "hi cy"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestApplication_Shutdown(t *testing.T) {
	base := t.TempDir()
	writeGreeter(t, base, greeterLua)
	a := newTestApp(t, base)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	require.NoError(t, a.Shutdown(ctx))
	require.NoError(t, a.Shutdown(ctx))

	assert.False(t, a.Registry().HasListeners("filter:greeting.build"))
	_, err := a.Fire(ctx, "filter:greeting.build", hook.Payload{})
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorIs(t, a.Start(ctx), ErrShutdown)
	assert.ErrorIs(t, a.Watch(ctx), ErrShutdown)
}
