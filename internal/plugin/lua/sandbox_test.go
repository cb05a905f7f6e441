package lua

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestParseCapability(t *testing.T) {
	c, err := ParseCapability("filesystem.read")
	require.NoError(t, err)
	assert.Equal(t, CapabilityFileRead, c)

	_, err = ParseCapability("network")
	assert.ErrorIs(t, err, ErrUnknownCapability)
}

func TestSandbox_LoadersRemoved(t *testing.T) {
	s := newTestState(t)

	for _, code := range []string{
		`dofile("x.lua")`,
		`loadstring("return 1")()`,
		`require("io")`,
	} {
		assert.Error(t, s.DoString(code), code)
	}
}

func TestSandbox_OsBasics(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.DoString(`now = os.time() elapsed = os.clock()`))

	assert.Equal(t, lua.LTNumber, s.GetGlobal("now").Type())
	assert.Equal(t, lua.LNil, s.GetGlobal("os").(*lua.LTable).RawGetString("getenv"))
	assert.Error(t, s.DoString(`os.execute("true")`))
}

func TestSandbox_GrantUnknown(t *testing.T) {
	s := newTestState(t)
	err := s.Sandbox().Grant("network")
	assert.ErrorIs(t, err, ErrUnknownCapability)
	assert.Empty(t, s.Sandbox().Capabilities())
}

func TestSandbox_FileRead(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "words.txt"), []byte("alpha\nbeta\n"), 0o644))

	s := newTestState(t)
	sb := s.Sandbox()
	assert.Error(t, s.DoString(`io.readfile("words.txt")`))
	assert.IsType(t, &CapabilityError{}, sb.CheckCapability(CapabilityFileRead))

	sb.SetRoot(dir)
	require.NoError(t, sb.Grant(CapabilityFileRead))
	assert.True(t, sb.HasCapability(CapabilityFileRead))
	assert.NoError(t, sb.CheckCapability(CapabilityFileRead))

	require.NoError(t, s.DoString(`
		content = io.readfile("words.txt")
		lines = io.lines("words.txt")
		missing, missingErr = io.readfile("nope.txt")
		escaped, escapedErr = io.readfile("../outside.txt")
	`))

	assert.Equal(t, lua.LString("alpha\nbeta\n"), s.GetGlobal("content"))
	lines := NewBridge(s.L).ToGoValue(s.GetGlobal("lines"))
	assert.Equal(t, []any{"alpha", "beta"}, lines)
	assert.Equal(t, lua.LNil, s.GetGlobal("missing"))
	assert.NotEqual(t, lua.LNil, s.GetGlobal("missingErr"))
	assert.Equal(t, lua.LNil, s.GetGlobal("escaped"))
	assert.Contains(t, s.GetGlobal("escapedErr").String(), "escapes")
}

func TestSandbox_Env(t *testing.T) {
	t.Setenv("HOOKWIRE_TEST_VALUE", "present")

	s := newTestState(t)
	require.NoError(t, s.Sandbox().Grant(CapabilityEnv))
	require.NoError(t, s.DoString(`
		v = os.getenv("HOOKWIRE_TEST_VALUE")
		u = os.getenv("HOOKWIRE_TEST_UNSET_VALUE")
	`))

	assert.Equal(t, lua.LString("present"), s.GetGlobal("v"))
	assert.Equal(t, lua.LNil, s.GetGlobal("u"))
	assert.Equal(t, []Capability{CapabilityEnv}, s.Sandbox().Capabilities())
}

func TestSandbox_FileReadRejectsSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("hidden"), 0o644))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inner.txt"), []byte("ok"), 0o644))
	if err := os.Symlink(secret, filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "out")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "inner.txt"), filepath.Join(dir, "alias.txt")))

	s := newTestState(t)
	sb := s.Sandbox()
	sb.SetRoot(dir)
	require.NoError(t, sb.Grant(CapabilityFileRead))

	require.NoError(t, s.DoString(`
		linked, linkedErr = io.readfile("link.txt")
		viaDir, viaDirErr = io.readfile("out/secret.txt")
		alias = io.readfile("alias.txt")
	`))

	assert.Equal(t, lua.LNil, s.GetGlobal("linked"))
	assert.Contains(t, s.GetGlobal("linkedErr").String(), "escapes")
	assert.Equal(t, lua.LNil, s.GetGlobal("viaDir"))
	assert.Contains(t, s.GetGlobal("viaDirErr").String(), "escapes")
	assert.Equal(t, lua.LString("ok"), s.GetGlobal("alias"))
}
