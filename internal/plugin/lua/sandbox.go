package lua

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Capability is a permission a plugin manifest can request.
type Capability string

// Available capabilities.
const (
	// CapabilityFileRead adds io.readfile and io.lines, limited to the sandbox root.
	CapabilityFileRead Capability = "filesystem.read"

	// CapabilityEnv adds os.getenv.
	CapabilityEnv Capability = "env"

	// CapabilityUnsafe opens the full io, os and debug libraries.
	CapabilityUnsafe Capability = "unsafe"
)

var knownCapabilities = map[Capability]bool{
	CapabilityFileRead: true,
	CapabilityEnv:      true,
	CapabilityUnsafe:   true,
}

// ParseCapability validates a capability name.
func ParseCapability(name string) (Capability, error) {
	c := Capability(name)
	if !knownCapabilities[c] {
		return "", fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	return c, nil
}

// removedGlobals load code from outside the plugin's entry file.
var removedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module"}

// Sandbox restricts what Lua code can reach.
type Sandbox struct {
	L *lua.LState

	mu           sync.Mutex
	root         string
	capabilities map[Capability]bool
	started      time.Time
}

// NewSandbox creates a sandbox for L. Call Install before running code.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{
		L:            L,
		capabilities: make(map[Capability]bool),
		started:      time.Now(),
	}
}

// Install removes the loader functions and adds a minimal os table.
func (s *Sandbox) Install() {
	for _, name := range removedGlobals {
		s.L.SetGlobal(name, lua.LNil)
	}

	osMod := s.L.NewTable()
	s.L.SetField(osMod, "time", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	s.L.SetField(osMod, "clock", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Since(s.started).Seconds()))
		return 1
	}))
	s.L.SetGlobal("os", osMod)
}

// SetRoot sets the directory file access is confined to.
func (s *Sandbox) SetRoot(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = dir
}

// Grant enables a capability and installs the functions it unlocks.
func (s *Sandbox) Grant(c Capability) error {
	if !knownCapabilities[c] {
		return fmt.Errorf("%w: %q", ErrUnknownCapability, c)
	}

	s.mu.Lock()
	s.capabilities[c] = true
	s.mu.Unlock()

	switch c {
	case CapabilityFileRead:
		s.injectFileRead()
	case CapabilityEnv:
		s.injectEnv()
	case CapabilityUnsafe:
		lua.OpenIo(s.L)
		lua.OpenOs(s.L)
		lua.OpenDebug(s.L)
	}
	return nil
}

// HasCapability reports whether c has been granted.
func (s *Sandbox) HasCapability(c Capability) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities[c]
}

// Capabilities returns the granted capabilities, sorted.
func (s *Sandbox) Capabilities() []Capability {
	s.mu.Lock()
	defer s.mu.Unlock()

	caps := make([]Capability, 0, len(s.capabilities))
	for c := range s.capabilities {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// CheckCapability returns a *CapabilityError when c has not been granted.
func (s *Sandbox) CheckCapability(c Capability) error {
	if !s.HasCapability(c) {
		return &CapabilityError{Capability: c}
	}
	return nil
}

// resolve maps a script path onto the sandbox root.
func (s *Sandbox) resolve(name string) (string, error) {
	s.mu.Lock()
	root := s.root
	s.mu.Unlock()

	if root == "" {
		return "", fmt.Errorf("file access has no root directory")
	}

	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the plugin directory", name)
	}

	// Symlinks are followed before the containment check.
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}
	target, err := filepath.EvalSymlinks(filepath.Join(root, clean))
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(realRoot, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the plugin directory", name)
	}
	return target, nil
}

func (s *Sandbox) ioTable() *lua.LTable {
	if t, ok := s.L.GetGlobal("io").(*lua.LTable); ok {
		return t
	}
	t := s.L.NewTable()
	s.L.SetGlobal("io", t)
	return t
}

func (s *Sandbox) osTable() *lua.LTable {
	if t, ok := s.L.GetGlobal("os").(*lua.LTable); ok {
		return t
	}
	t := s.L.NewTable()
	s.L.SetGlobal("os", t)
	return t
}

// injectFileRead adds io.readfile(path) and io.lines(path).
// Both return nil and an error message on failure.
func (s *Sandbox) injectFileRead() {
	read := func(L *lua.LState) (string, bool) {
		path, err := s.resolve(L.CheckString(1))
		if err == nil {
			var data []byte
			data, err = os.ReadFile(path)
			if err == nil {
				return string(data), true
			}
		}
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return "", false
	}

	ioMod := s.ioTable()
	s.L.SetField(ioMod, "readfile", s.L.NewFunction(func(L *lua.LState) int {
		content, ok := read(L)
		if !ok {
			return 2
		}
		L.Push(lua.LString(content))
		return 1
	}))
	s.L.SetField(ioMod, "lines", s.L.NewFunction(func(L *lua.LState) int {
		content, ok := read(L)
		if !ok {
			return 2
		}
		lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines = lines[:n-1]
		}
		t := L.CreateTable(len(lines), 0)
		for i, line := range lines {
			t.RawSetInt(i+1, lua.LString(line))
		}
		L.Push(t)
		return 1
	}))
}

// injectEnv adds os.getenv. Unset variables return nil.
func (s *Sandbox) injectEnv() {
	s.L.SetField(s.osTable(), "getenv", s.L.NewFunction(func(L *lua.LState) int {
		value, ok := os.LookupEnv(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(value))
		return 1
	}))
}

// CapabilityError is returned when a capability is not granted.
type CapabilityError struct {
	Capability Capability
}

func (e *CapabilityError) Error() string {
	return "capability not granted: " + string(e.Capability)
}
