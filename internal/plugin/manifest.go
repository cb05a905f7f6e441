package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dshills/hookwire/internal/hook"
	plua "github.com/dshills/hookwire/internal/plugin/lua"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// ManifestFiles are the manifest names looked up in a plugin directory, in order.
var ManifestFiles = []string{"plugin.json", "plugin.yaml", "plugin.yml"}

// Manifest describes a plugin and the hooks it attaches to.
type Manifest struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
	Author      string `json:"author" yaml:"author"`
	URL         string `json:"url" yaml:"url"`

	// Main is the Lua entry file relative to the plugin directory.
	Main string `json:"main" yaml:"main"`

	Hooks        []HookSpec `json:"hooks" yaml:"hooks"`
	Capabilities []string   `json:"capabilities" yaml:"capabilities"`

	// Settings are defaults handed to the plugin's activate function.
	Settings map[string]any `json:"settings" yaml:"settings"`

	path string
}

// HookSpec binds a hook to a global Lua function of the plugin.
type HookSpec struct {
	Hook   string `json:"hook" yaml:"hook"`
	Method string `json:"method" yaml:"method"`
}

// idPattern matches plugin ids, optionally scoped: hookwire-plugin-x, @acme/hookwire-widget-y.
var idPattern = regexp.MustCompile(`^(@[a-z0-9][\w.-]*/)?hookwire-(plugin|theme|widget)-[\w-]+$`)

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateID returns ErrInvalidPluginID when id is not a plugin id.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidPluginID, id)
	}
	return nil
}

// LoadManifest reads a manifest file. The format follows the extension.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	m.path = filepath.Dir(path)
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifestFromDir loads the first manifest file found in dir.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	path, err := findManifest(dir)
	if err != nil {
		return nil, err
	}
	return LoadManifest(path)
}

func findManifest(dir string) (string, error) {
	for _, name := range ManifestFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoManifest, dir)
}

func (m *Manifest) applyDefaults() {
	if m.Main == "" {
		m.Main = "init.lua"
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	if m.Name == "" {
		m.Name = m.ID
	}
}

// Validate checks the manifest fields.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if err := ValidateID(m.ID); err != nil {
		return err
	}

	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}

	main := filepath.Clean(m.Main)
	if filepath.Ext(main) != ".lua" || filepath.IsAbs(main) || strings.HasPrefix(main, "..") {
		return fmt.Errorf("%w: %s", ErrInvalidMain, m.Main)
	}

	for _, c := range m.Capabilities {
		if _, err := plua.ParseCapability(c); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidCapability, c)
		}
	}

	for i, h := range m.Hooks {
		if h.Hook == "" || hook.KindOf(h.Hook) == hook.KindUnknown {
			return fmt.Errorf("%w at index %d: %q needs a filter:, action: or static: prefix", ErrInvalidHook, i, h.Hook)
		}
		if !identPattern.MatchString(h.Method) {
			return fmt.Errorf("%w: %q (hook %s)", ErrInvalidMethod, h.Method, h.Hook)
		}
	}

	return nil
}

// Path returns the plugin directory.
func (m *Manifest) Path() string {
	return m.path
}

// MainPath returns the full path of the Lua entry file.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.path, m.Main)
}

// Methods returns the distinct Lua function names the manifest hooks refer to.
func (m *Manifest) Methods() []string {
	return lo.Uniq(lo.Map(m.Hooks, func(h HookSpec, _ int) string {
		return h.Method
	}))
}

// Clone returns a deep copy of the manifest. Settings are copied one level deep.
func (m *Manifest) Clone() *Manifest {
	clone := *m
	clone.Hooks = append([]HookSpec(nil), m.Hooks...)
	clone.Capabilities = append([]string(nil), m.Capabilities...)
	if m.Settings != nil {
		clone.Settings = make(map[string]any, len(m.Settings))
		for k, v := range m.Settings {
			clone.Settings[k] = v
		}
	}
	return &clone
}

func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.ID, m.Version)
}
