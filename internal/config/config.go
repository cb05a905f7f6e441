package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/hookwire/internal/config/loader"
	"github.com/dshills/hookwire/internal/hook"
	"github.com/dshills/hookwire/internal/plugin"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// FileNames are the config file names searched for, in order.
var FileNames = []string{"hookwire.toml", "hookwire.yaml", "hookwire.yml"}

// Log formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// durationPaths lists the settings decoded as time.Duration.
// Numeric values at these paths are read as seconds.
var durationPaths = [][2]string{
	{"plugins", "watchDebounce"},
	{"hooks", "staticTimeout"},
	{"lua", "executionTimeout"},
}

// Config is the decoded hookwire configuration.
type Config struct {
	Plugins PluginsConfig `yaml:"plugins"`
	Hooks   HooksConfig   `yaml:"hooks"`
	Lua     LuaConfig     `yaml:"lua"`
	Log     LogConfig     `yaml:"log"`

	// Source is the file the configuration was read from, if any.
	Source string `yaml:"-"`
}

// PluginsConfig controls plugin discovery and activation.
type PluginsConfig struct {
	Paths         []string                  `yaml:"paths"`
	Active        []string                  `yaml:"active,omitempty"`
	AutoActivate  bool                      `yaml:"autoActivate"`
	Watch         bool                      `yaml:"watch"`
	WatchDebounce time.Duration             `yaml:"watchDebounce"`
	Settings      map[string]map[string]any `yaml:"settings,omitempty"`
}

// HooksConfig controls the dispatcher.
type HooksConfig struct {
	// StaticTimeout bounds static: handlers of plugins. Zero disables it.
	StaticTimeout time.Duration `yaml:"staticTimeout"`

	// Deprecated maps a deprecated hook to its replacement, which may be empty.
	Deprecated map[string]string `yaml:"deprecated,omitempty"`
}

// LuaConfig controls plugin Lua states.
type LuaConfig struct {
	ExecutionTimeout time.Duration `yaml:"executionTimeout"`
	QueueSize        int           `yaml:"queueSize"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// Output is stdout, stderr or a file path.
	Output string `yaml:"output"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Plugins: PluginsConfig{
			Paths:         plugin.DefaultPluginPaths(),
			AutoActivate:  true,
			WatchDebounce: 200 * time.Millisecond,
		},
		Hooks: HooksConfig{
			StaticTimeout: 5 * time.Second,
		},
		Lua: LuaConfig{
			ExecutionTimeout: 10 * time.Second,
			QueueSize:        64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatConsole,
			Output: "stderr",
		},
	}
}

// Option configures Load.
type Option func(*options)

type options struct {
	fs         loader.FileSystem
	file       string
	searchDirs []string
	envPrefix  string
	useEnv     bool
}

// WithFile loads path instead of searching for a config file.
// The file must exist.
func WithFile(path string) Option {
	return func(o *options) {
		o.file = path
	}
}

// WithSearchDirs sets the directories searched for FileNames.
func WithSearchDirs(dirs ...string) Option {
	return func(o *options) {
		o.searchDirs = dirs
	}
}

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}

// WithoutEnv skips the environment layer.
func WithoutEnv() Option {
	return func(o *options) {
		o.useEnv = false
	}
}

// WithFS sets the file system config files are read from.
func WithFS(fs loader.FileSystem) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// DefaultSearchDirs returns the working directory and the user config dir.
func DefaultSearchDirs() []string {
	dirs := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "hookwire"))
	}
	return dirs
}

// Load builds the configuration from defaults, a config file and the
// environment, in increasing priority, and validates the result.
func Load(opts ...Option) (*Config, error) {
	o := &options{
		fs:         loader.DefaultFS(),
		searchDirs: DefaultSearchDirs(),
		envPrefix:  loader.DefaultEnvPrefix,
		useEnv:     true,
	}
	for _, opt := range opts {
		opt(o)
	}

	merged, err := Default().toMap()
	if err != nil {
		return nil, err
	}

	path := o.file
	if path != "" {
		if _, err := o.fs.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
	} else {
		path = loader.FindFile(o.fs, o.searchDirs, FileNames)
	}

	if path != "" {
		l, err := loader.ForPath(o.fs, path)
		if err != nil {
			return nil, err
		}
		file, err := l.Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, file)
	}

	if o.useEnv {
		env, err := loader.NewEnvLoader(o.envPrefix).Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, env)
	}

	cfg, err := Decode(merged)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		return nil, err
	}
	cfg.Source = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode converts a merged configuration map into a Config.
// Keys missing from m keep their zero value.
func Decode(m map[string]any) (*Config, error) {
	normalizeDurations(m)

	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// toMap converts c to the generic map form used for merging.
func (c *Config) toMap() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return m, nil
}

func normalizeDurations(m map[string]any) {
	for _, p := range durationPaths {
		section, ok := m[p[0]].(map[string]any)
		if !ok {
			continue
		}
		switch v := section[p[1]].(type) {
		case int:
			section[p[1]] = (time.Duration(v) * time.Second).String()
		case int64:
			section[p[1]] = (time.Duration(v) * time.Second).String()
		case float64:
			section[p[1]] = time.Duration(v * float64(time.Second)).String()
		}
	}
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(path, msg string, value any, code ValidationErrorCode) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value, Code: code})
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil || c.Log.Level == "" {
		add("log.level", "unknown log level", c.Log.Level, ErrCodeInvalidEnum)
	}
	if c.Log.Format != FormatConsole && c.Log.Format != FormatJSON {
		add("log.format", "must be console or json", c.Log.Format, ErrCodeInvalidEnum)
	}
	if c.Log.Output == "" {
		add("log.output", "must not be empty", c.Log.Output, ErrCodeRequiredMissing)
	}

	if c.Plugins.WatchDebounce < 0 {
		add("plugins.watchDebounce", "must not be negative", c.Plugins.WatchDebounce, ErrCodeOutOfRange)
	}
	if c.Hooks.StaticTimeout < 0 {
		add("hooks.staticTimeout", "must not be negative", c.Hooks.StaticTimeout, ErrCodeOutOfRange)
	}
	if c.Lua.ExecutionTimeout < 0 {
		add("lua.executionTimeout", "must not be negative", c.Lua.ExecutionTimeout, ErrCodeOutOfRange)
	}
	if c.Lua.QueueSize < 0 {
		add("lua.queueSize", "must not be negative", c.Lua.QueueSize, ErrCodeOutOfRange)
	}

	for _, id := range c.Plugins.Active {
		if err := plugin.ValidateID(id); err != nil {
			add("plugins.active", "invalid plugin id", id, ErrCodePatternMismatch)
		}
	}
	for name := range c.Hooks.Deprecated {
		if hook.KindOf(name) == hook.KindUnknown {
			add("hooks.deprecated", "hook needs a filter:, action: or static: prefix", name, ErrCodePatternMismatch)
		}
	}

	return errors.Join(errs...)
}

// LogLevel returns the parsed log level, info when unset or invalid.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || c.Log.Level == "" {
		return zerolog.InfoLevel
	}
	return level
}

// ManagerConfig converts the plugin settings for plugin.NewManager.
func (c *Config) ManagerConfig() plugin.ManagerConfig {
	return plugin.ManagerConfig{
		PluginPaths:      c.Plugins.Paths,
		Active:           c.Plugins.Active,
		AutoActivate:     c.Plugins.AutoActivate,
		StaticTimeout:    c.Hooks.StaticTimeout,
		ExecutionTimeout: c.Lua.ExecutionTimeout,
		QueueSize:        c.Lua.QueueSize,
		Settings:         c.Plugins.Settings,
	}
}

// ApplyDeprecations records the configured deprecated hooks on r.
func (c *Config) ApplyDeprecations(r *hook.Registry) {
	for name, alt := range c.Hooks.Deprecated {
		r.Deprecate(name, hook.Deprecation{Alternative: alt})
	}
}
