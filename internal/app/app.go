// Package app wires the hookwire components together: configuration,
// logging, the hook registry, the plugin manager and the plugin watcher.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dshills/hookwire/internal/config"
	"github.com/dshills/hookwire/internal/hook"
	"github.com/dshills/hookwire/internal/logging"
	"github.com/dshills/hookwire/internal/plugin"
	"github.com/dshills/hookwire/internal/watcher"
	"github.com/rs/zerolog"
)

// Application owns the registry and the plugins registered on it.
type Application struct {
	mu sync.Mutex

	config    *config.Config
	logger    zerolog.Logger
	logCloser io.Closer

	registry *hook.Registry
	plugins  *plugin.Manager

	running  atomic.Bool
	shutdown bool

	opts Options
}

// Options configures the application.
type Options struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string

	// LogLevel overrides the configured log level when set.
	LogLevel string

	// PluginPaths override the configured plugin search paths when set.
	PluginPaths []string

	// Logger replaces the logger built from configuration.
	Logger *zerolog.Logger

	// ConfigOptions are passed to config.Load after ConfigPath.
	ConfigOptions []config.Option
}

// New loads the configuration and builds every component. Plugins are not
// loaded until Start.
func New(opts Options) (*Application, error) {
	app := &Application{opts: opts}
	if err := app.bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

func (app *Application) bootstrap() error {
	var configOpts []config.Option
	if app.opts.ConfigPath != "" {
		configOpts = append(configOpts, config.WithFile(app.opts.ConfigPath))
	}
	configOpts = append(configOpts, app.opts.ConfigOptions...)

	cfg, err := config.Load(configOpts...)
	if err != nil {
		return &InitError{Component: "config", Err: err}
	}
	if app.opts.LogLevel != "" {
		cfg.Log.Level = app.opts.LogLevel
	}
	if len(app.opts.PluginPaths) > 0 {
		cfg.Plugins.Paths = app.opts.PluginPaths
	}
	if err := cfg.Validate(); err != nil {
		return &InitError{Component: "config", Err: err}
	}
	app.config = cfg

	if app.opts.Logger != nil {
		app.logger = *app.opts.Logger
		app.logCloser = nopCloser{}
	} else {
		logger, closer, err := logging.New(cfg.Log)
		if err != nil {
			return &InitError{Component: "logging", Err: err}
		}
		app.logger, app.logCloser = logger, closer
	}
	if cfg.Source != "" {
		app.logger.Debug().Str("file", cfg.Source).Msg("configuration loaded")
	}

	app.registry = hook.NewRegistry(hook.WithLogger(logging.Component(app.logger, "hooks")))
	cfg.ApplyDeprecations(app.registry)

	app.plugins = plugin.NewManager(app.registry, cfg.ManagerConfig(),
		plugin.WithManagerLogger(logging.Component(app.logger, "plugins")))

	return nil
}

// Config returns the loaded configuration.
func (app *Application) Config() *config.Config {
	return app.config
}

// Logger returns the application logger.
func (app *Application) Logger() zerolog.Logger {
	return app.logger
}

// Registry returns the hook registry.
func (app *Application) Registry() *hook.Registry {
	return app.registry
}

// Plugins returns the plugin manager.
func (app *Application) Plugins() *plugin.Manager {
	return app.plugins
}

// Start loads every plugin. Plugins that fail are logged and skipped; the
// joined failures are returned after the others are loaded.
func (app *Application) Start(ctx context.Context) error {
	if app.isShutdown() {
		return ErrShutdown
	}

	err := app.plugins.LoadAll(ctx)
	if err != nil {
		app.logger.Warn().Err(err).Msg("some plugins failed to load")
	}

	app.logger.Info().
		Int("plugins", app.plugins.Count()).
		Strs("active", app.plugins.ListActive()).
		Int("hooks", len(app.registry.Hooks())).
		Msg("plugins loaded")

	if _, err := app.registry.Fire(ctx, "static:app.load", hook.Payload{}); err != nil {
		return fmt.Errorf("static:app.load: %w", err)
	}
	return err
}

// Fire fires hook with data.
func (app *Application) Fire(ctx context.Context, hookName string, data hook.Payload) (hook.Payload, error) {
	if app.isShutdown() {
		return nil, ErrShutdown
	}
	return app.registry.Fire(ctx, hookName, data)
}

// FireJSON fires hook with a JSON object payload and returns the result as
// JSON. Empty input is an empty object.
func (app *Application) FireJSON(ctx context.Context, hookName string, input []byte) ([]byte, error) {
	data := hook.Payload{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &data); err != nil || data == nil {
			return nil, ErrInvalidPayload
		}
	}

	out, err := app.Fire(ctx, hookName, data)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return []byte("null"), nil
	}
	return json.MarshalIndent(out, "", "  ")
}

// Watch reloads plugins as their directories change until ctx is done.
func (app *Application) Watch(ctx context.Context) error {
	if app.isShutdown() {
		return ErrShutdown
	}
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	w, err := watcher.New(
		watcher.WithDebounce(app.config.Plugins.WatchDebounce),
		watcher.WithLogger(logging.Component(app.logger, "watcher")),
	)
	if err != nil {
		return &InitError{Component: "watcher", Err: err}
	}
	defer w.Close()

	watched := 0
	for _, path := range app.plugins.Loader().Paths() {
		if err := w.AddRoot(path); err != nil {
			if errors.Is(err, watcher.ErrPathNotExist) {
				app.logger.Debug().Str("path", path).Msg("plugin path does not exist, not watching")
				continue
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
		watched++
	}
	app.logger.Info().Int("paths", watched).Msg("watching plugin directories")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			app.handleChange(ctx, ev)
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			app.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

// handleChange syncs the plugin owning the changed directory.
func (app *Application) handleChange(ctx context.Context, ev watcher.Event) {
	id, ok := app.plugins.PluginForPath(ev.Dir)
	if !ok {
		if _, err := app.plugins.Discover(); err != nil {
			app.logger.Warn().Err(err).Msg("plugin discovery failed")
			return
		}
		if id, ok = app.plugins.PluginForPath(ev.Dir); !ok {
			app.logger.Debug().Str("dir", ev.Dir).Msg("change outside any plugin")
			return
		}
	}

	logger := app.logger.With().Str("plugin", id).Str("op", ev.Op.String()).Logger()
	if err := app.plugins.Sync(ctx, id); err != nil {
		logger.Error().Err(err).Msg("plugin sync failed")
		return
	}
	logger.Info().Msg("plugin synced")
}

// Shutdown unloads every plugin and closes the log output. It is safe to
// call more than once.
func (app *Application) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	if app.shutdown {
		app.mu.Unlock()
		return nil
	}
	app.shutdown = true
	app.mu.Unlock()

	err := app.plugins.UnloadAll(ctx)
	if err != nil {
		app.logger.Warn().Err(err).Msg("unloading plugins")
	}
	if cerr := app.logCloser.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (app *Application) isShutdown() bool {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.shutdown
}
