// Package main is the entry point for the hookwire command.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/dshills/hookwire/internal/app"
	"github.com/joho/godotenv"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type cliOptions struct {
	app.Options

	envFile     string
	pluginPaths string
	jsonOutput  bool
	showVersion bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, rest, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "hookwire %s\n", version)
		fmt.Fprintf(stdout, "Commit: %s\n", commit)
		fmt.Fprintf(stdout, "Built: %s\n", date)
		return 0
	}

	if len(rest) == 0 {
		fmt.Fprintln(stderr, "Error: missing command")
		return 2
	}

	loadEnvFiles(opts.envFile)

	if opts.pluginPaths != "" {
		opts.PluginPaths = filepath.SplitList(opts.pluginPaths)
	}

	application, err := app.New(opts.Options)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ensure cleanup on all exit paths
	defer func() {
		if err := application.Shutdown(context.Background()); err != nil {
			fmt.Fprintf(stderr, "Warning: shutdown: %v\n", err)
		}
	}()

	switch cmd := rest[0]; cmd {
	case "list":
		return cmdList(ctx, application, opts, stdout, stderr)
	case "hooks":
		return cmdHooks(ctx, application, opts, stdout, stderr)
	case "fire":
		return cmdFire(ctx, application, rest[1:], stdin, stdout, stderr)
	case "watch":
		return cmdWatch(ctx, application, stderr)
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n", cmd)
		return 2
	}
}

func parseFlags(args []string, stderr io.Writer) (*cliOptions, []string, error) {
	opts := &cliOptions{}
	fs := flag.NewFlagSet("hookwire", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file (.toml, .yaml)")
	fs.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&opts.pluginPaths, "plugins", "", "Plugin search paths, separated by the OS path list separator")
	fs.StringVar(&opts.envFile, "env", "", "Additional .env file to load")
	fs.BoolVar(&opts.jsonOutput, "json", false, "Print list and hooks output as JSON")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")
	fs.BoolVar(&opts.showVersion, "v", false, "Show version information (shorthand)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "hookwire - plugin hook dispatcher\n\n")
		fmt.Fprintf(stderr, "Usage: hookwire [options] <command> [args]\n\n")
		fmt.Fprintf(stderr, "Commands:\n")
		fmt.Fprintf(stderr, "  list                 List discovered plugins\n")
		fmt.Fprintf(stderr, "  hooks                List registered hooks and their listeners\n")
		fmt.Fprintf(stderr, "  fire <hook> [json]   Fire a hook with a JSON object payload (- reads stdin)\n")
		fmt.Fprintf(stderr, "  watch                Reload plugins as their files change\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  hookwire list\n")
		fmt.Fprintf(stderr, "  hookwire fire filter:parse.post '{\"content\":\"*hi*\"}'\n")
		fmt.Fprintf(stderr, "  hookwire -plugins ./plugins watch\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return opts, fs.Args(), nil
}

// loadEnvFiles loads .env files without overriding variables already set.
func loadEnvFiles(extra string) {
	if extra != "" {
		_ = godotenv.Load(extra)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		configEnv := filepath.Join(dir, "hookwire", ".env")
		if _, err := os.Stat(configEnv); err == nil {
			_ = godotenv.Load(configEnv)
		}
	}
	_ = godotenv.Load()
}

func cmdList(ctx context.Context, a *app.Application, opts *cliOptions, stdout, stderr io.Writer) int {
	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Warning: %v\n", err)
	}

	statuses := a.Plugins().List()
	if opts.jsonOutput {
		return writeJSON(stdout, stderr, statuses)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tSTATE\tHOOKS\tPATH")
	for _, s := range statuses {
		state := s.State.String()
		if s.Error != "" {
			state = "error: " + s.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.Version, state, s.Hooks, s.Path)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type hookInfo struct {
	Hook      string   `json:"hook"`
	Listeners []string `json:"listeners"`
}

func cmdHooks(ctx context.Context, a *app.Application, opts *cliOptions, stdout, stderr io.Writer) int {
	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Warning: %v\n", err)
	}

	reg := a.Registry()
	var hooks []hookInfo
	for _, name := range reg.Hooks() {
		info := hookInfo{Hook: name}
		for _, l := range reg.Listeners(name) {
			info.Listeners = append(info.Listeners, l.HandlerID+" "+l.Method)
		}
		hooks = append(hooks, info)
	}

	if opts.jsonOutput {
		return writeJSON(stdout, stderr, hooks)
	}
	for _, h := range hooks {
		fmt.Fprintf(stdout, "%s (%d)\n", h.Hook, len(h.Listeners))
		for _, l := range h.Listeners {
			fmt.Fprintf(stdout, "  %s\n", l)
		}
	}
	return 0
}

func cmdFire(ctx context.Context, a *app.Application, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 || len(args) > 2 {
		fmt.Fprintln(stderr, "Error: usage: hookwire fire <hook> [json]")
		return 2
	}

	var input []byte
	if len(args) == 2 {
		if args[1] == "-" {
			data, err := io.ReadAll(stdin)
			if err != nil {
				fmt.Fprintf(stderr, "Error: reading stdin: %v\n", err)
				return 1
			}
			input = data
		} else {
			input = []byte(args[1])
		}
	}
	if strings.TrimSpace(string(input)) == "" {
		input = nil
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Warning: %v\n", err)
	}

	out, err := a.FireJSON(ctx, args[0], input)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}

func cmdWatch(ctx context.Context, a *app.Application, stderr io.Writer) int {
	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Warning: %v\n", err)
	}
	if err := a.Watch(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
