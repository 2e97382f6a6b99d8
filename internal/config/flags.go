package config

import (
	"strings"

	flag "github.com/spf13/pflag"
)

// Resolve builds the configuration for a command line. The file named by
// --config (or SIDECAR_CONFIG, or the default file if present) is applied
// over the defaults, then the environment, then any flags given in args.
// Positional arguments replace the backend arguments.
//
// The returned flag set is parsed; callers use it for usage output.
func Resolve(args []string, lookupEnv func(string) (string, bool)) (Config, *flag.FlagSet, error) {
	cfg := Default()

	path, required := configPath(args, lookupEnv)
	if err := LoadFile(&cfg, path, required); err != nil {
		return cfg, nil, err
	}
	if err := ApplyEnv(&cfg, lookupEnv); err != nil {
		return cfg, nil, err
	}

	fs := NewFlagSet(&cfg)
	if err := fs.Parse(args); err != nil {
		return cfg, fs, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		cfg.Backend.Args = append([]string(nil), rest...)
	}
	return cfg, fs, cfg.Validate()
}

// NewFlagSet binds flags to cfg. Flag defaults are cfg's current values, so
// only flags present on the command line change it.
func NewFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("sidecar", flag.ContinueOnError)
	fs.SortFlags = false

	fs.String("config", "", "Configuration file (default "+DefaultFile()+", overrides SIDECAR_CONFIG)")

	fs.StringVarP(&cfg.Backend.Path, "backend", "b", cfg.Backend.Path, "Backend executable path (skips bundle lookup)")
	fs.StringVar(&cfg.Backend.Name, "backend-name", cfg.Backend.Name, "Backend executable name inside the bundle")
	fs.StringVar(&cfg.Backend.Subdir, "backend-subdir", cfg.Backend.Subdir, "Bundle subdirectory holding the backend")
	fs.StringVar(&cfg.Backend.ResourceDir, "resource-dir", cfg.Backend.ResourceDir, "Resource directory (default: next to this executable)")
	fs.BoolVar(&cfg.Backend.Adjacent, "adjacent", cfg.Backend.Adjacent, "Look for <name>-<os>-<arch> next to this executable")
	fs.StringVar(&cfg.Backend.Dir, "dir", cfg.Backend.Dir, "Working directory of the backend")
	fs.StringArrayVarP(&cfg.Backend.Env, "env", "e", cfg.Backend.Env, "Extra backend environment KEY=VALUE (can be repeated)")

	fs.BoolVar(&cfg.Supervisor.Track, "track", cfg.Supervisor.Track, "Supervise the backend (false: fire and forget)")
	fs.BoolVar(&cfg.Supervisor.PTY, "pty", cfg.Supervisor.PTY, "Give the backend a pseudo-terminal as stdout")
	fs.StringVar(&cfg.Supervisor.Encoding, "encoding", cfg.Supervisor.Encoding, "Backend output encoding (default utf-8)")
	fs.IntVar(&cfg.Supervisor.MaxLineBytes, "max-line-bytes", cfg.Supervisor.MaxLineBytes, "Split output lines longer than this (0 = default)")
	fs.BoolVar(&cfg.Supervisor.KillOnParentDeath, "kill-on-parent-death", cfg.Supervisor.KillOnParentDeath, "Signal the backend if this process dies (Linux)")
	fs.DurationVar(&cfg.Supervisor.GracePeriod, "grace-period", cfg.Supervisor.GracePeriod, "Time allowed after terminate before kill")
	fs.DurationVar(&cfg.Supervisor.KillTimeout, "kill-timeout", cfg.Supervisor.KillTimeout, "Time allowed after kill")
	fs.DurationVar(&cfg.Supervisor.DrainTimeout, "drain-timeout", cfg.Supervisor.DrainTimeout, "Time allowed for remaining output after exit")

	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "Log format: auto, console, json")
	fs.StringVar(&cfg.Log.Journal, "journal", cfg.Log.Journal, "Send backend output to journald: auto, on, off")

	fs.StringVar(&cfg.HTTP.Listen, "http", cfg.HTTP.Listen, "HTTP listen address, unix:<path>, unix (runtime dir socket) or systemd (empty = off)")
	fs.IntVar(&cfg.HTTP.Backlog, "http-backlog", cfg.HTTP.Backlog, "Lines replayed to new /lines clients")
	fs.BoolVar(&cfg.DBus.Enabled, "dbus", cfg.DBus.Enabled, "Export the control object on the session bus")
	fs.StringVar(&cfg.DBus.Name, "dbus-name", cfg.DBus.Name, "D-Bus well-known name")

	return fs
}

// configPath finds --config in args ahead of full flag parsing, since the
// file must be applied before the flags.
func configPath(args []string, lookupEnv func(string) (string, bool)) (string, bool) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			break
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v, true
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1], true
		}
	}
	if v, ok := lookupEnv("SIDECAR_CONFIG"); ok && v != "" {
		return v, true
	}
	return DefaultFile(), false
}
