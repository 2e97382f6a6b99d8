// Package config assembles the sidecar host configuration from defaults, a
// TOML file, SIDECAR_* environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mbrock/sidecar/internal/dirs"
	"github.com/mbrock/sidecar/internal/resolve"
	"github.com/mbrock/sidecar/internal/supervisor"
)

// Config is the complete host configuration.
type Config struct {
	Backend    Backend    `toml:"backend"`
	Supervisor Supervisor `toml:"supervisor"`
	Log        Log        `toml:"log"`
	HTTP       HTTP       `toml:"http"`
	DBus       DBus       `toml:"dbus"`
}

// Backend describes where the backend executable lives and how to invoke it.
type Backend struct {
	// Path names the executable directly and skips bundle lookup.
	Path string `toml:"path"`

	Name        string `toml:"name"`
	Subdir      string `toml:"subdir"`
	ResourceDir string `toml:"resource_dir"`

	// Adjacent looks for Name next to the host executable instead of in
	// the resource bundle.
	Adjacent bool `toml:"adjacent"`

	Args []string `toml:"args"`
	Dir  string   `toml:"dir"`
	Env  []string `toml:"env"`
}

type Supervisor struct {
	Track             bool          `toml:"track"`
	PTY               bool          `toml:"pty"`
	Encoding          string        `toml:"encoding"`
	MaxLineBytes      int           `toml:"max_line_bytes"`
	KillOnParentDeath bool          `toml:"kill_on_parent_death"`
	GracePeriod       time.Duration `toml:"grace_period"`
	KillTimeout       time.Duration `toml:"kill_timeout"`
	DrainTimeout      time.Duration `toml:"drain_timeout"`
}

// Log configures operator logging and where backend output goes.
type Log struct {
	Level  string `toml:"level"`  // zerolog level name
	Format string `toml:"format"` // auto, console or json
	// Journal is auto, on or off. auto writes to journald when it is
	// reachable.
	Journal string `toml:"journal"`
}

type HTTP struct {
	// Listen is a TCP address, unix:<path>, "unix" for sidecar.sock in the
	// runtime directory, or "systemd" for a socket passed by systemd. Empty
	// disables the server.
	Listen  string `toml:"listen"`
	Backlog int    `toml:"backlog"`
}

type DBus struct {
	Enabled bool   `toml:"enabled"`
	Name    string `toml:"name"`
}

// Default returns the configuration used when nothing is overridden: the
// bundled python_backend/stock_server, supervised.
func Default() Config {
	sup := supervisor.DefaultConfig()
	return Config{
		Backend: Backend{
			Name:   "stock_server",
			Subdir: "python_backend",
		},
		Supervisor: Supervisor{
			Track:             sup.TrackChild,
			PTY:               sup.PTY,
			KillOnParentDeath: sup.KillOnParentDeath,
			GracePeriod:       sup.GracePeriod,
			KillTimeout:       sup.KillTimeout,
			DrainTimeout:      sup.DrainTimeout,
		},
		Log: Log{
			Level:   "info",
			Format:  "auto",
			Journal: "auto",
		},
		HTTP: HTTP{
			Backlog: 1000,
		},
		DBus: DBus{
			Enabled: true,
			Name:    "sh.swa.Sidecar",
		},
	}
}

// LoadFile decodes the TOML file at path over cfg. A missing file is only an
// error when required is set. Unknown keys are rejected.
func LoadFile(cfg *Config, path string, required bool) error {
	if path == "" {
		return nil
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// DefaultFile returns the configuration file read when --config is not given.
func DefaultFile() string {
	return dirs.ConfigFile()
}

// ApplyEnv overrides cfg with SIDECAR_* variables found through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str("SIDECAR_BACKEND_PATH", &cfg.Backend.Path)
	str("SIDECAR_BACKEND_NAME", &cfg.Backend.Name)
	str("SIDECAR_BACKEND_SUBDIR", &cfg.Backend.Subdir)
	str("SIDECAR_RESOURCE_DIR", &cfg.Backend.ResourceDir)
	boolean("SIDECAR_ADJACENT", &cfg.Backend.Adjacent)
	if v, ok := lookup("SIDECAR_BACKEND_ARGS"); ok {
		cfg.Backend.Args = strings.Fields(v)
	}

	boolean("SIDECAR_TRACK", &cfg.Supervisor.Track)
	boolean("SIDECAR_PTY", &cfg.Supervisor.PTY)
	str("SIDECAR_ENCODING", &cfg.Supervisor.Encoding)
	boolean("SIDECAR_KILL_ON_PARENT_DEATH", &cfg.Supervisor.KillOnParentDeath)
	duration("SIDECAR_GRACE_PERIOD", &cfg.Supervisor.GracePeriod)
	duration("SIDECAR_KILL_TIMEOUT", &cfg.Supervisor.KillTimeout)
	duration("SIDECAR_DRAIN_TIMEOUT", &cfg.Supervisor.DrainTimeout)

	str("SIDECAR_LOG_LEVEL", &cfg.Log.Level)
	str("SIDECAR_LOG_FORMAT", &cfg.Log.Format)
	str("SIDECAR_JOURNAL", &cfg.Log.Journal)

	str("SIDECAR_HTTP_LISTEN", &cfg.HTTP.Listen)
	boolean("SIDECAR_DBUS", &cfg.DBus.Enabled)
	str("SIDECAR_DBUS_NAME", &cfg.DBus.Name)

	return errors.Join(errs...)
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.Path == "" && c.Backend.Name == "" {
		errs = append(errs, errors.New("backend: path or name is required"))
	}
	if c.Supervisor.GracePeriod < 0 || c.Supervisor.KillTimeout < 0 || c.Supervisor.DrainTimeout < 0 {
		errs = append(errs, errors.New("supervisor: timeouts must not be negative"))
	}
	if c.Supervisor.MaxLineBytes < 0 {
		errs = append(errs, errors.New("supervisor: max_line_bytes must not be negative"))
	}
	switch c.Log.Format {
	case "auto", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}
	switch c.Log.Journal {
	case "auto", "on", "off":
	default:
		errs = append(errs, fmt.Errorf("log: journal must be auto, on or off, got %q", c.Log.Journal))
	}
	if c.HTTP.Backlog < 0 {
		errs = append(errs, errors.New("http: backlog must not be negative"))
	}
	return errors.Join(errs...)
}

// SupervisorConfig converts to the supervisor's configuration.
func (c *Config) SupervisorConfig() supervisor.Config {
	return supervisor.Config{
		TrackChild:        c.Supervisor.Track,
		PTY:               c.Supervisor.PTY,
		Encoding:          c.Supervisor.Encoding,
		MaxLineBytes:      c.Supervisor.MaxLineBytes,
		KillOnParentDeath: c.Supervisor.KillOnParentDeath,
		Dir:               c.Backend.Dir,
		Env:               c.Backend.Env,
		GracePeriod:       c.Supervisor.GracePeriod,
		KillTimeout:       c.Supervisor.KillTimeout,
		DrainTimeout:      c.Supervisor.DrainTimeout,
	}
}

// Resolver returns how the backend executable is located.
func (c *Config) Resolver() resolve.Resolver {
	switch {
	case c.Backend.Path != "":
		return resolve.Fixed(c.Backend.Path)
	case c.Backend.Adjacent:
		return resolve.Adjacent{Dir: c.Backend.ResourceDir, Name: c.Backend.Name}
	default:
		return resolve.Bundle{
			ResourceDir: c.Backend.ResourceDir,
			Subdir:      c.Backend.Subdir,
			Name:        c.Backend.Name,
		}
	}
}
