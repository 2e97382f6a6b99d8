// Package dirs provides standard directory resolution for sidecar.
// It handles XDG base directories with appropriate fallbacks for
// platforms where XDG isn't fully supported (e.g., macOS).
package dirs

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
)

const appName = "sidecar"

// ConfigFileName is the name of the configuration file inside ConfigDir.
const ConfigFileName = "sidecar.toml"

// ConfigDir returns the directory holding the configuration file.
// Priority: $SIDECAR_CONFIG_DIR > $XDG_CONFIG_HOME/sidecar > ~/.config/sidecar
func ConfigDir() string {
	if v := os.Getenv("SIDECAR_CONFIG_DIR"); v != "" {
		return v
	}
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, appName)
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", appName)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(os.TempDir(), appName+"-config")
}

// ConfigFile returns the default configuration file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), ConfigFileName)
}

// SocketFileName is the name of the default HTTP socket inside RuntimeDir.
const SocketFileName = "sidecar.sock"

// RuntimeDir returns the directory for the host's sockets.
// Priority: $SIDECAR_RUNTIME_DIR > $XDG_RUNTIME_DIR/sidecar >
// /run/user/<uid>/sidecar (or the platform's equivalent) > $TMPDIR/sidecar-<user>
func RuntimeDir() string {
	if v := os.Getenv("SIDECAR_RUNTIME_DIR"); v != "" {
		return v
	}
	if base := os.Getenv("XDG_RUNTIME_DIR"); base != "" {
		return filepath.Join(base, appName)
	}

	u, err := user.Current()
	if err != nil {
		return filepath.Join(os.TempDir(), appName)
	}
	for _, base := range userRuntimeBases(u) {
		if info, err := os.Stat(base); err == nil && info.IsDir() {
			return filepath.Join(base, appName)
		}
	}
	// Windows user names carry the domain.
	name := strings.ReplaceAll(u.Username, `\`, "_")
	return filepath.Join(os.TempDir(), appName+"-"+name)
}

func userRuntimeBases(u *user.User) []string {
	switch runtime.GOOS {
	case "windows", "darwin":
		return nil
	case "freebsd":
		return []string{
			filepath.Join("/var/run/xdg", u.Username),
			filepath.Join("/var/run/user", u.Uid),
		}
	}
	return []string{
		filepath.Join("/run/user", u.Uid),
		filepath.Join("/var/run/user", u.Uid),
	}
}

// SocketFile returns the default unix socket path, creating RuntimeDir if
// needed.
func SocketFile() (string, error) {
	dir := RuntimeDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, SocketFileName), nil
}
