package dirs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigDirPriority(t *testing.T) {
	t.Setenv("SIDECAR_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/alice")
	if got, want := ConfigDir(), filepath.Join("/home/alice", ".config", "sidecar"); got != want {
		t.Fatalf("HOME fallback: got %q, want %q", got, want)
	}

	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	if got, want := ConfigDir(), filepath.Join("/xdg/config", "sidecar"); got != want {
		t.Fatalf("XDG_CONFIG_HOME: got %q, want %q", got, want)
	}

	t.Setenv("SIDECAR_CONFIG_DIR", "/etc/sidecar")
	if got := ConfigDir(); got != "/etc/sidecar" {
		t.Fatalf("SIDECAR_CONFIG_DIR: got %q", got)
	}
	if got, want := ConfigFile(), filepath.Join("/etc/sidecar", "sidecar.toml"); got != want {
		t.Fatalf("ConfigFile: got %q, want %q", got, want)
	}
}

func TestRuntimeDirPriority(t *testing.T) {
	t.Setenv("SIDECAR_RUNTIME_DIR", "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got, want := RuntimeDir(), filepath.Join("/run/user/1000", "sidecar"); got != want {
		t.Fatalf("XDG_RUNTIME_DIR: got %q, want %q", got, want)
	}

	t.Setenv("SIDECAR_RUNTIME_DIR", "/tmp/custom")
	if got := RuntimeDir(); got != "/tmp/custom" {
		t.Fatalf("SIDECAR_RUNTIME_DIR: got %q", got)
	}
}

func TestSocketFileCreatesRuntimeDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	t.Setenv("SIDECAR_RUNTIME_DIR", dir)

	path, err := SocketFile()
	if err != nil {
		t.Fatalf("SocketFile: %v", err)
	}
	if want := filepath.Join(dir, "sidecar.sock"); path != want {
		t.Fatalf("got %q, want %q", path, want)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("runtime dir not created: %v", err)
	}
}
