// Package resolve locates the backend executable shipped with the host.
package resolve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ErrNotExecutable is returned by Validate for files without an execute bit.
var ErrNotExecutable = errors.New("not executable")

// Resolver returns a validated absolute path to the backend executable.
type Resolver interface {
	Resolve() (string, error)
}

// ExecutableName returns name with the platform's executable suffix.
func ExecutableName(name, goos string) string {
	if goos == "windows" && filepath.Ext(name) != ".exe" {
		return name + ".exe"
	}
	return name
}

// Validate checks that path is absolute, exists, is a regular file and, on
// unix, has an execute bit set.
func Validate(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("backend path %q is not absolute", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("backend path %q is not a regular file", path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("backend path %q: %w", path, ErrNotExecutable)
	}
	return nil
}

// Fixed resolves to an explicitly configured path.
type Fixed string

func (f Fixed) Resolve() (string, error) {
	path, err := filepath.Abs(string(f))
	if err != nil {
		return "", err
	}
	if err := Validate(path); err != nil {
		return "", err
	}
	return path, nil
}

// Bundle resolves <ResourceDir>/<Subdir>/<Name>, the layout of a backend
// shipped as an application resource.
type Bundle struct {
	ResourceDir string // empty means DefaultResourceDir()
	Subdir      string
	Name        string
}

func (b Bundle) Resolve() (string, error) {
	dir := b.ResourceDir
	if dir == "" {
		var err error
		if dir, err = DefaultResourceDir(); err != nil {
			return "", err
		}
	}
	path, err := filepath.Abs(filepath.Join(dir, b.Subdir, ExecutableName(b.Name, runtime.GOOS)))
	if err != nil {
		return "", err
	}
	if err := Validate(path); err != nil {
		return "", fmt.Errorf("resolving bundled backend: %w", err)
	}
	return path, nil
}

// Adjacent resolves a sidecar binary placed next to the host executable. A
// target-qualified name (<Name>-<GOOS>-<GOARCH>) is preferred over the plain
// name so one directory can hold builds for several platforms.
type Adjacent struct {
	Dir  string // empty means the host executable's directory
	Name string
}

func (a Adjacent) Resolve() (string, error) {
	dir := a.Dir
	if dir == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locating host executable: %w", err)
		}
		dir = filepath.Dir(exe)
	}

	candidates := []string{
		ExecutableName(fmt.Sprintf("%s-%s-%s", a.Name, runtime.GOOS, runtime.GOARCH), runtime.GOOS),
		ExecutableName(a.Name, runtime.GOOS),
	}
	var firstErr error
	for _, name := range candidates {
		path, err := filepath.Abs(filepath.Join(dir, name))
		if err != nil {
			return "", err
		}
		err = Validate(path)
		if err == nil {
			return path, nil
		}
		if firstErr == nil || !errors.Is(err, os.ErrNotExist) {
			firstErr = err
		}
	}
	return "", fmt.Errorf("resolving sidecar backend: %w", firstErr)
}

// DefaultResourceDir returns where bundled resources live: the host
// executable's directory, or Contents/Resources inside a macOS app bundle.
func DefaultResourceDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating host executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	dir := filepath.Dir(exe)
	if runtime.GOOS == "darwin" && filepath.Base(dir) == "MacOS" {
		return filepath.Join(filepath.Dir(dir), "Resources"), nil
	}
	return dir, nil
}
