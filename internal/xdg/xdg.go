// ABOUTME: XDG base directory lookup for the rpcd config file and pid file
// ABOUTME: Expands $XDG_* prefixes and ~ in configured paths with HOME fallback

package xdg

import (
	"os"
	"path/filepath"
	"strings"
)

// AppName is the directory name used under every XDG base.
const AppName = "rpcd"

// PIDFileName is the default pid file name inside RuntimeDir.
const PIDFileName = "rpcd.pid"

type base struct {
	env      string
	fallback []string
}

var (
	configBase  = base{env: "XDG_CONFIG_HOME", fallback: []string{".config"}}
	dataBase    = base{env: "XDG_DATA_HOME", fallback: []string{".local", "share"}}
	cacheBase   = base{env: "XDG_CACHE_HOME", fallback: []string{".cache"}}
	runtimeBase = base{env: "XDG_RUNTIME_DIR", fallback: []string{".local", "state"}}
)

func (b base) dir() string {
	if v := os.Getenv(b.env); v != "" {
		return v
	}
	return filepath.Join(append([]string{getHome()}, b.fallback...)...)
}

// ConfigHome returns ~/.config/rpcd or respects XDG_CONFIG_HOME.
func ConfigHome() string {
	return filepath.Join(configBase.dir(), AppName)
}

// RuntimeDir returns $XDG_RUNTIME_DIR/rpcd. Without XDG_RUNTIME_DIR it
// falls back to ~/.local/state/rpcd.
func RuntimeDir() string {
	return filepath.Join(runtimeBase.dir(), AppName)
}

// PIDFile is the default liveness file path.
func PIDFile() string {
	return filepath.Join(RuntimeDir(), PIDFileName)
}

// DefaultConfigFile is config.yaml inside ConfigHome.
func DefaultConfigFile() string {
	return filepath.Join(ConfigHome(), "config.yaml")
}

// ExpandPath expands a leading ~/ or $XDG_* variable. Only the generic base
// is substituted, never the rpcd subdirectory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(getHome(), path[2:])
	}
	for _, b := range []base{dataBase, configBase, cacheBase, runtimeBase} {
		prefix := "$" + b.env
		if strings.HasPrefix(path, prefix) {
			return strings.Replace(path, prefix, b.dir(), 1)
		}
	}
	return path
}

// getHome returns HOME, then the working directory, then ".".
func getHome() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}
