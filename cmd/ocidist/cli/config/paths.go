// Package config locates the ocidist CLI's configuration directory.
package config

import (
	"os"
	"path/filepath"
)

// Dir returns the ocidist config directory: XDG_CONFIG_HOME/ocidist,
// defaulting to ~/.config/ocidist.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "ocidist"), nil
}
