// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/tphakala/gordon-go/internal/errors"
)

const osWindows = "windows"

// GetDefaultConfigPaths returns the config search paths for the current OS.
// If one of them already holds a config.yaml, only that path is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			filepath.Join(homeDir, "AppData", "Roaming", "gordon-go"),
			".",
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "gordon-go"),
			".",
			"/etc/gordon-go",
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}

// ResolveBinary returns the absolute path of a configured tool, searching PATH
// when only a name is given.
func ResolveBinary(configured, fallback string) (string, error) {
	name := configured
	if name == "" {
		name = fallback
	}
	if runtime.GOOS == osWindows && filepath.Ext(name) == "" {
		name += ".exe"
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("binary", name).
			Build()
	}
	return path, nil
}
