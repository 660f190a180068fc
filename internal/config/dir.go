package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// configDirName is a directory in the user's config directory where herald configuration is stored
	configDirName string = "herald"
)

func MustHeraldConfigDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		panic(fmt.Errorf("cannot obtain user config dir: %w", err))
	}

	heraldConfigDir := filepath.Join(configDir, configDirName)
	return heraldConfigDir
}

// MustHeraldDataDir returns the directory where mapping and preference
// records are stored, honoring XDG_DATA_HOME.
func MustHeraldDataDir() string {
	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, "herald")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("cannot obtain user home dir: %w", err))
	}
	return filepath.Join(homeDir, ".local", "share", "herald")
}
