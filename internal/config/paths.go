package config

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.educhat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".educhat")
}

// ProfileDir returns the profile-specific directory.
func ProfileDir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(ProfileDir(name), "LOCK")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(ProfileDir(name), "logs")
}

// LogPath returns the client log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "educhat.log")
}

// Path returns the global config file path.
func Path() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureProfileDir creates the profile directory tree with proper permissions.
func EnsureProfileDir(name string) error {
	dirs := []string{
		ProfileDir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
