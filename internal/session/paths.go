// Package session resolves per-user on-disk locations and user id rules.
package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.yagodka.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".yagodka")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Dir returns the user-specific state directory.
func Dir(userID string) string {
	return filepath.Join(BaseDir(), "users", userID)
}

// StateDBPath returns the persisted-state database path for a user.
func StateDBPath(userID string) string {
	return filepath.Join(Dir(userID), "state.db")
}

// LogPath returns the daemon log path for a user.
func LogPath(userID string) string {
	return filepath.Join(Dir(userID), "yagodkad.log")
}

// LockPath returns the lock file path for a user.
func LockPath(userID string) string {
	return filepath.Join(Dir(userID), "LOCK")
}

// EnsureDir creates the user state directory.
func EnsureDir(userID string) error {
	return os.MkdirAll(Dir(userID), 0700)
}
