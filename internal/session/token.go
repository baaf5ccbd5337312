package session

import (
	"os"
	"path/filepath"
	"strings"
)

// TokenPath returns the stored session token path for a user.
func TokenPath(userID string) string {
	return filepath.Join(Dir(userID), "token")
}

// LoadToken reads the stored session token. Returns "" when no token has
// been saved yet; the daemon then starts in AUTH_REQUIRED.
func LoadToken(userID string) string {
	data, err := os.ReadFile(TokenPath(userID))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SaveToken stores the session token. An empty token removes the file.
func SaveToken(userID, token string) error {
	if token == "" {
		err := os.Remove(TokenPath(userID))
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := EnsureDir(userID); err != nil {
		return err
	}
	return os.WriteFile(TokenPath(userID), []byte(token+"\n"), 0600)
}
