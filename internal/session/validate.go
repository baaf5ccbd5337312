package session

import (
	"fmt"
	"regexp"

	"github.com/yagodka-im/yagodka-go/internal/config"
)

var userIDRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateUserID checks that id is safe to use as a directory name and wire
// identifier.
func ValidateUserID(id string) error {
	if !userIDRegexp.MatchString(id) {
		return fmt.Errorf("invalid user id %q: must match ^[a-z0-9_-]{1,64}$", id)
	}
	return nil
}

// Resolve determines the active user id using precedence:
// 1. flagOverride (--user flag)
// 2. config.toml default_user
// 3. "" (caller must fail)
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultUser != "" {
		return cfg.DefaultUser
	}
	return ""
}
