package session

import (
	"strings"
	"testing"
)

func TestValidateUserID(t *testing.T) {
	valid := []string{"alice", "bob-2", "under_score", "a", strings.Repeat("x", 64)}
	for _, id := range valid {
		if err := ValidateUserID(id); err != nil {
			t.Errorf("ValidateUserID(%q) = %v, want nil", id, err)
		}
	}
	invalid := []string{"", "Alice", "sp ace", "dot.dot", "../evil", strings.Repeat("x", 65)}
	for _, id := range invalid {
		if err := ValidateUserID(id); err == nil {
			t.Errorf("ValidateUserID(%q) = nil, want error", id)
		}
	}
}

func TestPathsAreUserScoped(t *testing.T) {
	a := StateDBPath("alice")
	b := StateDBPath("bob")
	if a == b {
		t.Error("state DB paths must differ per user")
	}
	if !strings.HasSuffix(a, "state.db") {
		t.Errorf("unexpected path %q", a)
	}
	if !strings.Contains(LogPath("alice"), "alice") {
		t.Errorf("log path not user scoped: %q", LogPath("alice"))
	}
}
