package daemon

import (
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/yagodka-im/yagodka-go/internal/bus"
	"github.com/yagodka-im/yagodka-go/internal/client"
	"github.com/yagodka-im/yagodka-go/internal/lock"
	"github.com/yagodka-im/yagodka-go/internal/persist"
	"github.com/yagodka-im/yagodka-go/internal/store"
)

// Composes the daemon's pieces by hand, the way the fx providers do, and
// checks the lifecycle invariants that do not need a gateway connection.
func TestDaemonComposition(t *testing.T) {
	userDir := t.TempDir()

	lk, err := lock.Acquire(userDir)
	if err != nil {
		t.Fatalf("acquire lock: %v", err)
	}

	// A second daemon for the same user must be refused.
	if _, err := lock.Acquire(userDir); err == nil {
		t.Fatal("second acquire succeeded, want HeldError")
	} else {
		var held *lock.HeldError
		if !errors.As(err, &held) {
			t.Fatalf("want HeldError, got %v", err)
		}
	}

	db, err := persist.Open(filepath.Join(userDir, "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pg := persist.NewGateway(db, "test", zap.NewNop())

	b := bus.New()
	c := client.New(client.Options{
		URL:     "ws://127.0.0.1:1/ws",
		Token:   "tok",
		Bus:     b,
		Store:   store.New(b),
		Persist: pg,
		Logger:  zap.NewNop(),
	})

	// Shutdown order mirrors registerLifecycle.
	c.Dispose()
	if err := db.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}
	if err := lk.Release(); err != nil {
		t.Fatalf("release lock: %v", err)
	}

	// After release the user dir is free for the next daemon.
	lk2, err := lock.Acquire(userDir)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	_ = lk2.Release()
}
