package persist

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yagodka-im/yagodka-go/internal/clock"
)

// DefaultSaveDelay batches bursts of state churn (a history page merge
// touches outbox, markers and the cache at once) into one write.
const DefaultSaveDelay = 420 * time.Millisecond

// Saver debounces snapshot writes. Schedule arms a trailing timer and every
// further Schedule pushes it out; Flush writes immediately and disarms.
type Saver struct {
	flush  func() error
	clk    clock.Clock
	delay  time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	timer  clock.Timer
	dirty  bool
	closed bool
}

// NewSaver wraps flush, which must write the current snapshot when called.
func NewSaver(flush func() error, clk clock.Clock, logger *zap.Logger) *Saver {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{flush: flush, clk: clk, delay: DefaultSaveDelay, logger: logger}
}

// Schedule requests a write after the debounce delay. Calls made while the
// timer is armed push the deadline out instead of stacking writes.
func (s *Saver) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.dirty = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clk.AfterFunc(s.delay, s.fire)
}

func (s *Saver) fire() {
	s.mu.Lock()
	if s.closed || !s.dirty {
		s.mu.Unlock()
		return
	}
	s.dirty = false
	s.timer = nil
	s.mu.Unlock()
	if err := s.flush(); err != nil {
		s.logger.Warn("debounced state save failed", zap.Error(err))
	}
}

// Flush writes synchronously and disarms any pending timer. Used on logout
// and shutdown, where losing the last burst is not acceptable.
func (s *Saver) Flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.dirty = false
	s.mu.Unlock()
	return s.flush()
}

// Close disarms the saver. Pending changes are dropped; call Flush first
// when they matter.
func (s *Saver) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
