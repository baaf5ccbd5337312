// Package outbox owns the outbound message queue: optimistic enqueue,
// connection-aware draining with retry throttling, scheduled sends and
// snapshot hydration after restart. Messages leave the queue only when the
// server confirms them; the queue itself never decides a send failed.
package outbox

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yagodka-im/yagodka-go/internal/clock"
	"github.com/yagodka-im/yagodka-go/internal/model"
	"github.com/yagodka-im/yagodka-go/internal/store"
	"github.com/yagodka-im/yagodka-go/internal/wire"
)

// Queue tuning. A retry sooner than RetryMin after the last attempt is
// skipped; ScheduleGrace sends an almost-due scheduled message immediately
// instead of arming a timer for a few hundred milliseconds.
const (
	DrainMax      = 12
	RetryMin      = 900 * time.Millisecond
	ScheduleGrace = 1200 * time.Millisecond
)

// Mode selects when an enqueued message should go out.
type Mode string

const (
	ModeNow        Mode = "now"
	ModeWhenOnline Mode = "when_online"
	ModeSchedule   Mode = "schedule"
)

// SendOpts modify one Enqueue call.
type SendOpts struct {
	Mode       Mode
	ScheduleAt int64 // unix milliseconds, ModeSchedule only
	Silent     bool
	Reply      *model.MessageRef
	Forward    *model.MessageRef
}

var (
	ErrEmptyText   = errors.New("outbox: empty text")
	ErrNotAuthed   = errors.New("outbox: not authenticated")
	ErrBadTarget   = errors.New("outbox: invalid conversation key")
	ErrBadSchedule = errors.New("outbox: schedule time must be in the future")
)

// TextTooLongError reports a message over the protocol limit.
type TextTooLongError struct {
	Len, Max int
}

func (e *TextTooLongError) Error() string {
	return fmt.Sprintf("outbox: message too long (%d/%d)", e.Len, e.Max)
}

// Queue drives the outbound queue against the shared state store. Safe for
// concurrent use.
type Queue struct {
	store    *store.Store
	send     func(v any) bool
	clk      clock.Clock
	onDirty  func()
	logger   *zap.Logger
	drainMax int
	retryMin time.Duration

	mu         sync.Mutex
	wakeTimer  clock.Timer
	wakeAt     int64 // unix ms
	disposed   bool
}

// Options configures a Queue.
type Options struct {
	Store   *store.Store
	Send    func(v any) bool
	Clock   clock.Clock
	OnDirty func() // called after every queue mutation worth persisting
	Logger  *zap.Logger

	DrainMax int
	RetryMin time.Duration
}

// New creates a queue. Drain must be called by the owner on connect, on
// server acks and after Enqueue; the queue arms its own timers only for
// scheduled sends and retry throttling.
func New(opts Options) *Queue {
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.OnDirty == nil {
		opts.OnDirty = func() {}
	}
	if opts.DrainMax <= 0 {
		opts.DrainMax = DrainMax
	}
	if opts.RetryMin <= 0 {
		opts.RetryMin = RetryMin
	}
	return &Queue{
		store:    opts.Store,
		send:     opts.Send,
		clk:      opts.Clock,
		onDirty:  opts.OnDirty,
		logger:   opts.Logger,
		drainMax: opts.DrainMax,
		retryMin: opts.RetryMin,
	}
}

// Enqueue appends an outgoing message: an optimistic conversation entry plus
// a queue entry, then one immediate send attempt when the mode and the
// connection allow it. Returns the local id that later binds server acks.
func (q *Queue) Enqueue(key model.ConvKey, text string, opts SendOpts) (string, error) {
	if !model.ValidKey(key) {
		return "", ErrBadTarget
	}
	text = trimTrailing(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if len(text) > model.OutboxTextMax {
		return "", &TextTooLongError{Len: len(text), Max: model.OutboxTextMax}
	}

	st := q.store.Get()
	if !st.Authed || st.SelfID == "" {
		return "", ErrNotAuthed
	}

	whenOnline := opts.Mode == ModeWhenOnline && model.IsDMKey(key)
	scheduled := opts.Mode == ModeSchedule
	if scheduled && opts.ScheduleAt <= 0 {
		return "", ErrBadSchedule
	}

	localID := uuid.NewString()
	now := q.clk.Now()
	ts := now.Unix()
	nowMS := now.UnixMilli()
	target, _ := model.KeyTarget(key)

	frame := wire.SendText{Type: "send", Text: text, Silent: opts.Silent,
		Reply: opts.Reply, Forward: opts.Forward}
	if model.IsDMKey(key) {
		frame.To = target
	} else {
		frame.Room = target
	}

	entry := model.OutboxEntry{
		LocalID:    localID,
		Text:       text,
		TS:         ts,
		Status:     model.StatusQueued,
		WhenOnline: whenOnline,
		Silent:     opts.Silent,
	}
	if scheduled {
		entry.ScheduleAt = opts.ScheduleAt
	}
	msg := model.Message{
		Kind:    model.KindOut,
		From:    st.SelfID,
		Text:    text,
		TS:      ts,
		LocalID: localID,
		Status:  model.StatusQueued,
		Reply:   opts.Reply,
		Forward: opts.Forward,
	}
	if model.IsDMKey(key) {
		entry.To = target
		msg.To = target
	} else {
		entry.Room = target
		msg.Room = target
	}

	// The optimistic entry goes into the store before the frame goes out:
	// the server's ack can race the send call on the read pump, and it must
	// find a pending entry to bind to.
	q.store.Apply(func(prev store.State) store.State {
		next := prev.WithConversation(key, model.Merge(prev.Conversations[key], []model.Message{msg}))
		return next.WithOutbox(model.OutboxAdd(prev.Outbox, key, entry))
	})
	q.onDirty()

	if st.Conn == store.ConnConnected && !whenOnline && !scheduled && q.send(frame) {
		q.store.Apply(func(prev store.State) store.State {
			if !outboxHas(prev.Outbox, key, localID) {
				// Acked before we got here; the entry is gone and the
				// message already carries its server status.
				return prev
			}
			next := prev.WithOutbox(model.OutboxUpdate(prev.Outbox, key, localID,
				func(e model.OutboxEntry) model.OutboxEntry {
					e.Status = model.StatusSending
					e.Attempts = 1
					e.LastAttemptAt = nowMS
					return e
				}))
			return markConversationSending(next, key, localID)
		})
		q.onDirty()
	}

	if scheduled || whenOnline {
		// Drain arms the schedule timer / checks presence.
		q.Drain(0)
	}
	return localID, nil
}

type drainItem struct {
	key   model.ConvKey
	entry model.OutboxEntry
}

// Drain sends up to limit (0 means the default cap) eligible queue entries
// in creation order. Entries are skipped, not dropped, when their retry
// window has not elapsed, their schedule time is ahead or their peer must be
// online first; a wake timer covers the time-based skips.
func (q *Queue) Drain(limit int) {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	if limit <= 0 {
		limit = q.drainMax
	}

	st := q.store.Get()
	if len(st.Outbox) == 0 {
		q.clearWake()
		return
	}

	nowMS := q.clk.Now().UnixMilli()
	graceMS := ScheduleGrace.Milliseconds()
	var flat []drainItem
	var wakeAt int64
	trackWake := func(at int64) {
		if wakeAt == 0 || at < wakeAt {
			wakeAt = at
		}
	}
	for key, list := range st.Outbox {
		for _, e := range list {
			if e.LocalID == "" || e.Text == "" || e.Status == model.StatusSent {
				continue
			}
			if e.To == "" && e.Room == "" {
				continue
			}
			if e.ScheduleAt > 0 && e.ScheduleAt > nowMS+graceMS {
				trackWake(e.ScheduleAt)
				continue
			}
			flat = append(flat, drainItem{key, e})
		}
	}

	if len(flat) == 0 {
		q.armWake(wakeAt)
		return
	}
	if st.Conn != store.ConnConnected || !st.Authed || st.SelfID == "" {
		q.armWake(wakeAt)
		return
	}

	sort.SliceStable(flat, func(i, j int) bool { return flat[i].entry.TS < flat[j].entry.TS })

	retryMS := q.retryMin.Milliseconds()
	var sent []drainItem
	for _, it := range flat {
		if len(sent) >= limit {
			break
		}
		e := it.entry
		if e.LastAttemptAt > 0 && nowMS-e.LastAttemptAt < retryMS {
			trackWake(e.LastAttemptAt + retryMS)
			continue
		}
		if e.WhenOnline && e.To != "" && !st.Online[e.To] {
			continue
		}
		var frame wire.SendText
		if e.To != "" {
			frame = wire.NewSendDM(e.To, e.Text, e.Silent)
		} else {
			frame = wire.NewSendRoom(e.Room, e.Text, e.Silent)
		}
		if !q.send(frame) {
			break
		}
		sent = append(sent, it)
	}
	q.armWake(wakeAt)
	if len(sent) == 0 {
		return
	}

	q.logger.Debug("outbox drained", zap.Int("sent", len(sent)))
	q.store.Apply(func(prev store.State) store.State {
		next := prev
		for _, s := range sent {
			if !outboxHas(next.Outbox, s.key, s.entry.LocalID) {
				// Acked while this batch was going out; do not clobber the
				// server status with "sending".
				continue
			}
			next = next.WithOutbox(model.OutboxUpdate(next.Outbox, s.key, s.entry.LocalID,
				func(e model.OutboxEntry) model.OutboxEntry {
					e.Status = model.StatusSending
					e.Attempts++
					e.LastAttemptAt = nowMS
					return e
				}))
			next = markConversationSending(next, s.key, s.entry.LocalID)
		}
		next.StatusLine = "sending queued messages"
		return next
	})
	q.onDirty()
}

// RequeueSending flips every in-flight entry back to queued. Called on
// disconnect: an unacked send is indistinguishable from a lost one, and
// resending beats dropping.
func (q *Queue) RequeueSending() {
	changed := false
	q.store.Apply(func(prev store.State) store.State {
		next := prev
		for key, list := range prev.Outbox {
			for _, e := range list {
				if e.Status != model.StatusSending {
					continue
				}
				changed = true
				next = next.WithOutbox(model.OutboxUpdate(next.Outbox, key, e.LocalID,
					func(e model.OutboxEntry) model.OutboxEntry {
						e.Status = model.StatusQueued
						return e
					}))
			}
		}
		return next
	})
	if changed {
		q.onDirty()
	}
}

// Dispose stops the wake timer. A disposed queue ignores further Drain
// calls.
func (q *Queue) Dispose() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.disposed = true
	if q.wakeTimer != nil {
		q.wakeTimer.Stop()
		q.wakeTimer = nil
	}
	q.wakeAt = 0
}

func (q *Queue) armWake(at int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return
	}
	if at <= 0 {
		q.clearWakeLocked()
		return
	}
	if q.wakeTimer != nil && q.wakeAt == at {
		return
	}
	q.clearWakeLocked()
	q.wakeAt = at
	delay := time.Duration(at-q.clk.Now().UnixMilli()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	q.wakeTimer = q.clk.AfterFunc(delay, func() {
		q.mu.Lock()
		q.wakeTimer = nil
		q.wakeAt = 0
		q.mu.Unlock()
		q.Drain(0)
	})
}

func (q *Queue) clearWake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearWakeLocked()
}

func (q *Queue) clearWakeLocked() {
	if q.wakeTimer != nil {
		q.wakeTimer.Stop()
		q.wakeTimer = nil
	}
	q.wakeAt = 0
}

func outboxHas(m model.OutboxMap, key model.ConvKey, localID string) bool {
	for _, e := range m[key] {
		if e.LocalID == localID {
			return true
		}
	}
	return false
}

func markConversationSending(st store.State, key model.ConvKey, localID string) store.State {
	conv := st.Conversations[key]
	for i, m := range conv {
		if m.Kind == model.KindOut && m.LocalID == localID {
			next := append([]model.Message(nil), conv...)
			next[i].Status = model.StatusSending
			return st.WithConversation(key, next)
		}
	}
	return st
}

func trimTrailing(s string) string {
	for len(s) > 0 {
		switch s[len(s)-1] {
		case ' ', '\t', '\n', '\r':
			s = s[:len(s)-1]
		default:
			return s
		}
	}
	return s
}
