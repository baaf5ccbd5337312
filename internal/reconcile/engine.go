// Package reconcile merges server truth into the optimistic local state:
// history pages, live messages and delivery acks all land here. The engine
// never talks to the transport; it only transforms store snapshots and
// reports noteworthy outcomes on the bus.
package reconcile

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/yagodka-im/yagodka-go/internal/bus"
	"github.com/yagodka-im/yagodka-go/internal/clock"
	"github.com/yagodka-im/yagodka-go/internal/model"
	"github.com/yagodka-im/yagodka-go/internal/store"
	"github.com/yagodka-im/yagodka-go/internal/wire"
)

// BindWindow is the widest server/local timestamp gap (seconds on both
// sides) under which a history row may claim a pending outbox entry with the
// same text. Wide enough for clock skew, narrow enough to rarely cross
// distinct messages.
const BindWindow = 12

// Engine applies server frames to the store.
type Engine struct {
	store   *store.Store
	bus     *bus.Bus
	clk     clock.Clock
	logger  *zap.Logger
	onDirty func()

	// Viewed reports the conversation currently on screen, "" when none.
	// OnViewedInbound fires for a live inbound message in that conversation
	// so the owner can issue an immediate read receipt.
	Viewed          func() model.ConvKey
	OnViewedInbound func(key model.ConvKey, upToID int64)
}

// Options configures an Engine.
type Options struct {
	Store   *store.Store
	Bus     *bus.Bus
	Clock   clock.Clock
	Logger  *zap.Logger
	OnDirty func()
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.OnDirty == nil {
		opts.OnDirty = func() {}
	}
	return &Engine{
		store:   opts.Store,
		bus:     opts.Bus,
		clk:     opts.Clock,
		logger:  opts.Logger,
		onDirty: opts.OnDirty,
	}
}

// ApplyLiveMessage upserts one live message event. Inbound DMs bump the
// unread badge unless that conversation is on screen, in which case the
// viewed hook fires instead.
func (e *Engine) ApplyLiveMessage(ev *wire.MessageEvent) {
	st := e.store.Get()
	key := liveKey(ev, st.SelfID)
	if !model.ValidKey(key) {
		return
	}
	kind := model.KindIn
	if ev.From == st.SelfID {
		kind = model.KindOut
	}
	msg := model.Message{
		Kind:       kind,
		From:       ev.From,
		To:         ev.To,
		Room:       ev.Room,
		Text:       ev.Text,
		TS:         ev.TS,
		ID:         ev.ID,
		Attachment: ev.Attachment,
		Reply:      ev.Reply,
		Forward:    ev.Forward,
		Edited:     ev.Edited,
		EditedTS:   ev.EditedTS,
	}
	if msg.TS <= 0 {
		msg.TS = e.clk.Now().Unix()
	}

	viewed := kind == model.KindIn && e.Viewed != nil && e.Viewed() == key
	e.store.Apply(func(prev store.State) store.State {
		next := prev.WithConversation(key, model.Merge(prev.Conversations[key], []model.Message{msg}))
		if kind == model.KindIn && ev.Room == "" && !viewed {
			next = next.WithUnread(ev.From, prev.Unread[ev.From]+1)
		}
		return next
	})
	e.onDirty()

	if viewed && e.OnViewedInbound != nil {
		e.OnViewedInbound(key, ev.ID)
	}
}

// ApplyDelivered binds a delivery ack to its message: by server id when the
// message is already confirmed, otherwise to the oldest pending outgoing.
// Acks arrive in send order, so oldest-first never crosses two in-flight
// sends.
func (e *Engine) ApplyDelivered(ev *wire.MessageDelivered) {
	var key model.ConvKey
	switch {
	case ev.Room != "":
		key = model.RoomKey(ev.Room)
	case ev.To != "":
		key = model.DMKey(ev.To)
	default:
		return
	}
	e.store.Apply(func(prev store.State) store.State {
		conv := prev.Conversations[key]
		if ev.ID > 0 {
			for i, m := range conv {
				if m.Kind != model.KindOut || m.ID != ev.ID {
					continue
				}
				next := append([]model.Message(nil), conv...)
				next[i].Status = model.StatusDelivered
				out := prev.WithConversation(key, next)
				if m.LocalID != "" {
					out = out.WithOutbox(model.OutboxRemove(out.Outbox, key, m.LocalID))
				}
				return out
			}
		}
		return bindOldestPending(prev, key, func(m model.Message) model.Message {
			m.ID = ev.ID
			m.Status = model.StatusDelivered
			return m
		})
	})
	e.onDirty()
}

// ApplyQueuedAck confirms the server stored a DM for an offline peer. The
// message gets its id but stays visually queued.
func (e *Engine) ApplyQueuedAck(ev *wire.MessageQueuedAck) {
	if ev.To == "" {
		return
	}
	key := model.DMKey(ev.To)
	e.store.Apply(func(prev store.State) store.State {
		return bindOldestPending(prev, key, func(m model.Message) model.Message {
			m.ID = ev.ID
			m.Status = model.StatusQueued
			return m
		})
	})
	e.onDirty()
}

// ApplyBlocked marks the oldest pending send as failed, drops it from the
// queue and records a system notice in the conversation.
func (e *Engine) ApplyBlocked(ev *wire.MessageBlocked) {
	if ev.To == "" {
		return
	}
	key := model.DMKey(ev.To)
	notice := model.Message{
		Kind: model.KindSys,
		To:   ev.To,
		Text: fmt.Sprintf("[blocked] %s", ev.Reason),
		TS:   e.clk.Now().Unix(),
	}
	e.store.Apply(func(prev store.State) store.State {
		next := bindOldestPending(prev, key, func(m model.Message) model.Message {
			m.Status = model.StatusError
			return m
		})
		next.StatusLine = "message not sent: " + ev.Reason
		return next.WithConversation(key, model.Merge(next.Conversations[key], []model.Message{notice}))
	})
	e.onDirty()
	if e.bus != nil {
		e.bus.Publish(bus.Event{Kind: bus.KindSendFailed, Payload: ev})
	}
	e.logger.Info("send blocked", zap.String("to", ev.To), zap.String("reason", ev.Reason))
}

// ApplyReadAck promotes confirmed outgoing DMs up to the peer's read
// position. UpToID zero means the peer read everything.
func (e *Engine) ApplyReadAck(ev *wire.MessageReadAck) {
	if ev.Peer == "" {
		return
	}
	key := model.DMKey(ev.Peer)
	e.store.Apply(func(prev store.State) store.State {
		conv := prev.Conversations[key]
		if len(conv) == 0 {
			return prev
		}
		var next []model.Message
		for i, m := range conv {
			if m.Kind != model.KindOut || m.ID <= 0 || m.Status == model.StatusRead {
				continue
			}
			if ev.UpToID > 0 && m.ID > ev.UpToID {
				continue
			}
			if next == nil {
				next = append([]model.Message(nil), conv...)
			}
			next[i].Status = model.StatusRead
		}
		if next == nil {
			return prev
		}
		return prev.WithConversation(key, next)
	})
}

func liveKey(ev *wire.MessageEvent, selfID string) model.ConvKey {
	if ev.Room != "" {
		return model.RoomKey(ev.Room)
	}
	peer := ev.From
	if ev.From == selfID {
		peer = ev.To
	}
	if peer == "" {
		return ""
	}
	return model.DMKey(peer)
}

// bindOldestPending updates the oldest outgoing message without a server id
// and removes its outbox entry. No-op when nothing is pending.
func bindOldestPending(st store.State, key model.ConvKey, update func(model.Message) model.Message) store.State {
	conv := st.Conversations[key]
	for i, m := range conv {
		if m.Kind != model.KindOut || m.Confirmed() {
			continue
		}
		next := append([]model.Message(nil), conv...)
		next[i] = update(m)
		out := st.WithConversation(key, next)
		if m.LocalID != "" {
			out = out.WithOutbox(model.OutboxRemove(out.Outbox, key, m.LocalID))
		}
		return out
	}
	return st
}
