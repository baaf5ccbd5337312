package client

import (
	"errors"

	"go.uber.org/zap"

	"github.com/yagodka-im/yagodka-go/internal/bus"
	"github.com/yagodka-im/yagodka-go/internal/gateway"
	"github.com/yagodka-im/yagodka-go/internal/model"
	"github.com/yagodka-im/yagodka-go/internal/outbox"
	"github.com/yagodka-im/yagodka-go/internal/persist"
	"github.com/yagodka-im/yagodka-go/internal/status"
	"github.com/yagodka-im/yagodka-go/internal/store"
	"github.com/yagodka-im/yagodka-go/internal/wire"
)

// ConnChange is the payload of bus.KindConnStatus events.
type ConnChange struct {
	Status store.ConnStatus
	Detail string
}

func (c *Client) onConnStatus(st gateway.Status, detail string) {
	switch st {
	case gateway.StatusConnecting:
		c.store.Apply(func(prev store.State) store.State {
			prev.Conn = store.ConnConnecting
			return prev
		})
		c.publishConn(store.ConnConnecting, detail)
		if c.machine.Current() == status.Reconnecting {
			c.transition(status.Connecting)
		}
	case gateway.StatusConnected:
		c.store.Apply(func(prev store.State) store.State {
			prev.Conn = store.ConnConnected
			return prev
		})
		c.publishConn(store.ConnConnected, detail)
		c.mu.Lock()
		token := c.token
		c.mu.Unlock()
		if token == "" {
			c.transition(status.AuthRequired)
			return
		}
		c.gw.Send(wire.NewAuth(token))
	case gateway.StatusDisconnected:
		c.store.Apply(func(prev store.State) store.State {
			prev.Conn = store.ConnDisconnected
			prev.Authed = false
			return prev
		})
		c.publishConn(store.ConnDisconnected, detail)
		// Anything stuck in "sending" will never get its ack on this
		// connection; put it back so the post-auth drain retries it.
		c.queue.RequeueSending()
		c.saver.Schedule()
		c.logger.Info("gateway disconnected", zap.String("detail", detail))
		c.transition(status.Reconnecting)
	}
}

func (c *Client) publishConn(st store.ConnStatus, detail string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{Kind: bus.KindConnStatus, Payload: ConnChange{Status: st, Detail: detail}})
}

func (c *Client) onFrame(data []byte) {
	frame, err := wire.Decode(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}
	switch f := frame.(type) {
	case nil:
		// Unknown frame type; tolerated for forward compatibility.
	case *wire.AuthOK:
		c.onAuthOK(f)
	case *wire.MessageEvent:
		c.engine.ApplyLiveMessage(f)
	case *wire.MessageDelivered:
		c.engine.ApplyDelivered(f)
		c.queue.Drain(0)
	case *wire.MessageQueuedAck:
		c.engine.ApplyQueuedAck(f)
		c.queue.Drain(0)
	case *wire.MessageBlocked:
		c.engine.ApplyBlocked(f)
	case *wire.MessageReadAck:
		c.engine.ApplyReadAck(f)
	case *wire.HistoryResult:
		c.engine.ApplyHistoryPage(f)
	case *wire.PresenceEvent:
		c.store.Apply(func(prev store.State) store.State {
			return prev.WithOnline(f.ID, f.Online)
		})
		// A peer coming online can unblock when_online sends.
		if f.Online {
			c.queue.Drain(0)
		}
	case *wire.ServerError:
		c.logger.Warn("server error", zap.String("reason", f.Reason))
		c.store.Apply(func(prev store.State) store.State {
			prev.StatusLine = "server error: " + f.Reason
			return prev
		})
		if c.bus != nil {
			c.bus.Publish(bus.Event{Kind: bus.KindNotice, Payload: f.Reason})
		}
	default:
		c.logger.Debug("unhandled frame", zap.Any("frame", f))
	}
}

func (c *Client) onAuthOK(f *wire.AuthOK) {
	c.transition(status.Syncing)
	c.hydrate(f.UserID)
	c.store.Apply(func(prev store.State) store.State {
		prev.SelfID = f.UserID
		prev.Authed = true
		prev.StatusLine = ""
		return prev
	})
	c.queue.Drain(0)
	c.transition(status.Ready)
}

// hydrate folds persisted snapshots under live state the first time a user
// authenticates in this process. Live state wins on conflict; restarts start
// from an empty store so in practice the snapshot is the whole picture.
func (c *Client) hydrate(selfID string) {
	c.mu.Lock()
	done := c.hydrated
	c.hydrated = true
	c.mu.Unlock()
	if done || c.persist == nil {
		return
	}

	snap := c.persist.LoadOutbox()
	drafts := c.persist.LoadDrafts()
	cache := c.persist.LoadHistory()
	lastRead := c.persist.LoadLastRead()

	c.store.Apply(func(prev store.State) store.State {
		next := prev
		next.Outbox = outbox.MergeSnapshot(prev.Outbox, snap)

		convs := make(map[model.ConvKey][]model.Message, len(prev.Conversations)+len(cache.Conversations))
		for k, v := range prev.Conversations {
			convs[k] = v
		}
		for key, msgs := range cache.Conversations {
			convs[key] = model.Merge(convs[key], msgs)
		}
		convs, _ = outbox.FillConversations(selfID, convs, next.Outbox)
		next.Conversations = convs

		hist := make(map[model.ConvKey]model.HistoryState, len(prev.History)+len(cache.Paging))
		for k, v := range prev.History {
			hist[k] = v
		}
		for key, h := range cache.Paging {
			if _, live := hist[key]; !live {
				h.Loading = false
				hist[key] = h
			}
		}
		next.History = hist

		marks := make(map[model.ConvKey]model.ReadMarker, len(prev.LastRead)+len(lastRead))
		for k, v := range prev.LastRead {
			marks[k] = v
		}
		for key, m := range lastRead {
			merged, _ := marks[key].Advance(m)
			marks[key] = merged
		}
		next.LastRead = marks

		merged := make(map[model.ConvKey]string, len(prev.Drafts)+len(drafts))
		for k, v := range drafts {
			merged[k] = v
		}
		for k, v := range prev.Drafts {
			merged[k] = v
		}
		next.Drafts = merged
		return next
	})
	c.logger.Info("hydrated persisted state",
		zap.String("user", selfID),
		zap.Int("outbox_conversations", len(snap)),
		zap.Int("cached_conversations", len(cache.Conversations)))
}

// flushState writes the persistable slice of the store. Runs on the saver's
// debounce timer and on synchronous flushes.
func (c *Client) flushState() error {
	if c.persist == nil {
		return nil
	}
	st := c.store.Get()
	return errors.Join(
		c.persist.SaveOutbox(st.Outbox),
		c.persist.SaveDrafts(st.Drafts),
		c.persist.SaveHistory(persist.HistoryCache{
			Conversations: st.Conversations,
			Paging:        st.History,
		}),
		c.persist.SaveLastRead(st.LastRead),
	)
}
