// Package client assembles the sync core: one Client owns the gateway
// connection, the state store, the outbound queue, the reconciliation
// engine, read receipts and persistence, and exposes the operations an
// embedding frontend calls.
package client

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yagodka-im/yagodka-go/internal/bus"
	"github.com/yagodka-im/yagodka-go/internal/clock"
	"github.com/yagodka-im/yagodka-go/internal/gateway"
	"github.com/yagodka-im/yagodka-go/internal/model"
	"github.com/yagodka-im/yagodka-go/internal/outbox"
	"github.com/yagodka-im/yagodka-go/internal/persist"
	"github.com/yagodka-im/yagodka-go/internal/readmark"
	"github.com/yagodka-im/yagodka-go/internal/reconcile"
	"github.com/yagodka-im/yagodka-go/internal/status"
	"github.com/yagodka-im/yagodka-go/internal/store"
	"github.com/yagodka-im/yagodka-go/internal/wire"
)

// HistoryPageSize is the row limit for history paging requests.
const HistoryPageSize = 200

// Options configures a Client.
type Options struct {
	URL   string
	Token string

	Bus     *bus.Bus
	Store   *store.Store
	Persist *persist.Gateway
	Logger  *zap.Logger
	Clock   clock.Clock

	// Connection and queue tuning; zero values use the package defaults.
	Backoff      gateway.Backoff
	Heartbeat    time.Duration
	BackoffFloor time.Duration
	DrainMax     int
	OutboxRetry  time.Duration

	// Test seams; production leaves them nil.
	Dialer gateway.Dialer
	NetMon gateway.NetMonitor
}

// Client is the engine instance for one user session.
type Client struct {
	bus     *bus.Bus
	store   *store.Store
	persist *persist.Gateway
	logger  *zap.Logger
	clk     clock.Clock

	gw      *gateway.Manager
	queue   *outbox.Queue
	engine  *reconcile.Engine
	tracker *readmark.Tracker
	saver   *persist.Saver
	machine *status.Machine

	mu       sync.Mutex
	token    string
	viewed   model.ConvKey
	hydrated bool
	disposed bool
}

// New wires a client. Connect starts it.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Store == nil {
		opts.Store = store.New(opts.Bus)
	}
	c := &Client{
		bus:     opts.Bus,
		store:   opts.Store,
		persist: opts.Persist,
		logger:  opts.Logger,
		clk:     opts.Clock,
		token:   opts.Token,
		machine: status.NewMachine(opts.Bus),
	}
	c.saver = persist.NewSaver(c.flushState, opts.Clock, opts.Logger)
	c.gw = gateway.New(gateway.Options{
		URL:       opts.URL,
		Dialer:    opts.Dialer,
		NetMon:    opts.NetMon,
		Clock:     opts.Clock,
		Logger:    opts.Logger,
		OnFrame:   c.onFrame,
		OnStatus:  c.onConnStatus,
		Backoff:   opts.Backoff,
		Heartbeat: opts.Heartbeat,
		Floor:     opts.BackoffFloor,
	})
	c.queue = outbox.New(outbox.Options{
		Store:    opts.Store,
		Send:     c.gw.Send,
		Clock:    opts.Clock,
		OnDirty:  c.saver.Schedule,
		Logger:   opts.Logger,
		DrainMax: opts.DrainMax,
		RetryMin: opts.OutboxRetry,
	})
	c.engine = reconcile.New(reconcile.Options{
		Store:   opts.Store,
		Bus:     opts.Bus,
		Clock:   opts.Clock,
		Logger:  opts.Logger,
		OnDirty: c.saver.Schedule,
	})
	c.tracker = readmark.New(opts.Store, c.gw.Send, opts.Clock, c.saver.Schedule)
	c.engine.Viewed = c.ViewedConversation
	c.engine.OnViewedInbound = func(key model.ConvKey, upToID int64) {
		target, isRoom := model.KeyTarget(key)
		if isRoom {
			c.tracker.MarkRoomRead(target, upToID)
			return
		}
		c.tracker.MarkRead(target, upToID)
	}
	return c
}

// Connect starts the session: dial, then authenticate on open.
func (c *Client) Connect() {
	c.transition(status.Connecting)
	c.gw.Connect()
}

// Status returns the current lifecycle state.
func (c *Client) Status() status.State {
	return c.machine.Current()
}

// State returns the current store snapshot.
func (c *Client) State() store.State {
	return c.store.Get()
}

// SendText enqueues a message to a conversation.
func (c *Client) SendText(key model.ConvKey, text string, opts outbox.SendOpts) (string, error) {
	localID, err := c.queue.Enqueue(key, text, opts)
	if err != nil {
		return "", err
	}
	return localID, nil
}

// RequestHistory asks for one page older than beforeID (0 for the newest
// page). Duplicate requests while a page is in flight are dropped.
func (c *Client) RequestHistory(key model.ConvKey, beforeID int64) {
	if !model.ValidKey(key) {
		return
	}
	st := c.store.Get()
	if st.Conn != store.ConnConnected || !st.Authed {
		return
	}
	if st.History[key].Loading {
		return
	}
	if beforeID > 0 && st.History[key].Loaded && !st.History[key].HasMore {
		return
	}

	target, isRoom := model.KeyTarget(key)
	var frame wire.HistoryRequest
	if isRoom {
		frame = wire.NewHistoryRequest("", target, beforeID, HistoryPageSize)
	} else {
		frame = wire.NewHistoryRequest(target, "", beforeID, HistoryPageSize)
	}

	c.store.Apply(func(prev store.State) store.State {
		h := prev.History[key]
		h.Loading = true
		return prev.WithHistory(key, h)
	})
	if !c.gw.Send(frame) {
		c.store.Apply(func(prev store.State) store.State {
			h := prev.History[key]
			h.Loading = false
			return prev.WithHistory(key, h)
		})
	}
}

// SetViewedConversation marks a conversation as on screen. Viewing a DM
// issues an immediate read receipt for its newest inbound message; viewing
// a room advances the local marker to its newest confirmed message and
// reports it. Passing "" clears the viewed conversation.
func (c *Client) SetViewedConversation(key model.ConvKey) {
	c.mu.Lock()
	c.viewed = key
	c.mu.Unlock()
	if key == "" || !model.ValidKey(key) {
		return
	}
	conv := c.store.Get().Conversations[key]
	target, isRoom := model.KeyTarget(key)
	if isRoom {
		c.tracker.MarkRoomRead(target, model.NewestConfirmedID(conv))
		return
	}
	c.tracker.MarkRead(target, model.NewestInboundID(conv))
}

// ViewedConversation returns the conversation currently on screen.
func (c *Client) ViewedConversation() model.ConvKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewed
}

// SetDraft stores the composer draft for a conversation. Empty text removes
// it.
func (c *Client) SetDraft(key model.ConvKey, text string) {
	if !model.ValidKey(key) {
		return
	}
	c.store.Apply(func(prev store.State) store.State {
		drafts := make(map[model.ConvKey]string, len(prev.Drafts))
		for k, v := range prev.Drafts {
			drafts[k] = v
		}
		if text == "" {
			delete(drafts, key)
		} else {
			drafts[key] = text
		}
		prev.Drafts = drafts
		return prev
	})
	c.saver.Schedule()
}

// Logout flushes state synchronously, resets the in-memory store and halts
// the queue timers. The connection stays up for a following login.
func (c *Client) Logout() error {
	err := c.saver.Flush()
	c.queue.Dispose()
	c.store.Reset()
	c.mu.Lock()
	c.viewed = ""
	c.hydrated = false
	c.token = ""
	c.mu.Unlock()
	c.transition(status.AuthRequired)
	return err
}

// Dispose tears the client down: flush, close the connection, stop every
// timer. The client cannot be reused afterwards.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.mu.Unlock()
	if err := c.saver.Flush(); err != nil {
		c.logger.Warn("final state flush failed", zap.Error(err))
	}
	c.saver.Close()
	c.queue.Dispose()
	c.gw.Close()
}

func (c *Client) transition(to status.State) {
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("status transition skipped", zap.Error(err))
	}
}
