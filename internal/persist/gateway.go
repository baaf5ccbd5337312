package persist

import (
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/yagodka-im/yagodka-go/internal/model"
)

// Snapshot kinds. Each serializes independently so a corrupt outbox row
// never takes the conversation cache down with it.
const (
	kindOutbox   = "outbox"
	kindDrafts   = "drafts"
	kindHistory  = "history"
	kindLastRead = "last_read"
)

// Payload versions. A row with a foreign version is ignored, never migrated
// in place; the writer simply overwrites it on the next save.
const (
	versionOutbox   = 1
	versionDrafts   = 1
	versionHistory  = 1
	versionLastRead = 1
)

// Conversation cache bounds. The cache exists to paint the last screen
// instantly after restart, not to replicate server history.
const (
	historyCacheMaxConvs    = 80
	historyCacheMaxMessages = 200
)

// HistoryCache is the persisted slice of the conversation state: message
// lists plus their paging markers.
type HistoryCache struct {
	Conversations map[model.ConvKey][]model.Message    `json:"conversations"`
	Paging        map[model.ConvKey]model.HistoryState `json:"paging"`
}

// Gateway reads and writes one user's snapshots.
type Gateway struct {
	db     *DB
	userID string
	logger *zap.Logger
}

// NewGateway binds a gateway to one user's rows in the shared table.
func NewGateway(db *DB, userID string, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{db: db, userID: userID, logger: logger}
}

// LoadOutbox returns the persisted outbox, sanitized. Missing or corrupt
// data yields an empty map.
func (g *Gateway) LoadOutbox() model.OutboxMap {
	var raw model.OutboxMap
	if !g.load(kindOutbox, versionOutbox, &raw) {
		return model.OutboxMap{}
	}
	out := model.SanitizeOutboxMap(raw)
	// No send survives a restart; anything caught mid-flight goes back to
	// the queue.
	for _, list := range out {
		for i := range list {
			if list[i].Status == model.StatusSending {
				list[i].Status = model.StatusQueued
			}
		}
	}
	return out
}

// SaveOutbox persists the outbox map.
func (g *Gateway) SaveOutbox(m model.OutboxMap) error {
	return g.save(kindOutbox, versionOutbox, m)
}

// LoadDrafts returns persisted composer drafts keyed by conversation.
func (g *Gateway) LoadDrafts() map[model.ConvKey]string {
	var raw map[model.ConvKey]string
	if !g.load(kindDrafts, versionDrafts, &raw) {
		return map[model.ConvKey]string{}
	}
	out := make(map[model.ConvKey]string, len(raw))
	for key, text := range raw {
		if !model.ValidKey(key) || text == "" {
			continue
		}
		if len(text) > model.OutboxTextMax {
			text = text[:model.OutboxTextMax]
		}
		out[key] = text
	}
	return out
}

// SaveDrafts persists the drafts map.
func (g *Gateway) SaveDrafts(m map[model.ConvKey]string) error {
	return g.save(kindDrafts, versionDrafts, m)
}

// LoadHistory returns the persisted conversation cache, sanitized and
// bounded. Paging markers survive only for conversations that kept their
// messages.
func (g *Gateway) LoadHistory() HistoryCache {
	var raw HistoryCache
	if !g.load(kindHistory, versionHistory, &raw) {
		return emptyHistoryCache()
	}
	return sanitizeHistoryCache(raw)
}

// SaveHistory persists the conversation cache, bounded on the way out so
// the row never grows past what a restart would load anyway.
func (g *Gateway) SaveHistory(c HistoryCache) error {
	return g.save(kindHistory, versionHistory, sanitizeHistoryCache(c))
}

// LoadLastRead returns the persisted read markers.
func (g *Gateway) LoadLastRead() map[model.ConvKey]model.ReadMarker {
	var raw map[model.ConvKey]model.ReadMarker
	if !g.load(kindLastRead, versionLastRead, &raw) {
		return map[model.ConvKey]model.ReadMarker{}
	}
	out := make(map[model.ConvKey]model.ReadMarker, len(raw))
	for key, marker := range raw {
		if !model.ValidKey(key) {
			continue
		}
		if marker.ID < 0 {
			marker.ID = 0
		}
		if marker.TS < 0 {
			marker.TS = 0
		}
		if marker.ID == 0 && marker.TS == 0 {
			continue
		}
		out[key] = marker
	}
	return out
}

// SaveLastRead persists the read markers.
func (g *Gateway) SaveLastRead(m map[model.ConvKey]model.ReadMarker) error {
	return g.save(kindLastRead, versionLastRead, m)
}

func (g *Gateway) load(kind string, wantVersion int, out any) bool {
	var version int
	var payload []byte
	err := g.db.QueryRow(
		`SELECT version, payload FROM kv_state WHERE user_id = ? AND kind = ?`,
		g.userID, kind).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		g.logger.Warn("state load failed", zap.String("kind", kind), zap.Error(err))
		return false
	}
	if version != wantVersion {
		g.logger.Warn("state version mismatch, dropping",
			zap.String("kind", kind), zap.Int("version", version))
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		g.logger.Warn("state payload corrupt, dropping",
			zap.String("kind", kind), zap.Error(err))
		return false
	}
	return true
}

func (g *Gateway) save(kind string, version int, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = g.db.Exec(`
		INSERT INTO kv_state (user_id, kind, version, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, kind) DO UPDATE SET
			version = excluded.version,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		g.userID, kind, version, payload, time.Now().UnixMilli())
	return err
}

func emptyHistoryCache() HistoryCache {
	return HistoryCache{
		Conversations: map[model.ConvKey][]model.Message{},
		Paging:        map[model.ConvKey]model.HistoryState{},
	}
}

func sanitizeHistoryCache(raw HistoryCache) HistoryCache {
	out := emptyHistoryCache()

	type convTS struct {
		key    model.ConvKey
		newest int64
	}
	var order []convTS
	for key, msgs := range raw.Conversations {
		if !model.ValidKey(key) || len(msgs) == 0 {
			continue
		}
		// Merge against nothing dedups and restores sort order.
		msgs = model.Merge(nil, msgs)
		if len(msgs) > historyCacheMaxMessages {
			msgs = msgs[len(msgs)-historyCacheMaxMessages:]
		}
		out.Conversations[key] = msgs
		order = append(order, convTS{key, msgs[len(msgs)-1].TS})
	}

	if len(order) > historyCacheMaxConvs {
		sort.Slice(order, func(i, j int) bool { return order[i].newest > order[j].newest })
		for _, c := range order[historyCacheMaxConvs:] {
			delete(out.Conversations, c.key)
		}
	}

	for key, h := range raw.Paging {
		if _, ok := out.Conversations[key]; !ok {
			continue
		}
		h.Loading = false
		if h.Cursor < 0 {
			h.Cursor = 0
		}
		out.Paging[key] = h
	}
	return out
}
