package livestats

import (
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

// Observer receives serialized stats updates for one run.
type Observer interface {
	Send(message []byte) error
}

// Hub fans stats updates out to the observers subscribed to each run. A
// failed push prunes the observer instead of retrying it.
type Hub struct {
	logger    *zap.Logger
	mu        sync.Mutex
	observers map[string]map[Observer]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:    logger,
		observers: make(map[string]map[Observer]struct{}),
	}
}

func (h *Hub) Subscribe(runID string, o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.observers[runID]
	if !ok {
		set = make(map[Observer]struct{})
		h.observers[runID] = set
	}
	set[o] = struct{}{}
}

func (h *Hub) Unsubscribe(runID string, o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.observers[runID]; ok {
		delete(set, o)
		if len(set) == 0 {
			delete(h.observers, runID)
		}
	}
}

// Broadcast pushes the stats record to every observer of the run. One
// observer failing does not block delivery to the rest.
func (h *Hub) Broadcast(runID string, stats CampaignStats) {
	h.mu.Lock()
	set, ok := h.observers[runID]
	if !ok || len(set) == 0 {
		h.mu.Unlock()
		return
	}
	targets := make([]Observer, 0, len(set))
	for o := range set {
		targets = append(targets, o)
	}
	h.mu.Unlock()

	message, err := json.Marshal(map[string]any{
		"type": "stats_update",
		"data": stats,
	})
	if err != nil {
		return
	}

	var failed []Observer
	for _, o := range targets {
		if err := o.Send(message); err != nil {
			h.logger.Debug("observer push failed, pruning",
				zap.String("run_id", runID),
				zap.Error(err),
			)
			failed = append(failed, o)
		}
	}
	for _, o := range failed {
		h.Unsubscribe(runID, o)
	}
}

// ObserverCount reports the current subscriber count for a run.
func (h *Hub) ObserverCount(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers[runID])
}

type wsObserver struct {
	conn *websocket.Conn
}

func (o *wsObserver) Send(message []byte) error {
	return websocket.Message.Send(o.conn, string(message))
}

// StatsHandler upgrades a connection and streams stats updates for the run
// named in the last path segment until the client disconnects. The current
// snapshot, if any, is pushed immediately on subscribe.
func (h *Hub) StatsHandler(tracker *Tracker) websocket.Handler {
	return func(ws *websocket.Conn) {
		runID := lastPathSegment(ws.Request().URL.Path)
		if runID == "" {
			ws.Close()
			return
		}
		obs := &wsObserver{conn: ws}
		h.Subscribe(runID, obs)
		defer h.Unsubscribe(runID, obs)

		if stats, ok := tracker.Get(runID); ok {
			if message, err := json.Marshal(map[string]any{
				"type": "stats_update",
				"data": stats,
			}); err == nil {
				if err := obs.Send(message); err != nil {
					return
				}
			}
		}

		// block until the peer goes away; inbound payloads are discarded
		io.Copy(io.Discard, ws)
	}
}

func lastPathSegment(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
