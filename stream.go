package verdict

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// AnalysisUpdate is the event published as experiments change: after every
// recorded count change and after every completed analysis. Result is set
// only on analysis events.
type AnalysisUpdate struct {
	ExperimentID string            `json:"experiment_id"`
	Status       ExperimentStatus  `json:"status"`
	ArmA         Arm               `json:"arm_a"`
	ArmB         Arm               `json:"arm_b"`
	Result       *ComparisonResult `json:"result,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// StreamConfig configures the streaming hub.
type StreamConfig struct {
	// BufferSize is the channel buffer size per subscription.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
	// PingInterval is how often to ping WebSocket clients.
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`
	// WriteTimeout bounds each WebSocket write.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultStreamConfig returns default streaming configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BufferSize:   256,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// StreamSubscription receives a filtered feed of updates.
type StreamSubscription struct {
	ID           string
	ExperimentID string
	ResultsOnly  bool

	ch      chan AnalysisUpdate
	done    chan struct{}
	closed  bool
	mu      sync.Mutex
	created time.Time
}

// C returns the channel updates are delivered on.
func (s *StreamSubscription) C() <-chan AnalysisUpdate {
	return s.ch
}

// Close closes the subscription.
func (s *StreamSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

// StreamHub fans experiment updates out to subscribers. It satisfies
// UpdatePublisher, so it can be wired into a Tracker directly:
//
//	hub := verdict.NewStreamHub(verdict.DefaultStreamConfig())
//	tracker := verdict.NewTracker(store, verdict.TrackerConfig{Publisher: hub})
type StreamHub struct {
	config StreamConfig
	mu     sync.RWMutex
	subs   map[string]*StreamSubscription
	nextID uint64
}

// NewStreamHub creates a streaming hub.
func NewStreamHub(config StreamConfig) *StreamHub {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	return &StreamHub{
		config: config,
		subs:   make(map[string]*StreamSubscription),
	}
}

// Subscribe creates a subscription. An empty experimentID matches every
// experiment; resultsOnly drops updates that carry no analysis result.
func (h *StreamHub) Subscribe(experimentID string, resultsOnly bool) *StreamSubscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := fmt.Sprintf("sub-%d", h.nextID)

	sub := &StreamSubscription{
		ID:           id,
		ExperimentID: experimentID,
		ResultsOnly:  resultsOnly,
		ch:           make(chan AnalysisUpdate, h.config.BufferSize),
		done:         make(chan struct{}),
		created:      time.Now(),
	}

	h.subs[id] = sub
	return sub
}

// Unsubscribe removes a subscription.
func (h *StreamHub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// Publish sends an update to all matching subscriptions. Slow subscribers
// with full buffers miss the update rather than block the publisher.
func (h *StreamHub) Publish(update AnalysisUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !matchesSubscription(sub, update) {
			continue
		}

		select {
		case sub.ch <- update:
		default:
			// Buffer full, drop the update
		}
	}
}

// Count returns the number of active subscriptions.
func (h *StreamHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// List returns all active subscription IDs.
func (h *StreamHub) List() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	return ids
}

func matchesSubscription(sub *StreamSubscription, update AnalysisUpdate) bool {
	if sub.ExperimentID != "" && sub.ExperimentID != update.ExperimentID {
		return false
	}
	if sub.ResultsOnly && update.Result == nil {
		return false
	}
	return true
}

// WebSocket handling

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage is the JSON format for WebSocket messages.
type StreamMessage struct {
	Type         string          `json:"type"`
	ExperimentID string          `json:"experiment_id,omitempty"`
	ResultsOnly  bool            `json:"results_only,omitempty"`
	Update       *AnalysisUpdate `json:"update,omitempty"`
	SubID        string          `json:"sub_id,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// wsSession serializes writes to one connection; the websocket package
// allows a single concurrent writer.
type wsSession struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	timeout time.Duration
}

func (ws *wsSession) send(msg StreamMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	_ = ws.conn.SetWriteDeadline(time.Now().Add(ws.timeout))
	return ws.conn.WriteMessage(websocket.TextMessage, payload)
}

func (ws *wsSession) ping() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.timeout))
}

// WebSocketHandler returns an HTTP handler for WebSocket connections.
// Clients send {"type":"subscribe","experiment_id":...,"results_only":...}
// and {"type":"unsubscribe","sub_id":...}; updates arrive as
// {"type":"update","sub_id":...,"update":{...}}.
func (h *StreamHub) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer func() { _ = conn.Close() }()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		session := &wsSession{conn: conn, timeout: h.config.WriteTimeout}

		// Map of active subscriptions for this connection
		connSubs := make(map[string]*StreamSubscription)
		var connMu sync.Mutex

		// Keep intermediaries from timing the connection out while idle.
		go func() {
			ticker := time.NewTicker(h.config.PingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := session.ping(); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Read commands from client
		go func() {
			defer cancel()
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}

				var cmd StreamMessage
				if err := json.Unmarshal(msg, &cmd); err != nil {
					h.sendError(session, "invalid message format")
					continue
				}

				switch cmd.Type {
				case "subscribe":
					sub := h.Subscribe(cmd.ExperimentID, cmd.ResultsOnly)
					connMu.Lock()
					connSubs[sub.ID] = sub
					connMu.Unlock()

					_ = session.send(StreamMessage{
						Type:  "subscribed",
						SubID: sub.ID,
					})

					// Start forwarding updates for this subscription
					go h.forwardUpdates(ctx, session, sub)

				case "unsubscribe":
					connMu.Lock()
					if sub, ok := connSubs[cmd.SubID]; ok {
						delete(connSubs, cmd.SubID)
						h.Unsubscribe(sub.ID)
					}
					connMu.Unlock()

					_ = session.send(StreamMessage{
						Type:  "unsubscribed",
						SubID: cmd.SubID,
					})

				default:
					h.sendError(session, "unknown command: "+cmd.Type)
				}
			}
		}()

		// Wait for context cancellation
		<-ctx.Done()

		// Cleanup subscriptions
		connMu.Lock()
		for _, sub := range connSubs {
			h.Unsubscribe(sub.ID)
		}
		connMu.Unlock()
	}
}

func (h *StreamHub) forwardUpdates(ctx context.Context, session *wsSession, sub *StreamSubscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case update, ok := <-sub.ch:
			if !ok {
				return
			}
			err := session.send(StreamMessage{
				Type:   "update",
				SubID:  sub.ID,
				Update: &update,
			})
			if err != nil {
				return
			}
		}
	}
}

func (h *StreamHub) sendError(session *wsSession, msg string) {
	_ = session.send(StreamMessage{
		Type:  "error",
		Error: msg,
	})
}
