package gateway

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/luaclaw/luaclaw/internal/observability"
)

// writeTimeout bounds a single broadcast write to one subscriber.
const writeTimeout = 5 * time.Second

// Hub retains the most recent dashboard context document and fans it out to
// websocket subscribers. Publish is the sandbox's set_context sink, so it
// must be safe to call from the agent loop while subscribers come and go.
type Hub struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	latest []byte

	clients sync.Map // id -> *wsClient
	nextID  atomic.Int64
}

type wsClient struct {
	conn *websocket.Conn
}

// NewHub creates a Hub. metrics may be nil.
func NewHub(metrics *observability.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, metrics: metrics}
}

// Publish stores doc as the latest context and broadcasts it to all
// connected subscribers. doc is expected to be a JSON document.
func (h *Hub) Publish(doc string) {
	data := []byte(doc)

	h.mu.Lock()
	h.latest = data
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ContextUpdatesTotal.Inc()
	}

	h.clients.Range(func(_, value any) bool {
		c := value.(*wsClient)
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
			h.logger.Debug("context broadcast failed", "error", err)
		}
		cancel()
		return true
	})
}

// Latest returns the most recently published context document, or nil when
// nothing has been published yet.
func (h *Hub) Latest() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// Subscribers reports the number of connected websocket clients.
func (h *Hub) Subscribers() int {
	n := 0
	h.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// register adds a connection and returns its id for later removal.
func (h *Hub) register(conn *websocket.Conn) int64 {
	id := h.nextID.Add(1)
	h.clients.Store(id, &wsClient{conn: conn})
	if h.metrics != nil {
		h.metrics.WSClients.Inc()
	}
	return id
}

func (h *Hub) unregister(id int64) {
	if _, loaded := h.clients.LoadAndDelete(id); loaded && h.metrics != nil {
		h.metrics.WSClients.Dec()
	}
}
