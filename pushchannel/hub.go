// Package pushchannel implements the control plane's single long-lived
// push subscription: a WebSocket-shaped, server-initiated event stream
// broadcasting proxy:status, credentials:updated, providers:updated and
// models:updated events to every connected client. Grounded on the
// device-registry WebSocket hub pattern (Accept/Write/Close over
// github.com/coder/websocket, a per-connection goroutine, and a
// mutex-protected connection set) used elsewhere in the example pack for
// fan-out to many concurrently connected peers.
package pushchannel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/agentflow/api"
	"github.com/BaSui01/agentflow/internal/channel"
	"github.com/BaSui01/agentflow/internal/pool"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Event type names, matching the control-plane wire format exactly.
const (
	EventProxyStatus        = "proxy:status"
	EventCredentialsUpdated = "credentials:updated"
	EventProvidersUpdated   = "providers:updated"
	EventModelsUpdated      = "models:updated"
)

// writeTimeout bounds how long a single broadcast write may block a slow
// client before the hub gives up on it for this message.
const writeTimeout = 5 * time.Second

// tuneInterval matches channel.DefaultTunableConfig's SampleWindow: how
// often a client's send buffer is re-sized based on its recent block rate.
const tuneInterval = 10 * time.Second

// StatusSnapshotter produces the current full gateway snapshot sent to a
// client immediately on subscribe, so it can reconcile without a separate
// REST round-trip.
type StatusSnapshotter interface {
	Status(ctx context.Context) api.ProxyStatus
}

// Hub is the push channel's connection registry and broadcaster. It
// implements handlers.EventNotifier so control-plane handlers can depend
// on it without importing this package's websocket machinery.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	snap    StatusSnapshotter
	logger  *zap.Logger
}

type client struct {
	conn *websocket.Conn
	send *channel.TunableChannel[[]byte]
}

// NewHub builds a Hub. snap supplies the synthetic proxy:status sent to
// every new subscriber.
func NewHub(snap StatusSnapshotter, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[*client]struct{}), snap: snap, logger: logger}
}

// ServeHTTP upgrades the request to a WebSocket connection and registers
// it as a subscriber. Handles GET /api/ws.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("push channel upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: channel.NewTunableChannel[[]byte](channel.DefaultTunableConfig())}
	h.register(c)
	defer h.unregister(c)

	ctx := r.Context()
	h.sendInitialSnapshot(ctx, c)

	writeErr := make(chan error, 1)
	go h.writeLoop(ctx, c, writeErr)

	// The push channel is server-initiated only; the read loop exists
	// solely to detect client-side close so the hub can clean up.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	<-writeErr
}

// writeLoop drains a client's tunable send buffer and periodically tunes
// its size based on observed send-block rate, so a subscriber that falls
// behind gets a bigger buffer instead of dropped events, while an idle
// one shrinks back down.
func (h *Hub) writeLoop(ctx context.Context, c *client, done chan<- error) {
	ticker := time.NewTicker(tuneInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send.Chan():
			if !ok {
				done <- nil
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				done <- err
				return
			}
		case <-ticker.C:
			c.send.Tune()
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.send.Close()
	}
}

func (h *Hub) sendInitialSnapshot(ctx context.Context, c *client) {
	if h.snap == nil {
		return
	}
	h.deliver(c, EventProxyStatus, h.snap.Status(ctx))
}

// deliver marshals one event envelope and enqueues it for a single
// client, dropping the message (not the connection) if its buffer is full
// so one slow subscriber cannot stall the broadcast to everyone else.
func (h *Hub) deliver(c *client, eventType string, data any) {
	buf := pool.ByteBufferPool.Get()
	if err := json.NewEncoder(buf).Encode(api.PushEvent{Type: eventType, Timestamp: nowMillis(), Data: data}); err != nil {
		pool.ByteBufferPool.Put(buf)
		h.logger.Error("failed to marshal push event", zap.Error(err))
		return
	}
	msg := make([]byte, buf.Len())
	copy(msg, buf.Bytes())
	pool.ByteBufferPool.Put(buf)

	if !c.send.TrySend(msg) {
		h.logger.Warn("push channel client buffer full, dropping event", zap.String("type", eventType))
	}
}

// broadcast fans one event out to every connected client.
func (h *Hub) broadcast(eventType string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.deliver(c, eventType, data)
	}
}

// nowMillis is the monotonic-enough wall-clock timestamp attached to every
// event, on every event.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// ProxyStatus broadcasts a full gateway snapshot.
func (h *Hub) ProxyStatus(status api.ProxyStatus) {
	h.broadcast(EventProxyStatus, status)
}

// ProvidersUpdated implements handlers.EventNotifier.
func (h *Hub) ProvidersUpdated(action, providerID string, total, enabled int) {
	h.broadcast(EventProvidersUpdated, api.ProvidersUpdatedEvent{
		Action: action, ProviderID: providerID, Items: 1, Total: total, Enabled: enabled,
	})
}

// ModelsUpdated implements handlers.EventNotifier.
func (h *Hub) ModelsUpdated(action, modelID string, total int) {
	h.broadcast(EventModelsUpdated, api.ModelsUpdatedEvent{
		Action: action, ModelID: modelID, Items: 1, Total: total,
	})
}

// CredentialsUpdated implements handlers.EventNotifier.
func (h *Hub) CredentialsUpdated(action string, valid bool, expiresAt *int64, hasCredentials bool) {
	h.broadcast(EventCredentialsUpdated, api.CredentialsUpdatedEvent{
		Action: action, Valid: valid, ExpiresAt: expiresAt, HasCredentials: hasCredentials,
	})
}

// ClientCount returns the number of currently connected subscribers, for
// diagnostics and tests.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
