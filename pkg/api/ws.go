package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/bus"
	"github.com/voltmesh/dlm-go/pkg/config"
	"github.com/voltmesh/dlm-go/pkg/metrics"
	"github.com/voltmesh/dlm-go/pkg/store"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

// pushTopics are mirrored to websocket clients.
var pushTopics = []string{
	"station.*",
	bus.TopicMeterUpdated,
	bus.TopicLoadUpdated,
	bus.TopicPVProduction,
	bus.TopicSheddingTransition,
	bus.TopicViolation,
	bus.TopicFailSafeTransition,
	bus.TopicThermalDerating,
}

// pushMessage is the wire shape for pushed events.
type pushMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Hub fans bus events out to connected websocket clients.
type Hub struct {
	events  *bus.Bus
	st      *store.Store
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *zap.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates the hub. Run must be started for events to flow.
func NewHub(events *bus.Bus, st *store.Store, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		events:  events,
		st:      st,
		cfg:     cfg,
		metrics: m,
		logger:  logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: map[*wsClient]struct{}{},
	}
}

// Handle upgrades the request and serves the client until it disconnects.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	h.register(c)

	greeting, err := json.Marshal(pushMessage{
		Type:      "connection.established",
		Timestamp: time.Now(),
		Data:      h.greeting(),
	})
	if err == nil {
		c.send <- greeting
	}

	go h.writePump(c)
	h.readPump(c)
}

// greeting is the initial state snapshot sent on connect.
func (h *Hub) greeting() map[string]any {
	snap := h.st.Snapshot()
	data := map[string]any{
		"stations": snap.Stations,
		"meters":   snap.Meters,
		"load": map[string]any{
			"charging_kw": snap.ChargingLoadKW(),
			"grid_kw":     snap.GridPowerKW(),
			"pv_kw":       snap.PVKW,
		},
	}
	if h.cfg != nil {
		data["config"] = map[string]any{
			"max_capacity_kw":   h.cfg.Grid.MaxCapacityKW,
			"peak_threshold_kw": h.cfg.Grid.PeakThresholdKW,
		}
	}
	return data
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WebsocketSessions.Set(float64(n))
	}
	h.logger.Debug("client connected", zap.Int("clients", n))
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	_ = c.conn.Close()
	if h.metrics != nil {
		h.metrics.WebsocketSessions.Set(float64(n))
	}
	h.logger.Debug("client disconnected", zap.Int("clients", n))
}

// readPump drains incoming frames until the peer goes away. Clients do
// not send commands; the read loop only detects closure.
func (h *Hub) readPump(c *wsClient) {
	defer h.unregister(c)
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(wsWriteWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Run mirrors bus events to all clients until the context ends.
func (h *Hub) Run(ctx context.Context) error {
	events, cancel := h.events.Subscribe(pushTopics...)
	defer cancel()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			msg, err := json.Marshal(pushMessage{
				Type:      ev.Topic,
				Timestamp: ev.Timestamp,
				Data:      ev.Payload,
			})
			if err != nil {
				h.logger.Warn("marshal push event", zap.String("topic", ev.Topic), zap.Error(err))
				continue
			}
			h.broadcast(msg)
		}
	}
}

// broadcast delivers without blocking; slow clients drop messages.
func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.unregister(c)
	}
}
