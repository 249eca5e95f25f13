// Package ws streams committed audit events to WebSocket clients. Events
// reach the hub either in-process (the hub is a domain.EventSink) or from
// the Redis event bus when several replicas share one store.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// allEvents subscribes a client to every event type.
	allEvents = "*"
)

// Frame formats a client can ask for with ?format=.
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

// Subscriber is the part of domain.EventBus the hub reads from.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Config configures a Hub.
type Config struct {
	// Bus and Pattern, when set, feed the hub from the event bus instead of
	// in-process Publish calls.
	Bus     Subscriber
	Pattern string
	// AllowedOrigins restricts browser clients; empty allows all.
	AllowedOrigins []string
	StartedAt      time.Time
}

// Hub fans events out to connected clients according to their
// subscriptions.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan frame
	register   chan *client
	unregister chan *client
	cfg        Config
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
}

// frame is one event pre-encoded in both formats.
type frame struct {
	eventType string
	json      []byte
	proto     []byte
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	format string
	subs   map[string]bool
	mu     sync.RWMutex
}

// subscribeMsg is the control message a client sends, e.g.
// {"action":"subscribe","events":["EmergencyOverride"]}.
type subscribeMsg struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// NewHub creates a Hub.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan frame, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Run is the hub's event loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.cfg.Bus != nil {
		go h.consumeBus(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case f := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(f.eventType) {
					continue
				}
				data := f.json
				if c.format == FormatProto {
					data = f.proto
				}
				select {
				case c.send <- data:
				default:
					h.logger.Warn("ws: dropping event for slow client", slog.String("event", f.eventType))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish implements domain.EventSink. It never blocks on slow clients.
func (h *Hub) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return h.enqueue(ctx, string(ev.Type), payload)
}

func (h *Hub) enqueue(ctx context.Context, eventType string, payload []byte) error {
	f, err := encodeFrame(eventType, payload)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- f:
	case <-ctx.Done():
		return ctx.Err()
	default:
		h.logger.Warn("ws: broadcast queue full, dropping event", slog.String("event", eventType))
	}
	return nil
}

// encodeFrame prepares the JSON payload and its structpb binary encoding.
func encodeFrame(eventType string, payload []byte) (frame, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return frame{}, err
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return frame{}, err
	}
	bin, err := proto.Marshal(st)
	if err != nil {
		return frame{}, err
	}
	return frame{eventType: eventType, json: payload, proto: bin}, nil
}

// consumeBus forwards bus messages until ctx is done or the subscription
// closes.
func (h *Hub) consumeBus(ctx context.Context) {
	msgs, err := h.cfg.Bus.Subscribe(ctx, h.cfg.Pattern)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to event bus",
			slog.String("pattern", h.cfg.Pattern),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to event bus", slog.String("pattern", h.cfg.Pattern))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: event bus subscription closed")
				return
			}
			var head struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &head); err != nil {
				h.logger.Warn("ws: undecodable bus message", slog.String("error", err.Error()))
				continue
			}
			if err := h.enqueue(ctx, head.Type, data); err != nil && ctx.Err() == nil {
				h.logger.Warn("ws: encode bus message", slog.String("error", err.Error()))
			}
		}
	}
}

// HandleWS upgrades the request and registers the client. Clients start
// subscribed to every event type.
// GET /ws?format=json|proto
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatProto {
		http.Error(w, `{"error":"format must be json or proto"}`, http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		format: format,
		subs:   map[string]bool{allEvents: true},
	}

	c.sendHello()
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, e := range msg.Events {
			c.subs[e] = true
		}
	case "unsubscribe":
		for _, e := range msg.Events {
			delete(c.subs, e)
		}
	case "only":
		c.subs = make(map[string]bool, len(msg.Events))
		for _, e := range msg.Events {
			c.subs[e] = true
		}
	}
}

// sendHello tells the client the connection is live. It is always JSON.
func (c *client) sendHello() {
	uptime := int64(time.Since(c.hub.cfg.StartedAt).Seconds())
	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"format":         c.format,
			"uptime_seconds": max(uptime, 0),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) isSubscribed(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[allEvents] || c.subs[eventType]
}

// writePump writes queued frames and keepalive pings. The hello message and
// JSON clients use text frames; proto clients get binary event frames.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	first := true
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			kind := websocket.TextMessage
			if c.format == FormatProto && !first {
				kind = websocket.BinaryMessage
			}
			first = false
			if err := c.conn.WriteMessage(kind, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ domain.EventSink = (*Hub)(nil)
