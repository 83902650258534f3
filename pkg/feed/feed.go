// Package feed serves engine events and NAV ticks to websocket clients.
// Clients subscribe per channel and scope ("events:ETH2L", "nav:ETH2L") or
// to everything with "*"; the hub fans committed events out without ever
// blocking the engine.
package feed

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/synth/pkg/synth"
)

// Message is the frame format both directions.
type Message struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Scope     string          `json:"scope,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NavTick is the payload broadcast on nav channels. Values are rendered as
// decimals so feed consumers do not need the on-ledger scales.
type NavTick struct {
	Symbol string          `json:"symbol"`
	Nav    decimal.Decimal `json:"nav"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

// Hub owns the client set and the fan-out.
type Hub struct {
	upgrader websocket.Upgrader
	log      log.Logger
	nowFn    func() time.Time

	mu      sync.RWMutex
	clients map[string]*client
	nextID  uint64
	closed  bool
}

// Config tunes a Hub.
type Config struct {
	Logger log.Logger
	NowFn  func() time.Time
}

// NewHub creates an empty hub.
func NewHub(cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = log.Root().New("module", "feed")
	}
	if cfg.NowFn == nil {
		cfg.NowFn = time.Now
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:     cfg.Logger,
		nowFn:   cfg.NowFn,
		clients: make(map[string]*client),
	}
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]bool
}

// HandleConnection upgrades an HTTP request and runs the client pumps.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.nextID++
	c := &client{
		id:            fmt.Sprintf("feed_%d", h.nextID),
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	go c.writePump()
	go c.readPump(h)

	h.sendTo(c, Message{
		Type:      "connected",
		Data:      mustRaw(map[string]string{"client_id": c.id}),
		Timestamp: h.nowFn().Unix(),
	})
}

// Publish implements synth.EventSink: every committed event reaches the
// subscribers of its scope plus the wildcard subscribers.
func (h *Hub) Publish(ev synth.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event", "type", ev.EventType(), "error", err)
		return
	}
	msg := Message{
		Type:      "event",
		Channel:   ev.EventType(),
		Scope:     eventScope(ev),
		Data:      data,
		Timestamp: h.nowFn().Unix(),
	}
	h.broadcast("events:"+msg.Scope, msg)
}

// BroadcastNav pushes a NAV tick to nav:<symbol> subscribers. The integer
// values are scaled into decimals with the given exponents.
func (h *Hub) BroadcastNav(symbol string, nav *big.Int, navDecimals uint8, price *big.Int, priceDecimals uint8, at time.Time) {
	tick := NavTick{
		Symbol: symbol,
		Nav:    decimal.NewFromBigInt(nav, -int32(navDecimals)),
		Price:  decimal.NewFromBigInt(price, -int32(priceDecimals)),
		At:     at,
	}
	data, err := json.Marshal(tick)
	if err != nil {
		h.log.Error("marshal nav tick", "symbol", symbol, "error", err)
		return
	}
	h.broadcast("nav:"+symbol, Message{
		Type:      "nav",
		Channel:   "nav",
		Scope:     symbol,
		Data:      data,
		Timestamp: h.nowFn().Unix(),
	})
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every client connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

// eventScope keys an event to the symbol or asset it belongs to.
func eventScope(ev synth.Event) string {
	switch e := ev.(type) {
	case synth.MintEvent:
		return e.Symbol
	case synth.RedeemEvent:
		return e.Symbol
	case synth.RebalanceEvent:
		return e.Symbol
	case synth.PositionParamEvent:
		return e.Symbol
	case synth.VaultDepositEvent:
		return e.Asset
	case synth.VaultWithdrawEvent:
		return e.Asset
	case synth.VaultBorrowEvent:
		return e.Asset
	case synth.VaultRepayEvent:
		return e.Asset
	case synth.VaultParamEvent:
		return e.Asset
	case synth.PauseEvent:
		return e.Component
	default:
		return "system"
	}
}

func (h *Hub) broadcast(channel string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	wildcard := msg.Type + ":*"
	if msg.Type == "event" {
		wildcard = "events:*"
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.mu.RLock()
		want := c.subscriptions[channel] || c.subscriptions[wildcard]
		c.mu.RUnlock()
		if !want {
			continue
		}
		select {
		case c.send <- data:
		default:
			// slow consumer, drop rather than stall the hub
		}
	}
}

func (h *Hub) sendTo(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg struct {
			Type      string   `json:"type"`
			Channel   string   `json:"channel"`
			Scopes    []string `json:"scopes"`
			RequestID string   `json:"request_id"`
		}
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("client read", "client", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		switch msg.Type {
		case "ping":
			h.sendTo(c, Message{Type: "pong", RequestID: msg.RequestID, Timestamp: h.nowFn().Unix()})
		case "subscribe":
			c.setSubscriptions(msg.Channel, msg.Scopes, true)
			h.sendTo(c, Message{Type: "subscribed", Channel: msg.Channel, RequestID: msg.RequestID, Timestamp: h.nowFn().Unix()})
		case "unsubscribe":
			c.setSubscriptions(msg.Channel, msg.Scopes, false)
			h.sendTo(c, Message{Type: "unsubscribed", Channel: msg.Channel, RequestID: msg.RequestID, Timestamp: h.nowFn().Unix()})
		default:
			h.sendTo(c, Message{Type: "error", Error: fmt.Sprintf("unknown message type: %s", msg.Type), RequestID: msg.RequestID, Timestamp: h.nowFn().Unix()})
		}
	}
}

func (c *client) setSubscriptions(channel string, scopes []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, scope := range scopes {
		key := fmt.Sprintf("%s:%s", channel, scope)
		if on {
			c.subscriptions[key] = true
		} else {
			delete(c.subscriptions, key)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustRaw(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
