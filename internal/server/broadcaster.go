package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"depthwatch/internal/metrics"
	"depthwatch/logger"
)

// envelope is the wire shape of every server-initiated message.
type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes to the socket
}

func (c *client) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Broadcaster fans derived events out to every connected websocket
// subscriber. Payloads serialize once; a failed send drops the client.
// There is no per-client filtering and no back-pressure to producers.
type Broadcaster struct {
	mu       sync.Mutex
	clients  map[string]*client
	log      *logger.Log
	upgrader websocket.Upgrader
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*client),
		log:     logger.GetLogger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Broadcast serializes the payload once and sends it to every client.
func (b *Broadcaster) Broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(envelope{Type: msgType, Data: data})
	if err != nil {
		b.log.WithComponent("broadcaster").WithError(err).Warn("failed to marshal broadcast payload")
		return
	}

	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		if err := c.send(payload); err != nil {
			b.drop(c)
		}
	}
	metrics.BroadcastMessages.Inc()
}

// HandleUpgrade turns the HTTP request into a subscriber connection.
func (b *Broadcaster) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.WithComponent("broadcaster").WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}

	b.mu.Lock()
	b.clients[c.id] = c
	count := len(b.clients)
	b.mu.Unlock()

	logger.SetWSClients(count)
	metrics.WSClients.Set(float64(count))
	b.log.WithComponent("broadcaster").WithFields(logger.Fields{"client": c.id, "clients": count}).Info("websocket client connected")

	// Server-initiated messages only; the read loop just detects close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				b.drop(c)
				return
			}
		}
	}()
}

func (b *Broadcaster) drop(c *client) {
	b.mu.Lock()
	_, present := b.clients[c.id]
	delete(b.clients, c.id)
	count := len(b.clients)
	b.mu.Unlock()

	if !present {
		return
	}
	c.conn.Close()
	logger.SetWSClients(count)
	metrics.WSClients.Set(float64(count))
	b.log.WithComponent("broadcaster").WithFields(logger.Fields{"client": c.id, "clients": count}).Info("websocket client disconnected")
}

// ClientCount reports connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// CloseAll disconnects every subscriber; used during shutdown.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[string]*client)
	b.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
	logger.SetWSClients(0)
	metrics.WSClients.Set(0)
}
