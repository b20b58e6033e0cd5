// Package ws streams operational alerts to websocket subscribers. The
// publisher subscribes to the alert bus and fans each alert out to
// every connected client.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/alerts"
)

const (
	sendBuffer   = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	maxMsgSize   = 4 * 1024
)

// Publisher implements alerts.Sink over a set of websocket clients.
type Publisher struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewPublisher(log *zap.Logger) *Publisher {
	return &Publisher{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     log.Named("ws"),
		clients: make(map[*client]struct{}),
	}
}

// Publish fans one alert out to every client. Slow clients are
// dropped rather than blocking the bus.
func (p *Publisher) Publish(a alerts.Alert) {
	data, err := json.Marshal(a)
	if err != nil {
		p.log.Error("marshal alert", zap.Error(err))
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for c := range p.clients {
		select {
		case c.send <- data:
		default:
			p.log.Warn("dropping slow alert subscriber")
			c.close()
		}
	}
}

// ServeHTTP upgrades the request and streams alerts until the client
// disconnects.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	p.mu.Lock()
	p.clients[c] = struct{}{}
	p.mu.Unlock()

	go p.writeLoop(c)
	go p.readLoop(c)
}

// ClientCount reports the number of connected subscribers.
func (p *Publisher) ClientCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// Close disconnects every client.
func (p *Publisher) Close() {
	p.mu.RLock()
	cs := make([]*client, 0, len(p.clients))
	for c := range p.clients {
		cs = append(cs, c)
	}
	p.mu.RUnlock()
	for _, c := range cs {
		c.close()
	}
}

// readLoop discards inbound frames; the stream is publish-only. It
// keeps the pong handler alive and detects disconnects.
func (p *Publisher) readLoop(c *client) {
	defer p.remove(c)
	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (p *Publisher) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		p.remove(c)
	}()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (p *Publisher) remove(c *client) {
	c.close()
	p.mu.Lock()
	delete(p.clients, c)
	p.mu.Unlock()
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
