package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"bartab/internal/market"
	"bartab/internal/metrics"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = 30 * time.Second
	feedSendBuffer = 16
)

type feedMessage struct {
	Type   string        `json:"type"`
	Status market.Status `json:"status"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// MarketFeed fans market snapshots out to websocket clients. Each client has
// its own writer goroutine; a client that cannot keep up is dropped rather
// than slowing the engine down.
type MarketFeed struct {
	log        *slog.Logger
	clients    map[*feedClient]struct{}
	broadcast  chan []byte
	register   chan *feedClient
	unregister chan *feedClient
	done       chan struct{}
	upgrader   websocket.Upgrader
}

func NewMarketFeed(logger *slog.Logger) *MarketFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketFeed{
		log:        logger,
		clients:    make(map[*feedClient]struct{}),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Run owns the client set until ctx is done, then disconnects everyone.
func (f *MarketFeed) Run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			for c := range f.clients {
				f.drop(c)
			}
			f.log.Info("market feed shutdown")
			return
		case c := <-f.register:
			f.clients[c] = struct{}{}
			metrics.WebSocketClients.Inc()
			f.log.Debug("feed client connected", "clients", len(f.clients))
		case c := <-f.unregister:
			if _, ok := f.clients[c]; ok {
				f.drop(c)
			}
		case msg := <-f.broadcast:
			for c := range f.clients {
				select {
				case c.send <- msg:
				default:
					f.log.Warn("dropping slow feed client")
					f.drop(c)
				}
			}
		}
	}
}

func (f *MarketFeed) drop(c *feedClient) {
	delete(f.clients, c)
	close(c.send)
	metrics.WebSocketClients.Dec()
}

// Publish queues a snapshot for every client. It never blocks.
func (f *MarketFeed) Publish(st market.Status) {
	data, err := json.Marshal(feedMessage{Type: "market", Status: st})
	if err != nil {
		f.log.Error("encode market snapshot", "err", err)
		return
	}
	select {
	case f.broadcast <- data:
	default:
	}
}

// Serve upgrades the request and sends initial as the first message.
func (f *MarketFeed) Serve(w http.ResponseWriter, r *http.Request, initial market.Status) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	first, err := json.Marshal(feedMessage{Type: "market", Status: initial})
	if err != nil {
		_ = conn.Close()
		return
	}

	c := &feedClient{conn: conn, send: make(chan []byte, feedSendBuffer)}
	c.send <- first
	select {
	case f.register <- c:
	case <-f.done:
		_ = conn.Close()
		return
	}
	go f.writePump(c)
	go f.readPump(c)
}

func (f *MarketFeed) readPump(c *feedClient) {
	defer func() {
		select {
		case f.unregister <- c:
		case <-f.done:
		}
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *MarketFeed) writePump(c *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
