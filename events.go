package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Hub fans events out to websocket listeners on /api/meadow/events.
type Hub struct {
	listeners  map[*listener]bool
	broadcast  chan []byte
	register   chan *listener
	unregister chan *listener
	done       chan struct{}
}

// listener is one websocket connection attached to the hub.
type listener struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func newHub() *Hub {
	return &Hub{
		listeners:  make(map[*listener]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *listener),
		unregister: make(chan *listener),
		done:       make(chan struct{}),
	}
}

func (h *Hub) run() {
	for {
		select {
		case l := <-h.register:
			h.listeners[l] = true
		case l := <-h.unregister:
			if _, ok := h.listeners[l]; ok {
				delete(h.listeners, l)
				close(l.send)
			}
		case msg := <-h.broadcast:
			for l := range h.listeners {
				select {
				case l.send <- msg:
				default:
					close(l.send)
					delete(h.listeners, l)
				}
			}
		case <-h.done:
			for l := range h.listeners {
				close(l.send)
				delete(h.listeners, l)
			}
			return
		}
	}
}

func (h *Hub) stop() {
	close(h.done)
}

// Publish queues ev for every listener.  It never blocks: when the hub is
// backed up the event is dropped.
func (h *Hub) Publish(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// serveEvents upgrades the request and streams events until the peer goes away.
func (h *Hub) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade", "remote", r.RemoteAddr, "err", err)
		return
	}
	l := &listener{hub: h, conn: conn, send: make(chan []byte, 256)}
	select {
	case h.register <- l:
	case <-h.done:
		conn.Close()
		return
	}
	go l.writePump()
	go l.readPump()
}

// readPump discards inbound messages and detects the peer closing.
func (l *listener) readPump() {
	defer func() {
		select {
		case l.hub.unregister <- l:
		case <-l.hub.done:
		}
		l.conn.Close()
	}()
	l.conn.SetReadLimit(512)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := l.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read", "err", err)
			}
			return
		}
	}
}

// writePump sends one JSON event per text message and pings the peer.
func (l *listener) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				l.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := l.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
