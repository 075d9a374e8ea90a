package automation

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
)

const (
	writeWait   = 5 * time.Second
	eventBuffer = 256 // per-client subscription buffer, drops when full
)

// The zero CheckOrigin rejects cross-origin browser pages.
var upgrader = websocket.Upgrader{}

// eventClient streams controller events to one WebSocket connection.
type eventClient struct {
	conn   *websocket.Conn
	events <-chan transmit.Event
	cancel func()
	stop   <-chan struct{}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("WebSocket upgrade failed", "error", err)
		return
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		c := &eventClient{conn: conn}
		c.writeClose()
		conn.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	events, cancel := s.ctrl.Subscribe(eventBuffer)
	c := &eventClient{conn: conn, events: events, cancel: cancel, stop: s.stop}
	go func() {
		defer s.wg.Done()
		c.writeLoop()
	}()
	c.readLoop()
}

// writeLoop drains the subscription until it closes or the server stops.
func (c *eventClient) writeLoop() {
	defer c.conn.Close()
	defer c.cancel()

	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				c.writeClose()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-c.stop:
			c.writeClose()
			return
		}
	}
}

// readLoop discards inbound messages and cancels the subscription when the
// peer goes away.
func (c *eventClient) readLoop() {
	defer c.cancel()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *eventClient) writeClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
