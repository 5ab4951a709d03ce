package relay

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

type peer struct {
	remote string
	conn   *websocket.Conn
	send   chan []byte
}

// readLoop forwards every inbound frame to the relay loop until the connection fails.
func (r *Relay) readLoop(p *peer) {
	defer func() {
		select {
		case r.unregister <- p:
		case <-r.done:
		}
		_ = p.conn.Close()
	}()
	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("failed to read message", "channel", r.channel, "remote", p.remote, "err", err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		select {
		case r.inbound <- inbound{peer: p, data: data}:
		case <-r.done:
			return
		}
	}
}

// writeLoop drains the peer's queue onto the socket. The relay closes the queue when it drops
// the peer, which ends the loop and the connection.
func (r *Relay) writeLoop(p *peer) {
	t := time.NewTicker(pingPeriod)
	defer func() {
		t.Stop()
		_ = p.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Error("failed to write message", "channel", r.channel, "remote", p.remote, "err", err)
				return
			}
		case <-t.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
