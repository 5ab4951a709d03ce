package wsconn

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Socket is one open, message-framed connection.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Transport interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// WebsocketTransport dials relays with gorilla/websocket.
type WebsocketTransport struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (t WebsocketTransport) Dial(ctx context.Context, url string) (Socket, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, t.Header)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial")
	}
	return &wsSocket{conn: conn}, nil
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	for {
		mt, p, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch mt {
		case websocket.TextMessage, websocket.BinaryMessage:
			return p, nil
		default:
		}
	}
}

func (s *wsSocket) WriteMessage(data []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Close() error {
	return s.conn.Close()
}
