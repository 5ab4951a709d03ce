package relay

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// stations are served from a different origin than the relay port
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades the request and serves the peer until it disconnects.
func (r *Relay) ServeWS(writer http.ResponseWriter, request *http.Request) {
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "channel", r.channel, "err", err)
		return
	}
	p := &peer{remote: request.RemoteAddr, conn: conn, send: make(chan []byte, r.sendBuffer)}
	select {
	case r.register <- p:
	case <-r.done:
		_ = conn.Close()
		return
	case <-request.Context().Done():
		_ = conn.Close()
		return
	}
	go r.writeLoop(p)
	r.readLoop(p)
}

func (r *Relay) healthz(writer http.ResponseWriter, _ *http.Request) {
	writer.WriteHeader(http.StatusNoContent)
}

// Register mounts the websocket endpoint on "/" and "/ws", plus "/healthz".
func (r *Relay) Register(router *mux.Router) {
	router.Methods(http.MethodGet).Path("/").HandlerFunc(r.ServeWS)
	router.Methods(http.MethodGet).Path("/ws").HandlerFunc(r.ServeWS)
	router.Methods(http.MethodGet).Path("/healthz").HandlerFunc(r.healthz)
}
