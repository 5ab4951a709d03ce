package httplog

import (
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
)

// Middleware logs one line per handled request. Websocket upgrades are logged when the
// connection closes since the handler only returns then.
func Middleware(name string) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			level := slog.LevelInfo
			if m.Code >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			slog.Log(request.Context(), level, "handled",
				"server", name,
				"method", request.Method,
				"url", request.URL,
				"duration", m.Duration,
				"status", m.Code,
				"bytes", m.Written,
			)
		})
	}
}
