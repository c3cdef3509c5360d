// Package ws exposes the gateway over WebSocket. Each accepted socket
// becomes one gateway connection; clients speak the api.ClientMessage
// envelope and receive api.ServerMessage frames.
package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fieldops/worksync/internal/gateway"
	"github.com/fieldops/worksync/internal/transport"
)

// Handler upgrades HTTP requests and runs one session per socket.
type Handler struct {
	gw       *gateway.Gateway
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the WebSocket endpoint handler.
func NewHandler(gw *gateway.Gateway, logger *slog.Logger) *Handler {
	return &Handler{
		gw:     gw,
		logger: logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from app origins we don't enumerate
			// here; authentication happens on the token, not the origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request, authenticates it through the gateway and
// hands the socket to a session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	connectionID := uuid.New().String()
	sess := newSession(connectionID, conn, h.gw, h.logger)

	req := transport.ConnectRequest{
		ConnectionID: connectionID,
		Token:        token,
		RemoteAddr:   r.RemoteAddr,
		Headers:      flattenHeaders(r.Header),
		Deliver:      sess.deliver,
	}

	if err := h.gw.Connect(r.Context(), req); err != nil {
		h.logger.Warn("connection rejected", "error", err, "remote_addr", r.RemoteAddr)
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection rejected")
		_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = conn.Close()
		return
	}

	sess.run()
}

// bearerToken pulls the JWT from the Authorization header, falling back to
// the token query parameter for clients that cannot set headers on the
// upgrade request.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
		return h
	}
	return r.URL.Query().Get("token")
}

func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for k := range header {
		flat[k] = header.Get(k)
	}
	return flat
}
