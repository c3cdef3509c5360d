package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldops/worksync/internal/gateway"
	"github.com/fieldops/worksync/internal/sync"
	"github.com/fieldops/worksync/internal/transport"
	"github.com/fieldops/worksync/pkg/api"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// session pumps frames between one socket and the gateway.
type session struct {
	conn   *websocket.Conn
	gw     *gateway.Gateway
	logger *slog.Logger
	send   chan []byte
	done   chan struct{}
	id     string
}

func newSession(id string, conn *websocket.Conn, gw *gateway.Gateway, logger *slog.Logger) *session {
	return &session{
		conn:   conn,
		gw:     gw,
		logger: logger.With("connection_id", id),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		id:     id,
	}
}

// deliver is handed to the gateway as the connection's delivery function.
// A full buffer drops the frame rather than stalling the whole room. The
// send channel is never closed; done gates delivery after teardown because
// a broadcast may still hold a reference to this function.
func (s *session) deliver(msg transport.Message) {
	s.enqueue(msg.Payload)
}

func (s *session) enqueue(payload []byte) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.send <- payload:
	default:
		s.logger.Warn("send buffer full, dropping frame")
	}
}

func (s *session) run() {
	go s.writePump()
	s.readPump()
}

// readPump reads client envelopes until the socket closes, then tears the
// gateway connection down.
func (s *session) readPump() {
	defer func() {
		if err := s.gw.Disconnect(context.Background(), s.id); err != nil {
			s.logger.Warn("disconnect failed", "error", err)
		}
		close(s.done)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("unexpected close", "error", err)
			}
			return
		}

		var msg api.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.reply(api.ServerMessage{Type: api.MessageError, Err: "malformed message"})
			continue
		}

		s.dispatch(msg)
	}
}

func (s *session) dispatch(msg api.ClientMessage) {
	ctx := context.Background()

	switch msg.Type {
	case "subscribe":
		if err := s.gw.Subscribe(ctx, s.id, msg.Room); err != nil {
			s.reply(api.ServerMessage{Type: api.MessageError, Room: msg.Room, Err: err.Error()})
			return
		}
		s.reply(api.ServerMessage{Type: api.MessageSubscribed, Room: msg.Room})

	case "unsubscribe":
		if err := s.gw.Unsubscribe(ctx, s.id, msg.Room); err != nil {
			s.reply(api.ServerMessage{Type: api.MessageError, Room: msg.Room, Err: err.Error()})
			return
		}
		s.reply(api.ServerMessage{Type: api.MessageUnsubscribed, Room: msg.Room})

	case "mutation":
		s.handleMutation(ctx, msg)

	default:
		s.reply(api.ServerMessage{Type: api.MessageError, Err: "unknown message type"})
	}
}

// handleMutation stamps the authenticated identity onto the mutation before
// publishing, so clients cannot write as someone else.
func (s *session) handleMutation(ctx context.Context, msg api.ClientMessage) {
	var m api.Mutation
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		s.reply(api.ServerMessage{Type: api.MessageError, Err: "malformed mutation"})
		return
	}

	identity, ok := s.gw.Identity(s.id)
	if !ok {
		s.reply(api.ServerMessage{Type: api.MessageError, Err: "not connected"})
		return
	}
	m.UserID = identity.UserID

	payload, err := json.Marshal(m)
	if err != nil {
		s.reply(api.ServerMessage{Type: api.MessageError, Err: "malformed mutation"})
		return
	}

	room := msg.Room
	if room == "" {
		room = sync.ProjectRoom(m.ProjectID)
	}

	if err := s.gw.Publish(ctx, s.id, room, payload); err != nil {
		s.reply(api.ServerMessage{Type: api.MessageError, Room: room, Err: err.Error()})
	}
}

func (s *session) reply(msg api.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to encode reply", "error", err)
		return
	}
	s.enqueue(payload)
}

// writePump drains the send channel and keeps the socket alive with pings.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
