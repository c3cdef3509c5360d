// Package api is the WebSocket client field devices use to talk to the
// worksync server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldops/worksync/pkg/api"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// ErrNotConnected indicates an operation before Connect or after Close.
var ErrNotConnected = errors.New("client is not connected")

// Client maintains one authenticated WebSocket session.
type Client struct {
	conn    *websocket.Conn
	baseURL string
	token   string
}

// NewClient creates a client for the server at baseURL (http:// or https://
// scheme; the client switches to the ws equivalent itself).
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
	}
}

// Connect dials the server's /ws endpoint with the bearer token.
func (c *Client) Connect(ctx context.Context) error {
	wsURL, err := c.wsURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{"Authorization": []string{"Bearer " + c.token}}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.conn = conn
	return nil
}

// Close shuts the session down.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))

	err := c.conn.Close()
	c.conn = nil
	return err
}

// Subscribe asks the server for a room's updates and waits for the ack.
func (c *Client) Subscribe(ctx context.Context, room string) error {
	if err := c.send(api.ClientMessage{Type: "subscribe", Room: room}); err != nil {
		return err
	}

	reply, err := c.Read(ctx)
	if err != nil {
		return err
	}
	if reply.Type != api.MessageSubscribed {
		return fmt.Errorf("subscribe rejected: %s", reply.Err)
	}
	return nil
}

// SendMutation publishes one work-order mutation.
func (c *Client) SendMutation(ctx context.Context, m api.Mutation) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation: %w", err)
	}

	return c.send(api.ClientMessage{Type: "mutation", Data: data})
}

// Read blocks for the next server frame, honoring the context deadline.
func (c *Client) Read(ctx context.Context) (*api.ServerMessage, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	var msg api.ServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server message: %w", err)
	}
	return &msg, nil
}

func (c *Client) send(msg api.ClientMessage) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}
