// Package transport defines the pub/sub channel abstraction the gateway
// wraps. The wire protocol behind it is out of scope; implementations only
// need connect/subscribe/publish/disconnect plus per-connection delivery.
package transport

import "context"

// Message is one delivery into a room.
type Message struct {
	Room     string
	SenderID string
	Payload  []byte
}

// DeliveryFunc receives messages for a single connection. Implementations
// must not block for long; slow consumers are the adapter's problem.
type DeliveryFunc func(msg Message)

// ConnectRequest describes an inbound connection attempt. Headers carry the
// proxy-aware client address hints; Token is the bearer credential.
// ConnectionID must be unique for the connection's lifetime and is chosen by
// the caller.
type ConnectRequest struct {
	Headers      map[string]string
	Deliver      DeliveryFunc
	ConnectionID string
	Token        string
	RemoteAddr   string
}

// Transport is the opaque real-time channel. The gateway implements this
// same interface around a concrete transport so policy stays out of the
// transport itself.
type Transport interface {
	Connect(ctx context.Context, req ConnectRequest) error
	Subscribe(ctx context.Context, connectionID, room string) error
	Unsubscribe(ctx context.Context, connectionID, room string) error
	Publish(ctx context.Context, connectionID, room string, payload []byte) error
	Disconnect(ctx context.Context, connectionID string) error
}
