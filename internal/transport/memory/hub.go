// Package memory is the in-process transport: a room-indexed hub that fans
// deliveries out to subscribed connections. It backs tests and single-node
// deployments.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/fieldops/worksync/internal/transport"
)

var (
	ErrUnknownConnection = errors.New("memory: unknown connection")
	ErrAlreadyConnected  = errors.New("memory: connection id already in use")
)

// PublishHandler, when set, intercepts client publishes so the application
// mutation path can persist and rebroadcast an authoritative value instead
// of echoing raw client payloads.
type PublishHandler func(ctx context.Context, senderID, room string, payload []byte) error

type conn struct {
	deliver transport.DeliveryFunc
	rooms   map[string]struct{}
}

// Hub implements transport.Transport in memory.
type Hub struct {
	conns   map[string]*conn
	rooms   map[string]map[string]struct{} // room -> connection ids
	handler PublishHandler
	logger  *slog.Logger
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*conn),
		rooms:  make(map[string]map[string]struct{}),
		logger: logger,
	}
}

// SetPublishHandler installs the application mutation path. Must be called
// before the hub starts accepting publishes.
func (h *Hub) SetPublishHandler(fn PublishHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

func (h *Hub) Connect(_ context.Context, req transport.ConnectRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.conns[req.ConnectionID]; exists {
		return ErrAlreadyConnected
	}
	h.conns[req.ConnectionID] = &conn{
		deliver: req.Deliver,
		rooms:   make(map[string]struct{}),
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, connectionID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, exists := h.conns[connectionID]
	if !exists {
		return ErrUnknownConnection
	}
	c.rooms[room] = struct{}{}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]struct{})
	}
	h.rooms[room][connectionID] = struct{}{}
	return nil
}

func (h *Hub) Unsubscribe(_ context.Context, connectionID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, exists := h.conns[connectionID]
	if !exists {
		return ErrUnknownConnection
	}
	delete(c.rooms, room)
	h.dropFromRoom(room, connectionID)
	return nil
}

func (h *Hub) Publish(ctx context.Context, connectionID, room string, payload []byte) error {
	h.mu.RLock()
	_, exists := h.conns[connectionID]
	handler := h.handler
	h.mu.RUnlock()

	if !exists {
		return ErrUnknownConnection
	}
	if handler != nil {
		return handler(ctx, connectionID, room, payload)
	}
	h.Broadcast(room, payload)
	return nil
}

func (h *Hub) Disconnect(_ context.Context, connectionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, exists := h.conns[connectionID]
	if !exists {
		return nil // disconnect is idempotent
	}
	for room := range c.rooms {
		h.dropFromRoom(room, connectionID)
	}
	delete(h.conns, connectionID)
	return nil
}

// Broadcast delivers a payload to every current subscriber of the room.
// Returns the number of connections reached. Server-originated broadcasts
// bypass per-connection rate limits by design of the calling layer.
func (h *Hub) Broadcast(room string, payload []byte) int {
	h.mu.RLock()
	targets := make([]transport.DeliveryFunc, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		if c, ok := h.conns[id]; ok && c.deliver != nil {
			targets = append(targets, c.deliver)
		}
	}
	h.mu.RUnlock()

	msg := transport.Message{Room: room, Payload: payload}
	for _, deliver := range targets {
		deliver(msg)
	}
	return len(targets)
}

// Subscribers reports the current subscriber count of a room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// dropFromRoom must be called with the write lock held.
func (h *Hub) dropFromRoom(room, connectionID string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}
