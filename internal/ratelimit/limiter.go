// Package ratelimit tracks connection, subscription and message budgets per
// identity and IP. Every check returns an admit/deny decision; denials are
// policy outcomes, never errors. The caller decides whether a denial blocks.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Config bounds what a single IP or connection may hold.
type Config struct {
	MaxConnectionsPerIP           int
	MaxSubscriptionsPerConnection int
	MessagesPerSecond             int
	MessageWindow                 time.Duration // defaults to one second
}

// ConnectionInfo describes one admitted connection. It is owned exclusively
// by the limiter's registry once registered; callers receive copies.
type ConnectionInfo struct {
	EstablishedAt time.Time
	LastActivity  time.Time
	ConnectionID  string
	IPAddress     string
	UserID        string
}

// connState is the registry entry for a live connection: its info, its
// current subscription set and its message token bucket.
type connState struct {
	lastRefill time.Time
	subs       map[string]struct{}
	info       ConnectionInfo
	tokens     int
}

// Limiter is the shared registry of connections and counters. A single
// mutex guards all state so register/unregister/checks are linearizable.
type Limiter struct {
	now        func() time.Time
	conns      map[string]*connState
	ipConns    map[string]int
	ipMessages map[string]int64
	logger     *slog.Logger
	cfg        Config
	mu         sync.Mutex
}

// New creates a limiter with the given budgets.
func New(cfg Config, logger *slog.Logger) *Limiter {
	if cfg.MessageWindow <= 0 {
		cfg.MessageWindow = time.Second
	}
	return &Limiter{
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		conns:      make(map[string]*connState),
		ipConns:    make(map[string]int),
		ipMessages: make(map[string]int64),
	}
}

// CanConnect reports whether the IP is below its connection cap.
func (l *Limiter) CanConnect(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ipConns[ip] < l.cfg.MaxConnectionsPerIP
}

// RegisterConnection inserts the connection into the registry and bumps the
// per-IP counter. Registering an already-known connection ID is a no-op, so
// the counter can never be double-incremented.
func (l *Limiter) RegisterConnection(info ConnectionInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.conns[info.ConnectionID]; exists {
		return
	}
	if info.EstablishedAt.IsZero() {
		info.EstablishedAt = l.now()
	}
	info.LastActivity = info.EstablishedAt
	l.conns[info.ConnectionID] = &connState{
		info:       info,
		subs:       make(map[string]struct{}),
		tokens:     l.cfg.MessagesPerSecond,
		lastRefill: l.now(),
	}
	l.ipConns[info.IPAddress]++
}

// UnregisterConnection removes the connection and decrements the per-IP
// counter only if the entry existed; counts never go negative.
func (l *Limiter) UnregisterConnection(connectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, exists := l.conns[connectionID]
	if !exists {
		return
	}
	delete(l.conns, connectionID)

	ip := state.info.IPAddress
	if l.ipConns[ip] > 0 {
		l.ipConns[ip]--
	}
	if l.ipConns[ip] == 0 {
		delete(l.ipConns, ip)
		delete(l.ipMessages, ip)
	}
}

// CanSubscribe reports whether the connection may take on the room. A room
// the connection already holds is a no-op success and consumes no budget.
// Unknown connections are denied.
func (l *Limiter) CanSubscribe(connectionID, room string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, exists := l.conns[connectionID]
	if !exists {
		return false
	}
	if _, held := state.subs[room]; held {
		return true
	}
	return len(state.subs) < l.cfg.MaxSubscriptionsPerConnection
}

// RegisterSubscription records the room on the connection.
func (l *Limiter) RegisterSubscription(connectionID, room string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if state, exists := l.conns[connectionID]; exists {
		state.subs[room] = struct{}{}
	}
}

// UnregisterSubscription drops the room from the connection; absent rooms
// are a no-op.
func (l *Limiter) UnregisterSubscription(connectionID, room string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if state, exists := l.conns[connectionID]; exists {
		delete(state.subs, room)
	}
}

// CanSendMessage runs the connection's token bucket. The bucket refills to
// the full per-window budget once a window has elapsed since the last
// refill; an exhausted bucket denies without blocking.
func (l *Limiter) CanSendMessage(connectionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, exists := l.conns[connectionID]
	if !exists {
		return false
	}

	now := l.now()
	if now.Sub(state.lastRefill) >= l.cfg.MessageWindow {
		state.tokens = l.cfg.MessagesPerSecond
		state.lastRefill = now
	}
	if state.tokens <= 0 {
		return false
	}
	state.tokens--
	state.info.LastActivity = now
	l.ipMessages[state.info.IPAddress]++
	return true
}

// Touch records activity on the connection for observability.
func (l *Limiter) Touch(connectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if state, exists := l.conns[connectionID]; exists {
		state.info.LastActivity = l.now()
	}
}

// Reset clears all limiter state. Test and operational utility only; never
// called on the hot path.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.conns = make(map[string]*connState)
	l.ipConns = make(map[string]int)
	l.ipMessages = make(map[string]int64)
}
