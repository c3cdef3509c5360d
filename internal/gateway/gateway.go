// Package gateway wraps the transport with identity, room authorization and
// rate-limit policy. The transport underneath stays unaware of policy; the
// gateway implements the same Transport interface and delegates accepted
// operations.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldops/worksync/internal/auth"
	"github.com/fieldops/worksync/internal/ratelimit"
	"github.com/fieldops/worksync/internal/transport"
)

var (
	// ErrConnectionLimit and friends are the hard-block forms of the three
	// policy violations. They are only returned when BlockOnViolation is set;
	// soft mode logs and lets the operation proceed.
	ErrConnectionLimit   = errors.New("gateway: connection limit exceeded")
	ErrSubscriptionLimit = errors.New("gateway: subscription limit exceeded")
	ErrMessageRateLimit  = errors.New("gateway: message rate exceeded")

	// ErrNotAuthorized is an authorization denial, independent of policy
	// mode: an unauthorized room operation never proceeds.
	ErrNotAuthorized = errors.New("gateway: room access denied")

	// ErrUnknownConnection is returned for operations referencing a
	// connection the gateway never admitted (or already tore down).
	ErrUnknownConnection = errors.New("gateway: unknown connection")

	errMissingConnectionID = errors.New("gateway: connect request missing connection id")
)

// Violation kinds attached to every policy warning event.
const (
	violationConnection   = "connection"
	violationSubscription = "subscription"
	violationMessage      = "message"
)

// Config toggles how policy denials are enforced.
type Config struct {
	// BlockOnViolation hard-blocks rate-limit denials; when false the
	// violation is logged and the operation proceeds (soft rollout mode).
	BlockOnViolation bool
	// LogViolations emits one structured warning per policy violation.
	LogViolations bool
}

// session is the per-connection state the gateway tracks for authorization
// and observability.
type session struct {
	authCtx      *auth.Context
	connectStart time.Time
	established  time.Time
}

// Gateway composes the auth verifier, room authorizer and rate limiter
// around an inner transport.
type Gateway struct {
	now        func() time.Time
	inner      transport.Transport
	verifier   *auth.Verifier
	authorizer *auth.Authorizer
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
	sessions   map[string]*session
	cfg        Config
	mu         sync.Mutex
}

// New creates a gateway around the inner transport.
func New(inner transport.Transport, verifier *auth.Verifier, authorizer *auth.Authorizer,
	limiter *ratelimit.Limiter, cfg Config, logger *slog.Logger) *Gateway {
	return &Gateway{
		inner:      inner,
		verifier:   verifier,
		authorizer: authorizer,
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		sessions:   make(map[string]*session),
	}
}

// Connect authenticates the attempt, applies the per-IP connection policy,
// registers the connection and delegates to the transport. A transport
// failure after registration always unregisters so counts cannot leak.
func (g *Gateway) Connect(ctx context.Context, req transport.ConnectRequest) error {
	if req.ConnectionID == "" {
		return errMissingConnectionID
	}

	connectStart := g.now()

	authCtx, err := g.verifier.Verify(req.Token)
	if err != nil {
		return err
	}

	ip := ClientIP(req.Headers)
	if !g.limiter.CanConnect(ip) {
		if err := g.violation(violationConnection, ErrConnectionLimit,
			"ip", ip, "user_id", authCtx.UserID); err != nil {
			return err
		}
	}

	g.limiter.RegisterConnection(ratelimit.ConnectionInfo{
		ConnectionID:  req.ConnectionID,
		IPAddress:     ip,
		UserID:        authCtx.UserID,
		EstablishedAt: connectStart,
	})
	g.mu.Lock()
	g.sessions[req.ConnectionID] = &session{authCtx: authCtx, connectStart: connectStart}
	g.mu.Unlock()

	if err := g.inner.Connect(ctx, req); err != nil {
		g.teardown(req.ConnectionID)
		return err
	}

	g.mu.Lock()
	if s, ok := g.sessions[req.ConnectionID]; ok {
		s.established = g.now()
	}
	g.mu.Unlock()

	g.logger.Info("connection established",
		"connection_id", req.ConnectionID, "ip", ip, "user_id", authCtx.UserID)
	return nil
}

// Subscribe authorizes the room for the connection's identity, applies the
// subscription budget and delegates.
func (g *Gateway) Subscribe(ctx context.Context, connectionID, room string) error {
	s, err := g.session(connectionID)
	if err != nil {
		return err
	}

	if !g.authorizer.Authorize(s.authCtx, room) {
		g.logger.Warn("subscribe denied",
			"connection_id", connectionID, "room", room, "user_id", s.authCtx.UserID)
		return ErrNotAuthorized
	}
	if !g.limiter.CanSubscribe(connectionID, room) {
		if err := g.violation(violationSubscription, ErrSubscriptionLimit,
			"connection_id", connectionID, "room", room); err != nil {
			return err
		}
	}

	g.limiter.RegisterSubscription(connectionID, room)
	if err := g.inner.Subscribe(ctx, connectionID, room); err != nil {
		g.limiter.UnregisterSubscription(connectionID, room)
		return err
	}
	g.limiter.Touch(connectionID)
	return nil
}

// Unsubscribe delegates and always drops the subscription from the registry
// regardless of the transport call's outcome.
func (g *Gateway) Unsubscribe(ctx context.Context, connectionID, room string) error {
	err := g.inner.Unsubscribe(ctx, connectionID, room)
	g.limiter.UnregisterSubscription(connectionID, room)
	g.limiter.Touch(connectionID)
	return err
}

// Publish authorizes the room and applies the message budget, then
// delegates. Payloads are never logged.
func (g *Gateway) Publish(ctx context.Context, connectionID, room string, payload []byte) error {
	s, err := g.session(connectionID)
	if err != nil {
		return err
	}

	if !g.authorizer.Authorize(s.authCtx, room) {
		g.logger.Warn("publish denied",
			"connection_id", connectionID, "room", room, "user_id", s.authCtx.UserID)
		return ErrNotAuthorized
	}
	if !g.limiter.CanSendMessage(connectionID) {
		if err := g.violation(violationMessage, ErrMessageRateLimit,
			"connection_id", connectionID, "user_id", s.authCtx.UserID); err != nil {
			return err
		}
	}

	return g.inner.Publish(ctx, connectionID, room, payload)
}

// Disconnect delegates first and unregisters after the transport call has
// fully returned; cleanup runs exactly once and is never skippable.
func (g *Gateway) Disconnect(ctx context.Context, connectionID string) error {
	err := g.inner.Disconnect(ctx, connectionID)
	g.teardown(connectionID)
	return err
}

// Identity returns the verified identity bound to a connection.
func (g *Gateway) Identity(connectionID string) (*auth.Context, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[connectionID]
	if !ok {
		return nil, false
	}
	return s.authCtx, true
}

func (g *Gateway) session(connectionID string) (*session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[connectionID]
	if !ok {
		return nil, ErrUnknownConnection
	}
	return s, nil
}

func (g *Gateway) teardown(connectionID string) {
	g.limiter.UnregisterConnection(connectionID)
	g.mu.Lock()
	delete(g.sessions, connectionID)
	g.mu.Unlock()
}

// violation records one policy violation. It returns the hard-block error
// in blocking mode and nil in soft mode.
func (g *Gateway) violation(kind string, blockErr error, args ...any) error {
	if g.cfg.LogViolations {
		g.logger.Warn("rate limit violation",
			append([]any{"violation_type", kind}, args...)...)
	}
	if g.cfg.BlockOnViolation {
		return blockErr
	}
	return nil
}
