// Package sync applies client mutations to shared work-order state. Each
// mutation is merged against the stored row through the conflict engine and
// the authoritative result is persisted and rebroadcast to the order's
// project room.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldops/worksync/internal/conflict"
	"github.com/fieldops/worksync/internal/models"
	"github.com/fieldops/worksync/internal/server/storage"
	"github.com/fieldops/worksync/pkg/api"
)

// ErrInvalidMutation indicates a mutation that cannot be applied: missing
// order ID, kind/payload mismatch, or an unknown status value.
var ErrInvalidMutation = errors.New("invalid mutation")

// Broadcaster pushes an authoritative update into a room after a mutation
// has been applied. The in-memory hub satisfies this.
type Broadcaster interface {
	Broadcast(room string, payload []byte) int
}

// Service is the server-side mutation path.
type Service struct {
	now    func() time.Time
	store  storage.WorkOrderStorage
	engine conflict.Engine
	caster Broadcaster
	logger *slog.Logger
	locks  map[string]*sync.Mutex
	mu     sync.Mutex
}

// New creates a mutation service.
func New(store storage.WorkOrderStorage, engine conflict.Engine, caster Broadcaster, logger *slog.Logger) *Service {
	return &Service{
		now:    time.Now,
		store:  store,
		engine: engine,
		caster: caster,
		logger: logger.With("component", "sync"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// ProjectRoom returns the room an order's updates are broadcast into.
func ProjectRoom(projectID string) string {
	return "project:" + projectID
}

// Apply merges one mutation into the stored work order and broadcasts the
// result. Mutations for the same order are serialized; different orders
// proceed concurrently.
func (s *Service) Apply(ctx context.Context, m api.Mutation) (*api.WorkOrderUpdate, error) {
	if err := validate(m); err != nil {
		return nil, err
	}

	unlock := s.lockOrder(m.OrderID)
	defer unlock()

	order, err := s.store.GetWorkOrder(ctx, m.OrderID)
	if err != nil {
		if !errors.Is(err, storage.ErrWorkOrderNotFound) {
			return nil, fmt.Errorf("failed to load work order: %w", err)
		}
		// First write for this order establishes the baseline row.
		order = &models.WorkOrder{
			ID:             m.OrderID,
			OrganizationID: m.OrganizationID,
			ProjectID:      m.ProjectID,
			Status:         models.StatusPlanned,
		}
	} else if order.ProjectID != m.ProjectID {
		// An order never moves between projects; the stored row is
		// authoritative.
		return nil, fmt.Errorf("%w: order %q belongs to project %q", ErrInvalidMutation, m.OrderID, order.ProjectID)
	}

	meta := conflict.Metadata{
		Timestamp:         s.now(),
		UserID:            m.UserID,
		OrganizationID:    m.OrganizationID,
		WorkOrderID:       m.OrderID,
		SectionID:         m.SectionID,
		Source:            conflict.SourceRemote,
		ConnectionQuality: conflict.ConnectionQuality(m.ConnectionQuality),
	}

	var resolution conflict.Strategy
	var conflicts int

	switch m.Kind {
	case api.KindStatus:
		resolution, conflicts, err = s.applyStatus(order, m.Status, meta)
	case api.KindProgress:
		resolution, conflicts, err = s.applyProgress(order, m.Progress, meta)
	}
	if err != nil {
		return nil, err
	}

	order.UpdatedBy = m.UserID
	order.UpdatedAt = s.now()

	if err := s.store.SaveWorkOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to persist work order: %w", err)
	}

	update := &api.WorkOrderUpdate{
		OrderID:         order.ID,
		ProjectID:       order.ProjectID,
		Status:          string(order.Status),
		UpdatedBy:       order.UpdatedBy,
		Resolution:      string(resolution),
		Progress:        order.Progress,
		StatusModified:  order.StatusModified,
		ProgressUpdated: order.ProgressUpdated,
		Conflicts:       conflicts,
	}

	if err := s.broadcast(update); err != nil {
		return nil, err
	}

	if conflicts > 0 {
		s.logger.Info("mutation resolved with conflicts",
			"order_id", order.ID,
			"conflicts", conflicts,
			"strategy", string(resolution),
		)
	}

	return update, nil
}

// HandlePublish adapts Apply to the transport's publish hook. The payload is
// a JSON-encoded mutation; the sender's identity has already been stamped on
// it by the session layer.
func (s *Service) HandlePublish(ctx context.Context, senderID, room string, payload []byte) error {
	var m api.Mutation
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMutation, err)
	}

	// The gateway authorized the sender for room, not for whatever project
	// the payload names. A mutation may only touch the room's own project.
	if ProjectRoom(m.ProjectID) != room {
		err := fmt.Errorf("%w: project %q is outside room %q", ErrInvalidMutation, m.ProjectID, room)
		s.logger.Warn("mutation rejected",
			"connection_id", senderID,
			"room", room,
			"error", err,
		)
		return err
	}

	if _, err := s.Apply(ctx, m); err != nil {
		s.logger.Warn("mutation rejected",
			"connection_id", senderID,
			"room", room,
			"error", err,
		)
		return err
	}
	return nil
}

func (s *Service) applyStatus(order *models.WorkOrder, patch *api.StatusPatch, meta conflict.Metadata) (conflict.Strategy, int, error) {
	local := conflict.StatusValue{Status: order.Status, LastModified: order.StatusModified}
	remote := conflict.StatusValue{Status: models.Status(patch.Status), LastModified: patch.LastModified}

	res := s.engine.Detect(local, remote, meta)
	if !res.HasConflict {
		order.Status = remote.Status
		order.StatusModified = remote.LastModified
		return "", 0, nil
	}

	strategy, err := s.resolveInto(res, func(v interface{}) bool {
		sv, ok := v.(conflict.StatusValue)
		if !ok {
			return false
		}
		order.Status = sv.Status
		order.StatusModified = sv.LastModified
		return true
	})
	return strategy, len(res.Conflicts), err
}

func (s *Service) applyProgress(order *models.WorkOrder, patch *api.ProgressPatch, meta conflict.Metadata) (conflict.Strategy, int, error) {
	local := conflict.ProgressValue{Percentage: order.Progress, Timestamp: order.ProgressUpdated}
	remote := conflict.ProgressValue{Percentage: patch.Percentage, Timestamp: patch.Timestamp}

	res := s.engine.Detect(local, remote, meta)
	if !res.HasConflict {
		order.Progress = remote.Percentage
		order.ProgressUpdated = remote.Timestamp
		return "", 0, nil
	}

	strategy, err := s.resolveInto(res, func(v interface{}) bool {
		pv, ok := v.(conflict.ProgressValue)
		if !ok {
			return false
		}
		order.Progress = pv.Percentage
		order.ProgressUpdated = pv.Timestamp
		return true
	})
	return strategy, len(res.Conflicts), err
}

// resolveInto resolves every detected conflict and applies the winning
// value through the supplied setter.
func (s *Service) resolveInto(res conflict.Result, apply func(interface{}) bool) (conflict.Strategy, error) {
	var strategy conflict.Strategy
	for _, c := range res.Conflicts {
		rr, err := s.engine.Resolve(c)
		if err != nil {
			return "", fmt.Errorf("failed to resolve conflict: %w", err)
		}
		if !apply(rr.ResolvedValue) {
			return "", fmt.Errorf("unexpected resolved value type %T", rr.ResolvedValue)
		}
		strategy = rr.Strategy
	}
	return strategy, nil
}

func (s *Service) broadcast(update *api.WorkOrderUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}

	room := ProjectRoom(update.ProjectID)
	msg := api.ServerMessage{
		Type: api.MessageWorkOrderUpdated,
		Room: room,
		Data: data,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	delivered := s.caster.Broadcast(room, payload)
	s.logger.Debug("update broadcast",
		"order_id", update.OrderID,
		"room", room,
		"delivered", delivered,
	)
	return nil
}

// lockOrder serializes mutations for a single order. Lock objects are kept
// for the life of the process; the set of active orders is small.
func (s *Service) lockOrder(orderID string) func() {
	s.mu.Lock()
	l, ok := s.locks[orderID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[orderID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func validate(m api.Mutation) error {
	if m.OrderID == "" {
		return fmt.Errorf("%w: missing order_id", ErrInvalidMutation)
	}

	switch m.Kind {
	case api.KindStatus:
		if m.Status == nil {
			return fmt.Errorf("%w: status mutation without status patch", ErrInvalidMutation)
		}
		if !models.IsValidStatus(models.Status(m.Status.Status)) {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidMutation, m.Status.Status)
		}
	case api.KindProgress:
		if m.Progress == nil {
			return fmt.Errorf("%w: progress mutation without progress patch", ErrInvalidMutation)
		}
		if m.Progress.Percentage < 0 || m.Progress.Percentage > 100 {
			return fmt.Errorf("%w: percentage out of range", ErrInvalidMutation)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMutation, m.Kind)
	}

	return nil
}
