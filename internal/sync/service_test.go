package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/worksync/internal/conflict"
	"github.com/fieldops/worksync/internal/models"
	"github.com/fieldops/worksync/internal/server/storage"
	"github.com/fieldops/worksync/pkg/api"
)

// memStore is a map-backed WorkOrderStorage for tests.
type memStore struct {
	mu     gosync.Mutex
	orders map[string]*models.WorkOrder
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]*models.WorkOrder)}
}

func (m *memStore) SaveWorkOrder(_ context.Context, order *models.WorkOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order.Clone()
	return nil
}

func (m *memStore) GetWorkOrder(_ context.Context, id string) (*models.WorkOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, storage.ErrWorkOrderNotFound
	}
	return order.Clone(), nil
}

func (m *memStore) GetProjectWorkOrders(_ context.Context, projectID string) ([]*models.WorkOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orders []*models.WorkOrder
	for _, o := range m.orders {
		if o.ProjectID == projectID {
			orders = append(orders, o.Clone())
		}
	}
	return orders, nil
}

func (m *memStore) DeleteWorkOrder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return storage.ErrWorkOrderNotFound
	}
	delete(m.orders, id)
	return nil
}

// recordingCaster captures broadcast envelopes.
type recordingCaster struct {
	mu       gosync.Mutex
	rooms    []string
	payloads [][]byte
}

func (r *recordingCaster) Broadcast(room string, payload []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append(r.rooms, room)
	r.payloads = append(r.payloads, payload)
	return 1
}

func newTestService(t *testing.T) (*Service, *memStore, *recordingCaster) {
	t.Helper()
	store := newMemStore()
	caster := &recordingCaster{}
	engine := conflict.New(conflict.Config{Enabled: true}, slog.Default())
	return New(store, engine, caster, slog.Default()), store, caster
}

func statusMutation(orderID, status string, ts int64) api.Mutation {
	return api.Mutation{
		OrderID:        orderID,
		OrganizationID: "org-1",
		ProjectID:      "p1",
		UserID:         "user-1",
		Kind:           api.KindStatus,
		Status:         &api.StatusPatch{Status: status, LastModified: ts},
	}
}

func progressMutation(orderID string, pct float64, ts int64) api.Mutation {
	return api.Mutation{
		OrderID:        orderID,
		OrganizationID: "org-1",
		ProjectID:      "p1",
		UserID:         "user-1",
		Kind:           api.KindProgress,
		Progress:       &api.ProgressPatch{Percentage: pct, Timestamp: ts},
	}
}

func TestService_ApplyCreatesBaseline(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	update, err := svc.Apply(ctx, statusMutation("wo-1", "in_progress", 100))
	require.NoError(t, err)
	assert.Equal(t, "in_progress", update.Status)
	assert.Zero(t, update.Conflicts)
	assert.Empty(t, update.Resolution)

	stored, err := store.GetWorkOrder(ctx, "wo-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	assert.Equal(t, int64(100), stored.StatusModified)
	assert.Equal(t, "user-1", stored.UpdatedBy)
	assert.Equal(t, "p1", stored.ProjectID)
}

func TestService_InvalidTransitionResolvedByPrecedence(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Apply(ctx, statusMutation("wo-1", "in_progress", 100))
	require.NoError(t, err)
	_, err = svc.Apply(ctx, statusMutation("wo-1", "done", 200))
	require.NoError(t, err)

	// A stale writer proposes stepping back to in_progress. The terminal
	// state outranks it and survives.
	update, err := svc.Apply(ctx, statusMutation("wo-1", "in_progress", 300))
	require.NoError(t, err)
	assert.Equal(t, "done", update.Status)
	assert.Equal(t, 1, update.Conflicts)
	assert.Equal(t, string(conflict.StrategyPrecedenceGraph), update.Resolution)

	stored, err := store.GetWorkOrder(ctx, "wo-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, stored.Status)
	assert.Equal(t, int64(200), stored.StatusModified)
}

func TestService_ProgressDecreaseKeepsMaximum(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Apply(ctx, progressMutation("wo-1", 40, 100))
	require.NoError(t, err)

	update, err := svc.Apply(ctx, progressMutation("wo-1", 20, 200))
	require.NoError(t, err)
	assert.InDelta(t, 40.0, update.Progress, 0.001)
	assert.Equal(t, string(conflict.StrategyMonotonicCounter), update.Resolution)

	stored, err := store.GetWorkOrder(ctx, "wo-1")
	require.NoError(t, err)
	assert.InDelta(t, 40.0, stored.Progress, 0.001)
	assert.Equal(t, int64(100), stored.ProgressUpdated)
}

func TestService_ProgressAdvancesWithoutConflict(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Apply(ctx, progressMutation("wo-1", 40, 100))
	require.NoError(t, err)

	update, err := svc.Apply(ctx, progressMutation("wo-1", 60, 200))
	require.NoError(t, err)
	assert.InDelta(t, 60.0, update.Progress, 0.001)
	assert.Zero(t, update.Conflicts)
}

func TestService_BroadcastEnvelope(t *testing.T) {
	svc, _, caster := newTestService(t)

	_, err := svc.Apply(context.Background(), statusMutation("wo-1", "in_progress", 100))
	require.NoError(t, err)

	require.Len(t, caster.rooms, 1)
	assert.Equal(t, "project:p1", caster.rooms[0])

	var msg api.ServerMessage
	require.NoError(t, json.Unmarshal(caster.payloads[0], &msg))
	assert.Equal(t, api.MessageWorkOrderUpdated, msg.Type)
	assert.Equal(t, "project:p1", msg.Room)

	var update api.WorkOrderUpdate
	require.NoError(t, json.Unmarshal(msg.Data, &update))
	assert.Equal(t, "wo-1", update.OrderID)
	assert.Equal(t, "in_progress", update.Status)
}

func TestService_ValidateRejectsBadMutations(t *testing.T) {
	svc, _, caster := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		m    api.Mutation
	}{
		{"missing order id", statusMutation("", "planned", 1)},
		{"unknown kind", api.Mutation{OrderID: "wo-1", Kind: "geo"}},
		{"status kind without patch", api.Mutation{OrderID: "wo-1", Kind: api.KindStatus}},
		{"unknown status value", statusMutation("wo-1", "paused", 1)},
		{"progress kind without patch", api.Mutation{OrderID: "wo-1", Kind: api.KindProgress}},
		{"percentage above range", progressMutation("wo-1", 120, 1)},
		{"percentage below range", progressMutation("wo-1", -1, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Apply(ctx, tt.m)
			assert.ErrorIs(t, err, ErrInvalidMutation)
		})
	}

	assert.Empty(t, caster.rooms, "rejected mutations broadcast nothing")
}

func TestService_HandlePublish(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	payload, err := json.Marshal(statusMutation("wo-1", "in_progress", 100))
	require.NoError(t, err)
	require.NoError(t, svc.HandlePublish(ctx, "c1", "project:p1", payload))

	stored, err := store.GetWorkOrder(ctx, "wo-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)

	err = svc.HandlePublish(ctx, "c1", "project:p1", []byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidMutation)
}

func TestService_HandlePublishRejectsForeignProject(t *testing.T) {
	svc, store, caster := newTestService(t)
	ctx := context.Background()

	// Sender was authorized for project:p1 but names p2 in the payload.
	m := statusMutation("wo-1", "in_progress", 100)
	m.ProjectID = "p2"
	payload, err := json.Marshal(m)
	require.NoError(t, err)

	err = svc.HandlePublish(ctx, "c1", "project:p1", payload)
	assert.ErrorIs(t, err, ErrInvalidMutation)

	_, err = store.GetWorkOrder(ctx, "wo-1")
	assert.ErrorIs(t, err, storage.ErrWorkOrderNotFound)
	assert.Empty(t, caster.rooms, "nothing leaks into the foreign room")
}

func TestService_ApplyRejectsProjectMove(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Apply(ctx, statusMutation("wo-1", "in_progress", 100))
	require.NoError(t, err)

	m := statusMutation("wo-1", "done", 200)
	m.ProjectID = "p2"
	_, err = svc.Apply(ctx, m)
	assert.ErrorIs(t, err, ErrInvalidMutation)

	stored, err := store.GetWorkOrder(ctx, "wo-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", stored.ProjectID)
	assert.Equal(t, models.StatusInProgress, stored.Status)
}

func TestService_ConcurrentMutationsSameOrder(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	var wg gosync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := "in_progress"
			if i%2 == 0 {
				status = "done"
			}
			_, err := svc.Apply(ctx, statusMutation("wo-1", status, int64(i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := store.GetWorkOrder(ctx, "wo-1")
	require.NoError(t, err)
	// done outranks every other proposal, so it survives any interleaving.
	assert.Equal(t, models.StatusDone, stored.Status)
}

func TestService_DisabledEngineAppliesWritesDirectly(t *testing.T) {
	store := newMemStore()
	caster := &recordingCaster{}
	engine := conflict.New(conflict.Config{Enabled: false}, slog.Default())
	svc := New(store, engine, caster, slog.Default())
	ctx := context.Background()

	_, err := svc.Apply(ctx, progressMutation("wo-1", 40, 100))
	require.NoError(t, err)

	// No detection means the stale decrease lands as-is.
	update, err := svc.Apply(ctx, progressMutation("wo-1", 20, 200))
	require.NoError(t, err)
	assert.InDelta(t, 20.0, update.Progress, 0.001)
}

func ExampleProjectRoom() {
	fmt.Println(ProjectRoom("p1"))
	// Output: project:p1
}
