package memory

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/worksync/internal/transport"
)

type recorder struct {
	mu       sync.Mutex
	messages []transport.Message
}

func (r *recorder) deliver(msg transport.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func connectReq(id string, rec *recorder) transport.ConnectRequest {
	return transport.ConnectRequest{ConnectionID: id, Deliver: rec.deliver}
}

func TestHub_PublishFansOutToSubscribers(t *testing.T) {
	h := NewHub(slog.Default())
	ctx := context.Background()

	recA, recB, recC := &recorder{}, &recorder{}, &recorder{}
	require.NoError(t, h.Connect(ctx, connectReq("a", recA)))
	require.NoError(t, h.Connect(ctx, connectReq("b", recB)))
	require.NoError(t, h.Connect(ctx, connectReq("c", recC)))

	require.NoError(t, h.Subscribe(ctx, "a", "project:1"))
	require.NoError(t, h.Subscribe(ctx, "b", "project:1"))
	require.NoError(t, h.Subscribe(ctx, "c", "project:2"))

	require.NoError(t, h.Publish(ctx, "a", "project:1", []byte("hello")))

	assert.Equal(t, 1, recA.count())
	assert.Equal(t, 1, recB.count())
	assert.Equal(t, 0, recC.count(), "other rooms unaffected")
}

func TestHub_DuplicateConnectRejected(t *testing.T) {
	h := NewHub(slog.Default())
	ctx := context.Background()

	require.NoError(t, h.Connect(ctx, connectReq("a", &recorder{})))
	assert.ErrorIs(t, h.Connect(ctx, connectReq("a", &recorder{})), ErrAlreadyConnected)
}

func TestHub_UnknownConnection(t *testing.T) {
	h := NewHub(slog.Default())
	ctx := context.Background()

	assert.ErrorIs(t, h.Subscribe(ctx, "ghost", "project:1"), ErrUnknownConnection)
	assert.ErrorIs(t, h.Publish(ctx, "ghost", "project:1", nil), ErrUnknownConnection)
	assert.NoError(t, h.Disconnect(ctx, "ghost"), "disconnect is idempotent")
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub(slog.Default())
	ctx := context.Background()

	rec := &recorder{}
	require.NoError(t, h.Connect(ctx, connectReq("a", rec)))
	require.NoError(t, h.Subscribe(ctx, "a", "project:1"))
	require.NoError(t, h.Unsubscribe(ctx, "a", "project:1"))

	h.Broadcast("project:1", []byte("x"))
	assert.Zero(t, rec.count())
	assert.Zero(t, h.Subscribers("project:1"))
}

func TestHub_DisconnectCleansRooms(t *testing.T) {
	h := NewHub(slog.Default())
	ctx := context.Background()

	rec := &recorder{}
	require.NoError(t, h.Connect(ctx, connectReq("a", rec)))
	require.NoError(t, h.Subscribe(ctx, "a", "project:1"))
	require.NoError(t, h.Subscribe(ctx, "a", "global"))

	require.NoError(t, h.Disconnect(ctx, "a"))
	assert.Zero(t, h.Subscribers("project:1"))
	assert.Zero(t, h.Subscribers("global"))
}

func TestHub_PublishHandlerIntercepts(t *testing.T) {
	h := NewHub(slog.Default())
	ctx := context.Background()

	rec := &recorder{}
	require.NoError(t, h.Connect(ctx, connectReq("a", rec)))
	require.NoError(t, h.Subscribe(ctx, "a", "project:1"))

	var gotSender, gotRoom string
	h.SetPublishHandler(func(_ context.Context, senderID, room string, payload []byte) error {
		gotSender, gotRoom = senderID, room
		// The handler rebroadcasts an authoritative payload instead of the
		// raw client one.
		h.Broadcast(room, []byte("authoritative"))
		return nil
	})

	require.NoError(t, h.Publish(ctx, "a", "project:1", []byte("raw")))
	assert.Equal(t, "a", gotSender)
	assert.Equal(t, "project:1", gotRoom)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, []byte("authoritative"), rec.messages[0].Payload)
}
