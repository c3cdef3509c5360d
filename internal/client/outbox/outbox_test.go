package outbox

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/worksync/pkg/api"
)

func newTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	o, err := New(context.Background(), filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func testMutation(orderID string, pct float64) api.Mutation {
	return api.Mutation{
		OrderID:   orderID,
		ProjectID: "p1",
		Kind:      api.KindProgress,
		Progress:  &api.ProgressPatch{Percentage: pct, Timestamp: 100},
	}
}

func TestOutbox_FIFOOrder(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, testMutation("wo-1", 10)))
	require.NoError(t, o.Enqueue(ctx, testMutation("wo-2", 20)))
	require.NoError(t, o.Enqueue(ctx, testMutation("wo-3", 30)))

	entries, err := o.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "wo-1", entries[0].Mutation.OrderID)
	assert.Equal(t, "wo-3", entries[2].Mutation.OrderID)
	assert.Less(t, entries[0].Seq, entries[1].Seq)
}

func TestOutbox_PeekAndAck(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, testMutation("wo-1", 10)))
	require.NoError(t, o.Enqueue(ctx, testMutation("wo-2", 20)))

	first, err := o.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, "wo-1", first.Mutation.OrderID)

	// Peek does not consume.
	again, err := o.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Seq, again.Seq)

	require.NoError(t, o.Ack(ctx, first.Seq))

	next, err := o.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, "wo-2", next.Mutation.OrderID)

	n, err := o.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOutbox_PeekEmpty(t *testing.T) {
	o := newTestOutbox(t)

	_, err := o.Peek(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestOutbox_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outbox.db")
	ctx := context.Background()

	o, err := New(ctx, path)
	require.NoError(t, err)
	require.NoError(t, o.Enqueue(ctx, testMutation("wo-1", 10)))
	require.NoError(t, o.Close())

	o, err = New(ctx, path)
	require.NoError(t, err)
	defer o.Close()

	entry, err := o.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, "wo-1", entry.Mutation.OrderID)
}

func TestOutbox_ClosedErrors(t *testing.T) {
	o := newTestOutbox(t)
	require.NoError(t, o.Close())
	ctx := context.Background()

	assert.ErrorIs(t, o.Enqueue(ctx, testMutation("wo-1", 10)), ErrStorageClosed)
	_, err := o.Peek(ctx)
	assert.ErrorIs(t, err, ErrStorageClosed)
	_, err = o.Pending(ctx)
	assert.ErrorIs(t, err, ErrStorageClosed)
}
