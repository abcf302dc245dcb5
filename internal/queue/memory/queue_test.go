package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sjkd23/PagePersona-sub002/internal/transform"
)

func TestQueueRoundTrip(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	ctx := context.Background()

	item := transform.QueueItem{JobID: "job-1", Fingerprint: "fp-1", Attempt: 1}
	require.NoError(t, q.Enqueue(ctx, item))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, item, got)
}

func TestQueueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), transform.QueueItem{JobID: "fill"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, transform.QueueItem{JobID: "overflow"})
	require.Error(t, err, "bounded queue should fail enqueue when full and context expires")

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	_, err = NewQueue(1).Dequeue(ctx2)
	require.Error(t, err)
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	q.Close()

	_, err := q.Dequeue(context.Background())
	require.EqualError(t, err, "queue closed")
}
