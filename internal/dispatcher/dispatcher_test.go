package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	queuemem "github.com/sjkd23/PagePersona-sub002/internal/queue/memory"
	"github.com/sjkd23/PagePersona-sub002/internal/transform"
)

func TestEnqueueProxiesToQueue(t *testing.T) {
	t.Parallel()

	q := queuemem.NewQueue(1)
	d := New(q, nil)

	item := transform.QueueItem{JobID: "job-1", Fingerprint: "fp-1", Attempt: 1}
	require.NoError(t, d.Enqueue(context.Background(), item))

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, item, got)
}

func TestEnqueueReportsQueuePressure(t *testing.T) {
	t.Parallel()

	q := queuemem.NewQueue(1)
	d := New(q, nil)
	require.NoError(t, d.Enqueue(context.Background(), transform.QueueItem{JobID: "fill"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Enqueue(ctx, transform.QueueItem{JobID: "overflow"})
	require.Error(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	t.Parallel()

	d := New(queuemem.NewQueue(1), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancellation")
	}
}
