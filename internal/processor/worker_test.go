package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/intakevault/internal/common"
	"github.com/dmitrijs2005/intakevault/internal/logging"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/queue"
	"github.com/dmitrijs2005/intakevault/internal/scan"
)

type handlerFunc func(ctx context.Context, ev models.QueueEvent) error

func (f handlerFunc) Process(ctx context.Context, ev models.QueueEvent) error {
	return f(ctx, ev)
}

func receiveOne(t *testing.T, q *queue.MemoryQueue) queue.Message {
	t.Helper()
	msgs, err := q.Receive(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	return msgs[0]
}

func TestHandle_AcksSuccess(t *testing.T) {
	q := queue.NewMemoryQueue(time.Hour, 3, 0)
	q.Send(models.QueueEvent{ObjectKey: "a.zip"}, models.QueueEvent{ObjectKey: "b.zip"})

	var seen []string
	w := NewWorker(q, handlerFunc(func(ctx context.Context, ev models.QueueEvent) error {
		seen = append(seen, ev.ObjectKey)
		return nil
	}), 1, 1, 0, logging.Discard())

	w.Handle(context.Background(), receiveOne(t, q))
	assert.Equal(t, []string{"a.zip", "b.zip"}, seen)
	assert.Equal(t, 0, q.Len())
}

func TestHandle_PermanentFailureDeadLetters(t *testing.T) {
	q := queue.NewMemoryQueue(time.Hour, 3, 0)
	q.Send(models.QueueEvent{ObjectKey: "bad.zip"})

	w := NewWorker(q, handlerFunc(func(ctx context.Context, ev models.QueueEvent) error {
		return common.ErrMalformedArchive
	}), 1, 1, 0, logging.Discard())

	for i := 0; i < 3; i++ {
		w.Handle(context.Background(), receiveOne(t, q))
	}
	msgs, err := q.Receive(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Len(t, q.DeadLetters(), 1)
}

func TestHandle_TruncatedArchiveDeadLettersAndWorkerContinues(t *testing.T) {
	e := newEnv(t, scan.ProviderGuardDuty, Options{})
	pkg := e.seed(t, testSubmission(), "NO_THREATS_FOUND")
	e.put(t, pkg.Archive[:len(pkg.Archive)/2], "", "NO_THREATS_FOUND")

	q := queue.NewMemoryQueue(time.Hour, 3, 0)
	q.Send(event())
	w := NewWorker(q, e.proc, 1, 1, time.Second, logging.Discard())

	for i := 0; i < 3; i++ {
		require.NotPanics(t, func() { w.Handle(context.Background(), receiveOne(t, q)) })
	}
	msgs, err := q.Receive(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Len(t, q.DeadLetters(), 1)
	assert.Empty(t, e.store.Keys("processed"))
	assert.Empty(t, e.publisher.Events())

	// The same worker still handles the next, intact upload.
	e.put(t, pkg.Archive, pkg.ArchiveDigest, "NO_THREATS_FOUND")
	q.Send(event())
	w.Handle(context.Background(), receiveOne(t, q))
	assert.Equal(t, 0, q.Len())
	assert.Len(t, e.store.Keys("processed"), 3)
	assert.Len(t, e.publisher.Events(), 1)
}

func TestHandle_TransientFailureWaitsForVisibilityTimeout(t *testing.T) {
	q := queue.NewMemoryQueue(time.Hour, 3, 0)
	q.Send(models.QueueEvent{ObjectKey: "pending.zip"})

	w := NewWorker(q, handlerFunc(func(ctx context.Context, ev models.QueueEvent) error {
		return common.ErrScanPending
	}), 1, 1, 0, logging.Discard())

	w.Handle(context.Background(), receiveOne(t, q))

	msgs, err := q.Receive(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, msgs, "still invisible")
	assert.Equal(t, 1, q.Len())
	assert.Empty(t, q.DeadLetters())
}

func TestHandle_RecoversPanic(t *testing.T) {
	q := queue.NewMemoryQueue(time.Hour, 3, 0)
	q.Send(models.QueueEvent{ObjectKey: "boom.zip"})

	w := NewWorker(q, handlerFunc(func(ctx context.Context, ev models.QueueEvent) error {
		panic("nil map")
	}), 1, 1, 0, logging.Discard())

	require.NotPanics(t, func() { w.Handle(context.Background(), receiveOne(t, q)) })
	m := receiveOne(t, q)
	assert.Equal(t, 2, m.DeliveryAttempt, "released for immediate redelivery")
}

func TestHandle_MalformedMessageReleased(t *testing.T) {
	q := &recordingQueue{}
	w := NewWorker(q, handlerFunc(func(ctx context.Context, ev models.QueueEvent) error {
		t.Fatal("must not be called")
		return nil
	}), 1, 1, 0, logging.Discard())

	w.Handle(context.Background(), queue.Message{ID: "m1", Malformed: errors.New("bad json")})
	assert.Equal(t, []string{"m1"}, q.released)
	assert.Empty(t, q.acked)
}

func TestHandle_ShutdownReleases(t *testing.T) {
	q := &recordingQueue{}
	ctx, cancel := context.WithCancel(context.Background())

	w := NewWorker(q, handlerFunc(func(ctx context.Context, ev models.QueueEvent) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}), 1, 1, time.Second, logging.Discard())

	w.Handle(ctx, queue.Message{ID: "m1", Events: []models.QueueEvent{{ObjectKey: "a.zip"}}})
	assert.Equal(t, []string{"m1"}, q.released)
	assert.False(t, q.releaseCtxDone, "release must not use the cancelled context")
}

func TestRun_ProcessesUntilCancelled(t *testing.T) {
	e := newEnv(t, scan.ProviderGuardDuty, Options{})
	e.seed(t, testSubmission(), "NO_THREATS_FOUND")

	q := queue.NewMemoryQueue(time.Minute, 3, 20*time.Millisecond)
	q.Send(event())
	q.Send(models.QueueEvent{Bucket: "intake", ObjectKey: "other/readme.md"})

	w := NewWorker(q, e.proc, 3, 5, time.Second, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
	assert.Len(t, e.publisher.Events(), 1)
	assert.Len(t, e.store.Keys("processed"), 3)
}

// recordingQueue records settlements; Receive is unused.
type recordingQueue struct {
	mu             sync.Mutex
	acked          []string
	released       []string
	releaseCtxDone bool
	receives       atomic.Int64
}

func (q *recordingQueue) Receive(ctx context.Context, max int) ([]queue.Message, error) {
	q.receives.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *recordingQueue) Ack(ctx context.Context, m queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, m.ID)
	return nil
}

func (q *recordingQueue) Release(ctx context.Context, m queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, m.ID)
	q.releaseCtxDone = ctx.Err() != nil
	return nil
}
