package processor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/logging"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/queue"
)

// Handler processes one event.
type Handler interface {
	Process(ctx context.Context, ev models.QueueEvent) error
}

// errPanic marks a recovered panic. It is handled like a permanent error.
var errPanic = errors.New("panic while processing")

// Worker runs a pool of competing consumers over a queue.
type Worker struct {
	queue           queue.Queue
	handler         Handler
	workers         int
	batch           int
	shutdownTimeout time.Duration
	logger          logging.Logger
}

func NewWorker(q queue.Queue, h Handler, workers, batch int, shutdownTimeout time.Duration, logger logging.Logger) *Worker {
	if workers <= 0 {
		workers = 1
	}
	if batch <= 0 {
		batch = 1
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Worker{
		queue:           q,
		handler:         h,
		workers:         workers,
		batch:           batch,
		shutdownTimeout: shutdownTimeout,
		logger:          logger.With("module", "worker"),
	}
}

// Run consumes until ctx is cancelled and all consumers have stopped.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info(ctx, "starting workers", "workers", w.workers)

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.consume(ctx, id)
		}(i)
	}
	wg.Wait()

	w.logger.Info(context.WithoutCancel(ctx), "workers stopped")
	return nil
}

func (w *Worker) consume(ctx context.Context, id int) {
	log := w.logger.With("worker", id)
	for ctx.Err() == nil {
		msgs, err := w.queue.Receive(ctx, w.batch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error(ctx, "receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, m := range msgs {
			w.Handle(ctx, m)
		}
	}
}

// Handle settles one message: ack on success, release on a permanent
// failure or shutdown, and otherwise leave it for redelivery after the
// visibility timeout.
func (w *Worker) Handle(ctx context.Context, m queue.Message) {
	log := w.logger.With("message_id", m.ID, "attempt", m.DeliveryAttempt)

	if ctx.Err() != nil {
		w.release(ctx, m, log)
		return
	}

	if m.Malformed != nil {
		log.Error(ctx, "dropping malformed message", "error", m.Malformed)
		w.release(ctx, m, log)
		return
	}

	var failure error
	for _, ev := range m.Events {
		if err := w.process(ctx, ev); err != nil {
			failure = err
			break
		}
	}

	switch {
	case failure == nil:
		if err := w.queue.Ack(ctx, m); err != nil {
			log.Error(ctx, "ack failed", "error", err)
		}
	case ctx.Err() != nil:
		log.Warn(ctx, "interrupted by shutdown", "error", failure)
		w.release(ctx, m, log)
	case Permanent(failure) || errors.Is(failure, errPanic):
		log.Error(ctx, "permanent failure", "error", failure)
		w.release(ctx, m, log)
	default:
		log.Warn(ctx, "transient failure, awaiting redelivery", "error", failure)
	}
}

func (w *Worker) process(ctx context.Context, ev models.QueueEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(ctx, "recovered panic", "object", ev.ObjectKey, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return w.handler.Process(ctx, ev)
}

// release runs on a context detached from shutdown so the message is handed
// back even while the worker stops.
func (w *Worker) release(ctx context.Context, m queue.Message, log logging.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.shutdownTimeout)
	defer cancel()
	if err := w.queue.Release(rctx, m); err != nil {
		log.Error(rctx, "release failed", "error", err)
	}
}
