package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/common"
	"github.com/dmitrijs2005/intakevault/internal/models"
)

const memoryPollStep = 10 * time.Millisecond

type memMessage struct {
	id             string
	events         []models.QueueEvent
	receives       int
	handle         string
	invisibleUntil time.Time
}

// MemoryQueue is an in-process broker with visibility timeouts and a
// dead-letter list. A message received more than maxDeliveries times is
// moved to the dead-letter list instead of being delivered again.
type MemoryQueue struct {
	mu            sync.Mutex
	visibility    time.Duration
	maxDeliveries int
	wait          time.Duration
	seq           int
	pending       []*memMessage
	dead          []Message
	now           func() time.Time
}

func NewMemoryQueue(visibility time.Duration, maxDeliveries int, wait time.Duration) *MemoryQueue {
	if maxDeliveries <= 0 {
		maxDeliveries = 5
	}
	return &MemoryQueue{
		visibility:    visibility,
		maxDeliveries: maxDeliveries,
		wait:          wait,
		now:           time.Now,
	}
}

// Send enqueues one message carrying events and returns its id.
func (q *MemoryQueue) Send(events ...models.QueueEvent) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	id := fmt.Sprintf("msg-%06d", q.seq)
	q.pending = append(q.pending, &memMessage{id: id, events: events})
	return id
}

func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	deadline := q.now().Add(q.wait)
	for {
		if msgs := q.take(max); len(msgs) > 0 {
			return msgs, nil
		}
		if !q.now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(memoryPollStep):
		}
	}
}

func (q *MemoryQueue) take(max int) []Message {
	if max <= 0 {
		max = 1
	}
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Message
	kept := q.pending[:0]
	for _, m := range q.pending {
		if len(out) >= max || now.Before(m.invisibleUntil) {
			kept = append(kept, m)
			continue
		}
		if m.receives >= q.maxDeliveries {
			q.dead = append(q.dead, m.message())
			continue
		}
		m.receives++
		m.handle = fmt.Sprintf("%s#%d", m.id, m.receives)
		m.invisibleUntil = now.Add(q.visibility)
		kept = append(kept, m)
		out = append(out, m.message())
	}
	q.pending = kept
	return out
}

func (m *memMessage) message() Message {
	events := make([]models.QueueEvent, len(m.events))
	for i, e := range m.events {
		e.DeliveryAttempt = m.receives
		events[i] = e
	}
	return Message{ID: m.id, Handle: m.handle, DeliveryAttempt: m.receives, Events: events}
}

// find returns the in-flight message matching handle. Handles from an
// earlier delivery are stale.
func (q *MemoryQueue) find(handle string) (int, error) {
	for i, m := range q.pending {
		if m.handle == handle && handle != "" {
			return i, nil
		}
	}
	return -1, fmt.Errorf("receipt handle %q: %w", handle, common.ErrNotFound)
}

func (q *MemoryQueue) Ack(ctx context.Context, m Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i, err := q.find(m.Handle)
	if err != nil {
		return err
	}
	q.pending = append(q.pending[:i], q.pending[i+1:]...)
	return nil
}

func (q *MemoryQueue) Release(ctx context.Context, m Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i, err := q.find(m.Handle)
	if err != nil {
		return err
	}
	q.pending[i].invisibleUntil = time.Time{}
	return nil
}

// Len counts messages not yet acknowledged or dead-lettered.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DeadLetters returns the dead-lettered messages.
func (q *MemoryQueue) DeadLetters() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.dead...)
}

// MemoryPublisher records published events.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []models.CompletionEvent
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, ev models.CompletionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// Events returns everything published so far, duplicates included.
func (p *MemoryPublisher) Events() []models.CompletionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.CompletionEvent(nil), p.events...)
}
