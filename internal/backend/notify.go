package backend

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

// Sender accepts object-created events. queue.MemoryQueue implements it.
type Sender interface {
	Send(events ...models.QueueEvent) string
}

// NotifyingStore emits an object-created event for every successful Put into
// bucket, the way S3 event notifications feed the processor queue.
type NotifyingStore struct {
	storage.Store
	bucket string
	sender Sender
	seq    atomic.Uint64
	now    func() time.Time
}

func NewNotifyingStore(store storage.Store, bucket string, sender Sender) *NotifyingStore {
	return &NotifyingStore{Store: store, bucket: bucket, sender: sender, now: time.Now}
}

func (s *NotifyingStore) Put(ctx context.Context, in storage.PutInput) error {
	if err := s.Store.Put(ctx, in); err != nil {
		return err
	}
	if in.Bucket != s.bucket {
		return nil
	}
	s.sender.Send(models.QueueEvent{
		EventID:       fmt.Sprintf("%s@%016x", in.Location.String(), s.seq.Add(1)),
		Bucket:        in.Bucket,
		ObjectKey:     in.Key,
		ContentLength: int64(len(in.Body)),
		ContentType:   in.ContentType,
		EventTime:     s.now().UTC(),
	})
	return nil
}
