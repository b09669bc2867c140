package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/intakevault/internal/common"
)

type memObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	tags        map[string]string
}

// MemoryStore is an in-process Store. All values are copied on the way in
// and out.
type MemoryStore struct {
	mu       sync.RWMutex
	objects  map[Location]*memObject
	tagLimit int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[Location]*memObject), tagLimit: S3TagLimit}
}

func (s *MemoryStore) Put(ctx context.Context, in PutInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(in.Tags) > s.tagLimit {
		return fmt.Errorf("put %s: %d tags exceeds limit %d", in.Location, len(in.Tags), s.tagLimit)
	}

	obj := &memObject{
		body:        append([]byte(nil), in.Body...),
		contentType: in.ContentType,
		metadata:    cloneMap(in.Metadata),
		tags:        cloneMap(in.Tags),
	}

	s.mu.Lock()
	s.objects[in.Location] = obj
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) lookup(loc Location) (*memObject, error) {
	obj, ok := s.objects[loc]
	if !ok {
		return nil, fmt.Errorf("%s: %w", loc, common.ErrNotFound)
	}
	return obj, nil
}

func (s *MemoryStore) info(loc Location, obj *memObject) ObjectInfo {
	return ObjectInfo{
		Location:    loc,
		Size:        int64(len(obj.body)),
		ContentType: obj.contentType,
		Metadata:    cloneMap(obj.metadata),
	}
}

func (s *MemoryStore) Get(ctx context.Context, loc Location) ([]byte, ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, err := s.lookup(loc)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	return append([]byte(nil), obj.body...), s.info(loc, obj), nil
}

func (s *MemoryStore) Head(ctx context.Context, loc Location) (ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, err := s.lookup(loc)
	if err != nil {
		return ObjectInfo{}, err
	}
	return s.info(loc, obj), nil
}

func (s *MemoryStore) GetTags(ctx context.Context, loc Location) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, err := s.lookup(loc)
	if err != nil {
		return nil, err
	}
	return cloneMap(obj.tags), nil
}

func (s *MemoryStore) SetTags(ctx context.Context, loc Location, tags map[string]string) error {
	if len(tags) > s.tagLimit {
		return fmt.Errorf("tag %s: %d tags exceeds limit %d", loc, len(tags), s.tagLimit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.lookup(loc)
	if err != nil {
		return err
	}
	obj.tags = cloneMap(tags)
	return nil
}

func (s *MemoryStore) Copy(ctx context.Context, src, dst Location, metadata, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.lookup(src)
	if err != nil {
		return err
	}
	s.objects[dst] = &memObject{
		body:        append([]byte(nil), obj.body...),
		contentType: obj.contentType,
		metadata:    cloneMap(metadata),
		tags:        cloneMap(tags),
	}
	return nil
}

// Delete is idempotent, matching S3 semantics.
func (s *MemoryStore) Delete(ctx context.Context, loc Location) error {
	s.mu.Lock()
	delete(s.objects, loc)
	s.mu.Unlock()
	return nil
}

// Keys lists the keys stored in bucket in ascending order.
func (s *MemoryStore) Keys(bucket string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for loc := range s.objects {
		if loc.Bucket == bucket {
			keys = append(keys, loc.Key)
		}
	}
	sort.Strings(keys)
	return keys
}
