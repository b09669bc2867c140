// Package storage is the object store boundary: archives, their metadata and
// their index tags. S3Store talks to S3 or an S3-compatible service;
// MemoryStore backs tests and single-process development runs.
package storage

import (
	"context"
	"maps"
)

// S3TagLimit is the maximum number of tags S3 keeps on an object.
const S3TagLimit = 10

// Location addresses one object.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return l.Bucket + "/" + l.Key
}

// PutInput is a single atomic write of body, metadata and tags.
type PutInput struct {
	Location
	Body        []byte
	ContentType string
	Metadata    map[string]string
	Tags        map[string]string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Location
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// Store is the subset of object-store behaviour the pipeline relies on.
// Missing objects are reported as common.ErrNotFound, retryable failures as
// common.ErrTransientStore.
type Store interface {
	Put(ctx context.Context, in PutInput) error
	Get(ctx context.Context, loc Location) ([]byte, ObjectInfo, error)
	Head(ctx context.Context, loc Location) (ObjectInfo, error)
	GetTags(ctx context.Context, loc Location) (map[string]string, error)
	SetTags(ctx context.Context, loc Location, tags map[string]string) error
	// Copy replaces metadata and tags on the destination with the given ones.
	Copy(ctx context.Context, src, dst Location, metadata, tags map[string]string) error
	Delete(ctx context.Context, loc Location) error
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}
