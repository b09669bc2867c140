package intake

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/archive"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

const (
	// DefaultKeyPrefix is the object key prefix when a form sets none.
	DefaultKeyPrefix = "uploads"

	// MetadataTagPrefix prefixes effective tags copied into object metadata.
	MetadataTagPrefix = "tag-"

	// MetadataBudget approximates the S3 user-metadata size limit.
	MetadataBudget = 2048

	maxIndexValue = 256
)

// DefaultIndexedTags are user tag keys promoted to object index tags.
var DefaultIndexedTags = []string{"project", "environment", "domain"}

// Writer stores packaged archives in the intake bucket.
type Writer struct {
	store       storage.Store
	bucket      string
	prefix      string
	indexedKeys []string
	tagLimit    int
	retry       storage.RetryPolicy
}

// NewWriter returns a Writer. tagLimit is the number of index tags the
// writer may use; one slot of the store limit should stay free for the
// scanner's verdict tag.
func NewWriter(store storage.Store, bucket, prefix string, indexedKeys []string, tagLimit int, retry storage.RetryPolicy) *Writer {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if tagLimit <= 0 {
		tagLimit = storage.S3TagLimit - 1
	}
	return &Writer{
		store:       store,
		bucket:      bucket,
		prefix:      prefix,
		indexedKeys: indexedKeys,
		tagLimit:    tagLimit,
		retry:       retry,
	}
}

// Bucket is the intake bucket written to.
func (w *Writer) Bucket() string {
	return w.bucket
}

// ObjectKey returns <prefix>/YYYY/MM/DD/<submissionId>.zip using the UTC
// date of createdAt.
func ObjectKey(prefix, submissionID string, createdAt time.Time) string {
	return path.Join(prefix, createdAt.UTC().Format("2006/01/02"), submissionID+".zip")
}

// Write stores pkg in one put. keyPrefix overrides the writer default when
// set. Transient failures are retried with backoff and then returned
// wrapping common.ErrTransientStore.
func (w *Writer) Write(ctx context.Context, pkg *archive.Package, keyPrefix string) (storage.Location, error) {
	if keyPrefix == "" {
		keyPrefix = w.prefix
	}
	m := pkg.Manifest
	loc := storage.Location{Bucket: w.bucket, Key: ObjectKey(keyPrefix, m.SubmissionID, m.CreatedAt)}

	meta := Metadata(pkg)
	in := storage.PutInput{
		Location:    loc,
		Body:        pkg.Archive,
		ContentType: "application/zip",
		Metadata:    meta,
		Tags:        IndexTags(meta, w.indexedKeys, w.tagLimit),
	}

	err := storage.Retry(ctx, w.retry, func(ctx context.Context) error {
		return w.store.Put(ctx, in)
	})
	if err != nil {
		return loc, fmt.Errorf("store archive: %w", err)
	}
	return loc, nil
}

// Metadata renders the object metadata of a package. Effective tags are
// added as tag-<key> in key order while they fit in MetadataBudget; the
// manifest inside the archive always has the full set.
func Metadata(pkg *archive.Package) map[string]string {
	m := pkg.Manifest
	meta := map[string]string{
		"submission-id":     m.SubmissionID,
		"source-form":       m.SourceForm,
		"created-at":        m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"archive-digest":    pkg.ArchiveDigest,
		"digest-algorithm":  m.DigestAlgorithm,
		"scan-status":       string(m.Scan.Status),
		"scan-provider":     m.Scan.Provider,
		"scan-requested-at": m.Scan.RequestedAt.UTC().Format(time.RFC3339Nano),
		"file-count":        strconv.Itoa(len(m.Files)),
		"doc-types":         m.DocTypes(),
	}
	if m.SubmitterIdentity != "" {
		meta["submitted-by"] = m.SubmitterIdentity
	}

	size := 0
	for k, v := range meta {
		size += len(k) + len(v)
	}
	for _, k := range models.SortedKeys(m.Tags) {
		key := MetadataTagPrefix + k
		if _, clash := meta[key]; clash || !printableASCII(m.Tags[k]) {
			continue
		}
		n := len(key) + len(m.Tags[k])
		if size+n > MetadataBudget {
			break
		}
		meta[key] = m.Tags[k]
		size += n
	}
	return meta
}

// IndexTags derives the object index tags from metadata: scan-status,
// source-form, then each indexed key in order, capped at max tags.
func IndexTags(meta map[string]string, indexedKeys []string, max int) map[string]string {
	tags := make(map[string]string, max)
	add := func(k, v string) {
		if v == "" || len(tags) >= max {
			return
		}
		tags[k] = normalizeIndexValue(v)
	}

	add("scan-status", meta["scan-status"])
	add("source-form", meta["source-form"])
	for _, k := range indexedKeys {
		add(k, meta[MetadataTagPrefix+k])
	}
	return tags
}

func normalizeIndexValue(v string) string {
	v = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(v)), " ", "_")
	return models.TruncateBytes(v, maxIndexValue)
}

// S3 user metadata must be printable US-ASCII.
func printableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
