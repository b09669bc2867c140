package models

import (
	"path"
	"sort"
	"strings"
	"time"
)

// FileEntry is one verified file of a submission.
type FileEntry struct {
	FieldName         string
	DeclaredExtension string
	VerifiedType      VerifiedType
	SizeBytes         int64
	Digest            string
	ArchivePath       string
	// Content is held only while the submission is being packaged.
	Content []byte
}

// ContentType is the canonical MIME type of the verified content.
func (f FileEntry) ContentType() string {
	return f.VerifiedType.ContentType()
}

// Submission is a validated intake unit. It is not modified once packaged.
type Submission struct {
	ID                string
	CreatedAt         time.Time
	SourceForm        string
	SubmitterIdentity string
	Tags              map[string]string
	Fields            map[string]string
	DigestAlgorithm   string
	ScanProvider      string
	Files             []FileEntry
}

// TotalSize sums the sizes of all files.
func (s *Submission) TotalSize() int64 {
	var n int64
	for _, f := range s.Files {
		n += f.SizeBytes
	}
	return n
}

// DocTypes lists the distinct archive base names without extension, in file
// order, e.g. "architecture-diagram,charter".
func (s *Submission) DocTypes() string {
	paths := make([]string, 0, len(s.Files))
	for _, f := range s.Files {
		paths = append(paths, f.ArchivePath)
	}
	return docTypes(paths)
}

func docTypes(paths []string) string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, name := range paths {
		name = path.Base(name)
		name = strings.TrimSuffix(name, path.Ext(name))
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return strings.Join(out, ",")
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
