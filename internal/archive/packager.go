// Package archive builds submission archives and reads them back safely.
package archive

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zip"

	"github.com/dmitrijs2005/intakevault/internal/digest"
	"github.com/dmitrijs2005/intakevault/internal/models"
)

// Default size ceilings.
const (
	DefaultMaxFileBytes  int64 = 25 << 20
	DefaultMaxTotalBytes int64 = 50 << 20
)

var (
	ErrNoFiles       = errors.New("submission has no files")
	ErrFileTooLarge  = errors.New("file exceeds the per-file size limit")
	ErrTotalTooLarge = errors.New("submission exceeds the total size limit")
	ErrDuplicatePath = errors.New("duplicate archive path")
)

// Package is a finalized archive with its manifest and digest.
type Package struct {
	Archive       []byte
	Manifest      *models.Manifest
	ArchiveDigest string
}

// Packager writes submissions into zip archives.
type Packager struct {
	MaxFileBytes  int64
	MaxTotalBytes int64
}

func NewPackager(maxFile, maxTotal int64) *Packager {
	if maxFile <= 0 {
		maxFile = DefaultMaxFileBytes
	}
	if maxTotal <= 0 {
		maxTotal = DefaultMaxTotalBytes
	}
	return &Packager{MaxFileBytes: maxFile, MaxTotalBytes: maxTotal}
}

// CheckLimits verifies the size invariants of sub.
func (p *Packager) CheckLimits(sub *models.Submission) error {
	if len(sub.Files) == 0 {
		return ErrNoFiles
	}
	for _, f := range sub.Files {
		if f.SizeBytes > p.MaxFileBytes {
			return fmt.Errorf("%w: %s", ErrFileTooLarge, f.FieldName)
		}
	}
	if sub.TotalSize() > p.MaxTotalBytes {
		return ErrTotalTooLarge
	}
	return nil
}

// Pack writes every file in order, then manifest.json, and digests the
// finished archive. Entries carry createdAt as their modification time so the
// same submission always produces the same bytes.
func (p *Packager) Pack(sub *models.Submission) (*Package, error) {
	if err := p.CheckLimits(sub); err != nil {
		return nil, err
	}

	alg := sub.DigestAlgorithm
	if alg == "" {
		alg = digest.Default
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	seen := make(map[string]struct{}, len(sub.Files))
	for _, f := range sub.Files {
		if !SafeMemberName(f.ArchivePath) {
			return nil, fmt.Errorf("unsafe archive path %q", f.ArchivePath)
		}
		if _, dup := seen[f.ArchivePath]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePath, f.ArchivePath)
		}
		seen[f.ArchivePath] = struct{}{}

		if err := writeEntry(zw, f.ArchivePath, sub, f.Content); err != nil {
			return nil, err
		}
	}

	manifest := models.NewManifest(sub)
	manifest.DigestAlgorithm = alg
	body, err := manifest.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeEntry(zw, models.ManifestName, sub, body); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}

	sum, err := digest.Bytes(alg, buf.Bytes())
	if err != nil {
		return nil, err
	}

	return &Package{Archive: buf.Bytes(), Manifest: manifest, ArchiveDigest: sum}, nil
}

func writeEntry(zw *zip.Writer, name string, sub *models.Submission, content []byte) error {
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: sub.CreatedAt.UTC(),
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
