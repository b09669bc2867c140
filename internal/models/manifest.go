package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ManifestVersion is the current manifest schema version.
const ManifestVersion = 1

// ManifestName is the archive member holding the manifest.
const ManifestName = "manifest.json"

// ManifestFile describes one archived file.
type ManifestFile struct {
	Field        string       `json:"field"`
	VerifiedType VerifiedType `json:"verifiedType"`
	ContentType  string       `json:"contentType"`
	SizeBytes    int64        `json:"sizeBytes"`
	Digest       string       `json:"digest"`
	ArchivePath  string       `json:"archivePath"`
}

// Manifest is the JSON document stored at the archive root. ArchiveDigest is
// always blank inside the archive; the digest of the finished archive is
// reported in object metadata and the API response instead.
type Manifest struct {
	ManifestVersion   int               `json:"manifestVersion"`
	SubmissionID      string            `json:"submissionId"`
	CreatedAt         time.Time         `json:"createdAt"`
	SourceForm        string            `json:"sourceForm"`
	SubmitterIdentity string            `json:"submitterIdentity,omitempty"`
	Tags              map[string]string `json:"tags"`
	Fields            map[string]string `json:"fields,omitempty"`
	DigestAlgorithm   string            `json:"digestAlgorithm"`
	Files             []ManifestFile    `json:"files"`
	ArchiveDigest     string            `json:"archiveDigest"`
	Scan              ScanRecord        `json:"scan"`
}

// NewManifest builds the pending manifest for a packaged submission.
func NewManifest(s *Submission) *Manifest {
	files := make([]ManifestFile, 0, len(s.Files))
	for _, f := range s.Files {
		files = append(files, ManifestFile{
			Field:        f.FieldName,
			VerifiedType: f.VerifiedType,
			ContentType:  f.ContentType(),
			SizeBytes:    f.SizeBytes,
			Digest:       f.Digest,
			ArchivePath:  f.ArchivePath,
		})
	}

	tags := s.Tags
	if tags == nil {
		tags = map[string]string{}
	}

	return &Manifest{
		ManifestVersion:   ManifestVersion,
		SubmissionID:      s.ID,
		CreatedAt:         s.CreatedAt.UTC(),
		SourceForm:        s.SourceForm,
		SubmitterIdentity: s.SubmitterIdentity,
		Tags:              tags,
		Fields:            s.Fields,
		DigestAlgorithm:   s.DigestAlgorithm,
		Files:             files,
		Scan: ScanRecord{
			Status:      ScanPending,
			RequestedAt: s.CreatedAt.UTC(),
			Provider:    s.ScanProvider,
		},
	}
}

// Marshal encodes the manifest with stable indentation. encoding/json sorts
// map keys, so equal manifests encode to equal bytes.
func (m *Manifest) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// DocTypes is Submission.DocTypes computed from the manifest.
func (m *Manifest) DocTypes() string {
	paths := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		paths = append(paths, f.ArchivePath)
	}
	return docTypes(paths)
}

// ParseManifest decodes and minimally checks a manifest.
func ParseManifest(b []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.SubmissionID == "" {
		return nil, fmt.Errorf("manifest has no submissionId")
	}
	return &m, nil
}
