package archive

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zip"

	"github.com/dmitrijs2005/intakevault/internal/common"
)

// Limits bound what Extract is willing to inflate.
type Limits struct {
	MaxMembers int
	MaxBytes   int64
}

// DefaultLimits allow a full submission plus its manifest.
var DefaultLimits = Limits{MaxMembers: 64, MaxBytes: DefaultMaxTotalBytes + 1<<20}

// Member is one extracted file.
type Member struct {
	Name    string
	Content []byte
}

// Extract inflates every regular file of a zip archive. Directory entries are
// skipped. Unsafe names and limit violations fail with
// common.ErrMalformedArchive.
func Extract(data []byte, lim Limits) ([]Member, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedArchive, err)
	}
	if lim.MaxMembers > 0 && len(zr.File) > lim.MaxMembers {
		return nil, fmt.Errorf("%w: %d members exceeds %d", common.ErrMalformedArchive, len(zr.File), lim.MaxMembers)
	}

	var total int64
	out := make([]Member, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !SafeMemberName(f.Name) {
			return nil, fmt.Errorf("%w: unsafe member name %q", common.ErrMalformedArchive, f.Name)
		}

		remaining := lim.MaxBytes - total
		if lim.MaxBytes <= 0 {
			remaining = math.MaxInt64 - 1
		}
		content, err := readMember(f, remaining)
		if err != nil {
			return nil, err
		}
		total += int64(len(content))
		out = append(out, Member{Name: f.Name, Content: content})
	}
	return out, nil
}

func readMember(f *zip.File, remaining int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", common.ErrMalformedArchive, f.Name, err)
	}
	defer rc.Close()

	// Declared sizes are attacker-controlled; count what actually inflates.
	content, err := io.ReadAll(io.LimitReader(rc, remaining+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", common.ErrMalformedArchive, f.Name, err)
	}
	if int64(len(content)) > remaining {
		return nil, fmt.Errorf("%w: uncompressed size limit exceeded", common.ErrMalformedArchive)
	}
	return content, nil
}
