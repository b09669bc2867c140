package archive

import (
	"fmt"
	"path"
	"strings"

	"github.com/dmitrijs2005/intakevault/internal/models"
)

// FilesDir is the archive directory holding submitted files.
const FilesDir = "files"

// ArchivePath returns the archive member name for the file at position
// ordinal (1-based) submitted under field. Declared form fields use their
// configured name; anything else gets an ordinal name. User file names never
// contribute.
func ArchivePath(form models.Form, field string, ordinal int, t models.VerifiedType) string {
	base := fmt.Sprintf("file-%03d", ordinal)
	if ff, ok := form.FileField(field); ok && ff.ArchiveName != "" {
		base = ff.ArchiveName
	}
	return path.Join(FilesDir, base+"."+t.Extension())
}

// SafeMemberName reports whether name is a relative path that stays inside
// the extraction root.
func SafeMemberName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.ContainsAny(name, `\:`) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return path.Clean(name) == name
}
