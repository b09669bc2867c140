package models

// FileField is a file input declared by a form.
type FileField struct {
	Name string `json:"name" yaml:"name"`
	// ArchiveName is the base name inside the archive; the extension is
	// taken from the verified type.
	ArchiveName string         `json:"archive_name" yaml:"archive_name"`
	Types       []VerifiedType `json:"types" yaml:"types"`
	Required    bool           `json:"required" yaml:"required"`
}

// Allows reports whether t is acceptable for this field. An empty Types list
// accepts every supported type.
func (f FileField) Allows(t VerifiedType) bool {
	if !t.Accepted() {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, allowed := range f.Types {
		if allowed == t {
			return true
		}
	}
	return false
}

// Form describes what a source form may submit.
type Form struct {
	ID    string      `json:"id" yaml:"id"`
	Files []FileField `json:"files" yaml:"files"`
	// Open forms accept file parts under any field name; those files get
	// ordinal archive names.
	Open           bool     `json:"open" yaml:"open"`
	RequiredTags   []string `json:"required_tags" yaml:"required_tags"`
	RequiredFields []string `json:"required_fields" yaml:"required_fields"`
	// KeyPrefix overrides the writer's default object key prefix.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// FileField looks up a declared file field by name.
func (f Form) FileField(name string) (FileField, bool) {
	for _, ff := range f.Files {
		if ff.Name == name {
			return ff, true
		}
	}
	return FileField{}, false
}
