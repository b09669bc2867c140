package models

import "fmt"

// VerifiedType is the content type proven by signature inspection.
type VerifiedType string

const (
	TypePDF      VerifiedType = "pdf"
	TypeDOCX     VerifiedType = "docx"
	TypeXLSX     VerifiedType = "xlsx"
	TypePPTX     VerifiedType = "pptx"
	TypeXLS      VerifiedType = "xls"
	TypePNG      VerifiedType = "png"
	TypeJPEG     VerifiedType = "jpeg"
	TypeText     VerifiedType = "text"
	TypeRejected VerifiedType = "rejected"
)

var typeInfo = map[VerifiedType]struct {
	ext  string
	mime string
}{
	TypePDF:  {"pdf", "application/pdf"},
	TypeDOCX: {"docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	TypeXLSX: {"xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	TypePPTX: {"pptx", "application/vnd.openxmlformats-officedocument.presentationml.presentation"},
	TypeXLS:  {"xls", "application/vnd.ms-excel"},
	TypePNG:  {"png", "image/png"},
	TypeJPEG: {"jpg", "image/jpeg"},
	TypeText: {"txt", "text/plain; charset=utf-8"},
}

// Accepted reports whether t is one of the supported, non-rejected types.
func (t VerifiedType) Accepted() bool {
	_, ok := typeInfo[t]
	return ok
}

// Extension is the canonical file extension (without dot) used for archive
// paths. Rejected and unknown types have none.
func (t VerifiedType) Extension() string {
	return typeInfo[t].ext
}

// ContentType is the canonical MIME type.
func (t VerifiedType) ContentType() string {
	if info, ok := typeInfo[t]; ok {
		return info.mime
	}
	return "application/octet-stream"
}

// ParseVerifiedType converts a configured type name. Only accepted types parse.
func ParseVerifiedType(s string) (VerifiedType, error) {
	t := VerifiedType(s)
	if !t.Accepted() {
		return TypeRejected, fmt.Errorf("unknown file type %q", s)
	}
	return t, nil
}
