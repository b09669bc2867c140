// Package classify determines the real type of uploaded bytes from their
// signature. The declared extension is advisory and only decides whether
// unsigned bytes may be accepted as text.
package classify

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/h2non/filetype"
	"github.com/klauspost/compress/zip"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/dmitrijs2005/intakevault/internal/models"
)

var (
	ErrEmpty             = errors.New("file is empty")
	ErrSignatureMismatch = errors.New("content does not match declared type")
	ErrUnsupported       = errors.New("unsupported file type")
	ErrCorrupt           = errors.New("file structure is invalid")
)

var (
	sigPDF  = []byte("%PDF-")
	sigZIP  = []byte("PK\x03\x04")
	sigOLE2 = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// OOXML parts whose presence identifies the document family.
var ooxmlMarkers = []struct {
	part string
	typ  models.VerifiedType
}{
	{"word/document.xml", models.TypeDOCX},
	{"xl/workbook.xml", models.TypeXLSX},
	{"ppt/presentation.xml", models.TypePPTX},
}

var textExtensions = map[string]struct{}{
	"":     {},
	"txt":  {},
	"text": {},
	"csv":  {},
	"tsv":  {},
}

// Classifier is safe for concurrent use.
type Classifier struct {
	// StrictPDF additionally parses PDF structure instead of trusting the
	// header alone.
	StrictPDF bool
}

func New(strictPDF bool) *Classifier {
	return &Classifier{StrictPDF: strictPDF}
}

// NormalizeExtension lowercases ext and strips a leading dot.
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Classify returns the verified type of data. On rejection the type is
// models.TypeRejected and the error wraps one of the package sentinels.
func (c *Classifier) Classify(data []byte, declaredExt string) (models.VerifiedType, error) {
	ext := NormalizeExtension(declaredExt)

	if len(data) == 0 {
		return models.TypeRejected, ErrEmpty
	}

	switch {
	case bytes.HasPrefix(data, sigPDF):
		return c.classifyPDF(data)
	case bytes.HasPrefix(data, sigZIP):
		return classifyOOXML(data)
	case bytes.HasPrefix(data, sigOLE2):
		return classifyOLE2(data)
	}

	kind, err := filetype.Match(data)
	if err == nil {
		switch kind.Extension {
		case "png":
			return models.TypePNG, nil
		case "jpg":
			return models.TypeJPEG, nil
		}
		if kind != filetype.Unknown {
			return models.TypeRejected, fmt.Errorf("%w: %s", ErrUnsupported, kind.MIME.Value)
		}
	}

	if _, textual := textExtensions[ext]; !textual {
		return models.TypeRejected, fmt.Errorf("%w: .%s", ErrSignatureMismatch, ext)
	}
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return models.TypeRejected, fmt.Errorf("%w: binary content", ErrUnsupported)
	}
	return models.TypeText, nil
}

func (c *Classifier) classifyPDF(data []byte) (models.VerifiedType, error) {
	if !c.StrictPDF {
		return models.TypePDF, nil
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationStrict
	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return models.TypeRejected, fmt.Errorf("%w: pdf: %v", ErrCorrupt, err)
	}
	return models.TypePDF, nil
}

func classifyOOXML(data []byte) (models.VerifiedType, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return models.TypeRejected, fmt.Errorf("%w: zip: %v", ErrCorrupt, err)
	}

	names := make(map[string]struct{}, len(zr.File))
	for _, f := range zr.File {
		names[f.Name] = struct{}{}
	}
	for _, m := range ooxmlMarkers {
		if _, ok := names[m.part]; ok {
			return m.typ, nil
		}
	}
	return models.TypeRejected, fmt.Errorf("%w: zip archive is not an office document", ErrUnsupported)
}

// classifyOLE2 accepts only containers filetype recognises as a workbook.
// Other compound files (msg, msi, legacy doc and ppt) are rejected.
func classifyOLE2(data []byte) (models.VerifiedType, error) {
	if len(data) > 513 && filetype.Is(data, "xls") {
		return models.TypeXLS, nil
	}
	kind, _ := filetype.Match(data)
	switch kind.Extension {
	case "doc", "ppt":
		return models.TypeRejected, fmt.Errorf("%w: legacy %s", ErrUnsupported, kind.Extension)
	}
	return models.TypeRejected, fmt.Errorf("%w: compound file is not a workbook", ErrUnsupported)
}
