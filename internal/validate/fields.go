package validate

import (
	"regexp"
	"unicode"
	"unicode/utf8"

	"github.com/dmitrijs2005/intakevault/internal/models"
)

// MaxFieldRunes bounds a structured field value.
const MaxFieldRunes = 256

// MaxIdentityBytes bounds the submitter identity, the longest valid email.
const MaxIdentityBytes = 254

var (
	fieldNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)
	identityPattern  = regexp.MustCompile(`^[\x21-\x7e]+( [\x21-\x7e]+)*$`)
)

// Fields validates structured text fields. Values are stored as sent.
func Fields(fields map[string]string, required []string) Errors {
	var errs Errors

	for _, name := range models.SortedKeys(fields) {
		val := fields[name]
		switch {
		case !fieldNamePattern.MatchString(name):
			errs.Add(name, "invalid field name")
		case !utf8.ValidString(val):
			errs.Add(name, "value is not valid UTF-8")
		case utf8.RuneCountInString(val) > MaxFieldRunes:
			errs.Add(name, "value exceeds %d characters", MaxFieldRunes)
		case hasControl(val):
			errs.Add(name, "value contains control characters")
		}
	}

	for _, name := range required {
		if fields[name] == "" {
			errs.Add(name, "required field missing")
		}
	}
	return errs
}

func hasControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// Identity checks the optional submitter identity. It is printable ASCII so
// it can travel in object metadata unchanged.
func Identity(id string) Errors {
	var errs Errors
	switch {
	case id == "":
	case len(id) > MaxIdentityBytes:
		errs.Add("submitterIdentity", "value exceeds %d bytes", MaxIdentityBytes)
	case !identityPattern.MatchString(id):
		errs.Add("submitterIdentity", "value must be printable ASCII")
	}
	return errs
}
