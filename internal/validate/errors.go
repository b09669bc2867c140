package validate

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/intakevault/internal/common"
)

// FieldError names one rejected input.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors aggregates every problem found in a submission so the client can
// fix all of them at once. It matches common.ErrValidation via errors.Is.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

func (e Errors) Is(target error) bool {
	return target == common.ErrValidation
}

// Add appends a field error.
func (e *Errors) Add(field, format string, args ...any) {
	*e = append(*e, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Err returns nil when there are no errors.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
