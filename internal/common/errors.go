// Package common defines sentinel errors shared by the intake, scan and
// processor layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound       = errors.New("not found")
	ErrTransientStore = errors.New("transient store failure")

	// Intake errors.
	ErrValidation  = errors.New("validation failed")
	ErrRateLimited = errors.New("rate limited")

	// Scan lifecycle errors.
	ErrMalwareDetected   = errors.New("malware detected")
	ErrScanPending       = errors.New("scan pending")
	ErrScanFailed        = errors.New("scan failed")
	ErrInvalidTransition = errors.New("invalid scan status transition")
	ErrUnsafeObject      = errors.New("object is not scanned clean")

	// Processor errors. Both are permanent: the message is dead-lettered.
	ErrMalformedArchive = errors.New("malformed archive")
	ErrManifestMissing  = errors.New("manifest missing or invalid")

	// Token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
