// Package models defines the submission data model and the wire contracts
// shared by intake, scanning and extraction: the archive manifest, the
// object-created queue event and the completion event.
package models
