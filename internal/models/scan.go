package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/common"
)

// ScanStatus is the lifecycle state of a stored archive with respect to
// malware scanning.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanClean     ScanStatus = "clean"
	ScanMalicious ScanStatus = "malicious"
	ScanError     ScanStatus = "error"
	ScanNoScan    ScanStatus = "no_scan"
)

// MaxScanDetails bounds ScanRecord.Details in bytes.
const MaxScanDetails = 256

// Valid reports whether s is a known status.
func (s ScanStatus) Valid() bool {
	switch s {
	case ScanPending, ScanClean, ScanMalicious, ScanError, ScanNoScan:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s ScanStatus) Terminal() bool {
	return s.Valid() && s != ScanPending
}

// CanTransition reports whether from → to is a legal move.
// Only pending may move, and only to a terminal state.
func CanTransition(from, to ScanStatus) bool {
	return from == ScanPending && to.Terminal()
}

// ScanRecord is the scan sub-document of the manifest and the ledger row.
type ScanRecord struct {
	Status      ScanStatus `json:"status"`
	RequestedAt time.Time  `json:"requestedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	Provider    string     `json:"provider"`
	Details     string     `json:"details"`
}

// Transition moves the record to status at the given time.
// It returns common.ErrInvalidTransition for anything other than
// pending → terminal.
func (r *ScanRecord) Transition(to ScanStatus, at time.Time, details string) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, r.Status, to)
	}
	completed := at.UTC()
	r.Status = to
	r.CompletedAt = &completed
	r.Details = TruncateBytes(details, MaxScanDetails)
	return nil
}

// TruncateBytes cuts s to at most n bytes without splitting a UTF-8 sequence.
func TruncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
