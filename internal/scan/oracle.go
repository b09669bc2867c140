package scan

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/intakevault/internal/models"
)

// Provider identifies which external scanner writes verdict tags.
type Provider string

const (
	ProviderGuardDuty Provider = "guardduty"
	ProviderDefender  Provider = "defender"
	ProviderNone      Provider = "none"
)

// Verdict tag keys written by the supported scanners.
const (
	GuardDutyTag = "GuardDutyMalwareScanStatus"
	DefenderTag  = "Malware Scanning scan result"
)

// ParseProvider accepts the configured provider name.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderGuardDuty, ProviderDefender, ProviderNone:
		return p, nil
	case "":
		return ProviderNone, nil
	default:
		return "", fmt.Errorf("unknown scan provider %q", s)
	}
}

// interpret reads the oracle verdict from object tags. It returns
// ScanPending while no verdict has been written. Unknown verdicts fail
// closed as ScanError.
func (p Provider) interpret(tags map[string]string) (models.ScanStatus, string) {
	switch p {
	case ProviderNone:
		return models.ScanNoScan, "scanning disabled"

	case ProviderGuardDuty:
		raw, ok := tags[GuardDutyTag]
		if !ok || raw == "" {
			return models.ScanPending, ""
		}
		switch raw {
		case "NO_THREATS_FOUND":
			return models.ScanClean, raw
		case "THREATS_FOUND":
			return models.ScanMalicious, raw
		default:
			// UNSUPPORTED, ACCESS_DENIED, FAILED and anything newer.
			return models.ScanError, raw
		}

	case ProviderDefender:
		raw := tags[DefenderTag]
		v := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case v == "" || strings.Contains(v, "no scan result"):
			return models.ScanPending, ""
		case strings.Contains(v, "malicious"):
			return models.ScanMalicious, raw
		case strings.Contains(v, "no threats found"):
			return models.ScanClean, raw
		default:
			return models.ScanError, raw
		}
	}
	return models.ScanError, "unknown provider"
}
