package config

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/intakevault/internal/archive"
	"github.com/dmitrijs2005/intakevault/internal/digest"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/scan"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

// Validate checks the settings that would otherwise fail late at runtime.
// Every problem is reported.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Backend {
	case BackendAWS:
		if c.IntakeBucket == "" || c.QuarantineBucket == "" || c.ProcessedBucket == "" {
			add("intake, quarantine and processed buckets are required")
		}
	case BackendMemory:
	default:
		add("unknown backend %q", c.Backend)
	}
	if c.QuarantineBucket == c.IntakeBucket {
		add("quarantine bucket must differ from the intake bucket")
	}

	if _, err := scan.ParseProvider(c.ScanProvider); err != nil {
		errs = append(errs, err)
	}
	if !digest.Supported(c.DigestAlgorithm) {
		add("unsupported digest algorithm %q", c.DigestAlgorithm)
	}
	if c.MaxFileBytes <= 0 || c.MaxTotalBytes <= 0 || c.MaxFileBytes > c.MaxTotalBytes {
		add("size ceilings must be positive and the per-file ceiling must not exceed the total")
	}
	if c.MaxFiles <= 0 {
		add("max files must be positive")
	}
	if len(c.IndexedTags) > storage.S3TagLimit-3 {
		add("at most %d indexed tags fit beside scan-status, source-form and the scanner verdict", storage.S3TagLimit-3)
	}
	if c.StatusTokenSecret == "" {
		add("status token secret is required")
	}
	if c.ScanPollInterval <= 0 {
		add("scan poll interval must be positive")
	}
	if c.SweepInterval <= 0 {
		add("sweep interval must be positive")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		add("rate limit requests and window must be positive")
	}
	if c.Workers <= 0 {
		add("workers must be positive")
	}

	if _, ok := c.Forms[c.DefaultForm]; !ok {
		add("default form %q is not defined", c.DefaultForm)
	}
	for id, f := range c.Forms {
		if err := validateForm(id, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateForm(id string, f models.Form) error {
	if f.ID != id {
		return fmt.Errorf("form %q: id mismatch %q", id, f.ID)
	}
	if len(f.Files) == 0 && !f.Open {
		return fmt.Errorf("form %q: declares no files and is not open", id)
	}

	names := make(map[string]struct{}, len(f.Files))
	archived := make(map[string]struct{}, len(f.Files))
	for _, ff := range f.Files {
		if ff.Name == "" {
			return fmt.Errorf("form %q: file field without a name", id)
		}
		if _, dup := names[ff.Name]; dup {
			return fmt.Errorf("form %q: duplicate file field %q", id, ff.Name)
		}
		names[ff.Name] = struct{}{}

		if ff.ArchiveName != "" {
			if _, dup := archived[ff.ArchiveName]; dup {
				return fmt.Errorf("form %q: duplicate archive name %q", id, ff.ArchiveName)
			}
			archived[ff.ArchiveName] = struct{}{}
			if !archive.SafeMemberName(archive.FilesDir + "/" + ff.ArchiveName) {
				return fmt.Errorf("form %q: unsafe archive name %q", id, ff.ArchiveName)
			}
		}
		for _, t := range ff.Types {
			if _, err := models.ParseVerifiedType(string(t)); err != nil {
				return fmt.Errorf("form %q field %q: %w", id, ff.Name, err)
			}
		}
	}
	return nil
}
