package backend

import (
	"github.com/dmitrijs2005/intakevault/internal/archive"
	"github.com/dmitrijs2005/intakevault/internal/config"
	"github.com/dmitrijs2005/intakevault/internal/logging"
	"github.com/dmitrijs2005/intakevault/internal/processor"
	"github.com/dmitrijs2005/intakevault/internal/queue"
	"github.com/dmitrijs2005/intakevault/internal/scan"
)

// NewTracker builds the scan tracker and its quarantine over m.
func NewTracker(cfg *config.Config, m Manager, logger logging.Logger) (*scan.Tracker, error) {
	provider, err := scan.ParseProvider(cfg.ScanProvider)
	if err != nil {
		return nil, err
	}
	q := scan.NewQuarantine(m.Store(), cfg.QuarantineBucket, cfg.QuarantinePrefix, cfg.Retry(), logger)
	return scan.NewTracker(m.Store(), m.Ledger(), q, provider, cfg.ScanPollInterval, logger), nil
}

// NewProcessor builds the extraction processor. publisher may be nil.
func NewProcessor(cfg *config.Config, m Manager, tracker *scan.Tracker, publisher queue.Publisher, logger logging.Logger) *processor.Processor {
	return processor.New(processor.Options{
		Bucket: cfg.ProcessedBucket,
		Prefix: cfg.ProcessedPrefix,
		Limits: archive.Limits{
			MaxMembers: cfg.MaxFiles + 1,
			MaxBytes:   cfg.MaxTotalBytes + 1<<20,
		},
		Retry:       cfg.Retry(),
		AllowNoScan: cfg.ProcessUnscanned,
	}, m.Store(), tracker, publisher, logger)
}
