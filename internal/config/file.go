package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/timex"
)

// FileConfig is the on-disk shape of Config. Durations use timex.Duration
// so files may say "30s" or give integer nanoseconds. Zero values leave the
// current setting untouched; booleans are pointers for the same reason.
type FileConfig struct {
	Backend    string `json:"backend" yaml:"backend"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
	HTTPAddr   string `json:"http_addr" yaml:"http_addr"`
	HealthAddr string `json:"health_addr" yaml:"health_addr"`

	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`

	AWSRegion          string `json:"aws_region" yaml:"aws_region"`
	AWSBaseEndpoint    string `json:"aws_base_endpoint" yaml:"aws_base_endpoint"`
	AWSAccessKeyID     string `json:"aws_access_key_id" yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `json:"aws_secret_access_key" yaml:"aws_secret_access_key"`
	S3UsePathStyle     *bool  `json:"s3_use_path_style" yaml:"s3_use_path_style"`

	IntakeBucket     string `json:"intake_bucket" yaml:"intake_bucket"`
	KeyPrefix        string `json:"key_prefix" yaml:"key_prefix"`
	QuarantineBucket string `json:"quarantine_bucket" yaml:"quarantine_bucket"`
	QuarantinePrefix string `json:"quarantine_prefix" yaml:"quarantine_prefix"`
	ProcessedBucket  string `json:"processed_bucket" yaml:"processed_bucket"`
	ProcessedPrefix  string `json:"processed_prefix" yaml:"processed_prefix"`

	QueueURL           string `json:"queue_url" yaml:"queue_url"`
	CompletionQueueURL string `json:"completion_queue_url" yaml:"completion_queue_url"`

	ScanProvider     string         `json:"scan_provider" yaml:"scan_provider"`
	ScanPollInterval timex.Duration `json:"scan_poll_interval" yaml:"scan_poll_interval"`
	SyncScanWait     timex.Duration `json:"sync_scan_wait" yaml:"sync_scan_wait"`
	ScanAlertAfter   timex.Duration `json:"scan_alert_after" yaml:"scan_alert_after"`
	SweepInterval    timex.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	SweepBatch       int            `json:"sweep_batch" yaml:"sweep_batch"`
	ProcessUnscanned *bool          `json:"process_unscanned" yaml:"process_unscanned"`

	DigestAlgorithm string        `json:"digest_algorithm" yaml:"digest_algorithm"`
	StrictPDF       *bool         `json:"strict_pdf" yaml:"strict_pdf"`
	MaxFileBytes    int64         `json:"max_file_bytes" yaml:"max_file_bytes"`
	MaxTotalBytes   int64         `json:"max_total_bytes" yaml:"max_total_bytes"`
	MaxFiles        int           `json:"max_files" yaml:"max_files"`
	MaxTags         int           `json:"max_tags" yaml:"max_tags"`
	ReservedKeys    []string      `json:"reserved_keys" yaml:"reserved_keys"`
	IndexedTags     []string      `json:"indexed_tags" yaml:"indexed_tags"`
	DefaultForm     string        `json:"default_form" yaml:"default_form"`
	Forms           []models.Form `json:"forms" yaml:"forms"`

	RateLimitRequests int            `json:"rate_limit_requests" yaml:"rate_limit_requests"`
	RateLimitWindow   timex.Duration `json:"rate_limit_window" yaml:"rate_limit_window"`
	RateLimitIdleTTL  timex.Duration `json:"rate_limit_idle_ttl" yaml:"rate_limit_idle_ttl"`
	TrustProxy        *bool          `json:"trust_proxy" yaml:"trust_proxy"`

	StatusTokenSecret string         `json:"status_token_secret" yaml:"status_token_secret"`
	StatusTokenTTL    timex.Duration `json:"status_token_ttl" yaml:"status_token_ttl"`

	RetryAttempts uint64         `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBase     timex.Duration `json:"retry_base" yaml:"retry_base"`
	RetryMax      timex.Duration `json:"retry_max" yaml:"retry_max"`

	Workers           int            `json:"workers" yaml:"workers"`
	ReceiveBatch      int            `json:"receive_batch" yaml:"receive_batch"`
	ReceiveWait       timex.Duration `json:"receive_wait" yaml:"receive_wait"`
	VisibilityTimeout timex.Duration `json:"visibility_timeout" yaml:"visibility_timeout"`
	MaxDeliveries     int            `json:"max_deliveries" yaml:"max_deliveries"`
	ShutdownTimeout   timex.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// parseFile reads path and overlays it onto config. Files ending in .yaml
// or .yml are YAML, anything else JSON.
func parseFile(config *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, fc)
	default:
		err = json.Unmarshal(raw, fc)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	fc.apply(config)
	return nil
}

func (fc *FileConfig) apply(c *Config) {
	setString(&c.Backend, fc.Backend)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.HealthAddr, fc.HealthAddr)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)

	setString(&c.AWSRegion, fc.AWSRegion)
	setString(&c.AWSBaseEndpoint, fc.AWSBaseEndpoint)
	setString(&c.AWSAccessKeyID, fc.AWSAccessKeyID)
	setString(&c.AWSSecretAccessKey, fc.AWSSecretAccessKey)
	setBool(&c.S3UsePathStyle, fc.S3UsePathStyle)

	setString(&c.IntakeBucket, fc.IntakeBucket)
	setString(&c.KeyPrefix, fc.KeyPrefix)
	setString(&c.QuarantineBucket, fc.QuarantineBucket)
	setString(&c.QuarantinePrefix, fc.QuarantinePrefix)
	setString(&c.ProcessedBucket, fc.ProcessedBucket)
	setString(&c.ProcessedPrefix, fc.ProcessedPrefix)
	setString(&c.QueueURL, fc.QueueURL)
	setString(&c.CompletionQueueURL, fc.CompletionQueueURL)

	setString(&c.ScanProvider, fc.ScanProvider)
	setDuration(&c.ScanPollInterval, fc.ScanPollInterval)
	setDuration(&c.SyncScanWait, fc.SyncScanWait)
	setDuration(&c.ScanAlertAfter, fc.ScanAlertAfter)
	setDuration(&c.SweepInterval, fc.SweepInterval)
	setInt(&c.SweepBatch, fc.SweepBatch)
	setBool(&c.ProcessUnscanned, fc.ProcessUnscanned)

	setString(&c.DigestAlgorithm, fc.DigestAlgorithm)
	setBool(&c.StrictPDF, fc.StrictPDF)
	if fc.MaxFileBytes > 0 {
		c.MaxFileBytes = fc.MaxFileBytes
	}
	if fc.MaxTotalBytes > 0 {
		c.MaxTotalBytes = fc.MaxTotalBytes
	}
	setInt(&c.MaxFiles, fc.MaxFiles)
	setInt(&c.MaxTags, fc.MaxTags)
	if fc.ReservedKeys != nil {
		c.ReservedKeys = fc.ReservedKeys
	}
	if fc.IndexedTags != nil {
		c.IndexedTags = fc.IndexedTags
	}
	setString(&c.DefaultForm, fc.DefaultForm)
	for _, f := range fc.Forms {
		c.Forms[f.ID] = f
	}

	setInt(&c.RateLimitRequests, fc.RateLimitRequests)
	setDuration(&c.RateLimitWindow, fc.RateLimitWindow)
	setDuration(&c.RateLimitIdleTTL, fc.RateLimitIdleTTL)
	setBool(&c.TrustProxy, fc.TrustProxy)

	setString(&c.StatusTokenSecret, fc.StatusTokenSecret)
	setDuration(&c.StatusTokenTTL, fc.StatusTokenTTL)

	if fc.RetryAttempts > 0 {
		c.RetryAttempts = fc.RetryAttempts
	}
	setDuration(&c.RetryBase, fc.RetryBase)
	setDuration(&c.RetryMax, fc.RetryMax)

	setInt(&c.Workers, fc.Workers)
	setInt(&c.ReceiveBatch, fc.ReceiveBatch)
	setDuration(&c.ReceiveWait, fc.ReceiveWait)
	setDuration(&c.VisibilityTimeout, fc.VisibilityTimeout)
	setInt(&c.MaxDeliveries, fc.MaxDeliveries)
	setDuration(&c.ShutdownTimeout, fc.ShutdownTimeout)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}
