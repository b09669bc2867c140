package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/intakevault/internal/flagx"
)

var knownFlags = []string{"-m", "-l", "-a", "-g", "-d", "-r", "-e", "-b", "-q", "-o", "-u", "-n", "-p", "-s", "-w", "-x"}

// parseFlags overlays the short command-line flags in args onto config.
//
// Supported flags:
//
//	-m string   backend ("aws" or "memory")
//	-l string   log level
//	-a string   HTTP bind address (e.g. ":8080")
//	-g string   gRPC health bind address (e.g. ":50051")
//	-d string   PostgreSQL DSN for the submission ledger
//	-r string   AWS region
//	-e string   AWS base endpoint (e.g. "http://127.0.0.1:9000")
//	-b string   intake bucket
//	-q string   quarantine bucket
//	-o string   processed bucket
//	-u string   object-created queue URL
//	-n string   completion queue URL
//	-p string   scan provider ("guardduty", "defender", "none")
//	-s string   status token secret
//	-w int      processor workers
//	-x          trust X-Forwarded-For for rate limiting
//
// Unknown flags, including -c/-config, are filtered out with
// flagx.FilterArgs so both binaries can share one argument list.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, knownFlags, "-x")

	fs := flag.NewFlagSet("intakevault", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.Backend, "m", config.Backend, "backend")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address")
	fs.StringVar(&config.HealthAddr, "g", config.HealthAddr, "gRPC health address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.AWSRegion, "r", config.AWSRegion, "AWS region")
	fs.StringVar(&config.AWSBaseEndpoint, "e", config.AWSBaseEndpoint, "AWS base endpoint")
	fs.StringVar(&config.IntakeBucket, "b", config.IntakeBucket, "intake bucket")
	fs.StringVar(&config.QuarantineBucket, "q", config.QuarantineBucket, "quarantine bucket")
	fs.StringVar(&config.ProcessedBucket, "o", config.ProcessedBucket, "processed bucket")
	fs.StringVar(&config.QueueURL, "u", config.QueueURL, "object-created queue URL")
	fs.StringVar(&config.CompletionQueueURL, "n", config.CompletionQueueURL, "completion queue URL")
	fs.StringVar(&config.ScanProvider, "p", config.ScanProvider, "scan provider")
	fs.StringVar(&config.StatusTokenSecret, "s", config.StatusTokenSecret, "status token secret")
	fs.IntVar(&config.Workers, "w", config.Workers, "processor workers")
	fs.BoolVar(&config.TrustProxy, "x", config.TrustProxy, "trust X-Forwarded-For")

	return fs.Parse(args)
}
