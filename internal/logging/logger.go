// Package logging is the structured logger every component receives. Records
// carry a "module" attribute set by the component through With, so intake,
// scan, worker and http output can be filtered apart.
package logging

import "context"

// Logger is a context-aware, structured logger. Args are key/value pairs:
//
//	log.Info(ctx, "submission stored", "submission_id", id, "object", loc.String())
//
// File contents, status tokens and credentials are never passed as values.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that adds args to every record.
	With(args ...any) Logger
}

var _ Logger = (*SlogLogger)(nil)
