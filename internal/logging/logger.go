// Package logging defines the structured-logging interface used by the
// tracker and the collector, with a log/slog implementation.
package logging

import "context"

// Logger is a context-aware, structured logger.
//
// The variadic args are key-value pairs:
//
//	log.Info(ctx, "batch merged", "source", src, "accepted", n)
//
// Secrets (PINs, passwords, access tokens) are never passed as values.
type Logger interface {
	// Debug logs detail that is only useful when auditing a run, such as
	// per-batch decode failure counts.
	Debug(ctx context.Context, msg string, args ...any)

	Info(ctx context.Context, msg string, args ...any)

	// Warn logs unusual but non-fatal conditions.
	Warn(ctx context.Context, msg string, args ...any)

	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given pairs.
	With(args ...any) Logger
}
