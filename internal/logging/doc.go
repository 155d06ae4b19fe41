// Package logging assembles structured slog loggers and formatting helpers used
// across enginehost components.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and defines the standard attribute keys (component, event_type,
// controller_id, worker_key, ...) so the controller, worker, and platform
// layers emit lifecycle transitions in the same shape. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
