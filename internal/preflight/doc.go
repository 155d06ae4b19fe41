// Package preflight provides readiness checks for the filesystem paths,
// engine binary and notification endpoint enginehost depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs every failure with a hint.
//   - The CLI "enginehost status" and "config validate" commands print the
//     results next to daemon state.
//
// Network checks are gated by their config values; unset features pass.
package preflight
