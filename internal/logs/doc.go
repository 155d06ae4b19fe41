// Package logs reads the daemon log for `enginehost logs`: the last N lines
// and, in follow mode, lines appended afterwards. Memory stays bounded by
// the requested line count.
package logs
