// Package daemon coordinates the long-running enginehost process.
//
// It wires configuration, the lifecycle journal, metrics, and the ntfy
// notifier around a single host platform, and uses flock-based locking to
// prevent multiple instances. The platform it owns hosts the worker singleton
// that controllers bind to over ipc.
//
// Keep orchestration here. Lifecycle rules belong to the worker, grant and
// binding packages; the daemon only starts, stops and reports on them.
package daemon
