// Package binding implements the connection protocol between a controller
// and the worker.
//
// The protocol is a pure state machine, Transition, over a Snapshot. Every
// Connect opens a new generation; host callbacks carry the generation they
// were issued for and are discarded once the channel has moved on, so a late
// onConnected for an abandoned attempt can never resurrect a binding.
//
// Channel drives Transition from host callbacks and applies the resulting
// effects against a Binder. The channel records the worker's registry key,
// never the worker itself; resolving the key may fail once the worker has
// been reclaimed.
package binding
