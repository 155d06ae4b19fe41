// Package engine owns the handle to the native audio engine.
//
// A Handle pairs exactly one ConstructNativeClass with exactly one
// DestroyNativeClass per controller lifetime; any other pairing is a
// programming error and panics with a *PreconditionError. Intents are
// forwarded opaquely through AppNewIntent and are dropped while the handle is
// not live.
//
// Two Native implementations ship with the package: Local keeps the engine
// in-process (tests, --local sessions) and Process drives an external engine
// binary over its stdin.
package engine
