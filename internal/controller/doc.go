// Package controller implements the front-end side of the lifecycle: it owns
// the engine handle, starts and binds the worker, and forwards grant
// requests while bound.
//
// Requests that race the asynchronous bind are absorbed: a grant request
// while unbound, or against a worker that has been reclaimed, is dropped and
// reported as undelivered rather than as an error. Only host refusal of a
// promotion surfaces as an error.
package controller
