// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// Every socket connection is a session. Bindings opened through a session
// belong to it and are released when the connection closes, so a controller
// process that dies never leaves a bound connection behind on the host.
//
// RemoteHost adapts the client to the controller's Host and Resolver so the
// same controller code runs against an in-process platform or the daemon.
package ipc
