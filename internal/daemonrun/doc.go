// Package daemonrun wires the daemon process: logger, journal, host, IPC
// socket and signal handling.
package daemonrun
