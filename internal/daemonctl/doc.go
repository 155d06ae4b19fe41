// Package daemonctl starts, probes and stops the enginehost daemon from the
// CLI side of the socket.
package daemonctl
