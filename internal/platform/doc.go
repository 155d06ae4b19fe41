// Package platform models the host side of the worker lifecycle: starting
// and binding the worker, the process-wide notification channel table,
// foreground promotion, and reclamation followed by a sticky restart.
//
// Binding is asynchronous. BindWorker records the connection and returns;
// the Connected callback is delivered later through the configured poster,
// and only if the connection is still pending by then.
package platform
