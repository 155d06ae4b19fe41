// Package notifications mirrors lifecycle events to ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when no topic is set. Callers depend
// only on the Service interface and never fail a lifecycle operation because
// a notification could not be delivered.
package notifications
