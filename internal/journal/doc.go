// Package journal persists the daemon's lifecycle history in SQLite.
//
// Every worker incarnation, promotion, demotion, denial and binding
// transition is appended as a row so `enginehost history` can explain what
// the host did after the fact, across daemon restarts. Schema changes ship
// as embedded migrations tracked in schema_migrations.
package journal
