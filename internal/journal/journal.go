package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"enginehost/internal/binding"
	"enginehost/internal/config"
	"enginehost/internal/grant"
	"enginehost/internal/logging"
	"enginehost/internal/platform"
	"enginehost/internal/registry"
)

// Kind classifies a journal entry.
type Kind string

const (
	KindWorkerCreated     Kind = "worker_created"
	KindWorkerDestroyed   Kind = "worker_destroyed"
	KindWorkerRestarted   Kind = "worker_restarted"
	KindChannelRegistered Kind = "channel_registered"
	KindGrantPromoted     Kind = "grant_promoted"
	KindGrantDemoted      Kind = "grant_demoted"
	KindGrantDenied       Kind = "grant_denied"
	KindBindingTransition Kind = "binding_transition"
	KindDaemonStarted     Kind = "daemon_started"
	KindDaemonStopped     Kind = "daemon_stopped"
)

// Entry is one recorded lifecycle event.
type Entry struct {
	ID        int64     `json:"id"`
	At        time.Time `json:"at"`
	Kind      Kind      `json:"kind"`
	WorkerKey string    `json:"worker_key,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Journal is the SQLite-backed lifecycle log.
type Journal struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates or opens the journal at cfg.Paths.StateDB and applies
// migrations.
func Open(cfg *config.Config) (*Journal, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.Paths.StateDB)
}

// OpenPath opens the journal stored at path.
func OpenPath(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	j := &Journal{db: db, path: path, now: time.Now}
	if err := j.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the database file location.
func (j *Journal) Path() string { return j.path }

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends entry. A zero At is stamped with the current time.
func (j *Journal) Record(ctx context.Context, entry Entry) error {
	if entry.Kind == "" {
		return errors.New("journal entry kind is required")
	}
	if entry.At.IsZero() {
		entry.At = j.now()
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO lifecycle_events (recorded_at, kind, worker_key, detail) VALUES (?, ?, ?, ?)",
		entry.At.UTC().Format(time.RFC3339Nano),
		string(entry.Kind),
		nullableString(entry.WorkerKey),
		nullableString(entry.Detail),
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", entry.Kind, err)
	}
	return nil
}

// List returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	query := "SELECT id, recorded_at, kind, worker_key, detail FROM lifecycle_events ORDER BY id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry              Entry
			recordedAt, kind   string
			workerKey, details sql.NullString
		)
		if err := rows.Scan(&entry.ID, &recordedAt, &kind, &workerKey, &details); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		at, err := time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at %q: %w", recordedAt, err)
		}
		entry.At = at
		entry.Kind = Kind(kind)
		entry.WorkerKey = workerKey.String
		entry.Detail = details.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		"DELETE FROM lifecycle_events WHERE recorded_at < ?",
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

// Observer records host lifecycle events. Write failures are logged and
// never interrupt the lifecycle operation that produced them.
func (j *Journal) Observer(logger *slog.Logger) platform.Observer {
	logger = logging.NewComponentLogger(logger, "journal")
	record := func(kind Kind, key registry.Key, detail string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.Record(ctx, Entry{Kind: kind, WorkerKey: key.String(), Detail: detail}); err != nil {
			logging.WarnWithContext(logger, "journal write failed", "journal_write_failed",
				logging.Error(err),
				logging.String("kind", string(kind)),
				logging.String(logging.FieldImpact, "lifecycle history incomplete"),
				logging.String(logging.FieldErrorHint, "check state_db permissions and disk space"))
		}
	}
	return platform.Observer{
		WorkerCreated:   func(k registry.Key) { record(KindWorkerCreated, k, "") },
		WorkerDestroyed: func(k registry.Key) { record(KindWorkerDestroyed, k, "") },
		WorkerRestarted: func(k registry.Key) { record(KindWorkerRestarted, k, "sticky") },
		BindingTransition: func(from, to binding.State) {
			record(KindBindingTransition, "", from.String()+"->"+to.String())
		},
		Grant: grant.Observer{
			ChannelRegistered: func(ch grant.Channel) { record(KindChannelRegistered, "", ch.ID) },
			Promoted:          func(d grant.Descriptor) { record(KindGrantPromoted, "", fmt.Sprintf("notification %d", d.ID)) },
			Demoted:           func() { record(KindGrantDemoted, "", "") },
			Denied: func(err error) {
				detail := ""
				if err != nil {
					detail = err.Error()
				}
				record(KindGrantDenied, "", detail)
			},
		},
	}
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
