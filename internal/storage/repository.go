// Package storage defines the backend-agnostic contract between the batch
// driver and the relational store, plus the factory registry the backends
// register themselves with.
package storage

import (
	"context"
	"fmt"
	"sync"

	"playmart/internal/model"
)

// Config selects and configures a storage backend.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the store handle for one batch run.
//
// IMPORTANT: This interface is intentionally minimal and focused on what the
// driver needs. Each backend implements the semantics in its own idiomatic
// way (Postgres ON CONFLICT, SQLite OR IGNORE, SQL Server NOT EXISTS).
//
// Concurrency:
//   - A Repository is owned exclusively by the driver for the run's
//     lifetime; the pipeline is sequential and holds at most one open
//     FileTx at a time.
type Repository interface {
	// Close releases backend resources. Treat as "call once" at shutdown.
	Close()

	// Ping verifies connectivity. The driver calls it at startup so a store
	// outage is fatal before any file is touched.
	Ping(ctx context.Context) error

	// EnsureSchema creates the five tables and their constraints if needed.
	// Idempotent; the upsert semantics below depend on these constraints.
	EnsureSchema(ctx context.Context) error

	// Begin opens the transaction covering one input file. Commit happens
	// once per file, bounding a mid-file failure to that file's writes.
	Begin(ctx context.Context) (FileTx, error)
}

// FileTx is the per-file unit of work.
//
// Conflict policy per table (the loader contract):
//   - songs, artists, time, songplays: insert-or-ignore on the key.
//   - users: insert, or update level and demographics on user_id conflict,
//     so the stored row always reflects the latest observed state.
//
// All batch methods apply the policy per row: re-running the same input
// produces no duplicate rows and no error. Statements are parameterized;
// values are never interpolated into SQL text.
type FileTx interface {
	UpsertSongs(ctx context.Context, songs []model.Song) error
	UpsertArtists(ctx context.Context, artists []model.Artist) error
	UpsertUsers(ctx context.Context, users []model.User) error
	InsertTimeRows(ctx context.Context, rows []model.TimeRow) error

	// InsertSongplays writes fact rows in slice order. The surrogate
	// songplay_id comes from the store's sequence, so on a fresh store the
	// ids are contiguous from 1 in insert order.
	InsertSongplays(ctx context.Context, plays []model.Songplay) error

	// ResolveSongArtist joins songs and artists on artist_id with exact
	// equality on title, artist name, and duration (no float tolerance).
	// Returns nil when there is no match; the first match wins when several
	// exist.
	ResolveSongArtist(ctx context.Context, title, artist string, duration float64) (*model.SongRef, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

/* ---------- backend factories ---------- */

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package. Registering
// the same kind twice panics: failing fast beats ambiguous backend
// selection.
func Register(kind string, f factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	factoryMu.RLock()
	f := factories[cfg.Kind]
	factoryMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
