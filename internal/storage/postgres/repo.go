// Package postgres implements storage.Repository on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"playmart/internal/model"
	"playmart/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

// Repo implements storage.Repository for Postgres.
//
// Upsert semantics use INSERT ... ON CONFLICT: DO NOTHING for the
// insert-or-ignore tables, DO UPDATE for users. Both rely on the primary
// key / unique constraints created by EnsureSchema.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new Postgres-backed Repo.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

func (r *Repo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// EnsureSchema creates the five tables if they do not exist. Idempotent.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range createTableStmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

// Begin opens the per-file transaction.
func (r *Repo) Begin(ctx context.Context) (storage.FileTx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &fileTx{tx: tx}, nil
}

type fileTx struct {
	tx pgx.Tx
}

func (t *fileTx) UpsertSongs(ctx context.Context, songs []model.Song) error {
	rows := make([][]any, 0, len(songs))
	for _, s := range songs {
		rows = append(rows, []any{s.SongID, s.Title, s.ArtistID, s.Year, s.Duration})
	}
	return t.exec(ctx, "songs", songColumns, rows, conflictIgnore("song_id"))
}

func (t *fileTx) UpsertArtists(ctx context.Context, artists []model.Artist) error {
	rows := make([][]any, 0, len(artists))
	for _, a := range artists {
		rows = append(rows, []any{a.ArtistID, a.Name, a.Location, a.Latitude, a.Longitude})
	}
	return t.exec(ctx, "artists", artistColumns, rows, conflictIgnore("artist_id"))
}

// UpsertUsers updates level and demographics on user_id conflict.
//
// Postgres rejects a multi-row ON CONFLICT DO UPDATE that touches the same
// key twice in one statement; the transformer guarantees one row per
// user_id per batch, so that cannot happen here.
func (t *fileTx) UpsertUsers(ctx context.Context, users []model.User) error {
	rows := make([][]any, 0, len(users))
	for _, u := range users {
		rows = append(rows, []any{u.UserID, u.FirstName, u.LastName, u.Gender, u.Level})
	}
	return t.exec(ctx, "users", userColumns, rows, userConflictUpdate)
}

func (t *fileTx) InsertTimeRows(ctx context.Context, trs []model.TimeRow) error {
	rows := make([][]any, 0, len(trs))
	for _, tr := range trs {
		rows = append(rows, []any{tr.StartTime, tr.Hour, tr.Day, tr.Week, tr.Month, tr.Year, tr.Weekday})
	}
	return t.exec(ctx, "time", timeColumns, rows, conflictIgnore("start_time"))
}

// InsertSongplays inserts fact rows in slice order; songplay_id comes from
// the table's sequence. The natural-key conflict clause makes reprocessing
// a file a no-op instead of a duplicate load.
func (t *fileTx) InsertSongplays(ctx context.Context, plays []model.Songplay) error {
	rows := make([][]any, 0, len(plays))
	for _, p := range plays {
		rows = append(rows, []any{p.StartTime, p.UserID, p.Level, p.SongID, p.ArtistID, p.SessionID, p.Location, p.UserAgent})
	}
	return t.exec(ctx, "songplays", songplayColumns, rows, conflictIgnore("start_time", "user_id", "session_id"))
}

func (t *fileTx) ResolveSongArtist(ctx context.Context, title, artist string, duration float64) (*model.SongRef, error) {
	var ref model.SongRef
	err := t.tx.QueryRow(ctx, resolveSongArtistSQL, title, artist, duration).Scan(&ref.SongID, &ref.ArtistID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: resolve song/artist: %w", err)
	}
	return &ref, nil
}

func (t *fileTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *fileTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (t *fileTx) exec(ctx context.Context, table string, columns []string, rows [][]any, conflictClause string) error {
	if len(rows) == 0 {
		return nil
	}
	sql, args := buildUpsertSQL(table, columns, rows, conflictClause)
	if _, err := t.tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("postgres: upsert %s: %w", table, err)
	}
	return nil
}
