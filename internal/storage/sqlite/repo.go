// Package sqlite implements storage.Repository on SQLite via modernc.org/sqlite.
//
// This backend doubles as the integration-test store: an in-memory or
// file-backed DSN exercises the full upsert/resolve contract without a
// server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"playmart/internal/model"
	"playmart/internal/storage"
)

func init() {
	storage.Register("sqlite", New)
}

// Repo implements storage.Repository for SQLite.
//
// Key differences vs Postgres:
//   - insert-or-ignore is INSERT OR IGNORE, which relies on the UNIQUE/PK
//     constraints rather than naming conflict columns.
//   - The connection pool is pinned to one connection; the pipeline is
//     sequential anyway, and a single connection keeps ":memory:" databases
//     coherent.
type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// EnsureSchema creates the five tables if they do not exist. Idempotent.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range createTableStmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

func (r *Repo) Begin(ctx context.Context) (storage.FileTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	return &fileTx{tx: tx}, nil
}

type fileTx struct {
	tx *sql.Tx
}

func (t *fileTx) UpsertSongs(ctx context.Context, songs []model.Song) error {
	rows := make([][]any, 0, len(songs))
	for _, s := range songs {
		rows = append(rows, []any{s.SongID, s.Title, s.ArtistID, s.Year, s.Duration})
	}
	return t.exec(ctx, insertOrIgnore("songs"), songColumns, rows)
}

func (t *fileTx) UpsertArtists(ctx context.Context, artists []model.Artist) error {
	rows := make([][]any, 0, len(artists))
	for _, a := range artists {
		rows = append(rows, []any{a.ArtistID, a.Name, a.Location, a.Latitude, a.Longitude})
	}
	return t.exec(ctx, insertOrIgnore("artists"), artistColumns, rows)
}

func (t *fileTx) UpsertUsers(ctx context.Context, users []model.User) error {
	rows := make([][]any, 0, len(users))
	for _, u := range users {
		rows = append(rows, []any{u.UserID, u.FirstName, u.LastName, u.Gender, u.Level})
	}
	return t.execSuffixed(ctx, upsertUsersSQLPrefix, upsertUsersSQLSuffix, userColumns, rows)
}

func (t *fileTx) InsertTimeRows(ctx context.Context, trs []model.TimeRow) error {
	rows := make([][]any, 0, len(trs))
	for _, tr := range trs {
		rows = append(rows, []any{tr.StartTime, tr.Hour, tr.Day, tr.Week, tr.Month, tr.Year, tr.Weekday})
	}
	return t.exec(ctx, insertOrIgnore("time"), timeColumns, rows)
}

func (t *fileTx) InsertSongplays(ctx context.Context, plays []model.Songplay) error {
	rows := make([][]any, 0, len(plays))
	for _, p := range plays {
		rows = append(rows, []any{p.StartTime, p.UserID, p.Level, p.SongID, p.ArtistID, p.SessionID, p.Location, p.UserAgent})
	}
	return t.exec(ctx, insertOrIgnore("songplays"), songplayColumns, rows)
}

func (t *fileTx) ResolveSongArtist(ctx context.Context, title, artist string, duration float64) (*model.SongRef, error) {
	var ref model.SongRef
	err := t.tx.QueryRowContext(ctx, resolveSongArtistSQL, title, artist, duration).Scan(&ref.SongID, &ref.ArtistID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: resolve song/artist: %w", err)
	}
	return &ref, nil
}

func (t *fileTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *fileTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// exec appends one "(?, ?, ...)" tuple per row to prefix and runs the
// resulting multi-row statement.
func (t *fileTx) exec(ctx context.Context, prefix string, columns []string, rows [][]any) error {
	return t.execSuffixed(ctx, prefix, "", columns, rows)
}

// execSuffixed is exec with a trailing clause after the VALUES list; the
// users upsert uses it for its ON CONFLICT DO UPDATE tail.
func (t *fileTx) execSuffixed(ctx context.Context, prefix, suffix string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, args := buildValuesSQL(prefix, columns, rows)
	stmt += suffix + ";"
	if _, err := t.tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("sqlite: upsert: %w", err)
	}
	return nil
}
