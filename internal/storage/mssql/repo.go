// Package mssql implements storage.Repository on SQL Server.
//
// SQL Server has no ON CONFLICT clause. Insert-or-ignore is implemented
// with INSERT ... SELECT ... WHERE NOT EXISTS, and the users
// update-on-conflict policy with UPDATE-then-INSERT per row. MERGE is
// deliberately avoided; its concurrency edge cases are not worth it for a
// single-writer batch job.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"playmart/internal/model"
	"playmart/internal/storage"
)

func init() {
	storage.Register("mssql", New)
}

type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
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

func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range createTableStmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mssql: ensure schema: %w", err)
		}
	}
	return nil
}

func (r *Repo) Begin(ctx context.Context) (storage.FileTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mssql: begin: %w", err)
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
	return t.insertNotExists(ctx, "songs", songColumns, "song_id", rows)
}

func (t *fileTx) UpsertArtists(ctx context.Context, artists []model.Artist) error {
	rows := make([][]any, 0, len(artists))
	for _, a := range artists {
		rows = append(rows, []any{a.ArtistID, a.Name, a.Location, a.Latitude, a.Longitude})
	}
	return t.insertNotExists(ctx, "artists", artistColumns, "artist_id", rows)
}

// UpsertUsers applies UPDATE-then-INSERT per row. Row counts here are tiny
// (one row per distinct user per file), so the round-trips do not matter.
func (t *fileTx) UpsertUsers(ctx context.Context, users []model.User) error {
	for _, u := range users {
		res, err := t.tx.ExecContext(ctx, updateUserSQL, u.FirstName, u.LastName, u.Gender, u.Level, u.UserID)
		if err != nil {
			return fmt.Errorf("mssql: update user %d: %w", u.UserID, err)
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			continue
		}
		if _, err := t.tx.ExecContext(ctx, insertUserSQL, u.UserID, u.FirstName, u.LastName, u.Gender, u.Level); err != nil {
			return fmt.Errorf("mssql: insert user %d: %w", u.UserID, err)
		}
	}
	return nil
}

func (t *fileTx) InsertTimeRows(ctx context.Context, trs []model.TimeRow) error {
	rows := make([][]any, 0, len(trs))
	for _, tr := range trs {
		rows = append(rows, []any{tr.StartTime, tr.Hour, tr.Day, tr.Week, tr.Month, tr.Year, tr.Weekday})
	}
	return t.insertNotExists(ctx, "time", timeColumns, "start_time", rows)
}

func (t *fileTx) InsertSongplays(ctx context.Context, plays []model.Songplay) error {
	rows := make([][]any, 0, len(plays))
	for _, p := range plays {
		rows = append(rows, []any{p.StartTime, p.UserID, p.Level, p.SongID, p.ArtistID, p.SessionID, p.Location, p.UserAgent})
	}
	// Natural-key dedupe; the IDENTITY surrogate key never conflicts.
	return t.insertNotExistsMulti(ctx, "songplays", songplayColumns, []string{"start_time", "user_id", "session_id"}, rows)
}

func (t *fileTx) ResolveSongArtist(ctx context.Context, title, artist string, duration float64) (*model.SongRef, error) {
	var ref model.SongRef
	err := t.tx.QueryRowContext(ctx, resolveSongArtistSQL, title, artist, duration).Scan(&ref.SongID, &ref.ArtistID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mssql: resolve song/artist: %w", err)
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

func (t *fileTx) insertNotExists(ctx context.Context, table string, columns []string, keyColumn string, rows [][]any) error {
	return t.insertNotExistsMulti(ctx, table, columns, []string{keyColumn}, rows)
}

// insertNotExistsMulti inserts rows that do not already exist per the key
// columns. Chunked: SQL Server caps a statement at 2100 parameters.
//
// NOT EXISTS only checks the target table, so rows are also deduped within
// the batch first; that matches insert-or-ignore semantics exactly (first
// occurrence wins).
func (t *fileTx) insertNotExistsMulti(ctx context.Context, table string, columns []string, keyColumns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	rows = dedupeByKey(rows, keyIndices(columns, keyColumns))

	maxRows := 2000 / len(columns)
	if maxRows < 1 {
		maxRows = 1
	}

	for start := 0; start < len(rows); start += maxRows {
		end := start + maxRows
		if end > len(rows) {
			end = len(rows)
		}
		q, args := buildInsertNotExistsSQL(table, columns, keyColumns, rows[start:end])
		if _, err := t.tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("mssql: upsert %s: %w", table, err)
		}
	}
	return nil
}

func keyIndices(columns, keyColumns []string) []int {
	idx := make([]int, 0, len(keyColumns))
	for _, k := range keyColumns {
		for i, c := range columns {
			if c == k {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

func dedupeByKey(rows [][]any, keyIdx []int) [][]any {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		k := ""
		for _, i := range keyIdx {
			k += fmt.Sprint(row[i]) + "\x00"
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	return out
}
