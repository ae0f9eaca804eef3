package postgres

import (
	"fmt"
	"strings"
)

// Every DDL/DML statement this backend issues lives in this file, either as
// a constant or as a pure builder. The builders are deterministic so
// placeholder numbering and conflict clauses can be unit tested without a
// database.

var createTableStmts = []string{
	`CREATE TABLE IF NOT EXISTS songs (
		song_id   VARCHAR PRIMARY KEY,
		title     TEXT,
		artist_id VARCHAR,
		year      INT,
		duration  DOUBLE PRECISION
	);`,
	`CREATE TABLE IF NOT EXISTS artists (
		artist_id VARCHAR PRIMARY KEY,
		name      TEXT,
		location  TEXT,
		latitude  DOUBLE PRECISION,
		longitude DOUBLE PRECISION
	);`,
	`CREATE TABLE IF NOT EXISTS users (
		user_id    BIGINT PRIMARY KEY,
		first_name TEXT,
		last_name  TEXT,
		gender     TEXT,
		level      TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS time (
		start_time BIGINT PRIMARY KEY,
		hour       INT,
		day        INT,
		week       INT,
		month      INT,
		year       INT,
		weekday    INT
	);`,
	`CREATE TABLE IF NOT EXISTS songplays (
		songplay_id BIGSERIAL PRIMARY KEY,
		start_time  BIGINT NOT NULL,
		user_id     BIGINT NOT NULL,
		level       TEXT,
		song_id     VARCHAR,
		artist_id   VARCHAR,
		session_id  BIGINT,
		location    TEXT,
		user_agent  TEXT,
		UNIQUE (start_time, user_id, session_id)
	);`,
}

// resolveSongArtistSQL recovers the foreign keys for one playback event.
// Exact equality on all three predicates, duration included: an off-by-0.01
// duration is a miss, never an approximate match. LIMIT 1 implements the
// first-match-wins policy for the (unlikely) ambiguous case.
const resolveSongArtistSQL = `
	SELECT s.song_id, s.artist_id
	FROM songs s
	JOIN artists a ON a.artist_id = s.artist_id
	WHERE s.title = $1 AND a.name = $2 AND s.duration = $3
	LIMIT 1;`

var (
	songColumns     = []string{"song_id", "title", "artist_id", "year", "duration"}
	artistColumns   = []string{"artist_id", "name", "location", "latitude", "longitude"}
	userColumns     = []string{"user_id", "first_name", "last_name", "gender", "level"}
	timeColumns     = []string{"start_time", "hour", "day", "week", "month", "year", "weekday"}
	songplayColumns = []string{"start_time", "user_id", "level", "song_id", "artist_id", "session_id", "location", "user_agent"}
)

// userConflictUpdate implements the users table policy: a conflicting
// user_id updates level and demographics instead of failing the insert.
const userConflictUpdate = `ON CONFLICT (user_id) DO UPDATE SET
		first_name = EXCLUDED.first_name,
		last_name = EXCLUDED.last_name,
		gender = EXCLUDED.gender,
		level = EXCLUDED.level`

// conflictIgnore builds the insert-or-ignore clause for the given conflict
// target columns.
func conflictIgnore(columns ...string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgIdent(c)
	}
	return "ON CONFLICT (" + strings.Join(quoted, ", ") + ") DO NOTHING"
}

// buildUpsertSQL constructs one multi-row INSERT statement and its args.
//
// Constraints:
//   - columns must be non-empty; every row must have len(columns) values.
//   - conflictClause is appended verbatim (it never carries user data).
func buildUpsertSQL(table string, columns []string, rows [][]any, conflictClause string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if conflictClause != "" {
		b.WriteString(" ")
		b.WriteString(conflictClause)
	}
	b.WriteString(";")
	return b.String(), args
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
