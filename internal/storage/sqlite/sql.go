package sqlite

import "strings"

// All SQL issued by this backend lives here. "INTEGER PRIMARY KEY
// AUTOINCREMENT" is special in SQLite: it aliases the rowid and
// auto-generates monotonically increasing ids, which is what gives
// songplays their load-time surrogate key.

var createTableStmts = []string{
	`CREATE TABLE IF NOT EXISTS songs (
		song_id   TEXT PRIMARY KEY,
		title     TEXT,
		artist_id TEXT,
		year      INTEGER,
		duration  REAL
	);`,
	`CREATE TABLE IF NOT EXISTS artists (
		artist_id TEXT PRIMARY KEY,
		name      TEXT,
		location  TEXT,
		latitude  REAL,
		longitude REAL
	);`,
	`CREATE TABLE IF NOT EXISTS users (
		user_id    INTEGER PRIMARY KEY,
		first_name TEXT,
		last_name  TEXT,
		gender     TEXT,
		level      TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS time (
		start_time INTEGER PRIMARY KEY,
		hour       INTEGER,
		day        INTEGER,
		week       INTEGER,
		month      INTEGER,
		year       INTEGER,
		weekday    INTEGER
	);`,
	`CREATE TABLE IF NOT EXISTS songplays (
		songplay_id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_time  INTEGER NOT NULL,
		user_id     INTEGER NOT NULL,
		level       TEXT,
		song_id     TEXT,
		artist_id   TEXT,
		session_id  INTEGER,
		location    TEXT,
		user_agent  TEXT,
		UNIQUE (start_time, user_id, session_id)
	);`,
}

// Same exact-match join as the Postgres backend; SQLite compares REAL
// values bit-for-bit here, so a 0.01 duration drift is a miss by design.
const resolveSongArtistSQL = `
	SELECT s.song_id, s.artist_id
	FROM songs s
	JOIN artists a ON a.artist_id = s.artist_id
	WHERE s.title = ? AND a.name = ? AND s.duration = ?
	LIMIT 1;`

var (
	songColumns     = []string{"song_id", "title", "artist_id", "year", "duration"}
	artistColumns   = []string{"artist_id", "name", "location", "latitude", "longitude"}
	userColumns     = []string{"user_id", "first_name", "last_name", "gender", "level"}
	timeColumns     = []string{"start_time", "hour", "day", "week", "month", "year", "weekday"}
	songplayColumns = []string{"start_time", "user_id", "level", "song_id", "artist_id", "session_id", "location", "user_agent"}
)

const (
	upsertUsersSQLPrefix = `INSERT INTO users`
	upsertUsersSQLSuffix = ` ON CONFLICT (user_id) DO UPDATE SET
		first_name = excluded.first_name,
		last_name = excluded.last_name,
		gender = excluded.gender,
		level = excluded.level`
)

// insertOrIgnore builds the statement head for the insert-or-ignore tables.
// OR IGNORE resolves conflicts through the UNIQUE/PK constraints, so no
// conflict column list is needed.
func insertOrIgnore(table string) string {
	return "INSERT OR IGNORE INTO " + table
}

// buildValuesSQL appends the column list and one "(?, ?, ...)" tuple per
// row to prefix, returning the statement (without terminator) and its args.
func buildValuesSQL(prefix string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	tuple := "(" + strings.TrimRight(strings.Repeat("?, ", len(columns)), ", ") + ")"

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		args = append(args, row...)
	}
	return b.String(), args
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
