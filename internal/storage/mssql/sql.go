package mssql

import (
	"fmt"
	"strings"
)

var createTableStmts = []string{
	`IF OBJECT_ID('songs', 'U') IS NULL
	CREATE TABLE songs (
		song_id   NVARCHAR(64) PRIMARY KEY,
		title     NVARCHAR(MAX),
		artist_id NVARCHAR(64),
		year      INT,
		duration  FLOAT
	);`,
	`IF OBJECT_ID('artists', 'U') IS NULL
	CREATE TABLE artists (
		artist_id NVARCHAR(64) PRIMARY KEY,
		name      NVARCHAR(MAX),
		location  NVARCHAR(MAX),
		latitude  FLOAT,
		longitude FLOAT
	);`,
	`IF OBJECT_ID('users', 'U') IS NULL
	CREATE TABLE users (
		user_id    BIGINT PRIMARY KEY,
		first_name NVARCHAR(256),
		last_name  NVARCHAR(256),
		gender     NVARCHAR(8),
		level      NVARCHAR(16)
	);`,
	`IF OBJECT_ID('time', 'U') IS NULL
	CREATE TABLE time (
		start_time BIGINT PRIMARY KEY,
		hour       INT,
		day        INT,
		week       INT,
		month      INT,
		year       INT,
		weekday    INT
	);`,
	`IF OBJECT_ID('songplays', 'U') IS NULL
	CREATE TABLE songplays (
		songplay_id BIGINT IDENTITY(1,1) PRIMARY KEY,
		start_time  BIGINT NOT NULL,
		user_id     BIGINT NOT NULL,
		level       NVARCHAR(16),
		song_id     NVARCHAR(64),
		artist_id   NVARCHAR(64),
		session_id  BIGINT,
		location    NVARCHAR(MAX),
		user_agent  NVARCHAR(MAX),
		CONSTRAINT uq_songplays_event UNIQUE (start_time, user_id, session_id)
	);`,
}

const resolveSongArtistSQL = `
	SELECT TOP 1 s.song_id, s.artist_id
	FROM songs s
	JOIN artists a ON a.artist_id = s.artist_id
	WHERE s.title = @p1 AND a.name = @p2 AND s.duration = @p3;`

const updateUserSQL = `
	UPDATE users
	SET first_name = @p1, last_name = @p2, gender = @p3, level = @p4
	WHERE user_id = @p5;`

const insertUserSQL = `
	INSERT INTO users (user_id, first_name, last_name, gender, level)
	VALUES (@p1, @p2, @p3, @p4, @p5);`

var (
	songColumns     = []string{"song_id", "title", "artist_id", "year", "duration"}
	artistColumns   = []string{"artist_id", "name", "location", "latitude", "longitude"}
	timeColumns     = []string{"start_time", "hour", "day", "week", "month", "year", "weekday"}
	songplayColumns = []string{"start_time", "user_id", "level", "song_id", "artist_id", "session_id", "location", "user_agent"}
)

// buildInsertNotExistsSQL builds:
//
//	INSERT INTO t (cols) SELECT v.cols FROM (VALUES ...) v(cols)
//	WHERE NOT EXISTS (SELECT 1 FROM t WHERE t.key = v.key [AND ...])
//
// Pure and deterministic so placeholder layout is unit-testable without a
// server.
func buildInsertNotExistsSQL(table string, columns []string, keyColumns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(")\nSELECT ")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(msIdent(c))
	}
	b.WriteString("\nFROM (VALUES ")

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
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") v(")
	b.WriteString(joinIdents(columns))
	b.WriteString(")\nWHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(table)
	b.WriteString(" t WHERE ")
	for i, k := range keyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(msIdent(k))
		b.WriteString(" = v.")
		b.WriteString(msIdent(k))
	}
	b.WriteString(");")

	return b.String(), args
}

func joinIdents(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = msIdent(c)
	}
	return strings.Join(quoted, ", ")
}

func msIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}
