package pipeline

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"playmart/internal/storage"

	_ "playmart/internal/storage/sqlite"
)

const songFixture = `{"song_id":"SOZCTXZ12AB0182364","title":"Setanta matins","artist_id":"AR5KOSW1187FB35FF4","artist_name":"Elena","artist_location":"Dubai UAE","artist_latitude":49.80388,"artist_longitude":15.47491,"year":0,"duration":269.58159}`

// Two playback events (one resolvable, one not), one navigation event, and
// one NextSong row with a null userId that must be skipped.
const logFixture = `{"page":"NextSong","ts":1541121934796,"userId":"15","firstName":"Lily","lastName":"Koch","gender":"F","level":"paid","song":"Setanta matins","artist":"Elena","length":269.58159,"sessionId":818,"location":"Chicago","userAgent":"Mozilla/5.0"}
{"page":"Home","ts":1541121935000,"userId":"15","level":"paid","sessionId":818}
{"page":"NextSong","ts":1541122071796,"userId":"15","firstName":"Lily","lastName":"Koch","gender":"F","level":"paid","song":"Unknown Song","artist":"Nobody","length":100.5,"sessionId":818,"location":"Chicago","userAgent":"Mozilla/5.0"}
{"page":"NextSong","ts":1541122100000,"userId":null,"level":"free","sessionId":819}
`

type env struct {
	driver *Driver
	dsn    string
}

type testLogger struct{ t *testing.T }

func (l testLogger) Printf(format string, v ...any) { l.t.Logf(format, v...) }

func newEnv(t *testing.T) *env {
	t.Helper()

	root := t.TempDir()
	songDir := filepath.Join(root, "song_data")
	logDir := filepath.Join(root, "log_data")
	for _, d := range []string{songDir, logDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	dsn := "file:" + filepath.Join(root, "store.db")
	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(repo.Close)

	return &env{
		driver: &Driver{
			Repo:    repo,
			Logger:  testLogger{t},
			SongDir: songDir,
			LogDir:  logDir,
		},
		dsn: dsn,
	}
}

func (e *env) addSongFile(t *testing.T, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.driver.SongDir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (e *env) addLogFile(t *testing.T, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.driver.LogDir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// countRows opens its own connection so assertions do not ride on the
// driver's pool.
func (e *env) countRows(t *testing.T, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite", e.dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestRun_EndToEnd(t *testing.T) {
	e := newEnv(t)
	e.addSongFile(t, "TRAAAAW128F429D538.json", songFixture)
	e.addLogFile(t, "2018-11-02-events.json", logFixture)

	s, err := e.driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if s.Discovered != 2 || s.Processed != 2 || s.Failed() != 0 {
		t.Errorf("summary = %+v", s)
	}

	wantRows := map[string]int{
		"songs":     1,
		"artists":   1,
		"users":     1, // one distinct user; the null-userId row was skipped
		"time":      2, // two distinct playback timestamps
		"songplays": 2,
	}
	for table, want := range wantRows {
		if got := e.countRows(t, table); got != want {
			t.Errorf("%s rows = %d, want %d", table, got, want)
		}
	}
	if !mapEquals(s.RowsLoaded, wantRows) {
		t.Errorf("RowsLoaded = %v, want %v", s.RowsLoaded, wantRows)
	}

	// The resolvable event carries the dimension keys; the other stays null.
	db, err := sql.Open("sqlite", e.dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var songID, artistID sql.NullString
	if err := db.QueryRow("SELECT song_id, artist_id FROM songplays WHERE start_time = 1541121934796").Scan(&songID, &artistID); err != nil {
		t.Fatalf("query resolved play: %v", err)
	}
	if songID.String != "SOZCTXZ12AB0182364" || artistID.String != "AR5KOSW1187FB35FF4" {
		t.Errorf("resolved play FKs = %v/%v", songID, artistID)
	}

	if err := db.QueryRow("SELECT song_id, artist_id FROM songplays WHERE start_time = 1541122071796").Scan(&songID, &artistID); err != nil {
		t.Fatalf("query unresolved play: %v", err)
	}
	if songID.Valid || artistID.Valid {
		t.Errorf("unresolved play must keep null FKs, got %v/%v", songID, artistID)
	}
}

func TestRun_Idempotent(t *testing.T) {
	e := newEnv(t)
	e.addSongFile(t, "TRAAAAW128F429D538.json", songFixture)
	e.addLogFile(t, "2018-11-02-events.json", logFixture)

	for i := 0; i < 2; i++ {
		if _, err := e.driver.Run(context.Background()); err != nil {
			t.Fatalf("Run %d: %v", i+1, err)
		}
	}

	for table, want := range map[string]int{"songs": 1, "artists": 1, "users": 1, "time": 2, "songplays": 2} {
		if got := e.countRows(t, table); got != want {
			t.Errorf("%s rows after rerun = %d, want %d", table, got, want)
		}
	}
}

func TestRun_BadFileDoesNotStopTheRun(t *testing.T) {
	e := newEnv(t)
	e.addSongFile(t, "a_good.json", songFixture)
	e.addSongFile(t, "b_bad.json", `{"title":"No ids here"}`)
	e.addLogFile(t, "2018-11-02-events.json", logFixture)

	s, err := e.driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if s.Failed() != 1 || s.Processed != 2 {
		t.Fatalf("summary = %+v, want 1 failed and 2 processed", s)
	}
	if got := filepath.Base(s.Failures[0].Path); got != "b_bad.json" {
		t.Errorf("failed file = %s", got)
	}

	// The good files still committed.
	if got := e.countRows(t, "songs"); got != 1 {
		t.Errorf("songs rows = %d, want 1", got)
	}
	if got := e.countRows(t, "songplays"); got != 2 {
		t.Errorf("songplays rows = %d, want 2", got)
	}
}

func TestRun_MalformedJSONIsFileScoped(t *testing.T) {
	e := newEnv(t)
	e.addLogFile(t, "truncated.json", `{"page":"NextSong","ts":`)
	e.addLogFile(t, "ok.json", logFixture)

	s, err := e.driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Failed() != 1 || s.Processed != 1 {
		t.Errorf("summary = %+v, want 1 failed and 1 processed", s)
	}
}

func TestRun_MissingInputDirIsFatal(t *testing.T) {
	e := newEnv(t)
	e.driver.SongDir = filepath.Join(e.driver.SongDir, "does-not-exist")

	if _, err := e.driver.Run(context.Background()); err == nil {
		t.Fatal("want error for missing input root")
	}
}

func mapEquals(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
