package sqlite

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"playmart/internal/model"
	"playmart/internal/storage"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	repo, err := New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(repo.Close)

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return repo.(*Repo)
}

func mustTx(t *testing.T, r *Repo) storage.FileTx {
	t.Helper()
	tx, err := r.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return tx
}

func commit(t *testing.T, tx storage.FileTx) {
	t.Helper()
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func count(t *testing.T, r *Repo, table string) int {
	t.Helper()
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func seedCatalog(t *testing.T, r *Repo) {
	t.Helper()
	ctx := context.Background()
	tx := mustTx(t, r)
	if err := tx.UpsertSongs(ctx, []model.Song{
		{SongID: "S1", Title: "Setanta matins", ArtistID: "A1", Year: 2004, Duration: 269.58159},
	}); err != nil {
		t.Fatalf("UpsertSongs: %v", err)
	}
	if err := tx.UpsertArtists(ctx, []model.Artist{
		{ArtistID: "A1", Name: "Elena", Location: "Dubai UAE"},
	}); err != nil {
		t.Fatalf("UpsertArtists: %v", err)
	}
	commit(t, tx)
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	if err := r.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
}

func TestUpsertSongsIdempotent(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	seedCatalog(t, r)
	seedCatalog(t, r) // same file reprocessed

	if n := count(t, r, "songs"); n != 1 {
		t.Errorf("songs count = %d, want 1", n)
	}
	if n := count(t, r, "artists"); n != 1 {
		t.Errorf("artists count = %d, want 1", n)
	}
}

func TestUpsertUsers_LatestStateWins(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	tx := mustTx(t, r)
	if err := tx.UpsertUsers(ctx, []model.User{{UserID: 15, FirstName: "Lily", Level: "free"}}); err != nil {
		t.Fatalf("UpsertUsers: %v", err)
	}
	commit(t, tx)

	tx = mustTx(t, r)
	if err := tx.UpsertUsers(ctx, []model.User{{UserID: 15, FirstName: "Lily", Level: "paid"}}); err != nil {
		t.Fatalf("UpsertUsers: %v", err)
	}
	commit(t, tx)

	var level string
	if err := r.db.QueryRow("SELECT level FROM users WHERE user_id = 15").Scan(&level); err != nil {
		t.Fatalf("query level: %v", err)
	}
	if level != "paid" {
		t.Errorf("level = %q, want the later file's state", level)
	}
	if n := count(t, r, "users"); n != 1 {
		t.Errorf("users count = %d, want 1", n)
	}
}

func TestResolveSongArtist_ExactMatchOnly(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	seedCatalog(t, r)
	ctx := context.Background()

	tx := mustTx(t, r)
	defer tx.Rollback(ctx)

	ref, err := tx.ResolveSongArtist(ctx, "Setanta matins", "Elena", 269.58159)
	if err != nil {
		t.Fatalf("ResolveSongArtist: %v", err)
	}
	if ref == nil || ref.SongID != "S1" || ref.ArtistID != "A1" {
		t.Fatalf("ref = %+v, want S1/A1", ref)
	}

	// A near-miss duration is a miss; the lookup is an exact conjunction.
	ref, err = tx.ResolveSongArtist(ctx, "Setanta matins", "Elena", 269.59)
	if err != nil {
		t.Fatalf("ResolveSongArtist: %v", err)
	}
	if ref != nil {
		t.Errorf("ref = %+v, want nil for off-by-0.01 duration", ref)
	}

	ref, err = tx.ResolveSongArtist(ctx, "Setanta matins", "Someone Else", 269.58159)
	if err != nil {
		t.Fatalf("ResolveSongArtist: %v", err)
	}
	if ref != nil {
		t.Errorf("ref = %+v, want nil for wrong artist", ref)
	}
}

func TestInsertSongplays_SequentialIDsAndIdempotence(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	plays := []model.Songplay{
		{StartTime: 100, UserID: 1, Level: "free", SessionID: 10},
		{StartTime: 200, UserID: 1, Level: "free", SessionID: 10},
		{StartTime: 300, UserID: 2, Level: "paid", SessionID: 11},
	}

	tx := mustTx(t, r)
	if err := tx.InsertSongplays(ctx, plays); err != nil {
		t.Fatalf("InsertSongplays: %v", err)
	}
	commit(t, tx)

	rows, err := r.db.Query("SELECT songplay_id, start_time FROM songplays ORDER BY songplay_id")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var ids []int64
	var starts []int64
	for rows.Next() {
		var id, st int64
		if err := rows.Scan(&id, &st); err != nil {
			t.Fatalf("scan: %v", err)
		}
		ids = append(ids, id)
		starts = append(starts, st)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}

	// Fresh store: ids are assigned in insert order, starting at 1.
	if !reflect.DeepEqual(ids, []int64{1, 2, 3}) {
		t.Errorf("ids = %v, want [1 2 3]", ids)
	}
	if !reflect.DeepEqual(starts, []int64{100, 200, 300}) {
		t.Errorf("start_times = %v, want event order preserved", starts)
	}

	// Reprocessing the same file adds nothing.
	tx = mustTx(t, r)
	if err := tx.InsertSongplays(ctx, plays); err != nil {
		t.Fatalf("InsertSongplays (rerun): %v", err)
	}
	commit(t, tx)

	if n := count(t, r, "songplays"); n != 3 {
		t.Errorf("songplays count after rerun = %d, want 3", n)
	}
}

func TestInsertTimeRows_Idempotent(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	trs := []model.TimeRow{
		{StartTime: 1541121934796, Hour: 1, Day: 2, Week: 44, Month: 11, Year: 2018, Weekday: 5},
	}

	for i := 0; i < 2; i++ {
		tx := mustTx(t, r)
		if err := tx.InsertTimeRows(ctx, trs); err != nil {
			t.Fatalf("InsertTimeRows: %v", err)
		}
		commit(t, tx)
	}

	if n := count(t, r, "time"); n != 1 {
		t.Errorf("time count = %d, want 1", n)
	}
}

func TestRollbackLeavesNoRows(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	tx := mustTx(t, r)
	if err := tx.UpsertUsers(ctx, []model.User{{UserID: 1, Level: "free"}}); err != nil {
		t.Fatalf("UpsertUsers: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if n := count(t, r, "users"); n != 0 {
		t.Errorf("users count after rollback = %d, want 0", n)
	}
}

func TestEmptyBatchesAreNoops(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	tx := mustTx(t, r)
	if err := tx.UpsertSongs(ctx, nil); err != nil {
		t.Errorf("UpsertSongs(nil): %v", err)
	}
	if err := tx.InsertSongplays(ctx, nil); err != nil {
		t.Errorf("InsertSongplays(nil): %v", err)
	}
	commit(t, tx)
}

func TestBuildValuesSQL(t *testing.T) {
	t.Parallel()

	stmt, args := buildValuesSQL("INSERT OR IGNORE INTO songs", []string{"a", "b"}, [][]any{
		{1, "x"},
		{2, "y"},
	})

	want := `INSERT OR IGNORE INTO songs ("a", "b") VALUES (?, ?), (?, ?)`
	if stmt != want {
		t.Errorf("stmt = %q, want %q", stmt, want)
	}
	if !reflect.DeepEqual(args, []any{1, "x", 2, "y"}) {
		t.Errorf("args = %v", args)
	}
}
