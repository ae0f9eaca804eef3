// Package pipeline sequences a batch run: discover files, transform each
// one inside its own store transaction, commit per file, report progress.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"playmart/internal/discover"
	"playmart/internal/metrics"
	"playmart/internal/model"
	"playmart/internal/parser/json"
	"playmart/internal/storage"
	"playmart/internal/transform"
)

// Logger is the minimal logging interface used by the driver.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Driver owns one batch run. The store connection it holds is the run's
// single shared resource; processing is strictly sequential, one file and
// one transaction at a time.
type Driver struct {
	Repo   storage.Repository
	Logger Logger

	SongDir string
	LogDir  string
}

// FileFailure records one file that was skipped or aborted, with its cause.
type FileFailure struct {
	Path string
	Err  error
}

// Summary is the user-visible outcome of a run.
type Summary struct {
	Discovered int
	Processed  int
	Failures   []FileFailure
	RowsLoaded map[string]int // table -> rows the driver handed to the loader
	Elapsed    time.Duration
}

// Failed returns the number of files that did not commit.
func (s Summary) Failed() int { return len(s.Failures) }

// Run executes the batch: song-metadata tree first (the resolver joins
// against it), then the session-log tree.
//
// Failure policy:
//   - store unreachable, schema setup failure, or a failed Begin are fatal:
//     the run aborts with an error.
//   - anything scoped to one file (parse failure, malformed required
//     fields, write or resolver errors) rolls back that file's transaction,
//     is recorded in the summary, and the run continues.
//
// Re-running after a crash is safe: every write is an upsert, so a
// partially processed input set just converges.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	logf := d.logger()
	start := time.Now()

	summary := Summary{RowsLoaded: make(map[string]int)}

	if err := d.Repo.Ping(ctx); err != nil {
		return summary, fmt.Errorf("pipeline: store unreachable: %w", err)
	}
	logf("stage=connect ok")

	if err := d.Repo.EnsureSchema(ctx); err != nil {
		return summary, fmt.Errorf("pipeline: ensure schema: %w", err)
	}
	logf("stage=ddl ok")

	songFiles, err := discover.Files(d.SongDir, ".json")
	if err != nil {
		return summary, fmt.Errorf("pipeline: %w", err)
	}
	logFiles, err := discover.Files(d.LogDir, ".json")
	if err != nil {
		return summary, fmt.Errorf("pipeline: %w", err)
	}

	summary.Discovered = len(songFiles) + len(logFiles)
	logf("stage=discover song_files=%d log_files=%d", len(songFiles), len(logFiles))

	total := summary.Discovered
	attempted := 0

	runGroup := func(files []string, kind string, load loadFn) error {
		for _, path := range files {
			fileStart := time.Now()
			err := d.processFile(ctx, path, load, &summary)
			dur := time.Since(fileStart)

			attempted++
			status := "ok"
			if err != nil {
				if isFatal(err) {
					return err
				}
				status = "failed"
				summary.Failures = append(summary.Failures, FileFailure{Path: path, Err: err})
				logf("stage=%s_file file=%s status=failed err=%v", kind, filepath.Base(path), err)
			} else {
				summary.Processed++
			}

			metrics.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": kind, "status": status})
			metrics.ObserveHistogram(metrics.FileDurationSeconds, dur.Seconds(), metrics.Labels{"kind": kind})

			logf("progress %d/%d files processed", attempted, total)
		}
		return nil
	}

	if err := runGroup(songFiles, "song", d.loadSongFile); err != nil {
		return summary, err
	}
	if err := runGroup(logFiles, "log", d.loadLogFile); err != nil {
		return summary, err
	}

	summary.Elapsed = time.Since(start)
	return summary, nil
}

// loadFn transforms and loads one file's records inside tx, returning the
// per-table row counts it handed to the loader.
type loadFn func(ctx context.Context, tx storage.FileTx, path string, recs []transform.RawRecord) (map[string]int, error)

// processFile runs the per-file transaction boundary. Commit happens only
// when transform and load both succeed; every other path rolls back, so a
// failed file leaves no partial writes.
func (d *Driver) processFile(ctx context.Context, path string, load loadFn, summary *Summary) error {
	recs, err := readRecords(ctx, path)
	if err != nil {
		return err
	}

	tx, err := d.Repo.Begin(ctx)
	if err != nil {
		// A failed Begin means the connection is gone, not the file.
		return fatalError{err}
	}

	counts, err := load(ctx, tx, path, recs)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("commit: %w", err)
	}

	for table, n := range counts {
		summary.RowsLoaded[table] += n
		metrics.IncCounter(metrics.RowsTotal, float64(n), metrics.Labels{"table": table})
	}
	return nil
}

// loadSongFile projects a song-metadata file into the songs and artists
// dimensions. A missing required id fails the whole file.
func (d *Driver) loadSongFile(ctx context.Context, tx storage.FileTx, path string, recs []transform.RawRecord) (map[string]int, error) {
	songs, artists, err := transform.SongRows(recs)
	if err != nil {
		return nil, err
	}

	if err := tx.UpsertSongs(ctx, songs); err != nil {
		return nil, err
	}
	if err := tx.UpsertArtists(ctx, artists); err != nil {
		return nil, err
	}

	return map[string]int{"songs": len(songs), "artists": len(artists)}, nil
}

// loadLogFile runs the core transform: NextSong filter, time dimension,
// latest-state users, and FK-resolved songplays, in that order.
func (d *Driver) loadLogFile(ctx context.Context, tx storage.FileTx, path string, recs []transform.RawRecord) (map[string]int, error) {
	logf := d.logger()
	base := filepath.Base(path)

	events := transform.PlayEvents(recs, func(line int, err error) {
		logf("stage=log_transform file=%s line=%d row_skipped err=%v", base, line, err)
	})

	timeRows := transform.TimeRows(events)
	if err := tx.InsertTimeRows(ctx, timeRows); err != nil {
		return nil, err
	}

	users := transform.LatestUsers(events)
	if err := tx.UpsertUsers(ctx, users); err != nil {
		return nil, err
	}

	plays, err := transform.Songplays(ctx, events, countingResolver{tx})
	if err != nil {
		return nil, err
	}
	if err := tx.InsertSongplays(ctx, plays); err != nil {
		return nil, err
	}

	return map[string]int{
		"time":      len(timeRows),
		"users":     len(users),
		"songplays": len(plays),
	}, nil
}

// readRecords decodes all records of one file up front. Input files are
// small (one song, or one day of session events); streaming them into a
// slice keeps the transform steps simple.
func readRecords(ctx context.Context, path string) ([]transform.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var recs []transform.RawRecord
	err = json.StreamRecords(ctx, f, func(line int, rec map[string]any) error {
		recs = append(recs, transform.RawRecord{Line: line, Fields: rec})
		return nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return recs, nil
}

// countingResolver wraps the transaction's resolver with hit/miss counters.
type countingResolver struct {
	tx storage.FileTx
}

func (c countingResolver) ResolveSongArtist(ctx context.Context, title, artist string, duration float64) (*model.SongRef, error) {
	ref, err := c.tx.ResolveSongArtist(ctx, title, artist, duration)
	if err != nil {
		return nil, err
	}
	outcome := "miss"
	if ref != nil {
		outcome = "hit"
	}
	metrics.IncCounter(metrics.ResolverTotal, 1, metrics.Labels{"outcome": outcome})
	return ref, nil
}

type fatalError struct{ err error }

func (f fatalError) Error() string { return f.err.Error() }
func (f fatalError) Unwrap() error { return f.err }

func isFatal(err error) bool {
	_, ok := err.(fatalError)
	return ok
}

func (d *Driver) logger() func(format string, v ...any) {
	if d.Logger == nil {
		return log.New(os.Stderr, "", log.LstdFlags).Printf
	}
	return d.Logger.Printf
}
