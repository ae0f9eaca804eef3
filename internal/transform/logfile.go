// Package transform contains the reshaping logic between decoded JSON
// records and the star-schema rows the loader writes.
//
// The log-file path is the core: filter playback events, derive the time
// dimension, collapse users to latest state, and resolve songplay foreign
// keys against the already-loaded song/artist dimensions.
package transform

import (
	"context"
	"sort"
	"time"

	"playmart/internal/model"
)

// RawRecord pairs a decoded record with its 1-based position in the file,
// so row-level warnings can name the offending record.
type RawRecord struct {
	Line   int
	Fields map[string]any
}

// Resolver looks up the (song_id, artist_id) pair for an exact
// (title, artist name, duration) triple. A nil result with nil error means
// no match; the songplay keeps null foreign keys.
type Resolver interface {
	ResolveSongArtist(ctx context.Context, title, artist string, duration float64) (*model.SongRef, error)
}

// PlayEvents filters raw log records down to NextSong events and coerces
// them into typed LogEvents.
//
// Policy:
//   - Non-playback pages (Home, Login, Logout, ...) are discarded silently;
//     they are navigation noise, not errors.
//   - A NextSong record with an unparseable ts or a null/empty userId is a
//     per-row skip: onSkip observes it and processing continues. Sibling
//     rows are unaffected.
//
// The returned slice preserves input order; songplay id assignment depends
// on that.
func PlayEvents(recs []RawRecord, onSkip func(line int, err error)) []model.LogEvent {
	out := make([]model.LogEvent, 0, len(recs))
	for _, r := range recs {
		if model.Page(r.Fields) != "NextSong" {
			continue
		}
		ev, err := model.LogEventFromRecord(r.Fields)
		if err != nil {
			if onSkip != nil {
				onSkip(r.Line, err)
			}
			continue
		}
		out = append(out, ev)
	}
	return out
}

// DeriveTime expands an epoch-millisecond timestamp, interpreted as UTC,
// into the time dimension's calendar fields. Week is the ISO week number
// and Weekday uses ISO numbering (Monday=1 .. Sunday=7).
func DeriveTime(ts int64) model.TimeRow {
	t := time.UnixMilli(ts).UTC()
	_, week := t.ISOWeek()
	return model.TimeRow{
		StartTime: ts,
		Hour:      t.Hour(),
		Day:       t.Day(),
		Week:      week,
		Month:     int(t.Month()),
		Year:      t.Year(),
		Weekday:   isoWeekday(t),
	}
}

// TimeRows derives one TimeRow per distinct ts among the events. Two events
// sharing a timestamp contribute exactly one row. Emission order follows
// first occurrence, which keeps output deterministic for a given file.
func TimeRows(events []model.LogEvent) []model.TimeRow {
	seen := make(map[int64]struct{}, len(events))
	out := make([]model.TimeRow, 0, len(events))
	for _, ev := range events {
		if _, ok := seen[ev.TS]; ok {
			continue
		}
		seen[ev.TS] = struct{}{}
		out = append(out, DeriveTime(ev.TS))
	}
	return out
}

// LatestUsers collapses the file's events to one User row per userId,
// carrying the level (and demographics) of that user's most recent event.
//
// The events are sorted by (userId, ts) ascending and the last occurrence
// per userId wins; paired with the loader's update-on-conflict policy this
// guarantees the stored level is the latest observed state even across
// files. Output is in ascending userId order.
func LatestUsers(events []model.LogEvent) []model.User {
	if len(events) == 0 {
		return nil
	}

	ordered := make([]model.LogEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].UserID != ordered[j].UserID {
			return ordered[i].UserID < ordered[j].UserID
		}
		return ordered[i].TS < ordered[j].TS
	})

	out := make([]model.User, 0, len(ordered))
	for _, ev := range ordered {
		u := model.User{
			UserID:    ev.UserID,
			FirstName: ev.FirstName,
			LastName:  ev.LastName,
			Gender:    ev.Gender,
			Level:     ev.Level,
		}
		if n := len(out); n > 0 && out[n-1].UserID == u.UserID {
			out[n-1] = u // later ts for the same user overwrites
			continue
		}
		out = append(out, u)
	}
	return out
}

// Songplays builds one fact row per event, in event order, resolving
// (song_id, artist_id) through res.
//
// Resolution policy:
//   - The lookup is an exact conjunction on title, artist name, and
//     duration. Events missing any of the three resolve to null/null
//     without a store round-trip.
//   - A resolver execution error aborts the whole file: the caller must not
//     commit a partial fact load.
func Songplays(ctx context.Context, events []model.LogEvent, res Resolver) ([]model.Songplay, error) {
	out := make([]model.Songplay, 0, len(events))
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := model.Songplay{
			StartTime: ev.TS,
			UserID:    ev.UserID,
			Level:     ev.Level,
			SessionID: ev.SessionID,
			Location:  ev.Location,
			UserAgent: ev.UserAgent,
		}

		if ev.Song != "" && ev.Artist != "" && ev.Length != nil {
			ref, err := res.ResolveSongArtist(ctx, ev.Song, ev.Artist, *ev.Length)
			if err != nil {
				return nil, err
			}
			if ref != nil {
				p.SongID = &ref.SongID
				p.ArtistID = &ref.ArtistID
			}
		}

		out = append(out, p)
	}
	return out, nil
}

// isoWeekday maps Go's Sunday-based weekday to ISO numbering.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
