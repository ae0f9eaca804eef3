// Package model defines the typed row structs the pipeline loads into the
// star schema, plus the coercion helpers that turn loosely-typed JSON records
// (map[string]any with json.Number values) into those structs.
//
// Coercion happens exactly once, at decode time. Everything downstream of
// this package works with explicit types; a record that cannot be coerced is
// rejected here with ErrMalformedRecord so callers can apply the row/file
// skip policy.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedRecord marks coercion failures: a required field is missing or
// cannot be converted to its declared type. Callers classify skip-vs-abort
// decisions with errors.Is.
var ErrMalformedRecord = errors.New("malformed record")

// Song is one row of the songs dimension, keyed by SongID.
type Song struct {
	SongID   string
	Title    string
	ArtistID string
	Year     int
	Duration float64
}

// Artist is one row of the artists dimension, keyed by ArtistID.
// Latitude/Longitude are nullable; nil means the source had no coordinates.
type Artist struct {
	ArtistID  string
	Name      string
	Location  string
	Latitude  *float64
	Longitude *float64
}

// User is one row of the users dimension, keyed by UserID.
// Level is "free" or "paid" and reflects the user's most recent event.
type User struct {
	UserID    int64
	FirstName string
	LastName  string
	Gender    string
	Level     string
}

// TimeRow is one row of the time dimension, keyed by the raw epoch-ms
// timestamp. All other fields are derived from StartTime interpreted as UTC.
type TimeRow struct {
	StartTime int64
	Hour      int
	Day       int
	Week      int
	Month     int
	Year      int
	Weekday   int
}

// SongRef is the (song_id, artist_id) pair returned by a resolver lookup.
type SongRef struct {
	SongID   string
	ArtistID string
}

// Songplay is one row of the songplays fact table. SongID/ArtistID are nil
// when no exact (title, artist, duration) match exists in the store. The
// surrogate songplay_id is assigned by the store at insert time.
type Songplay struct {
	StartTime int64
	UserID    int64
	Level     string
	SongID    *string
	ArtistID  *string
	SessionID int64
	Location  string
	UserAgent string
}

// LogEvent is one decoded session-log record. Song/Artist are empty and
// Length is nil for non-playback events (and occasionally for playback
// events with incomplete metadata).
type LogEvent struct {
	Page      string
	TS        int64
	UserID    int64
	FirstName string
	LastName  string
	Gender    string
	Level     string
	Song      string
	Artist    string
	Length    *float64
	SessionID int64
	Location  string
	UserAgent string
}

// SongFromRecord coerces a decoded song-metadata record into its Song and
// Artist tuples.
//
// Edge cases:
//   - song_id and artist_id are required; missing either is ErrMalformedRecord.
//   - artist_latitude/artist_longitude are nullable and stay nil when absent.
//   - year/duration default to zero values when absent (real input noise).
func SongFromRecord(rec map[string]any) (Song, Artist, error) {
	songID := stringField(rec, "song_id")
	artistID := stringField(rec, "artist_id")
	if songID == "" {
		return Song{}, Artist{}, fmt.Errorf("song: missing song_id: %w", ErrMalformedRecord)
	}
	if artistID == "" {
		return Song{}, Artist{}, fmt.Errorf("song: missing artist_id: %w", ErrMalformedRecord)
	}

	year, _ := intField(rec, "year")
	duration, _ := floatField(rec, "duration")

	s := Song{
		SongID:   songID,
		Title:    stringField(rec, "title"),
		ArtistID: artistID,
		Year:     int(year),
		Duration: valueOrZero(duration),
	}
	a := Artist{
		ArtistID:  artistID,
		Name:      stringField(rec, "artist_name"),
		Location:  stringField(rec, "artist_location"),
		Latitude:  mustFloatPtr(rec, "artist_latitude"),
		Longitude: mustFloatPtr(rec, "artist_longitude"),
	}
	return s, a, nil
}

// LogEventFromRecord coerces a decoded session-log record.
//
// ts and userId are required: files mix numeric and string forms of userId
// ("26" vs 26), and both must collapse to the same integer identity. A record
// where either cannot be coerced gets ErrMalformedRecord so the caller can
// skip the row with a warning.
func LogEventFromRecord(rec map[string]any) (LogEvent, error) {
	ts, err := intField(rec, "ts")
	if err != nil {
		return LogEvent{}, fmt.Errorf("log: ts: %v: %w", err, ErrMalformedRecord)
	}
	userID, err := intField(rec, "userId")
	if err != nil {
		return LogEvent{}, fmt.Errorf("log: userId: %v: %w", err, ErrMalformedRecord)
	}

	sessionID, _ := intField(rec, "sessionId")

	return LogEvent{
		Page:      stringField(rec, "page"),
		TS:        ts,
		UserID:    userID,
		FirstName: stringField(rec, "firstName"),
		LastName:  stringField(rec, "lastName"),
		Gender:    stringField(rec, "gender"),
		Level:     stringField(rec, "level"),
		Song:      stringField(rec, "song"),
		Artist:    stringField(rec, "artist"),
		Length:    mustFloatPtr(rec, "length"),
		SessionID: sessionID,
		Location:  stringField(rec, "location"),
		UserAgent: stringField(rec, "userAgent"),
	}, nil
}

// Page returns the page field of a raw record without full coercion, so the
// NextSong filter can run before the stricter required-field checks.
func Page(rec map[string]any) string {
	return stringField(rec, "page")
}

/* ---------- field coercion ---------- */

func stringField(rec map[string]any, key string) string {
	v, ok := rec[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// intField coerces a numeric-ish field to int64. Accepts json.Number, Go
// numeric types, and numeric strings ("26", "26.0"). Empty/missing is an
// error; the caller decides whether the field was required.
func intField(rec map[string]any, key string) (int64, error) {
	v, ok := rec[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing field %q", key)
	}
	switch t := v.(type) {
	case json.Number:
		return numberToInt(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, fmt.Errorf("empty field %q", key)
		}
		return numberToInt(json.Number(s))
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	default:
		return 0, fmt.Errorf("field %q: cannot coerce %T to int", key, v)
	}
}

func floatField(rec map[string]any, key string) (*float64, error) {
	v, ok := rec[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("field %q: %v", key, err)
		}
		return &f, nil
	case float64:
		f := t
		return &f, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("field %q: %v", key, err)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("field %q: cannot coerce %T to float", key, v)
	}
}

// mustFloatPtr is floatField with coercion failures treated as null. Used for
// optional float columns where noise should not fail the record.
func mustFloatPtr(rec map[string]any, key string) *float64 {
	f, err := floatField(rec, key)
	if err != nil {
		return nil
	}
	return f
}

func valueOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func numberToInt(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	// "26.0" style input: fall back through float.
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
