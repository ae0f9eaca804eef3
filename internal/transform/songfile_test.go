package transform

import (
	"encoding/json"
	"errors"
	"testing"

	"playmart/internal/model"
)

func TestSongRows(t *testing.T) {
	t.Parallel()

	recs := []RawRecord{
		{Line: 1, Fields: map[string]any{
			"song_id":          "SOZCTXZ12AB0182364",
			"title":            "Setanta matins",
			"artist_id":        "AR5KOSW1187FB35FF4",
			"artist_name":      "Elena",
			"artist_location":  "Dubai UAE",
			"artist_latitude":  json.Number("49.80388"),
			"artist_longitude": json.Number("15.47491"),
			"year":             json.Number("0"),
			"duration":         json.Number("269.58159"),
		}},
	}

	songs, artists, err := SongRows(recs)
	if err != nil {
		t.Fatalf("SongRows: %v", err)
	}
	if len(songs) != 1 || len(artists) != 1 {
		t.Fatalf("got %d songs, %d artists, want 1 each", len(songs), len(artists))
	}

	s := songs[0]
	if s.SongID != "SOZCTXZ12AB0182364" || s.ArtistID != "AR5KOSW1187FB35FF4" {
		t.Errorf("song keys wrong: %+v", s)
	}
	if s.Duration != 269.58159 {
		t.Errorf("duration = %v, want 269.58159", s.Duration)
	}

	a := artists[0]
	if a.Latitude == nil || *a.Latitude != 49.80388 {
		t.Errorf("latitude = %v, want 49.80388", a.Latitude)
	}
}

func TestSongRows_MissingKeyFailsFile(t *testing.T) {
	t.Parallel()

	recs := []RawRecord{
		{Line: 1, Fields: map[string]any{"song_id": "S1", "artist_id": "A1"}},
		{Line: 2, Fields: map[string]any{"song_id": "", "artist_id": "A2"}},
	}

	_, _, err := SongRows(recs)
	if !errors.Is(err, model.ErrMalformedRecord) {
		t.Fatalf("err = %v, want ErrMalformedRecord", err)
	}
}

func TestSongRows_NullCoordinatesStayNil(t *testing.T) {
	t.Parallel()

	recs := []RawRecord{
		{Line: 1, Fields: map[string]any{
			"song_id":          "S1",
			"artist_id":        "A1",
			"artist_latitude":  nil,
			"artist_longitude": nil,
		}},
	}

	_, artists, err := SongRows(recs)
	if err != nil {
		t.Fatalf("SongRows: %v", err)
	}
	if artists[0].Latitude != nil || artists[0].Longitude != nil {
		t.Errorf("coordinates should stay nil: %+v", artists[0])
	}
}
