package json

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func collect(t *testing.T, input string) []map[string]any {
	t.Helper()
	var recs []map[string]any
	err := StreamRecords(context.Background(), strings.NewReader(input), func(line int, rec map[string]any) error {
		if line != len(recs)+1 {
			t.Errorf("line = %d, want %d", line, len(recs)+1)
		}
		recs = append(recs, rec)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("StreamRecords: %v", err)
	}
	return recs
}

func TestStreamRecords_NDJSON(t *testing.T) {
	t.Parallel()

	input := `{"page":"NextSong","userId":26}
{"page":"Home","userId":26}
{"page":"NextSong","userId":80}
`
	recs := collect(t, input)
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[2]["userId"] != json.Number("80") {
		t.Errorf("userId = %#v, want json.Number(\"80\")", recs[2]["userId"])
	}
}

func TestStreamRecords_RootArray(t *testing.T) {
	t.Parallel()

	input := `[{"song_id":"S1"}, null, {"song_id":"S2"}]`
	recs := collect(t, input)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2 (null element skipped)", len(recs))
	}
	if recs[0]["song_id"] != "S1" || recs[1]["song_id"] != "S2" {
		t.Errorf("records = %v", recs)
	}
}

func TestStreamRecords_SingleObject(t *testing.T) {
	t.Parallel()

	recs := collect(t, `{"song_id":"S1","duration":269.58159}`)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0]["duration"] != json.Number("269.58159") {
		t.Errorf("duration = %#v, want untouched json.Number", recs[0]["duration"])
	}
}

func TestStreamRecords_Empty(t *testing.T) {
	t.Parallel()

	if recs := collect(t, ""); len(recs) != 0 {
		t.Fatalf("got %d records from empty input", len(recs))
	}
}

func TestStreamRecords_Malformed(t *testing.T) {
	t.Parallel()

	var observed bool
	err := StreamRecords(context.Background(), strings.NewReader(`{"a":1}`+"\n"+`{"b":`), func(int, map[string]any) error {
		return nil
	}, func(line int, err error) {
		observed = true
	})
	if err == nil {
		t.Fatal("want error for truncated record")
	}
	if !observed {
		t.Error("onParseErr was not called")
	}
}

func TestStreamRecords_NonObjectArrayElement(t *testing.T) {
	t.Parallel()

	err := StreamRecords(context.Background(), strings.NewReader(`[1,2,3]`), func(int, map[string]any) error {
		return nil
	}, nil)
	if err == nil {
		t.Fatal("want error for non-object array elements")
	}
}

func TestStreamRecords_EmitErrorStops(t *testing.T) {
	t.Parallel()

	stop := errors.New("stop")
	calls := 0
	err := StreamRecords(context.Background(), strings.NewReader("{\"a\":1}\n{\"a\":2}"), func(int, map[string]any) error {
		calls++
		return stop
	}, nil)
	if !errors.Is(err, stop) {
		t.Fatalf("err = %v, want emit error", err)
	}
	if calls != 1 {
		t.Errorf("emit called %d times, want 1", calls)
	}
}
