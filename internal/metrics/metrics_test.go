package metrics

import "testing"

type recordingBackend struct {
	counters   []string
	histograms []string
	flushes    int
}

func (b *recordingBackend) IncCounter(name string, delta float64, labels Labels) {
	b.counters = append(b.counters, name)
}

func (b *recordingBackend) ObserveHistogram(name string, value float64, labels Labels) {
	b.histograms = append(b.histograms, name)
}

func (b *recordingBackend) Flush() error {
	b.flushes++
	return nil
}

func TestSetBackendRoutesCalls(t *testing.T) {
	rec := &recordingBackend{}
	SetBackend(rec)
	defer SetBackend(nil)

	IncCounter(FilesTotal, 1, Labels{"kind": "song", "status": "ok"})
	ObserveHistogram(FileDurationSeconds, 0.5, Labels{"kind": "song"})
	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(rec.counters) != 1 || rec.counters[0] != FilesTotal {
		t.Errorf("counters = %v", rec.counters)
	}
	if len(rec.histograms) != 1 || rec.histograms[0] != FileDurationSeconds {
		t.Errorf("histograms = %v", rec.histograms)
	}
	if rec.flushes != 1 {
		t.Errorf("flushes = %d", rec.flushes)
	}
}

func TestNilBackendIsNop(t *testing.T) {
	SetBackend(nil)

	// Must not panic.
	IncCounter(RowsTotal, 10, Labels{"table": "songs"})
	ObserveHistogram(FileDurationSeconds, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush on nop backend: %v", err)
	}
}
