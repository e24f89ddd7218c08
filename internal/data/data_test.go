package data

import (
	"bytes"
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

// rampEvent has reading t*1000+c at step t, channel c, and label 1 from onset.
func rampEvent(id, length, onset int) *Event {
	e := &Event{ID: id, Signals: make([]float64, length*Channels), Labels: make([]float64, length)}
	for t := 0; t < length; t++ {
		if t >= onset {
			e.Labels[t] = 1
		}
		for c := 0; c < Channels; c++ {
			e.Signals[t*Channels+c] = float64(t*1000 + c)
		}
	}
	return e
}

func TestWindowedIndexing(t *testing.T) {
	tests := []struct {
		name      string
		length    int
		window    int
		lookAhead int
		want      int
	}{
		{"exact fit", 4, 4, 0, 1},
		{"sliding", 10, 4, 0, 7},
		{"look ahead", 10, 4, 3, 4},
		{"too short", 3, 4, 0, 0},
		{"too short with look ahead", 5, 4, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWindowed([]*Event{rampEvent(0, tt.length, 0)}, tt.window, tt.lookAhead)
			if err != nil {
				t.Fatal(err)
			}
			if w.Len() != tt.want {
				t.Errorf("Len() = %d, want %d", w.Len(), tt.want)
			}
		})
	}
}

func TestWindowedSampleAndLabel(t *testing.T) {
	e := rampEvent(0, 10, 6)
	w, err := NewWindowed([]*Event{e}, 3, 2)
	if err != nil {
		t.Fatal(err)
	}

	x := make([]float64, w.SampleSize())
	for i := 0; i < w.Len(); i++ {
		label := w.Sample(i, x)
		// Window starts at t=i and covers steps i..i+2.
		if x[0] != float64(i*1000) || x[len(x)-1] != float64((i+2)*1000+63) {
			t.Fatalf("sample %d: got window [%v .. %v]", i, x[0], x[len(x)-1])
		}
		// Label is taken at t + window + lookAhead - 1 = i + 4.
		want := 0.0
		if i+4 >= 6 {
			want = 1
		}
		if label != want {
			t.Errorf("sample %d: label %v, want %v", i, label, want)
		}
	}
}

func TestWindowedNeverCrossesEvents(t *testing.T) {
	a := rampEvent(0, 5, 100)
	b := rampEvent(1, 5, 0)
	w, err := NewWindowed([]*Event{a, b}, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if w.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", w.Len())
	}
	// Event a is all negative, event b all positive.
	labels := []float64{w.Label(0), w.Label(1), w.Label(2), w.Label(3)}
	if diff := cmp.Diff([]float64{0, 0, 1, 1}, labels); diff != "" {
		t.Errorf("labels (-want +got):\n%s", diff)
	}
}

func TestWindowedInvalid(t *testing.T) {
	if _, err := NewWindowed(nil, 0, 0); err == nil {
		t.Error("expected error for zero window")
	}
	if _, err := NewWindowed(nil, 4, -1); err == nil {
		t.Error("expected error for negative look-ahead")
	}
	bad := rampEvent(0, 5, 0)
	bad.Labels[2] = 0.5
	if _, err := NewWindowed([]*Event{bad}, 2, 0); err == nil {
		t.Error("expected error for non-binary label")
	}
}

func TestWindowedBalance(t *testing.T) {
	w, err := NewWindowed([]*Event{rampEvent(0, 50, 40)}, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if w.Positives() != 10 || w.Len() != 50 {
		t.Fatalf("positives %d of %d, want 10 of 50", w.Positives(), w.Len())
	}

	w.Balance(rand.New(rand.NewSource(1)))
	if w.Len() != 20 || w.Positives() != 10 {
		t.Errorf("after Balance: positives %d of %d, want 10 of 20", w.Positives(), w.Len())
	}
}

func TestSplitEvents(t *testing.T) {
	events := make([]*Event, 20)
	for i := range events {
		events[i] = rampEvent(i, 5, 3)
	}

	s, err := SplitEvents(events, SplitConfig{ValidFraction: 0.1, TestFraction: 0.2, Shuffle: true, Seed: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Test) != 4 || len(s.Valid) != 2 || len(s.Train) != 14 {
		t.Fatalf("sizes test=%d valid=%d train=%d", len(s.Test), len(s.Valid), len(s.Train))
	}

	seen := make(map[int]int)
	for _, set := range [][]*Event{s.Train, s.Valid, s.Test} {
		for _, e := range set {
			seen[e.ID]++
		}
	}
	if len(seen) != 20 {
		t.Errorf("split covers %d distinct events, want 20", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("event %d appears %d times", id, n)
		}
	}

	again, _ := SplitEvents(events, SplitConfig{ValidFraction: 0.1, TestFraction: 0.2, Shuffle: true, Seed: 3})
	if again.Test[0].ID != s.Test[0].ID {
		t.Error("same seed produced a different split")
	}
}

func TestSplitEventsErrors(t *testing.T) {
	events := []*Event{rampEvent(0, 5, 3), rampEvent(1, 5, 3)}
	if _, err := SplitEvents(events, SplitConfig{ValidFraction: 0.5, TestFraction: 0.5}); err == nil {
		t.Error("expected error for fractions summing to 1")
	}
	if _, err := SplitEvents(events, SplitConfig{ValidFraction: 0.1, TestFraction: 0.1}); err == nil {
		t.Error("expected error when no training events remain")
	}
}

func TestFold(t *testing.T) {
	events := make([]*Event, 12)
	for i := range events {
		events[i] = rampEvent(i, 5, 3)
	}
	s, err := SplitEvents(events, SplitConfig{TestFraction: 2.0 / 12})
	if err != nil {
		t.Fatal(err)
	}

	validCount := make(map[int]int)
	for i := 0; i < 5; i++ {
		f, err := s.Fold(5, i)
		if err != nil {
			t.Fatal(err)
		}
		if len(f.Train)+len(f.Valid) != 10 {
			t.Fatalf("fold %d: %d train + %d valid", i, len(f.Train), len(f.Valid))
		}
		if len(f.Test) != 2 {
			t.Fatalf("fold %d lost the test set", i)
		}
		for _, e := range f.Valid {
			validCount[e.ID]++
		}
	}
	if len(validCount) != 10 {
		t.Errorf("folds validate %d distinct events, want 10", len(validCount))
	}

	if _, err := s.Fold(5, 5); !errors.Is(err, ErrFoldRange) {
		t.Errorf("Fold(5, 5) error = %v, want ErrFoldRange", err)
	}
	if _, err := s.Fold(1, 0); err == nil {
		t.Error("expected error for a single fold")
	}
}

func TestCSVRoundTrip(t *testing.T) {
	events, err := Synthetic(SynthConfig{Events: 3, Length: 8, Noise: 0.1, Growth: 0.05, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, events); err != nil {
		t.Fatal(err)
	}
	got, err := ReadCSV(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(events, got); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func csvRow(id, label string) string {
	vals := make([]string, Channels)
	for i := range vals {
		vals[i] = "0.5"
	}
	return id + "," + label + "," + strings.Join(vals, ",") + "\n"
}

func TestReadCSVErrors(t *testing.T) {
	header := "event_id,label" + strings.Repeat(",ch", Channels) + "\n"
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "empty"},
		{"header only", header, "no data rows"},
		{"bad label", header + csvRow("1", "2"), "row 2"},
		{"bad id", header + csvRow("x", "0"), "bad event id"},
		{"short row", header + "1,0,0.1\n", "row 2"},
		{"split event", header + csvRow("1", "0") + csvRow("2", "0") + csvRow("1", "1"), "not contiguous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestSyntheticDeterministic(t *testing.T) {
	cfg := DefaultSynthConfig()
	a, err := Synthetic(cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Synthetic(cfg)
	if !cmp.Equal(a, b) {
		t.Error("same seed produced different events")
	}

	for _, e := range a {
		if e.Labels[0] != 0 || e.Labels[e.Len()-1] != 1 {
			t.Fatalf("event %d: expected negative start and positive end", e.ID)
		}
	}
}

func collect(t *testing.T, l *Loader) []Batch {
	t.Helper()
	var out []Batch
	err := l.Each(context.Background(), func(i int, b Batch) error {
		if i != len(out) {
			t.Fatalf("batch %d delivered at position %d", i, len(out))
		}
		out = append(out, b)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestLoaderBatching(t *testing.T) {
	w, _ := NewWindowed([]*Event{rampEvent(0, 12, 6)}, 2, 0) // 11 samples

	keep, _ := NewLoader(w, LoaderConfig{BatchSize: 4})
	if keep.NumBatches() != 3 {
		t.Errorf("NumBatches() = %d, want 3", keep.NumBatches())
	}
	batches := collect(t, keep)
	if len(batches) != 3 || batches[2].Size() != 3 {
		t.Fatalf("got %d batches, last of size %d", len(batches), batches[len(batches)-1].Size())
	}
	if batches[0].X[1][0] != 1000 {
		t.Errorf("unshuffled second sample starts at %v, want 1000", batches[0].X[1][0])
	}

	drop, _ := NewLoader(w, LoaderConfig{BatchSize: 4, DropLast: true})
	if got := len(collect(t, drop)); got != 2 {
		t.Errorf("drop_last gave %d batches, want 2", got)
	}
}

func TestLoaderWorkersMatchInline(t *testing.T) {
	w, _ := NewWindowed([]*Event{rampEvent(0, 40, 20), rampEvent(1, 30, 10)}, 3, 1)

	inline, _ := NewLoader(w, LoaderConfig{BatchSize: 5, Shuffle: true, Seed: 9})
	parallel, _ := NewLoader(w, LoaderConfig{BatchSize: 5, Shuffle: true, Seed: 9, Workers: 3})

	for epoch := 0; epoch < 2; epoch++ {
		a := collect(t, inline)
		b := collect(t, parallel)
		if diff := cmp.Diff(a, b); diff != "" {
			t.Fatalf("epoch %d: workers changed batches (-inline +workers):\n%s", epoch, diff)
		}
	}
}

func TestLoaderStopsOnError(t *testing.T) {
	w, _ := NewWindowed([]*Event{rampEvent(0, 100, 50)}, 2, 0)
	l, _ := NewLoader(w, LoaderConfig{BatchSize: 2, Workers: 2})

	stop := errors.New("stop")
	calls := 0
	err := l.Each(context.Background(), func(i int, b Batch) error {
		calls++
		if i == 3 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Errorf("Each error = %v, want stop", err)
	}
	if calls != 4 {
		t.Errorf("fn called %d times, want 4", calls)
	}
}

func TestLoaderContextCancel(t *testing.T) {
	w, _ := NewWindowed([]*Event{rampEvent(0, 20, 10)}, 2, 0)
	l, _ := NewLoader(w, LoaderConfig{BatchSize: 2, Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Each(ctx, func(i int, b Batch) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Each error = %v, want context.Canceled", err)
	}
}

func TestNewLoaderErrors(t *testing.T) {
	w, _ := NewWindowed(nil, 2, 0)
	if _, err := NewLoader(w, LoaderConfig{BatchSize: 0}); err == nil {
		t.Error("expected error for zero batch size")
	}
	if _, err := NewLoader(w, LoaderConfig{BatchSize: 1, Workers: -1}); err == nil {
		t.Error("expected error for negative workers")
	}
}
