package report

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/himanishpuri/abrpeaks/internal/waveform"
)

const testFS = 50000.0

func newSeries(levels ...float64) *waveform.Series {
	ws := make([]*waveform.Waveform, 0, len(levels))
	for _, level := range levels {
		y := make([]float64, 500)
		for i := range y {
			y[i] = level / 80 * math.Sin(2*math.Pi*float64(i)/100)
		}
		ws = append(ws, waveform.NewWaveform(waveform.NewSignal(testFS, y, level)))
	}
	s := waveform.NewSeries(ws, 8000)
	s.FilterHistory = "Butterworth band-pass 300-3000 Hz, order 1, zero phase"
	return s
}

// markedSeries has a threshold at 60 dB, an unscorable N1 at 60 dB and no P2
// at 40 dB.
func markedSeries() *waveform.Series {
	s := newSeries(40, 60, 80)
	s.Threshold = 60
	for _, w := range s.Waveforms() {
		w.SetPoint(waveform.P(1), 75)
		w.SetPoint(waveform.N(1), 90)
		if w.Level > 40 {
			w.SetPoint(waveform.P(2), 125)
		}
	}
	w, _ := s.Get(60)
	p, _ := w.Point(waveform.N(1))
	p.Unscorable = true
	return s
}

func render(t *testing.T, a *Analysis) string {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, a); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return buf.String()
}

func TestWriteLayout(t *testing.T) {
	out := render(t, FromSeries(markedSeries()))
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 8 {
		t.Fatalf("expected 8 lines, got %d:\n%s", len(lines), out)
	}

	if lines[0] != "Threshold (dB SPL): 60" {
		t.Errorf("threshold line %q", lines[0])
	}
	if lines[1] != "Frequency (kHz): 8" {
		t.Errorf("frequency line %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "Filter history: Butterworth") {
		t.Errorf("filter line %q", lines[2])
	}
	wantHeader := "Level\t1msec Avg\t1msec StDev\tP1 Latency\tP1 Amplitude\tN1 Latency\tN1 Amplitude\tP2 Latency\tP2 Amplitude"
	if lines[4] != wantHeader {
		t.Errorf("header\n got %q\nwant %q", lines[4], wantHeader)
	}

	for i, level := range []string{"80.00", "60.00", "40.00"} {
		fields := strings.Split(lines[5+i], "\t")
		if fields[0] != level {
			t.Errorf("row %d is level %s, expected %s", i, fields[0], level)
		}
		if len(fields) != 9 {
			t.Errorf("row %d has %d fields", i, len(fields))
		}
	}

	row60 := strings.Split(lines[6], "\t")
	if row60[3] != "1.50000000" || row60[5] != "NaN" || row60[6] != "NaN" {
		t.Errorf("unexpected 60 dB row %q", lines[6])
	}
	row40 := strings.Split(lines[7], "\t")
	if row40[3] != "-1.50000000" {
		t.Errorf("subthreshold latency %q, expected -1.50000000", row40[3])
	}
	if row40[7] != "NaN" {
		t.Errorf("missing P2 written as %q", row40[7])
	}
}

func TestFrequencyRoundTrip(t *testing.T) {
	for _, freq := range []float64{8000, 5656.85, 11313.708, 22627.417} {
		a := &Analysis{Threshold: 40, Frequency: freq}
		got, err := Read(strings.NewReader(render(t, a)))
		if err != nil {
			t.Fatalf("%g Hz: Read failed: %v", freq, err)
		}
		if math.Abs(got.Frequency-freq) > 1e-9*freq {
			t.Errorf("frequency %g Hz read back as %g Hz", freq, got.Frequency)
		}
	}
}

func TestReloadIsIdempotent(t *testing.T) {
	first := render(t, FromSeries(markedSeries()))

	a, err := Read(strings.NewReader(first))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	fresh := newSeries(40, 60, 80)
	if err := Apply(fresh, a); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	second := render(t, FromSeries(fresh))

	if first != second {
		t.Errorf("reload changed the report\nfirst:\n%s\nsecond:\n%s", first, second)
	}

	w, _ := fresh.Get(80)
	p, err := w.Point(waveform.P(2))
	if err != nil {
		t.Fatal(err)
	}
	if p.Index != 125 {
		t.Errorf("P2 reloaded at %d, expected 125", p.Index)
	}
}

func TestReadThreshold(t *testing.T) {
	tests := []struct {
		value string
		check func(float64) bool
	}{
		{"None", math.IsNaN},
		{"inf", func(v float64) bool { return math.IsInf(v, 1) }},
		{"-inf", func(v float64) bool { return math.IsInf(v, -1) }},
		{"62.5", func(v float64) bool { return v == 62.5 }},
	}

	for _, tt := range tests {
		text := "Threshold (dB SPL): " + tt.value + "\nFrequency (kHz): 4.00\nLevel\t1msec Avg\t1msec StDev\n80.00\t0.1\t0.2\n"
		a, err := Read(strings.NewReader(text))
		if err != nil {
			t.Errorf("%s: %v", tt.value, err)
			continue
		}
		if !tt.check(a.Threshold) {
			t.Errorf("%s parsed as %v", tt.value, a.Threshold)
		}
		if a.Frequency != 4000 || len(a.Rows) != 1 || len(a.Keys) != 0 {
			t.Errorf("%s: unexpected analysis %+v", tt.value, a)
		}
	}
}

func TestReadMalformed(t *testing.T) {
	tests := map[string]string{
		"no threshold": "Frequency (kHz): 4.00\nLevel\t1msec Avg\t1msec StDev\n",
		"no frequency": "Threshold (dB SPL): 40\nLevel\t1msec Avg\t1msec StDev\n",
		"no table":     "Threshold (dB SPL): 40\nFrequency (kHz): 4.00\n",
		"odd columns":  "Threshold (dB SPL): 40\nFrequency (kHz): 4.00\nLevel\t1msec Avg\t1msec StDev\tP1 Latency\n",
		"bad key":      "Threshold (dB SPL): 40\nFrequency (kHz): 4.00\nLevel\t1msec Avg\t1msec StDev\tX1 Latency\tX1 Amplitude\n",
		"short row":    "Threshold (dB SPL): 40\nFrequency (kHz): 4.00\nLevel\t1msec Avg\t1msec StDev\n80.00\t0.1\n",
		"bad number":   "Threshold (dB SPL): 40\nFrequency (kHz): 4.00\nLevel\t1msec Avg\t1msec StDev\n80.00\tabc\t0.2\n",
	}

	for name, text := range tests {
		if _, err := Read(strings.NewReader(text)); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestApplyUnknownLevel(t *testing.T) {
	a := FromSeries(markedSeries())
	s := newSeries(40, 80)
	w, _ := s.Get(80)
	w.SetPoint(waveform.P(1), 10)

	if err := Apply(s, a); !errors.Is(err, waveform.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if p, err := w.Point(waveform.P(1)); err != nil || p.Index != 10 {
		t.Error("a failed Apply must leave the series untouched")
	}
	if s.ThresholdSet() {
		t.Error("threshold was set by a failed Apply")
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		stem      string
		frequency float64
		analyzer  string
		want      string
	}{
		{"ABR average waveforms", 8000, "jd", "ABR average waveforms-8kHz-jd-analyzed.txt"},
		{"ABR average waveforms", 5600, "", "ABR average waveforms-5.6kHz-analyzed.txt"},
		{"mouse1", 32000, "a", "mouse1-32kHz-a-analyzed.txt"},
	}

	for _, tt := range tests {
		if got := FileName(tt.stem, tt.frequency, tt.analyzer); got != tt.want {
			t.Errorf("FileName(%q, %v, %q) = %q, expected %q", tt.stem, tt.frequency, tt.analyzer, got, tt.want)
		}
	}
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")

	if dst, err := Archive(path); err != nil || dst != "" {
		t.Fatalf("Archive of a missing file = %q, %v", dst, err)
	}

	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	dst, err := Archive(path)
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if want := filepath.Join(dir, "2024-03-01-12-30-00-report.txt"); dst != want {
		t.Errorf("archived to %q, expected %q", dst, want)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original file still present")
	}
}

func TestFileSaver(t *testing.T) {
	dir := t.TempDir()
	s := markedSeries()
	s.Filename = filepath.Join(dir, "ABR average waveforms.csv")

	saver := NewFileSaver("", "jd")
	for i := 0; i < 2; i++ {
		if err := saver.Save(s); err != nil {
			t.Fatalf("Save %d failed: %v", i, err)
		}
	}
	if err := NewFileSaver("", "").Save(s); err != nil {
		t.Fatal(err)
	}

	found, err := FindAnalyzed(s.Filename, s.Frequency, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Errorf("expected 2 current reports, found %v", found)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Errorf("expected the overwritten report to be archived, dir has %d entries", len(entries))
	}

	a, err := ReadFile(saver.Path(s))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if a.Threshold != 60 || len(a.Rows) != 3 {
		t.Errorf("unexpected saved analysis: threshold %v, %d rows", a.Threshold, len(a.Rows))
	}
}
