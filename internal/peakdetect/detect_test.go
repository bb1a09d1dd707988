package peakdetect

import (
	"math"
	"testing"

	"github.com/himanishpuri/abrpeaks/internal/waveform"
)

const testFS = 50000.0

// bump is a Gaussian of the given amplitude centred at t msec with width
// sd msec.
type bump struct {
	t, amp, sd float64
}

func synth(n int, bumps ...bump) []float64 {
	y := make([]float64, n)
	for i := range y {
		t := float64(i) * 1000 / testFS
		for _, b := range bumps {
			z := (t - b.t) / b.sd
			y[i] += b.amp * math.Exp(-z*z/2)
		}
	}
	return y
}

func synthSignal(level float64, bumps ...bump) *waveform.Signal {
	return waveform.NewSignal(testFS, synth(500, bumps...), level)
}

func TestFindPeaksSingleGaussian(t *testing.T) {
	sig := synthSignal(80, bump{2.0, 1, 0.1})

	opts := DefaultDetectOptions()
	opts.Prominence = 50
	peaks := FindPeaks(sig, opts)

	if len(peaks) != 1 {
		t.Fatalf("expected exactly one candidate, got %d: %+v", len(peaks), peaks)
	}
	if math.Abs(peaks[0].X-2.0) > 0.02 {
		t.Errorf("candidate at %.4f msec, expected 2.0", peaks[0].X)
	}
	if peaks[0].Prominence <= 0.5 {
		t.Errorf("unexpectedly low prominence %v", peaks[0].Prominence)
	}
	t.Logf("candidate: %+v", peaks[0])
}

func TestFindPeaksDeterministic(t *testing.T) {
	y := make([]float64, 500)
	for i := range y {
		x := float64(i) / testFS
		y[i] = math.Sin(2*math.Pi*900*x) + 0.4*math.Sin(2*math.Pi*2300*x+0.3) + 0.2*math.Cos(2*math.Pi*4100*x)
	}
	sig := waveform.NewSignal(testFS, y, 60)

	first := FindPeaks(sig, DefaultDetectOptions())
	second := FindPeaks(sig, DefaultDetectOptions())

	if len(first) == 0 {
		t.Fatal("expected candidates from a multi-tone signal")
	}
	if len(first) != len(second) {
		t.Fatalf("repeated calls returned %d and %d candidates", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("candidate %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestFindPeaksMinimumSpacing(t *testing.T) {
	y := make([]float64, 500)
	for i := range y {
		x := float64(i) / testFS
		y[i] = math.Sin(2*math.Pi*3000*x) + 0.5*math.Sin(2*math.Pi*7000*x)
	}
	sig := waveform.NewSignal(testFS, y, 60)

	tests := []struct {
		name     string
		distance float64
	}{
		{"default", 0.5e-3},
		{"narrow", 0.2e-3},
		{"wide", 1e-3},
	}

	for _, tt := range tests {
		opts := DefaultDetectOptions()
		opts.Distance = tt.distance
		peaks := FindPeaks(sig, opts)
		for i := 1; i < len(peaks); i++ {
			if peaks[i].Index <= peaks[i-1].Index {
				t.Errorf("%s: candidates not sorted at %d", tt.name, i)
			}
			if gap := (peaks[i].X - peaks[i-1].X) / 1000; gap < tt.distance-1e-12 {
				t.Errorf("%s: candidates %d and %d only %.6f s apart", tt.name, i-1, i, gap)
			}
		}
		t.Logf("%s: %d candidates", tt.name, len(peaks))
	}
}

func TestFindPeaksMergeKeepsMostProminent(t *testing.T) {
	sig := synthSignal(80, bump{2.0, 1, 0.05}, bump{2.2, 0.6, 0.05})

	wide := DefaultDetectOptions()
	peaks := FindPeaks(sig, wide)
	if len(peaks) != 1 || peaks[0].Index != 100 {
		t.Fatalf("expected only the larger bump at index 100, got %+v", peaks)
	}

	narrow := DefaultDetectOptions()
	narrow.Distance = 0.1e-3
	peaks = FindPeaks(sig, narrow)
	if len(peaks) != 2 {
		t.Fatalf("expected both bumps with a narrow spacing, got %+v", peaks)
	}
	if peaks[0].Index != 100 || peaks[1].Index != 110 {
		t.Errorf("unexpected indices %d, %d", peaks[0].Index, peaks[1].Index)
	}
}

func TestFindPeaksInvert(t *testing.T) {
	sig := synthSignal(80, bump{3.0, -1, 0.1})

	opts := DefaultDetectOptions()
	opts.Invert = true
	valleys := FindPeaks(sig, opts)

	if len(valleys) != 1 {
		t.Fatalf("expected one valley, got %+v", valleys)
	}
	if valleys[0].Index != 150 {
		t.Errorf("valley at index %d, expected 150", valleys[0].Index)
	}
	if valleys[0].Y >= 0 {
		t.Errorf("valley amplitude should come from the original signal, got %v", valleys[0].Y)
	}
}

func TestFindPeaksDegenerate(t *testing.T) {
	tests := []struct {
		name string
		sig  *waveform.Signal
	}{
		{"flat", waveform.NewSignal(testFS, make([]float64, 500), 40)},
		{"constant", waveform.NewSignal(testFS, synth(500, bump{2, 0, 1}), 40)},
		{"short", waveform.NewSignal(testFS, []float64{1, 2}, 40)},
		{"empty", waveform.NewSignal(testFS, nil, 40)},
	}

	for _, tt := range tests {
		if got := FindPeaks(tt.sig, DefaultDetectOptions()); len(got) != 0 {
			t.Errorf("%s: expected no candidates, got %+v", tt.name, got)
		}
	}
}

func TestLocalMaxima(t *testing.T) {
	tests := []struct {
		name string
		y    []float64
		want []int
	}{
		{"single", []float64{0, 1, 0}, []int{1}},
		{"plateau", []float64{0, 1, 2, 2, 2, 1, 0}, []int{3}},
		{"even plateau", []float64{0, 1, 1, 0}, []int{1}},
		{"edges ignored", []float64{5, 1, 2, 1, 5}, []int{2}},
		{"rising plateau", []float64{0, 1, 1, 2, 0}, []int{3}},
		{"monotone", []float64{1, 2, 3, 4}, nil},
	}

	for _, tt := range tests {
		got := localMaxima(tt.y)
		if len(got) != len(tt.want) {
			t.Errorf("%s: localMaxima = %v, expected %v", tt.name, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: localMaxima = %v, expected %v", tt.name, got, tt.want)
				break
			}
		}
	}
}

func TestProminence(t *testing.T) {
	y := []float64{0, 3, 1, 2, 0}

	if p := prominence(y, 1, 0); p != 3 {
		t.Errorf("prominence at 1 = %v, expected 3", p)
	}
	if p := prominence(y, 3, 0); p != 1 {
		t.Errorf("prominence at 3 = %v, expected 1", p)
	}
	// A 3 sample window stops the walk at the neighbours.
	if p := prominence(y, 1, 3); p != 2 {
		t.Errorf("windowed prominence at 1 = %v, expected 2", p)
	}
}

func TestPercentile(t *testing.T) {
	y := []float64{5, 1, 3, 2, 4}
	if p := percentile(y, 100); p != 5 {
		t.Errorf("percentile 100 = %v", p)
	}
	if p := percentile(y, 0); p != 1 {
		t.Errorf("percentile 0 = %v", p)
	}
	if !math.IsNaN(percentile(nil, 50)) {
		t.Error("percentile of empty input should be NaN")
	}
	if y[0] != 5 {
		t.Error("percentile reordered its input")
	}
}
