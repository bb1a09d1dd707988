package peakdetect

import (
	"math"
	"testing"

	"github.com/himanishpuri/abrpeaks/internal/waveform"
	"gonum.org/v1/gonum/stat/distuv"
)

func synthWaveform(level float64, bumps ...bump) *waveform.Waveform {
	return waveform.NewWaveform(synthSignal(level, bumps...))
}

func TestGuessIterThreeLevels(t *testing.T) {
	ws := []*waveform.Waveform{
		synthWaveform(50),
		synthWaveform(90, bump{1.5, 1, 0.1}),
		synthWaveform(70, bump{1.7, 0.6, 0.1}),
	}
	seed := Priors{1: distuv.Normal{Mu: 1.5, Sigma: 0.5}}

	guesses := GuessIter(ws, seed, false, DefaultOptions())

	if len(guesses) != 3 {
		t.Fatalf("expected guesses for 3 levels, got %d", len(guesses))
	}

	tests := []struct {
		level float64
		kind  ChoiceKind
		ms    float64
	}{
		{90, Detected, 1.5},
		{70, Detected, 1.7},
	}
	for _, tt := range tests {
		c, ok := guesses[tt.level][1]
		if !ok {
			t.Fatalf("level %v: no choice for wave 1", tt.level)
		}
		if c.Kind != tt.kind {
			t.Errorf("level %v: kind %v, expected %v", tt.level, c.Kind, tt.kind)
		}
		if math.Abs(c.Time()-tt.ms) > 0.02 {
			t.Errorf("level %v: latency %v, expected %v", tt.level, c.Time(), tt.ms)
		}
	}

	low, ok := guesses[50][1]
	if !ok {
		t.Fatal("level 50: no choice for wave 1")
	}
	if low.Kind != Synthesized {
		t.Errorf("level 50: expected a synthesized choice, got %v", low.Kind)
	}
	if low.Time() < 1.7 || low.Time() > 8.5 {
		t.Errorf("level 50: latency %v outside [1.7, 8.5]", low.Time())
	}
	t.Logf("level 50 fallback at %.4f msec (index %d)", low.Time(), low.Index)
}

func TestGuessIterCompleteOnFlatSignals(t *testing.T) {
	ws := []*waveform.Waveform{synthWaveform(30), synthWaveform(50), synthWaveform(70)}
	seed := DefaultPeakLatencies(5)

	guesses := GuessIter(ws, seed, false, DefaultOptions())

	for _, w := range ws {
		choices, ok := guesses[w.Level]
		if !ok {
			t.Fatalf("level %v missing", w.Level)
		}
		if len(choices) != len(seed) {
			t.Errorf("level %v: %d choices, expected %d", w.Level, len(choices), len(seed))
		}
		prev := -1
		for _, wave := range seed.Waves() {
			c := choices[wave]
			if c.Index <= prev {
				t.Errorf("level %v: wave %d index %d not after %d", w.Level, wave, c.Index, prev)
			}
			prev = c.Index
		}
	}
}

func TestGuessIterInvert(t *testing.T) {
	ws := []*waveform.Waveform{synthWaveform(80, bump{2.0, -1, 0.1})}
	seed := Priors{1: distuv.Normal{Mu: 2.0, Sigma: 0.5}}

	guesses := GuessIter(ws, seed, true, DefaultOptions())

	c := guesses[80][1]
	if c.Kind != Detected || c.Index != 100 {
		t.Errorf("expected the valley at index 100, got %+v", c)
	}
}

func TestCandidatesMinLatency(t *testing.T) {
	w := synthWaveform(80, bump{0.5, 1, 0.1}, bump{2.0, 1, 0.1})

	all := Candidates(w, DefaultDetectOptions())
	early := false
	for _, c := range all {
		if c.X < 1.0 {
			early = true
		}
	}
	if !early {
		t.Fatalf("expected an early candidate without a min latency, got %+v", all)
	}

	w.MinLatency = 1.0
	clipped := Candidates(w, DefaultDetectOptions())
	if len(clipped) == 0 {
		t.Fatal("min latency removed every candidate")
	}
	for _, c := range clipped {
		if c.X < 1.0 {
			t.Errorf("candidate at %v survived the 1.0 msec min latency", c.X)
		}
	}
}

func TestGuessEachValleys(t *testing.T) {
	w := synthWaveform(80, bump{1.5, 1, 0.1}, bump{1.8, -0.8, 0.1}, bump{2.5, 1, 0.1})
	other := synthWaveform(60)
	priors := map[float64]Priors{
		80: BoundedLatencies(map[int]float64{1: 1.5, 2: 2.5}, DefaultPriorOptions()),
	}

	guesses := GuessEach([]*waveform.Waveform{w, other}, priors, true, DefaultOptions())

	if _, ok := guesses[60]; ok {
		t.Error("level without priors should be skipped")
	}
	choices := guesses[80]
	if len(choices) != 2 {
		t.Fatalf("expected 2 valley choices, got %+v", choices)
	}
	if choices[1].Kind != Detected || choices[1].Index != 90 {
		t.Errorf("expected valley 1 at index 90, got %+v", choices[1])
	}
	if choices[2].Index <= choices[1].Index {
		t.Errorf("valley 2 (%d) not after valley 1 (%d)", choices[2].Index, choices[1].Index)
	}
}

func TestTimes(t *testing.T) {
	choices := map[int]Choice{
		1: {Kind: Detected, Candidate: candidateAt(1.5, 1), Index: 75},
		2: {Kind: Synthesized, ExpectedTime: 2.6, Index: 130},
	}
	got := Times(choices)
	if got[1] != 1.5 || got[2] != 2.6 {
		t.Errorf("Times() = %v", got)
	}
}
