package peakdetect

import (
	"testing"

	"github.com/himanishpuri/abrpeaks/internal/waveform"
	"gonum.org/v1/gonum/stat/distuv"
)

func candidateAt(ms, prominence float64) Candidate {
	return Candidate{Index: int(ms * testFS / 1000), X: ms, Prominence: prominence}
}

func flatSignal() *waveform.Signal {
	return waveform.NewSignal(testFS, make([]float64, 500), 80)
}

func TestGuessPrefersLatencyMatch(t *testing.T) {
	cands := []Candidate{candidateAt(1.0, 2), candidateAt(2.0, 1), candidateAt(3.0, 1)}
	priors := Priors{1: distuv.Normal{Mu: 2.0, Sigma: 0.2}}

	got := Guess(flatSignal(), cands, priors, 5)

	c, ok := got[1]
	if !ok {
		t.Fatal("no choice for wave 1")
	}
	if c.Kind != Detected || c.Index != 100 {
		t.Errorf("expected detected candidate at index 100, got %+v", c)
	}
}

func TestGuessWeightOverride(t *testing.T) {
	// With no latency weight the most prominent candidate wins.
	cands := []Candidate{candidateAt(1.0, 5), candidateAt(2.0, 1)}
	priors := Priors{1: distuv.Normal{Mu: 2.0, Sigma: 0.2}}

	got := Guess(flatSignal(), cands, priors, 0)
	if got[1].Index != 50 {
		t.Errorf("expected index 50 with zero weight, got %d", got[1].Index)
	}
}

func TestGuessConsumesEarlierCandidates(t *testing.T) {
	cands := []Candidate{candidateAt(1.0, 1), candidateAt(2.0, 1), candidateAt(3.0, 1)}
	// Wave 2 is expected earlier than wave 1 but must still come after it.
	priors := Priors{
		1: distuv.Normal{Mu: 2.0, Sigma: 0.2},
		2: distuv.Normal{Mu: 1.0, Sigma: 0.2},
	}

	got := Guess(flatSignal(), cands, priors, 5)

	if got[1].Index != 100 {
		t.Fatalf("wave 1 at %d, expected 100", got[1].Index)
	}
	if got[2].Index <= got[1].Index {
		t.Errorf("wave 2 (%d) placed before wave 1 (%d)", got[2].Index, got[1].Index)
	}
	if got[2].Kind != Detected || got[2].Index != 150 {
		t.Errorf("expected wave 2 on the remaining candidate at 150, got %+v", got[2])
	}
}

func TestGuessFallsBackToPriorMean(t *testing.T) {
	priors := DefaultPeakLatencies(5)

	got := Guess(flatSignal(), nil, priors, 5)

	if len(got) != 5 {
		t.Fatalf("expected a choice for every wave, got %d", len(got))
	}
	prev := -1
	for _, w := range priors.Waves() {
		c := got[w]
		if c.Kind != Synthesized {
			t.Errorf("wave %d: expected synthesized choice, got %v", w, c.Kind)
		}
		if c.ExpectedTime != priors[w].Mean() {
			t.Errorf("wave %d: expected time %v, got %v", w, priors[w].Mean(), c.ExpectedTime)
		}
		if c.Index <= prev {
			t.Errorf("wave %d: index %d not after %d", w, c.Index, prev)
		}
		prev = c.Index
	}
	if got[1].Index != 75 {
		t.Errorf("wave 1 expected at index 75 (1.5 msec), got %d", got[1].Index)
	}
}

func TestGuessSynthesizedFitsShortSignal(t *testing.T) {
	// 1 msec of signal: every prior mean lies past the end.
	sig := waveform.NewSignal(testFS, make([]float64, 50), 80)

	got := Guess(sig, nil, DefaultPeakLatencies(3), 5)

	want := map[int]int{1: 47, 2: 48, 3: 49}
	for w, idx := range want {
		if got[w].Kind != Synthesized || got[w].Index != idx {
			t.Errorf("wave %d = %+v, want synthesized at %d", w, got[w], idx)
		}
	}
}

func TestGuessZeroDensity(t *testing.T) {
	// The prior is so far away that every density underflows to zero.
	cands := []Candidate{candidateAt(1.0, 1), candidateAt(2.0, 1)}
	priors := Priors{1: distuv.Normal{Mu: 9.0, Sigma: 0.01}}

	got := Guess(flatSignal(), cands, priors, 5)

	c := got[1]
	if c.Kind != Synthesized {
		t.Fatalf("expected synthesized choice, got %+v", c)
	}
	if c.Index != 450 || c.Time() != 9.0 {
		t.Errorf("expected index 450 at 9.0 msec, got %d at %v", c.Index, c.Time())
	}
}

func TestGuessSynthesizedAfterPrevious(t *testing.T) {
	cands := []Candidate{candidateAt(3.0, 1)}
	priors := Priors{
		1: distuv.Normal{Mu: 3.0, Sigma: 0.2},
		2: distuv.Normal{Mu: 2.0, Sigma: 0.2},
	}

	got := Guess(flatSignal(), cands, priors, 5)

	if got[2].Kind != Synthesized {
		t.Fatalf("expected wave 2 to be synthesized, got %+v", got[2])
	}
	if got[2].Index != got[1].Index+1 {
		t.Errorf("expected wave 2 directly after wave 1, got %d and %d", got[1].Index, got[2].Index)
	}
}

func TestChoiceTime(t *testing.T) {
	d := Choice{Kind: Detected, Candidate: candidateAt(2.5, 1), Index: 125}
	s := Choice{Kind: Synthesized, ExpectedTime: 3.3, Index: 165}

	if d.Time() != 2.5 || s.Time() != 3.3 {
		t.Errorf("Time() = %v, %v", d.Time(), s.Time())
	}
	if d.Kind.String() != "detected" || s.Kind.String() != "synthesized" {
		t.Errorf("unexpected kind names %q %q", d.Kind, s.Kind)
	}
}
