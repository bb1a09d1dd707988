package peakdetect

import (
	"math"

	"github.com/himanishpuri/abrpeaks/internal/waveform"
	"gonum.org/v1/gonum/floats"
)

// ChoiceKind tells a real detection apart from a best guess.
type ChoiceKind int

const (
	// Detected choices come from a detector candidate.
	Detected ChoiceKind = iota
	// Synthesized choices sit at the prior mean because no candidate scored.
	Synthesized
)

func (k ChoiceKind) String() string {
	if k == Synthesized {
		return "synthesized"
	}
	return "detected"
}

// Choice is the location selected for one feature of one waveform.
type Choice struct {
	Kind ChoiceKind

	// Candidate is set for Detected choices.
	Candidate Candidate
	// ExpectedTime (msec) is the prior mean for Synthesized choices.
	ExpectedTime float64

	// Index is the sample the feature is placed at, for either kind.
	Index int
}

// Time returns the latency (msec) carried forward to the next prior.
func (c Choice) Time() float64 {
	if c.Kind == Synthesized {
		return c.ExpectedTime
	}
	return c.Candidate.X
}

// Guess assigns one candidate to each wave of priors, in ascending wave
// order. Each candidate is scored as
//
//	weight*latency + prominence
//
// where latency is the prior density at the candidate normalized over the
// remaining pool and prominence is normalized over all candidates. Once a
// wave is assigned, every candidate at or before its index leaves the pool,
// so the features of one polarity are placed in increasing sample order.
//
// A wave with no scorable candidate gets a Synthesized choice at the prior
// mean, moved past the previous choice if needed and kept early enough that
// the waves after it still fit before the end of the signal.
func Guess(sig *waveform.Signal, candidates []Candidate, priors Priors, weight float64) map[int]Choice {
	pool := candidates

	prominences := make([]float64, len(candidates))
	for i, c := range candidates {
		prominences[i] = c.Prominence
	}
	total := 0.0
	if len(prominences) > 0 {
		total = floats.Sum(prominences)
	}

	out := make(map[int]Choice, len(priors))
	prev := -1
	waves := priors.Waves()
	for k, w := range waves {
		d := priors[w]
		best := bestCandidate(pool, d, total, weight)

		if best >= 0 {
			c := pool[best]
			out[w] = Choice{Kind: Detected, Candidate: c, Index: c.Index}
			prev = c.Index
			pool = pool[best+1:]
			continue
		}

		// Leave one sample for each wave still to be placed.
		mean := d.Mean()
		idx := min(sig.IndexOf(mean), sig.Len()-len(waves)+k)
		if idx <= prev {
			idx = prev + 1
		}
		idx = sig.Clamp(idx)
		out[w] = Choice{Kind: Synthesized, ExpectedTime: mean, Index: idx}
		prev = idx
		for len(pool) > 0 && pool[0].Index <= idx {
			pool = pool[1:]
		}
	}
	return out
}

// bestCandidate returns the position in pool of the highest scoring
// candidate, or -1 when no candidate has a finite score.
func bestCandidate(pool []Candidate, d Distribution, total, weight float64) int {
	if len(pool) == 0 {
		return -1
	}

	density := make([]float64, len(pool))
	for i, c := range pool {
		density[i] = d.Prob(c.X)
	}
	sum := floats.Sum(density)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return -1
	}

	best, bestScore := -1, math.Inf(-1)
	for i, c := range pool {
		p := 0.0
		if total > 0 {
			p = c.Prominence / total
		}
		score := weight*density[i]/sum + p
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}
