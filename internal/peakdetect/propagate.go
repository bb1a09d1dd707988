package peakdetect

import (
	"sort"

	"github.com/himanishpuri/abrpeaks/internal/waveform"
)

// Options groups the detector and prior settings used by the drivers.
type Options struct {
	Detect DetectOptions
	Prior  PriorOptions
}

func DefaultOptions() Options {
	return Options{
		Detect: DefaultDetectOptions(),
		Prior:  DefaultPriorOptions(),
	}
}

// Guesses maps stimulus level to the choice made for each wave.
type Guesses map[float64]map[int]Choice

// Candidates runs the detector on w and drops candidates earlier than the
// waveform's MinLatency hint.
func Candidates(w *waveform.Waveform, opts DetectOptions) []Candidate {
	cands := FindPeaks(w.Signal, opts)
	if w.MinLatency <= 0 {
		return cands
	}
	i := sort.Search(len(cands), func(i int) bool { return cands[i].X >= w.MinLatency })
	return cands[i:]
}

// GuessIter resolves the waves of seed level by level from the highest level
// to the lowest. The highest level is scored against seed; each following
// level against skew-normal priors built from the level above it. Every
// processed level gets a choice for every wave in seed.
func GuessIter(waveforms []*waveform.Waveform, seed Priors, invert bool, opts Options) Guesses {
	ws := make([]*waveform.Waveform, len(waveforms))
	copy(ws, waveforms)
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].Level > ws[j].Level })

	detect := opts.Detect
	detect.Invert = invert

	out := make(Guesses, len(ws))
	priors := seed
	for _, w := range ws {
		choices := Guess(w.Signal, Candidates(w, detect), priors, opts.Prior.Weight)
		out[w.Level] = choices
		priors = SkewNormalLatencies(Times(choices), opts.Prior)
	}
	return out
}

// GuessEach scores every waveform independently against the priors given
// for its level. Levels without priors are skipped.
func GuessEach(waveforms []*waveform.Waveform, priors map[float64]Priors, invert bool, opts Options) Guesses {
	detect := opts.Detect
	detect.Invert = invert

	out := make(Guesses, len(waveforms))
	for _, w := range waveforms {
		p, ok := priors[w.Level]
		if !ok {
			continue
		}
		out[w.Level] = Guess(w.Signal, Candidates(w, detect), p, opts.Prior.Weight)
	}
	return out
}

// Times extracts the latency of each choice.
func Times(choices map[int]Choice) map[int]float64 {
	out := make(map[int]float64, len(choices))
	for w, c := range choices {
		out[w] = c.Time()
	}
	return out
}
