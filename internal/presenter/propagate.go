package presenter

import (
	"fmt"

	"github.com/himanishpuri/abrpeaks/internal/peakdetect"
	"github.com/himanishpuri/abrpeaks/internal/waveform"
)

// PropagatePeaks replaces the peaks of every waveform with guesses made from
// the highest level down, starting from seed.
func PropagatePeaks(series *waveform.Series, seed peakdetect.Priors, opts peakdetect.Options) {
	series.ClearPeaks()
	guesses := peakdetect.GuessIter(series.Waveforms(), seed, false, opts)
	applyGuesses(series, waveform.Peak, guesses)
}

// PropagateValleys replaces the valleys of every waveform. Each waveform's
// valley priors are bounded by its own peaks, so peaks must be placed first;
// waveforms without peaks get no valleys.
func PropagateValleys(series *waveform.Series, opts peakdetect.Options) {
	series.ClearValleys()
	priors := make(map[float64]peakdetect.Priors, series.Len())
	for _, w := range series.Waveforms() {
		peaks := w.Latencies(waveform.Peak)
		if len(peaks) == 0 {
			continue
		}
		priors[w.Level] = peakdetect.BoundedLatencies(peaks, opts.Prior)
	}
	guesses := peakdetect.GuessEach(series.Waveforms(), priors, true, opts)
	applyGuesses(series, waveform.Valley, guesses)
}

// UpdateFromPoint re-guesses feature key on every level above level, each
// one seeded by a skew-normal prior around the level just below it, starting
// with the point at level itself.
func UpdateFromPoint(series *waveform.Series, level float64, key waveform.FeatureKey, opts peakdetect.Options) error {
	start, err := series.IndexOf(level)
	if err != nil {
		return err
	}
	if _, err := series.At(start).Point(key); err != nil {
		return err
	}

	detect := opts.Detect
	detect.Invert = key.Kind == waveform.Valley

	for i := start + 1; i < series.Len(); i++ {
		anchor, err := series.At(i - 1).Point(key)
		if err != nil {
			return fmt.Errorf("updating %s: %w", key, err)
		}
		priors := peakdetect.SkewNormalLatencies(map[int]float64{key.Number: anchor.X()}, opts.Prior)

		cur := series.At(i)
		choices := peakdetect.Guess(cur.Signal, peakdetect.Candidates(cur, detect), priors, opts.Prior.Weight)
		setChoice(cur, key, choices[key.Number])
	}
	return nil
}

// StepperFor starts a stepper at the current position of a feature.
func StepperFor(w *waveform.Waveform, key waveform.FeatureKey) (*peakdetect.Stepper, error) {
	p, err := w.Point(key)
	if err != nil {
		return nil, err
	}
	return peakdetect.NewStepper(w.Signal, p.Index, key.Kind == waveform.Valley), nil
}

func applyGuesses(series *waveform.Series, kind waveform.Kind, guesses peakdetect.Guesses) {
	for _, w := range series.Waveforms() {
		for n, c := range guesses[w.Level] {
			setChoice(w, waveform.FeatureKey{Kind: kind, Number: n}, c)
		}
	}
}

func setChoice(w *waveform.Waveform, key waveform.FeatureKey, c peakdetect.Choice) {
	p := w.SetPoint(key, c.Index)
	p.Estimated = c.Kind == peakdetect.Synthesized
	p.Unscorable = false
}
