package peakdetect

import (
	"math"
	"sort"

	"github.com/himanishpuri/abrpeaks/internal/waveform"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Candidate is a local extremum of a waveform that may be a feature.
// X and Y are taken from the original (non-inverted, non-detrended) signal.
type Candidate struct {
	Index      int     // sample index
	X          float64 // time in msec
	Y          float64 // amplitude
	Prominence float64 // prominence in the detrended (and inverted) signal
}

// DetectOptions controls FindPeaks.
type DetectOptions struct {
	// Distance is the minimum spacing between candidates in seconds.
	Distance float64
	// Prominence is the percentile (0-100) of the signal values used as the
	// minimum prominence a candidate must have.
	Prominence float64
	// Window limits the prominence search to this many seconds around each
	// maximum. Zero searches the whole signal.
	Window float64
	// Invert searches for valleys instead of peaks.
	Invert bool
	// Detrend removes a least squares line before searching.
	Detrend bool
}

// DefaultDetectOptions are used by the automated guessing pass.
func DefaultDetectOptions() DetectOptions {
	return DetectOptions{
		Distance:   0.5e-3,
		Prominence: 50,
		Detrend:    true,
	}
}

// StepperDetectOptions use a finer spacing and a lower prominence floor so
// manual correction can reach weak candidates.
func StepperDetectOptions() DetectOptions {
	return DetectOptions{
		Distance:   0.25e-3,
		Prominence: 25,
		Detrend:    true,
	}
}

// FindPeaks returns the candidates of sig sorted by index. The result only
// depends on the inputs. An empty result is valid and means no extremum
// cleared the prominence floor.
func FindPeaks(sig *waveform.Signal, opts DetectOptions) []Candidate {
	n := sig.Len()
	if n < 3 {
		return nil
	}

	y := make([]float64, n)
	copy(y, sig.Y)
	if opts.Invert {
		floats.Scale(-1, y)
	}
	if opts.Detrend {
		detrend(y)
	}

	floor := percentile(y, opts.Prominence)
	distance := int(math.Round(sig.FS * opts.Distance))
	wlen := 0
	if opts.Window > 0 {
		wlen = int(math.Round(sig.FS * opts.Window))
	}

	maxima := localMaxima(y)
	prominences := make([]float64, len(maxima))
	for i, m := range maxima {
		prominences[i] = prominence(y, m, wlen)
	}

	keep := selectByDistance(y, maxima, prominences, distance)

	candidates := make([]Candidate, 0, len(maxima))
	for i, m := range maxima {
		if !keep[i] || prominences[i] < floor {
			continue
		}
		candidates = append(candidates, Candidate{
			Index:      m,
			X:          sig.X[m],
			Y:          sig.Y[m],
			Prominence: prominences[i],
		})
	}
	return candidates
}

// detrend subtracts the least squares line through (i, y[i]) in place.
func detrend(y []float64) {
	t := make([]float64, len(y))
	for i := range t {
		t[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(t, y, nil, false)
	for i := range y {
		y[i] -= alpha + beta*t[i]
	}
}

// percentile returns the q-th percentile (0-100) of y.
func percentile(y []float64, q float64) float64 {
	if len(y) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(y))
	copy(sorted, y)
	sort.Float64s(sorted)
	p := math.Min(math.Max(q/100, 0), 1)
	if math.IsNaN(p) {
		p = 0
	}
	return stat.Quantile(p, stat.LinInterp, sorted, nil)
}

// localMaxima returns the indices of all local maxima, excluding the first
// and last sample. A flat top reports its middle sample (rounded down).
func localMaxima(y []float64) []int {
	var out []int
	n := len(y)
	i := 1
	for i < n-1 {
		if y[i-1] < y[i] {
			ahead := i + 1
			for ahead < n-1 && y[ahead] == y[i] {
				ahead++
			}
			if y[ahead] < y[i] {
				left, right := i, ahead-1
				out = append(out, (left+right)/2)
				i = ahead
				continue
			}
		}
		i++
	}
	return out
}

// prominence of the maximum at peak: its height above the higher of the two
// lowest points reached walking out on each side until the signal rises above
// the peak. wlen > 1 limits the walk to a window centred on the peak.
func prominence(y []float64, peak, wlen int) float64 {
	lo, hi := 0, len(y)-1
	if wlen > 1 {
		half := wlen / 2
		if peak-half > lo {
			lo = peak - half
		}
		if peak+half < hi {
			hi = peak + half
		}
	}

	h := y[peak]
	leftMin := h
	for i := peak; i >= lo && y[i] <= h; i-- {
		if y[i] < leftMin {
			leftMin = y[i]
		}
	}
	rightMin := h
	for i := peak; i <= hi && y[i] <= h; i++ {
		if y[i] < rightMin {
			rightMin = y[i]
		}
	}
	return h - math.Max(leftMin, rightMin)
}

// selectByDistance marks which maxima survive the minimum spacing. Maxima are
// visited from most to least prominent (then higher value, then earlier
// index) and each kept one removes its weaker neighbours closer than distance
// samples.
func selectByDistance(y []float64, maxima []int, prominences []float64, distance int) []bool {
	keep := make([]bool, len(maxima))
	for i := range keep {
		keep[i] = true
	}
	if distance <= 1 {
		return keep
	}

	order := make([]int, len(maxima))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if prominences[i] != prominences[j] {
			return prominences[i] > prominences[j]
		}
		if y[maxima[i]] != y[maxima[j]] {
			return y[maxima[i]] > y[maxima[j]]
		}
		return maxima[i] < maxima[j]
	})

	for _, i := range order {
		if !keep[i] {
			continue
		}
		for j := i - 1; j >= 0 && maxima[i]-maxima[j] < distance; j-- {
			keep[j] = false
		}
		for j := i + 1; j < len(maxima) && maxima[j]-maxima[i] < distance; j++ {
			keep[j] = false
		}
	}
	return keep
}
