package peakdetect

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution is a latency prior: a density over time in msec.
// distuv.Normal satisfies it.
type Distribution interface {
	Prob(x float64) float64
	Mean() float64
}

// Priors maps wave number to the expected latency distribution.
type Priors map[int]Distribution

// Waves returns the wave numbers in ascending order.
func (p Priors) Waves() []int {
	out := make([]int, 0, len(p))
	for w := range p {
		out = append(out, w)
	}
	sort.Ints(out)
	return out
}

// TruncNormal is a normal distribution truncated to [A, B] in standardized
// units, i.e. to [Mu+A*Sigma, Mu+B*Sigma].
type TruncNormal struct {
	Mu, Sigma float64
	A, B      float64
}

func (t TruncNormal) mass() float64 {
	return distuv.UnitNormal.CDF(t.B) - distuv.UnitNormal.CDF(t.A)
}

func (t TruncNormal) Prob(x float64) float64 {
	z := (x - t.Mu) / t.Sigma
	if z < t.A || z > t.B {
		return 0
	}
	m := t.mass()
	if m <= 0 {
		return 0
	}
	return distuv.UnitNormal.Prob(z) / (t.Sigma * m)
}

func (t TruncNormal) Mean() float64 {
	m := t.mass()
	if m <= 0 {
		return t.Mu + t.A*t.Sigma
	}
	return t.Mu + t.Sigma*(distuv.UnitNormal.Prob(t.A)-distuv.UnitNormal.Prob(t.B))/m
}

// SkewNormal has location Mu, scale Sigma and shape Alpha. Positive Alpha
// puts more mass after Mu.
type SkewNormal struct {
	Alpha, Mu, Sigma float64
}

func (s SkewNormal) Prob(x float64) float64 {
	z := (x - s.Mu) / s.Sigma
	return 2 / s.Sigma * distuv.UnitNormal.Prob(z) * distuv.UnitNormal.CDF(s.Alpha*z)
}

func (s SkewNormal) Mean() float64 {
	delta := s.Alpha / math.Sqrt(1+s.Alpha*s.Alpha)
	return s.Mu + s.Sigma*delta*math.Sqrt(2/math.Pi)
}

// PriorOptions holds the empirically chosen constants of the latency model.
type PriorOptions struct {
	// MaxTime (msec) bounds the prior of the last feature in a waveform.
	MaxTime float64
	// BoundSD is the scale (msec) of the bounded valley priors.
	BoundSD float64
	// Skew is the shape of the level-to-level prior.
	Skew float64
	// SkewScale is the scale (msec) of the level-to-level prior.
	SkewScale float64
	// Weight multiplies the normalized latency score relative to the
	// normalized prominence score.
	Weight float64
}

func DefaultPriorOptions() PriorOptions {
	return PriorOptions{
		MaxTime:   8.5,
		BoundSD:   0.25,
		Skew:      3,
		SkewScale: 0.1,
		Weight:    5,
	}
}

// DefaultPeakLatencies returns population seed priors for the first n peaks.
// Waves past the fifth reuse the fifth prior shifted by one msec per wave.
func DefaultPeakLatencies(n int) Priors {
	seeds := []distuv.Normal{
		{Mu: 1.5, Sigma: 0.5},
		{Mu: 2.5, Sigma: 1},
		{Mu: 3.0, Sigma: 1},
		{Mu: 4.0, Sigma: 1},
		{Mu: 5.0, Sigma: 2},
	}
	if n < 0 {
		n = 0
	}
	p := make(Priors, n)
	for w := 1; w <= n; w++ {
		if w <= len(seeds) {
			p[w] = seeds[w-1]
			continue
		}
		last := seeds[len(seeds)-1]
		last.Mu += float64(w - len(seeds))
		p[w] = last
	}
	return p
}

// BoundedLatencies builds valley priors from the peak latencies of the same
// waveform. The valley following peak k is expected between peak k and peak
// k+1, biased towards peak k; the last one may extend up to MaxTime.
func BoundedLatencies(known map[int]float64, opts PriorOptions) Priors {
	waves := make([]int, 0, len(known))
	for w := range known {
		waves = append(waves, w)
	}
	sort.Ints(waves)

	p := make(Priors, len(waves))
	for i, w := range waves {
		lb := math.Abs(known[w])
		ub := opts.MaxTime
		if i+1 < len(waves) {
			ub = math.Abs(known[waves[i+1]])
		}
		b := (ub - lb) / opts.BoundSD
		if b < 0 {
			b = 0
		}
		p[w] = TruncNormal{Mu: lb, Sigma: opts.BoundSD, A: 0, B: b}
	}
	return p
}

// SkewNormalLatencies builds the prior for the next lower level from the
// latencies resolved at the current one. Latencies grow as level drops, so
// the prior is skewed later.
func SkewNormalLatencies(known map[int]float64, opts PriorOptions) Priors {
	p := make(Priors, len(known))
	for w, t := range known {
		p[w] = SkewNormal{Alpha: opts.Skew, Mu: math.Abs(t), Sigma: opts.SkewScale}
	}
	return p
}
