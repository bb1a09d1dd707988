package waveform

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Signal is a single averaged evoked-response trace recorded at one stimulus
// level. The time axis X is in milliseconds and Y is in the recording's
// amplitude unit (usually microvolts). A Signal is never modified after
// construction; filtering returns a new one.
type Signal struct {
	FS    float64   // sampling rate in Hz
	X     []float64 // time in msec
	Y     []float64
	Level float64 // stimulus level in dB
}

// NewSignal copies y and derives the time axis from fs.
func NewSignal(fs float64, y []float64, level float64) *Signal {
	ys := make([]float64, len(y))
	copy(ys, y)
	xs := make([]float64, len(y))
	for i := range xs {
		xs[i] = float64(i) * 1000.0 / fs
	}
	return &Signal{FS: fs, X: xs, Y: ys, Level: level}
}

// Len returns the number of samples.
func (s *Signal) Len() int {
	return len(s.Y)
}

// Clamp limits i to a valid sample index.
func (s *Signal) Clamp(i int) int {
	if i < 0 {
		return 0
	}
	if n := len(s.Y); i > n-1 {
		return n - 1
	}
	return i
}

// ClampIndex rounds a fractional sample position to a valid index. Values
// outside the signal, infinities included, saturate at the ends; NaN maps to 0.
func (s *Signal) ClampIndex(v float64) int {
	last := len(s.Y) - 1
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= float64(last):
		return s.Clamp(last)
	}
	return s.Clamp(int(math.Round(v)))
}

// IndexOf returns the sample closest to the given time in msec.
func (s *Signal) IndexOf(ms float64) int {
	return s.ClampIndex(ms * s.FS / 1000.0)
}

// SamplePeriod returns the time between samples in seconds.
func (s *Signal) SamplePeriod() float64 {
	return 1 / s.FS
}

// Stat returns the mean and population standard deviation of the samples
// between lb and ub msec. The report header uses the first msec as a noise
// floor estimate.
func (s *Signal) Stat(lb, ub float64) (mean, std float64) {
	lo := int(lb * s.FS / 1000.0)
	hi := int(ub * s.FS / 1000.0)
	if lo < 0 {
		lo = 0
	}
	if hi > len(s.Y) {
		hi = len(s.Y)
	}
	if hi <= lo {
		return math.NaN(), math.NaN()
	}
	return stat.PopMeanStdDev(s.Y[lo:hi], nil)
}

// Filtered returns a copy of the signal passed through the band-pass filter.
func (s *Signal) Filtered(f FilterSettings) *Signal {
	return &Signal{
		FS:    s.FS,
		X:     append([]float64(nil), s.X...),
		Y:     f.Apply(s.FS, s.Y),
		Level: s.Level,
	}
}
