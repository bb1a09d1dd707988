package waveform

import (
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// FilterSettings describes a Butterworth band-pass. It is applied in the
// frequency domain using the squared magnitude response, which matches a
// forward-backward (zero phase) pass of the same filter.
type FilterSettings struct {
	Highpass float64 // Hz, 0 disables the high-pass edge
	Lowpass  float64 // Hz, 0 disables the low-pass edge
	Order    int
}

// DefaultFilter returns the settings used when loading recordings.
func DefaultFilter() FilterSettings {
	return FilterSettings{
		Highpass: 300,
		Lowpass:  3000,
		Order:    1,
	}
}

// Enabled reports whether the settings change the signal at all.
func (f FilterSettings) Enabled() bool {
	return f.Order > 0 && (f.Highpass > 0 || f.Lowpass > 0)
}

func (f FilterSettings) String() string {
	if !f.Enabled() {
		return "No filtering"
	}
	return fmt.Sprintf("Butterworth band-pass %g-%g Hz, order %d, zero phase", f.Highpass, f.Lowpass, f.Order)
}

// Gain returns the squared magnitude response at freq Hz.
func (f FilterSettings) Gain(freq float64) float64 {
	if !f.Enabled() {
		return 1
	}
	freq = math.Abs(freq)
	n := float64(2 * f.Order)
	g := 1.0
	if f.Highpass > 0 {
		r := math.Pow(freq/f.Highpass, n)
		g *= r / (1 + r)
	}
	if f.Lowpass > 0 {
		g *= 1 / (1 + math.Pow(freq/f.Lowpass, n))
	}
	return g
}

// Apply filters y sampled at fs and returns a new slice.
func (f FilterSettings) Apply(fs float64, y []float64) []float64 {
	out := make([]float64, len(y))
	if len(y) == 0 || !f.Enabled() {
		copy(out, y)
		return out
	}

	n := len(y)
	spectrum := fft.FFTReal(y)
	for k := range spectrum {
		bin := k
		if bin > n/2 {
			bin = n - k
		}
		freq := float64(bin) * fs / float64(n)
		spectrum[k] *= complex(f.Gain(freq), 0)
	}

	for i, v := range fft.IFFT(spectrum) {
		out[i] = real(v)
	}
	return out
}
