package waveform

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the polarity of a feature.
type Kind int

const (
	Peak Kind = iota
	Valley
)

func (k Kind) String() string {
	switch k {
	case Peak:
		return "PEAK"
	case Valley:
		return "VALLEY"
	default:
		return "UNKNOWN"
	}
}

// Code is the single letter used in reports (P or N).
func (k Kind) Code() string {
	if k == Valley {
		return "N"
	}
	return "P"
}

// FeatureKey names the n-th expected feature of a polarity, e.g. P1 or N3.
type FeatureKey struct {
	Kind   Kind
	Number int
}

func P(n int) FeatureKey { return FeatureKey{Kind: Peak, Number: n} }
func N(n int) FeatureKey { return FeatureKey{Kind: Valley, Number: n} }

func (k FeatureKey) String() string {
	return k.Kind.Code() + strconv.Itoa(k.Number)
}

// Less orders keys the way report columns are laid out: by wave number,
// peak before valley (P1, N1, P2, N2, ...).
func (k FeatureKey) Less(o FeatureKey) bool {
	if k.Number != o.Number {
		return k.Number < o.Number
	}
	return k.Kind < o.Kind
}

// ParseFeatureKey accepts "P1", "n2" and similar.
func ParseFeatureKey(s string) (FeatureKey, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return FeatureKey{}, fmt.Errorf("invalid feature %q", s)
	}
	var kind Kind
	switch strings.ToUpper(s[:1]) {
	case "P":
		kind = Peak
	case "N":
		kind = Valley
	default:
		return FeatureKey{}, fmt.Errorf("invalid feature polarity in %q", s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 1 {
		return FeatureKey{}, fmt.Errorf("invalid wave number in %q", s)
	}
	return FeatureKey{Kind: kind, Number: n}, nil
}

// SortKeys sorts keys in report column order.
func SortKeys(keys []FeatureKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// Point is a feature placed on a waveform. Index always refers to a valid
// sample of the owning waveform.
type Point struct {
	Key        FeatureKey
	Index      int
	Unscorable bool // operator marked the feature as absent or unreliable
	Estimated  bool // placed at the prior mean because no candidate was found

	parent *Waveform
}

func (p *Point) Waveform() *Waveform { return p.parent }

// X is the time of the point in msec.
func (p *Point) X() float64 { return p.parent.X[p.Index] }

func (p *Point) Y() float64 { return p.parent.Y[p.Index] }

// Latency is negative when the waveform is below threshold (there is no
// real feature, only a local extremum) and NaN for unscorable points.
func (p *Point) Latency() float64 {
	if p.Unscorable {
		return math.NaN()
	}
	if p.parent.IsSubthreshold() {
		return -math.Abs(p.X())
	}
	return p.X()
}

func (p *Point) Amplitude() float64 {
	if p.Unscorable {
		return math.NaN()
	}
	return p.Y()
}

func (p *Point) IsPeak() bool   { return p.Key.Kind == Peak }
func (p *Point) IsValley() bool { return p.Key.Kind == Valley }
