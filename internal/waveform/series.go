package waveform

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrNotFound is returned when a level or feature does not exist on a series.
var ErrNotFound = errors.New("not found")

// Waveform is a Signal together with the features placed on it.
type Waveform struct {
	*Signal

	Points map[FeatureKey]*Point

	// MinLatency (msec) clips early candidates; 0 disables it. Recordings do
	// not carry it, so the caller sets it after loading (see abr.WithMinLatency).
	MinLatency float64

	series *Series
}

func NewWaveform(sig *Signal) *Waveform {
	return &Waveform{
		Signal: sig,
		Points: make(map[FeatureKey]*Point),
	}
}

// Series returns the owning series, nil until the waveform is added to one.
func (w *Waveform) Series() *Series { return w.series }

func (w *Waveform) IsSubthreshold() bool {
	if w.series == nil {
		return false
	}
	return w.Level < w.series.Threshold
}

// IsSuprathreshold is the complement of IsSubthreshold, so an unset (NaN)
// threshold leaves every waveform suprathreshold.
func (w *Waveform) IsSuprathreshold() bool {
	return !w.IsSubthreshold()
}

// SetPoint creates the point for key or moves the existing one. The index is
// clamped to the signal.
func (w *Waveform) SetPoint(key FeatureKey, index int) *Point {
	index = w.Clamp(index)
	if p, ok := w.Points[key]; ok {
		p.Index = index
		return p
	}
	p := &Point{Key: key, Index: index, parent: w}
	w.Points[key] = p
	return p
}

// Point looks up a feature.
func (w *Waveform) Point(key FeatureKey) (*Point, error) {
	p, ok := w.Points[key]
	if !ok {
		return nil, fmt.Errorf("feature %s at %.2f dB: %w", key, w.Level, ErrNotFound)
	}
	return p, nil
}

func (w *Waveform) ClearPoints() {
	w.Points = make(map[FeatureKey]*Point)
}

func (w *Waveform) ClearPeaks() { w.clearKind(Peak) }

func (w *Waveform) ClearValleys() { w.clearKind(Valley) }

func (w *Waveform) clearKind(kind Kind) {
	for k := range w.Points {
		if k.Kind == kind {
			delete(w.Points, k)
		}
	}
}

// Keys returns the keys of one polarity sorted by wave number.
func (w *Waveform) Keys(kind Kind) []FeatureKey {
	keys := make([]FeatureKey, 0, len(w.Points))
	for k := range w.Points {
		if k.Kind == kind {
			keys = append(keys, k)
		}
	}
	SortKeys(keys)
	return keys
}

// Latencies maps wave number to time (msec) for one polarity.
func (w *Waveform) Latencies(kind Kind) map[int]float64 {
	out := make(map[int]float64)
	for k, p := range w.Points {
		if k.Kind == kind {
			out[k.Number] = p.X()
		}
	}
	return out
}

// Series is the set of waveforms recorded for one stimulus frequency,
// ordered by ascending level. The order is fixed at construction; there is
// no way to add a waveform afterwards.
type Series struct {
	waveforms []*Waveform

	// Threshold is NaN until set. +Inf means no response at any level and
	// -Inf a response at every level.
	Threshold float64

	Frequency     float64 // Hz
	Filename      string
	FilterHistory string
}

// NewSeries sorts the waveforms by level and takes ownership of them. It
// panics if a waveform already belongs to another series.
func NewSeries(waveforms []*Waveform, frequency float64) *Series {
	ws := make([]*Waveform, len(waveforms))
	copy(ws, waveforms)
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].Level < ws[j].Level })

	s := &Series{
		waveforms: ws,
		Threshold: math.NaN(),
		Frequency: frequency,
	}
	for _, w := range ws {
		if w.series != nil {
			panic("waveform: waveform already belongs to a series")
		}
		w.series = s
	}
	return s
}

func (s *Series) Len() int { return len(s.waveforms) }

// At returns the i-th waveform in ascending level order.
func (s *Series) At(i int) *Waveform { return s.waveforms[i] }

// Waveforms returns the waveforms in ascending level order. The slice is a
// copy; the waveforms are shared.
func (s *Series) Waveforms() []*Waveform {
	out := make([]*Waveform, len(s.waveforms))
	copy(out, s.waveforms)
	return out
}

// Levels returns the stimulus levels in ascending order.
func (s *Series) Levels() []float64 {
	out := make([]float64, len(s.waveforms))
	for i, w := range s.waveforms {
		out[i] = w.Level
	}
	return out
}

// Get returns the waveform recorded at exactly level.
func (s *Series) Get(level float64) (*Waveform, error) {
	for _, w := range s.waveforms {
		if w.Level == level {
			return w, nil
		}
	}
	return nil, fmt.Errorf("level %.2f dB: %w", level, ErrNotFound)
}

// IndexOf returns the position of level in the series.
func (s *Series) IndexOf(level float64) (int, error) {
	for i, w := range s.waveforms {
		if w.Level == level {
			return i, nil
		}
	}
	return -1, fmt.Errorf("level %.2f dB: %w", level, ErrNotFound)
}

func (s *Series) ThresholdSet() bool {
	return !math.IsNaN(s.Threshold)
}

func (s *Series) ClearPoints() {
	for _, w := range s.waveforms {
		w.ClearPoints()
	}
}

func (s *Series) ClearPeaks() {
	for _, w := range s.waveforms {
		w.ClearPeaks()
	}
}

func (s *Series) ClearValleys() {
	for _, w := range s.waveforms {
		w.ClearValleys()
	}
}

// HasPoints reports whether every waveform carries at least one point of kind.
func (s *Series) HasPoints(kind Kind) bool {
	if len(s.waveforms) == 0 {
		return false
	}
	for _, w := range s.waveforms {
		if len(w.Keys(kind)) == 0 {
			return false
		}
	}
	return true
}
