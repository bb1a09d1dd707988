package peakdetect

import (
	"math"
	"sort"

	"github.com/himanishpuri/abrpeaks/internal/waveform"
)

// StepMode selects how a Command moves the stepper.
type StepMode int

const (
	// StepZeroCrossing moves to the adjacent candidate; Size is +1 or -1.
	StepZeroCrossing StepMode = iota
	// StepTime moves by Size seconds.
	StepTime
	// StepSet jumps to sample index Size.
	StepSet
)

// Command is a single request sent to a Stepper.
type Command struct {
	Mode StepMode
	Size float64
}

// Stepper is a cursor over one waveform used to correct a single feature.
// Its candidate list is computed once at creation; the cursor position is
// just the current sample index.
type Stepper struct {
	sig        *waveform.Signal
	candidates []int
	index      int
}

// NewStepper detects candidates on sig with StepperDetectOptions and starts
// the cursor at start.
func NewStepper(sig *waveform.Signal, start int, invert bool) *Stepper {
	opts := StepperDetectOptions()
	opts.Invert = invert
	return NewStepperWithOptions(sig, start, opts)
}

func NewStepperWithOptions(sig *waveform.Signal, start int, opts DetectOptions) *Stepper {
	cands := FindPeaks(sig, opts)
	idx := make([]int, len(cands))
	for i, c := range cands {
		idx[i] = c.Index
	}
	return &Stepper{
		sig:        sig,
		candidates: idx,
		index:      sig.Clamp(start),
	}
}

// Index returns the current sample index.
func (s *Stepper) Index() int { return s.index }

// Candidates returns a copy of the candidate indices in ascending order.
func (s *Stepper) Candidates() []int {
	return append([]int(nil), s.candidates...)
}

// OnCandidate reports whether the cursor sits on a candidate.
func (s *Stepper) OnCandidate() bool {
	i := sort.SearchInts(s.candidates, s.index)
	return i < len(s.candidates) && s.candidates[i] == s.index
}

// StepCandidate moves to the nearest candidate after (dir > 0) or before
// (dir < 0) the current index. It stays put if there is none.
func (s *Stepper) StepCandidate(dir int) int {
	switch {
	case dir > 0:
		i := sort.Search(len(s.candidates), func(i int) bool { return s.candidates[i] > s.index })
		if i < len(s.candidates) {
			s.index = s.candidates[i]
		}
	case dir < 0:
		i := sort.SearchInts(s.candidates, s.index) - 1
		if i >= 0 {
			s.index = s.candidates[i]
		}
	}
	return s.index
}

// Nudge moves by the given number of seconds. Any nonzero request moves at
// least one sample.
func (s *Stepper) Nudge(seconds float64) int {
	if seconds == 0 || math.IsNaN(seconds) {
		return s.index
	}
	// Steps longer than the signal only need to reach its end.
	step := math.Min(math.Max(math.Abs(seconds), s.sig.SamplePeriod()), float64(s.sig.Len())/s.sig.FS)
	if seconds < 0 {
		step = -step
	}
	return s.move(s.index + int(math.Round(step*s.sig.FS)))
}

// Set jumps to index.
func (s *Stepper) Set(index int) int {
	return s.move(index)
}

// Send applies cmd and returns the new index.
func (s *Stepper) Send(cmd Command) int {
	switch cmd.Mode {
	case StepZeroCrossing:
		switch {
		case cmd.Size > 0:
			return s.StepCandidate(1)
		case cmd.Size < 0:
			return s.StepCandidate(-1)
		}
	case StepTime:
		return s.Nudge(cmd.Size)
	case StepSet:
		if !math.IsNaN(cmd.Size) {
			return s.Set(s.sig.ClampIndex(cmd.Size))
		}
	}
	return s.index
}

func (s *Stepper) move(index int) int {
	s.index = s.sig.Clamp(index)
	return s.index
}
