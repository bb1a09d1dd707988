package peakdetect

import (
	"math"
	"math/rand"
	"testing"
)

func threeBumpStepper(start int) *Stepper {
	sig := synthSignal(80, bump{1.0, 1, 0.05}, bump{2.0, 0.8, 0.05}, bump{3.0, 0.6, 0.05})
	return NewStepper(sig, start, false)
}

func TestStepperCandidates(t *testing.T) {
	s := threeBumpStepper(100)

	got := s.Candidates()
	want := []int{50, 100, 150}
	if len(got) != len(want) {
		t.Fatalf("Candidates() = %v, expected %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Candidates() = %v, expected %v", got, want)
		}
	}
	if !s.OnCandidate() {
		t.Error("start index should sit on a candidate")
	}
}

func TestStepperStepCandidate(t *testing.T) {
	tests := []struct {
		name  string
		start int
		steps []int
		want  []int
	}{
		{"forward", 100, []int{1, 1}, []int{150, 150}},
		{"backward", 100, []int{-1, -1}, []int{50, 50}},
		{"from between", 120, []int{1}, []int{150}},
		{"back from between", 120, []int{-1}, []int{100}},
		{"zero is a no-op", 120, []int{0}, []int{120}},
		{"before first", 10, []int{-1, 1}, []int{10, 50}},
	}

	for _, tt := range tests {
		s := threeBumpStepper(tt.start)
		for i, dir := range tt.steps {
			if got := s.StepCandidate(dir); got != tt.want[i] {
				t.Errorf("%s: step %d returned %d, expected %d", tt.name, i, got, tt.want[i])
			}
		}
	}
}

func TestStepperNudge(t *testing.T) {
	s := threeBumpStepper(100)

	if got := s.Nudge(1e-6); got != 101 {
		t.Errorf("sub-sample nudge moved to %d, expected 101", got)
	}
	if s.OnCandidate() {
		t.Error("101 is not a candidate")
	}
	if got := s.Nudge(-0.1e-3); got != 96 {
		t.Errorf("Nudge(-0.1 msec) = %d, expected 96", got)
	}
	if got := s.Nudge(0); got != 96 {
		t.Errorf("Nudge(0) = %d, expected no movement", got)
	}
	if got := s.Nudge(-1e-6); got != 95 {
		t.Errorf("negative sub-sample nudge moved to %d, expected 95", got)
	}
	s.Nudge(0.1e-3)
	if !s.OnCandidate() {
		t.Errorf("expected to land on candidate 100, at %d", s.Index())
	}
}

func TestStepperSend(t *testing.T) {
	s := threeBumpStepper(100)

	tests := []struct {
		cmd  Command
		want int
	}{
		{Command{Mode: StepZeroCrossing, Size: 1}, 150},
		{Command{Mode: StepTime, Size: 0.2e-3}, 160},
		{Command{Mode: StepZeroCrossing, Size: -1}, 150},
		{Command{Mode: StepSet, Size: 42}, 42},
		{Command{Mode: StepMode(99), Size: 1}, 42},
	}

	for i, tt := range tests {
		if got := s.Send(tt.cmd); got != tt.want {
			t.Errorf("command %d (%+v) returned %d, expected %d", i, tt.cmd, got, tt.want)
		}
	}
}

func TestStepperClamps(t *testing.T) {
	s := threeBumpStepper(-20)
	if s.Index() != 0 {
		t.Errorf("start clamped to %d, expected 0", s.Index())
	}
	if got := s.Set(10000); got != 499 {
		t.Errorf("Set(10000) = %d", got)
	}
	if got := s.Nudge(1); got != 499 {
		t.Errorf("Nudge(1s) = %d", got)
	}
	if got := s.Nudge(-1); got != 0 {
		t.Errorf("Nudge(-1s) = %d", got)
	}

	tests := []struct {
		size float64
		want int
	}{
		{math.Inf(1), 499},
		{math.Inf(-1), 0},
		{1e20, 499},
		{-1e20, 0},
		{9.3e18, 499},
		{498.6, 499},
		{-0.4, 0},
	}
	for _, tt := range tests {
		s := threeBumpStepper(100)
		if got := s.Send(Command{Mode: StepSet, Size: tt.size}); got != tt.want {
			t.Errorf("Send(StepSet, %g) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestStepperRandomCommandsStayInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := threeBumpStepper(250)
	modes := []StepMode{StepZeroCrossing, StepTime, StepSet}

	for i := 0; i < 2000; i++ {
		cmd := Command{Mode: modes[rng.Intn(len(modes))]}
		switch cmd.Mode {
		case StepZeroCrossing:
			cmd.Size = float64(rng.Intn(3) - 1)
		case StepTime:
			cmd.Size = (rng.Float64() - 0.5) * 0.02
		case StepSet:
			cmd.Size = float64(rng.Intn(2000) - 1000)
		}
		got := s.Send(cmd)
		if got < 0 || got >= 500 {
			t.Fatalf("command %d (%+v) produced out of range index %d", i, cmd, got)
		}
	}
}

func TestStepperInvert(t *testing.T) {
	sig := synthSignal(80, bump{1.2, -1, 0.05}, bump{2.4, -1, 0.05})
	s := NewStepper(sig, 0, true)

	if got := s.StepCandidate(1); got != 60 {
		t.Errorf("first valley at %d, expected 60", got)
	}
	if got := s.StepCandidate(1); got != 120 {
		t.Errorf("second valley at %d, expected 120", got)
	}
}
