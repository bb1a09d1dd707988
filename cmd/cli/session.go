package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/himanishpuri/abrpeaks/internal/peakdetect"
	"github.com/himanishpuri/abrpeaks/internal/presenter"
	"github.com/himanishpuri/abrpeaks/internal/waveform"
)

var (
	// errQuit ends the whole batch, not just the current dataset.
	errQuit = errors.New("quit")
	errDone = errors.New("done")
)

// session drives one presenter from line commands.
type session struct {
	p   *presenter.Presenter
	in  *bufio.Scanner
	out io.Writer
}

func newSession(p *presenter.Presenter, in io.Reader, out io.Writer) *session {
	return &session{p: p, in: bufio.NewScanner(in), out: out}
}

const sessionHelp = `Commands:
  show                      print the levels and marked features
  up | down                 move to the next higher or lower level
  level <dB>                jump to a level
  select <P1|N1|...>        select a feature of the current level
  next | prev               step the selection to the next or previous extremum
  nudge <msec>              move the selection by a time step
  set <msec>                move the selection to a time
  update                    re-guess the selection on all higher levels
  unscorable                toggle the unscorable flag of the selection
  threshold [all|none]      set the threshold to the current level, or mark all/no levels as responding
  peaks | valleys           guess peaks or valleys
  clear [peaks|valleys]     remove marked features
  save                      save the analysis
  done                      go to the next dataset
  quit                      stop`

// run reads commands until done, quit or end of input. It returns errQuit
// when the user asked to stop.
func (s *session) run() error {
	s.printf("%d levels, state %s. Type 'help' for commands.\n", s.p.Series().Len(), s.p.State())
	s.prompt()
	for s.in.Scan() {
		fields := strings.Fields(s.in.Text())
		if len(fields) == 0 {
			s.prompt()
			continue
		}
		err := s.exec(fields[0], fields[1:])
		switch {
		case errors.Is(err, errDone):
			return nil
		case errors.Is(err, errQuit):
			return errQuit
		case err != nil:
			s.printf("❌ %v\n", err)
		}
		s.prompt()
	}
	return s.in.Err()
}

func (s *session) exec(cmd string, args []string) error {
	p := s.p
	switch cmd {
	case "help", "?":
		s.printf("%s\n", sessionHelp)
	case "show", "ls":
		s.show()
	case "up":
		p.SetCurrent(p.Current() + 1)
		s.status()
	case "down":
		p.SetCurrent(p.Current() - 1)
		s.status()
	case "level":
		level, err := floatArg(args)
		if err != nil {
			return err
		}
		i, err := p.Series().IndexOf(level)
		if err != nil {
			return err
		}
		p.SetCurrent(i)
		s.status()
	case "select", "sel":
		if len(args) != 1 {
			return fmt.Errorf("usage: select <feature>")
		}
		key, err := waveform.ParseFeatureKey(args[0])
		if err != nil {
			return err
		}
		if err := p.SetToggle(key); err != nil {
			return err
		}
		s.status()
	case "next", "prev":
		size := 1.0
		if cmd == "prev" {
			size = -1
		}
		return s.move(peakdetect.Command{Mode: peakdetect.StepZeroCrossing, Size: size})
	case "nudge":
		ms, err := floatArg(args)
		if err != nil {
			return err
		}
		return s.move(peakdetect.Command{Mode: peakdetect.StepTime, Size: ms / 1000})
	case "set":
		ms, err := floatArg(args)
		if err != nil {
			return err
		}
		w := p.CurrentWaveform()
		return s.move(peakdetect.Command{Mode: peakdetect.StepSet, Size: float64(w.IndexOf(ms))})
	case "update":
		if err := p.UpdatePoint(); err != nil {
			return err
		}
		s.show()
	case "unscorable":
		if err := p.ToggleUnscorable(); err != nil {
			return err
		}
		s.status()
	case "threshold":
		var err error
		switch {
		case len(args) == 0:
			err = p.SetThreshold()
		case args[0] == "all":
			err = p.SetSuprathreshold()
		case args[0] == "none":
			err = p.SetSubthreshold()
		default:
			return fmt.Errorf("usage: threshold [all|none]")
		}
		if err != nil {
			return err
		}
		s.show()
	case "peaks":
		if err := p.GuessPeaks(); err != nil {
			return err
		}
		s.show()
	case "valleys":
		if err := p.GuessValleys(); err != nil {
			return err
		}
		s.show()
	case "clear":
		switch {
		case len(args) == 0:
			p.ClearPoints()
		case args[0] == "peaks":
			p.ClearPeaks()
		case args[0] == "valleys":
			p.ClearValleys()
		default:
			return fmt.Errorf("usage: clear [peaks|valleys]")
		}
		s.status()
	case "save":
		if err := p.Save(); err != nil {
			return err
		}
		s.printf("✅ Saved\n")
	case "done":
		if p.State() != presenter.Complete {
			s.printf("⚠️  Leaving unsaved analysis (%s)\n", p.State())
		}
		return errDone
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
	return nil
}

func (s *session) move(cmd peakdetect.Command) error {
	if !s.p.MoveSelectedPoint(cmd) {
		return presenter.ErrNoSelection
	}
	s.status()
	return nil
}

func floatArg(args []string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected one number")
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", args[0])
	}
	return v, nil
}

func (s *session) prompt() {
	w := s.p.CurrentWaveform()
	sel := "-"
	if key, ok := s.p.Toggle(); ok {
		sel = key.String()
	}
	s.printf("[%.0f dB %s] > ", w.Level, sel)
}

func (s *session) status() {
	w := s.p.CurrentWaveform()
	pt, err := s.p.SelectedPoint()
	if err != nil {
		s.printf("%.2f dB\n", w.Level)
		return
	}
	s.printf("%.2f dB %s %s\n", w.Level, pt.Key, describe(pt))
}

// show prints one line per level, highest first, with every feature.
func (s *session) show() {
	series := s.p.Series()
	s.printf("Threshold: %s   State: %s\n", thresholdString(series.Threshold), s.p.State())
	for i := series.Len() - 1; i >= 0; i-- {
		w := series.At(i)
		marker := "  "
		if i == s.p.Current() {
			marker = "> "
		}
		var parts []string
		for _, kind := range []waveform.Kind{waveform.Peak, waveform.Valley} {
			for _, key := range w.Keys(kind) {
				pt, _ := w.Point(key)
				parts = append(parts, key.String()+" "+describe(pt))
			}
		}
		s.printf("%s%6.2f dB  %s\n", marker, w.Level, strings.Join(parts, "  "))
	}
}

func describe(pt *waveform.Point) string {
	switch {
	case pt.Unscorable:
		return "unscorable"
	case pt.Estimated:
		return fmt.Sprintf("%.3f ms (est)", pt.Latency())
	}
	return fmt.Sprintf("%.3f ms %.3f", pt.Latency(), pt.Amplitude())
}

func thresholdString(v float64) string {
	switch {
	case math.IsNaN(v):
		return "not set"
	case math.IsInf(v, 1):
		return "no response"
	case math.IsInf(v, -1):
		return "all levels"
	}
	return fmt.Sprintf("%.2f dB", v)
}

func (s *session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}
