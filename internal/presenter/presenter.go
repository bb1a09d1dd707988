package presenter

import (
	"errors"
	"fmt"
	"math"

	"github.com/himanishpuri/abrpeaks/internal/peakdetect"
	"github.com/himanishpuri/abrpeaks/internal/waveform"
	"github.com/himanishpuri/abrpeaks/pkg/logger"
)

var (
	// ErrIncompleteAnalysis is returned when a save or a valley guess is
	// attempted before its prerequisites are marked.
	ErrIncompleteAnalysis = errors.New("incomplete analysis")
	// ErrNoSeries is returned by operations that need a loaded series.
	ErrNoSeries = errors.New("no series loaded")
	// ErrNoPriors is returned when peaks are guessed without seed latencies.
	ErrNoPriors = errors.New("no latency priors")
	// ErrNoSelection is returned when an operation needs a selected feature.
	ErrNoSelection = errors.New("no feature selected")
)

// State is the progress of the analysis of one series.
type State int

const (
	NoThreshold State = iota
	ThresholdSet
	PeaksMarked
	ValleysMarked
	Complete
)

func (s State) String() string {
	switch s {
	case NoThreshold:
		return "no-threshold"
	case ThresholdSet:
		return "threshold-set"
	case PeaksMarked:
		return "peaks-marked"
	case ValleysMarked:
		return "valleys-marked"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Saver persists a finished analysis.
type Saver interface {
	Save(series *waveform.Series) error
}

type Option func(*Presenter)

// WithLatencies supplies the seed priors for the highest level. Without
// them peaks are never guessed automatically and Save does not require
// marked peaks or valleys.
func WithLatencies(p peakdetect.Priors) Option {
	return func(pr *Presenter) {
		pr.seed = p
	}
}

func WithDetection(o peakdetect.Options) Option {
	return func(pr *Presenter) {
		pr.opts = o
	}
}

func WithSaver(s Saver) Option {
	return func(pr *Presenter) {
		pr.saver = s
	}
}

func WithLogger(l Logger) Option {
	return func(pr *Presenter) {
		pr.log = l
	}
}

// Presenter sequences the analysis of one series at a time: threshold,
// peaks, valleys and manual correction of the selected feature.
type Presenter struct {
	seed  peakdetect.Priors
	opts  peakdetect.Options
	saver Saver
	log   Logger

	series  *waveform.Series
	current int

	toggle    waveform.FeatureKey
	hasToggle bool
	stepper   *peakdetect.Stepper

	peaks    bool
	valleys  bool
	complete bool
}

func New(opts ...Option) *Presenter {
	p := &Presenter{opts: peakdetect.DefaultOptions()}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.GetLogger().With("presenter")
	}
	return p
}

// Load replaces the series being analysed. The highest level becomes
// current. A series that already carries a threshold and points (a loaded
// analysis) is treated exactly like one that was propagated here.
func (p *Presenter) Load(series *waveform.Series) {
	p.series = series
	p.current = series.Len() - 1
	p.hasToggle = false
	p.stepper = nil
	p.complete = false
	p.peaks = series.HasPoints(waveform.Peak)
	p.valleys = series.HasPoints(waveform.Valley)
	p.log.Debugf("Loaded %d waveforms (%s)", series.Len(), p.State())
}

func (p *Presenter) Series() *waveform.Series { return p.series }

func (p *Presenter) State() State {
	switch {
	case p.series == nil || !p.series.ThresholdSet():
		return NoThreshold
	case p.complete:
		return Complete
	case p.peaks && p.valleys:
		return ValleysMarked
	case p.peaks:
		return PeaksMarked
	default:
		return ThresholdSet
	}
}

func (p *Presenter) PeaksMarked() bool   { return p.peaks }
func (p *Presenter) ValleysMarked() bool { return p.valleys }

// Current returns the position of the current waveform in ascending level
// order.
func (p *Presenter) Current() int { return p.current }

// CurrentWaveform returns nil when no series is loaded.
func (p *Presenter) CurrentWaveform() *waveform.Waveform {
	if p.series == nil || p.series.Len() == 0 {
		return nil
	}
	return p.series.At(p.current)
}

// SetCurrent moves to waveform i. Out of range requests are ignored.
func (p *Presenter) SetCurrent(i int) {
	if p.series == nil || i < 0 || i >= p.series.Len() || i == p.current {
		return
	}
	p.current = i
	p.resetStepper()
}

// Toggle returns the selected feature, if any.
func (p *Presenter) Toggle() (waveform.FeatureKey, bool) {
	return p.toggle, p.hasToggle
}

// SetToggle selects a feature of the current waveform.
func (p *Presenter) SetToggle(key waveform.FeatureKey) error {
	w := p.CurrentWaveform()
	if w == nil {
		return ErrNoSeries
	}
	if _, err := w.Point(key); err != nil {
		return err
	}
	p.toggle = key
	p.hasToggle = true
	p.resetStepper()
	return nil
}

func (p *Presenter) ClearToggle() {
	p.hasToggle = false
	p.stepper = nil
}

// SelectedPoint returns the selected point of the current waveform.
func (p *Presenter) SelectedPoint() (*waveform.Point, error) {
	if !p.hasToggle {
		return nil, ErrNoSelection
	}
	w := p.CurrentWaveform()
	if w == nil {
		return nil, ErrNoSeries
	}
	return w.Point(p.toggle)
}

// SetThreshold uses the current level as threshold.
func (p *Presenter) SetThreshold() error {
	w := p.CurrentWaveform()
	if w == nil {
		return ErrNoSeries
	}
	return p.setThreshold(w.Level)
}

// SetSuprathreshold marks a response at every level.
func (p *Presenter) SetSuprathreshold() error {
	return p.setThreshold(math.Inf(-1))
}

// SetSubthreshold marks the absence of a response at every level. Features
// are still placed so the report lists where they would have been.
func (p *Presenter) SetSubthreshold() error {
	if err := p.setThreshold(math.Inf(1)); err != nil {
		return err
	}
	if len(p.seed) > 0 && !p.valleys {
		return p.GuessValleys()
	}
	return nil
}

func (p *Presenter) setThreshold(level float64) error {
	if p.series == nil {
		return ErrNoSeries
	}
	p.series.Threshold = level
	p.complete = false
	p.log.Infof("Threshold set to %.2f dB", level)
	if len(p.seed) > 0 && !p.peaks {
		return p.GuessPeaks()
	}
	return nil
}

// GuessPeaks propagates peaks from the seed priors and selects P1 on the
// highest level.
func (p *Presenter) GuessPeaks() error {
	if p.series == nil {
		return ErrNoSeries
	}
	if len(p.seed) == 0 {
		return ErrNoPriors
	}
	PropagatePeaks(p.series, p.seed, p.opts)
	p.peaks = true
	p.complete = false
	p.log.Infof("Guessed %d peaks on %d levels", len(p.seed), p.series.Len())
	p.selectFirst(waveform.P(1))
	return nil
}

// GuessValleys propagates valleys between the marked peaks.
func (p *Presenter) GuessValleys() error {
	if p.series == nil {
		return ErrNoSeries
	}
	if !p.peaks {
		return fmt.Errorf("valleys need marked peaks: %w", ErrIncompleteAnalysis)
	}
	PropagateValleys(p.series, p.opts)
	p.valleys = true
	p.complete = false
	p.log.Infof("Guessed valleys on %d levels", p.series.Len())
	p.selectFirst(waveform.N(1))
	return nil
}

func (p *Presenter) selectFirst(key waveform.FeatureKey) {
	p.current = p.series.Len() - 1
	if err := p.SetToggle(key); err != nil {
		p.ClearToggle()
	}
}

// Stepper returns the stepper of the selected feature, building it when the
// selection or current waveform changed.
func (p *Presenter) Stepper() (*peakdetect.Stepper, error) {
	if p.stepper != nil {
		return p.stepper, nil
	}
	if !p.hasToggle {
		return nil, ErrNoSelection
	}
	w := p.CurrentWaveform()
	if w == nil {
		return nil, ErrNoSeries
	}
	s, err := StepperFor(w, p.toggle)
	if err != nil {
		return nil, err
	}
	p.stepper = s
	return s, nil
}

// MoveSelectedPoint applies cmd to the selected point. It reports false and
// does nothing when no feature is selected.
func (p *Presenter) MoveSelectedPoint(cmd peakdetect.Command) bool {
	pt, err := p.SelectedPoint()
	if err != nil {
		return false
	}
	s, err := p.Stepper()
	if err != nil {
		return false
	}
	pt.Index = s.Send(cmd)
	pt.Estimated = false
	p.complete = false
	p.log.Debugf("%s at %.2f dB moved to %.4f msec", p.toggle, p.CurrentWaveform().Level, pt.X())
	return true
}

// UpdatePoint re-guesses the selected feature on all higher levels from its
// current position.
func (p *Presenter) UpdatePoint() error {
	if _, err := p.SelectedPoint(); err != nil {
		return err
	}
	w := p.CurrentWaveform()
	if err := UpdateFromPoint(p.series, w.Level, p.toggle, p.opts); err != nil {
		return err
	}
	p.complete = false
	p.log.Infof("Updated %s above %.2f dB", p.toggle, w.Level)
	return nil
}

// ToggleUnscorable flips the unscorable flag of the selected point.
func (p *Presenter) ToggleUnscorable() error {
	pt, err := p.SelectedPoint()
	if err != nil {
		return err
	}
	pt.Unscorable = !pt.Unscorable
	p.complete = false
	return nil
}

func (p *Presenter) ClearPeaks() {
	if p.series == nil {
		return
	}
	p.series.ClearPeaks()
	p.peaks = false
	p.afterClear()
}

func (p *Presenter) ClearValleys() {
	if p.series == nil {
		return
	}
	p.series.ClearValleys()
	p.valleys = false
	p.afterClear()
}

func (p *Presenter) ClearPoints() {
	if p.series == nil {
		return
	}
	p.series.ClearPoints()
	p.peaks = false
	p.valleys = false
	p.afterClear()
}

func (p *Presenter) afterClear() {
	p.complete = false
	if _, err := p.SelectedPoint(); err != nil {
		p.ClearToggle()
	}
}

// Save hands the series to the Saver. The threshold must be set and, when
// seed latencies were supplied, peaks and valleys must be marked.
func (p *Presenter) Save() error {
	if p.series == nil {
		return ErrNoSeries
	}
	if !p.series.ThresholdSet() {
		return fmt.Errorf("threshold not set: %w", ErrIncompleteAnalysis)
	}
	if len(p.seed) > 0 && (!p.peaks || !p.valleys) {
		return fmt.Errorf("waves not identified: %w", ErrIncompleteAnalysis)
	}
	if p.saver != nil {
		if err := p.saver.Save(p.series); err != nil {
			return fmt.Errorf("failed to save analysis: %w", err)
		}
	}
	p.complete = true
	return nil
}

func (p *Presenter) resetStepper() {
	p.stepper = nil
}
