package scanner

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/himanishpuri/abrpeaks/internal/loader"
	"github.com/himanishpuri/abrpeaks/internal/report"
	"github.com/himanishpuri/abrpeaks/pkg/logger"
	"golang.org/x/sync/errgroup"
)

type MessageKind int

const (
	// Append carries one unprocessed dataset.
	Append MessageKind = iota
	// Complete is the last message of a run.
	Complete
)

func (k MessageKind) String() string {
	if k == Complete {
		return "complete"
	}
	return "append"
}

type Message struct {
	Kind    MessageKind
	Dataset loader.Dataset
	Err     error // set on Complete when the walk failed
}

// Checker reports datasets already saved somewhere other than a text report.
type Checker interface {
	IsAnalyzed(filename string, frequency float64) (bool, error)
}

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type Option func(*Scanner)

func WithChecker(c Checker) Option {
	return func(s *Scanner) { s.checker = c }
}

// WithReportDir looks for existing reports in dir instead of next to each
// recording.
func WithReportDir(dir string) Option {
	return func(s *Scanner) { s.reportDir = dir }
}

// WithFrequencies restricts the scan to the given frequencies (Hz).
func WithFrequencies(freqs ...float64) Option {
	return func(s *Scanner) { s.frequencies = freqs }
}

func WithBuffer(n int) Option {
	return func(s *Scanner) { s.buffer = n }
}

func WithLogger(l Logger) Option {
	return func(s *Scanner) { s.log = l }
}

// Scanner finds datasets nobody has analysed yet. A run walks the
// directories on one background goroutine; the caller drains results with
// Poll at its own pace.
type Scanner struct {
	dirs        []string
	checker     Checker
	reportDir   string
	frequencies []float64
	buffer      int
	log         Logger

	messages chan Message
	group    *errgroup.Group
	stopped  atomic.Bool
}

func New(dirs []string, opts ...Option) *Scanner {
	s := &Scanner{
		dirs:   dirs,
		buffer: 64,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.GetLogger().With("scanner")
	}
	return s
}

// Start launches the walk. It must be called once.
func (s *Scanner) Start(ctx context.Context) {
	s.messages = make(chan Message, s.buffer)
	g, ctx := errgroup.WithContext(ctx)
	s.group = g
	g.Go(func() error {
		defer close(s.messages)
		err := s.Walk(ctx, func(d loader.Dataset) error {
			select {
			case s.messages <- Message{Kind: Append, Dataset: d}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		select {
		case s.messages <- Message{Kind: Complete, Err: err}:
		case <-ctx.Done():
		}
		return err
	})
}

// Poll returns the messages queued so far without blocking. done is true
// once the run has completed and everything was drained.
func (s *Scanner) Poll() (msgs []Message, done bool) {
	if s.messages == nil {
		return nil, false
	}
	for {
		select {
		case m, ok := <-s.messages:
			if !ok {
				return msgs, true
			}
			msgs = append(msgs, m)
			if m.Kind == Complete {
				return msgs, true
			}
		default:
			return msgs, false
		}
	}
}

// Stop asks the walk to finish the current recording and enqueue nothing
// more. The run still ends with a Complete message.
func (s *Scanner) Stop() {
	s.stopped.Store(true)
}

func (s *Scanner) Stopped() bool {
	return s.stopped.Load()
}

// Wait blocks until the walk goroutine returns.
func (s *Scanner) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Walk calls fn for every unprocessed dataset below the scanner's
// directories, synchronously. Stop is honoured between directory entries
// and between datasets.
func (s *Scanner) Walk(ctx context.Context, fn func(loader.Dataset) error) error {
	for _, dir := range s.dirs {
		if s.Stopped() {
			return nil
		}
		var fnErr error
		err := loader.WalkRecordings(dir, s.Stopped, func(file string) error {
			if fnErr = ctx.Err(); fnErr != nil {
				return fnErr
			}
			fnErr = s.scanFile(file, fn)
			return fnErr
		})
		if fnErr != nil {
			return fnErr
		}
		if err != nil {
			s.log.Warnf("Skipping %s: %v", dir, err)
		}
	}
	return nil
}

func (s *Scanner) scanFile(file string, fn func(loader.Dataset) error) error {
	rec, err := loader.Open(file)
	if err != nil {
		s.log.Warnf("Skipping %s: %v", file, err)
		return nil
	}
	for _, d := range rec.Datasets() {
		if s.Stopped() {
			return nil
		}
		if !s.wanted(d.Frequency) {
			continue
		}
		done, err := s.analyzed(d)
		if err != nil {
			return fmt.Errorf("checking %s: %w", d, err)
		}
		if done {
			s.log.Debugf("%s already analysed", d)
			continue
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) wanted(freq float64) bool {
	if len(s.frequencies) == 0 {
		return true
	}
	for _, f := range s.frequencies {
		if f == freq {
			return true
		}
	}
	return false
}

func (s *Scanner) analyzed(d loader.Dataset) (bool, error) {
	reports, err := report.FindAnalyzed(d.Recording.Filename, d.Frequency, s.reportDir)
	if err != nil {
		return false, err
	}
	if len(reports) > 0 {
		return true, nil
	}
	if s.checker == nil {
		return false, nil
	}
	return s.checker.IsAnalyzed(d.Recording.Filename, d.Frequency)
}

// Unprocessed collects every unprocessed dataset.
func Unprocessed(ctx context.Context, dirs []string, opts ...Option) ([]loader.Dataset, error) {
	var out []loader.Dataset
	err := New(dirs, opts...).Walk(ctx, func(d loader.Dataset) error {
		out = append(out, d)
		return nil
	})
	return out, err
}
