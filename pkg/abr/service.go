package abr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/himanishpuri/abrpeaks/internal/loader"
	"github.com/himanishpuri/abrpeaks/internal/peakdetect"
	"github.com/himanishpuri/abrpeaks/internal/presenter"
	"github.com/himanishpuri/abrpeaks/internal/report"
	"github.com/himanishpuri/abrpeaks/internal/scanner"
	"github.com/himanishpuri/abrpeaks/internal/waveform"
	"github.com/himanishpuri/abrpeaks/pkg/logger"
)

// abrService is the default implementation of the Service interface.
type abrService struct {
	storage Storage
	files   *report.FileSaver
	log     Logger
	config  *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	var stor Storage
	var err error
	if cfg.Storage != nil {
		stor = cfg.Storage
	} else {
		stor, err = NewSQLiteStorage(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	return &abrService{
		storage: stor,
		files:   report.NewFileSaver(cfg.ReportDir, cfg.Analyzer),
		log:     cfg.Logger,
		config:  cfg,
	}, nil
}

// Open lists the datasets (one per frequency) of a recording file or
// experiment directory.
func (s *abrService) Open(path string) ([]loader.Dataset, error) {
	rec, err := loader.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	s.log.Infof("Opened %s: %d frequencies at %.0f Hz", rec.Name(), len(rec.Frequencies()), rec.FS)
	return rec.Datasets(), nil
}

// Analyze loads a dataset into a presenter. An earlier analysis by the same
// analyzer is restored, from its text report if present, otherwise from the
// store.
func (s *abrService) Analyze(d loader.Dataset) (*presenter.Presenter, error) {
	series, err := d.Series(s.config.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", d, err)
	}
	for _, w := range series.Waveforms() {
		w.MinLatency = s.config.MinLatency
	}
	if err := s.restore(series); err != nil {
		return nil, err
	}

	p := presenter.New(
		presenter.WithLatencies(peakdetect.DefaultPeakLatencies(s.config.Waves)),
		presenter.WithDetection(peakdetect.Options{Detect: s.config.Detect, Prior: s.config.Prior}),
		presenter.WithSaver(&seriesSaver{files: s.files, store: s.storage, analyzer: s.config.Analyzer}),
		presenter.WithLogger(s.log),
	)
	p.Load(series)
	return p, nil
}

func (s *abrService) restore(series *waveform.Series) error {
	path := s.files.Path(series)
	if _, err := os.Stat(path); err == nil {
		a, err := report.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read saved analysis: %w", err)
		}
		if err := report.Apply(series, a); err != nil {
			return fmt.Errorf("failed to restore saved analysis: %w", err)
		}
		s.log.Infof("Restored analysis from %s", path)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check saved analysis: %w", err)
	}

	err := s.storage.LoadSeries(series, s.config.Analyzer)
	if errors.Is(err, waveform.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to restore stored analysis: %w", err)
	}
	s.log.Infof("Restored analysis of %s from the store", series.Filename)
	return nil
}

// AutoAnalyze loads a dataset and, unless it was analysed before, marks a
// response at every level and guesses peaks and valleys. Nothing is saved.
func (s *abrService) AutoAnalyze(d loader.Dataset) (*presenter.Presenter, error) {
	p, err := s.Analyze(d)
	if err != nil {
		return nil, err
	}
	if p.State() == presenter.NoThreshold {
		if err := p.SetSuprathreshold(); err != nil {
			return nil, err
		}
	}
	if s.config.Waves > 0 && p.PeaksMarked() && !p.ValleysMarked() {
		if err := p.GuessValleys(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s *abrService) scanOptions(frequencies []float64) []scanner.Option {
	return []scanner.Option{
		scanner.WithChecker(s.storage),
		scanner.WithReportDir(s.config.ReportDir),
		scanner.WithFrequencies(frequencies...),
		scanner.WithLogger(s.log),
	}
}

// Unprocessed lists the datasets below dirs that have neither a report nor a
// stored analysis.
func (s *abrService) Unprocessed(ctx context.Context, dirs []string, frequencies ...float64) ([]loader.Dataset, error) {
	return scanner.Unprocessed(ctx, dirs, s.scanOptions(frequencies)...)
}

// Scan starts a background search for unprocessed datasets.
func (s *abrService) Scan(ctx context.Context, dirs []string, frequencies ...float64) *scanner.Scanner {
	sc := scanner.New(dirs, s.scanOptions(frequencies)...)
	sc.Start(ctx)
	return sc
}

func (s *abrService) GetAnalysis(id string) (*Analysis, []Point, error) {
	return s.storage.GetAnalysis(id)
}

func (s *abrService) ListAnalyses() ([]Analysis, error) {
	return s.storage.ListAnalyses()
}

func (s *abrService) DeleteAnalysis(id string) error {
	return s.storage.DeleteAnalysis(id)
}

// Close releases all resources held by the service.
func (s *abrService) Close() error {
	return s.storage.Close()
}

// seriesSaver writes the text report first, then the store record.
type seriesSaver struct {
	files    *report.FileSaver
	store    Storage
	analyzer string
}

func (s *seriesSaver) Save(series *waveform.Series) error {
	if err := s.files.Save(series); err != nil {
		return err
	}
	if _, err := s.store.SaveSeries(series, s.analyzer); err != nil {
		return fmt.Errorf("failed to store analysis: %w", err)
	}
	return nil
}
