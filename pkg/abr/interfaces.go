package abr

import (
	"context"

	"github.com/himanishpuri/abrpeaks/internal/loader"
	"github.com/himanishpuri/abrpeaks/internal/presenter"
	"github.com/himanishpuri/abrpeaks/internal/scanner"
	"github.com/himanishpuri/abrpeaks/internal/waveform"
)

type Service interface {
	Open(path string) ([]loader.Dataset, error)
	Analyze(d loader.Dataset) (*presenter.Presenter, error)
	AutoAnalyze(d loader.Dataset) (*presenter.Presenter, error)
	Unprocessed(ctx context.Context, dirs []string, frequencies ...float64) ([]loader.Dataset, error)
	Scan(ctx context.Context, dirs []string, frequencies ...float64) *scanner.Scanner
	GetAnalysis(id string) (*Analysis, []Point, error)
	ListAnalyses() ([]Analysis, error)
	DeleteAnalysis(id string) error
	Close() error
}

type Storage interface {
	SaveSeries(series *waveform.Series, analyzer string) (string, error)
	LoadSeries(series *waveform.Series, analyzer string) error
	IsAnalyzed(filename string, frequency float64) (bool, error)
	GetAnalysis(id string) (*Analysis, []Point, error)
	ListAnalyses() ([]Analysis, error)
	DeleteAnalysis(id string) error
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
