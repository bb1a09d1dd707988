package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/himanishpuri/abrpeaks/internal/waveform"
	"github.com/himanishpuri/abrpeaks/pkg/logger"
)

const archiveLayout = "2006-01-02-15-04-05-"

// FileName builds the report name for one frequency of a recording, e.g.
// "ABR average waveforms-8kHz-jd-analyzed.txt".
func FileName(stem string, frequency float64, analyzer string) string {
	khz := formatKHz(frequency)
	if analyzer == "" {
		return fmt.Sprintf("%s-%skHz-analyzed.txt", stem, khz)
	}
	return fmt.Sprintf("%s-%skHz-%s-analyzed.txt", stem, khz, analyzer)
}

// formatKHz writes a frequency in Hz as kHz with the shortest exact decimal.
func formatKHz(frequency float64) string {
	return strconv.FormatFloat(frequency/1000, 'f', -1, 64)
}

// Stem strips the directory and extension of a recording path.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FindAnalyzed returns the reports of any analyzer for one frequency of the
// recording at dataFile. Reports are looked up in dir, or next to the
// recording when dir is empty.
func FindAnalyzed(dataFile string, frequency float64, dir string) ([]string, error) {
	if dir == "" {
		dir = filepath.Dir(dataFile)
	}
	khz := formatKHz(frequency)
	pattern := fmt.Sprintf("%s-%skHz-*analyzed.txt", escapeGlob(Stem(dataFile)), khz)
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to search reports: %w", err)
	}
	return matches, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(s)
}

// Archive renames an existing file at path by prefixing its modification
// time (UTC). It returns the new name, or "" when there was nothing to move.
func Archive(path string) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	dst := filepath.Join(filepath.Dir(path), info.ModTime().UTC().Format(archiveLayout)+filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", path, err)
	}
	return dst, nil
}

// WriteFile writes a to path, archiving any report already there.
func WriteFile(path string, a *Analysis) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if _, err := Archive(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := Write(f, a); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}

// ReadFile parses the report at path.
func ReadFile(path string) (*Analysis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()
	a, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return a, nil
}

// FileSaver writes finished series as text reports.
type FileSaver struct {
	// Dir receives the reports. Empty means next to the recording.
	Dir      string
	Analyzer string

	log *logger.Logger
}

func NewFileSaver(dir, analyzer string) *FileSaver {
	return &FileSaver{
		Dir:      dir,
		Analyzer: analyzer,
		log:      logger.GetLogger().With("report"),
	}
}

// Path returns where the report of series is written.
func (s *FileSaver) Path(series *waveform.Series) string {
	dir := s.Dir
	if dir == "" {
		dir = filepath.Dir(series.Filename)
	}
	return filepath.Join(dir, FileName(Stem(series.Filename), series.Frequency, s.Analyzer))
}

func (s *FileSaver) Save(series *waveform.Series) error {
	path := s.Path(series)
	if err := WriteFile(path, FromSeries(series)); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Infof("Saved analysis to %s", path)
	}
	return nil
}
