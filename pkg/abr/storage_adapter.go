package abr

import (
	"fmt"
	"math"

	"github.com/himanishpuri/abrpeaks/internal/storage"
	"github.com/himanishpuri/abrpeaks/internal/waveform"
)

// storageAdapter adapts the storage.DBClient to implement the Storage interface.
type storageAdapter struct {
	db *storage.DBClient
}

// NewSQLiteStorage creates a new SQLite storage backend.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return &storageAdapter{db: db}, nil
}

func (s *storageAdapter) SaveSeries(series *waveform.Series, analyzer string) (string, error) {
	rec := &storage.Analysis{
		Filename:  series.Filename,
		Frequency: series.Frequency,
		Analyzer:  analyzer,
		Threshold: storage.EncodeFloat(series.Threshold),
		Filter:    series.FilterHistory,
		Levels:    series.Len(),
	}

	var points []storage.PointRecord
	for _, w := range series.Waveforms() {
		for _, kind := range []waveform.Kind{waveform.Peak, waveform.Valley} {
			for _, key := range w.Keys(kind) {
				p, err := w.Point(key)
				if err != nil {
					return "", err
				}
				points = append(points, storage.PointRecord{
					Level:      w.Level,
					Feature:    key.String(),
					SampleIdx:  p.Index,
					Latency:    storage.Nullable(p.Latency()),
					Amplitude:  storage.Nullable(p.Amplitude()),
					Unscorable: p.Unscorable,
					Estimated:  p.Estimated,
				})
			}
		}
	}
	return s.db.SaveAnalysis(rec, points)
}

// LoadSeries replaces the threshold and points of series with the stored
// analysis by analyzer.
func (s *storageAdapter) LoadSeries(series *waveform.Series, analyzer string) error {
	rec, rows, err := s.db.FindAnalysis(series.Filename, series.Frequency, analyzer)
	if err != nil {
		return err
	}
	threshold, err := storage.DecodeFloat(rec.Threshold)
	if err != nil {
		return fmt.Errorf("stored threshold %q: %w", rec.Threshold, err)
	}

	type placed struct {
		w   *waveform.Waveform
		key waveform.FeatureKey
		row storage.PointRecord
	}
	resolved := make([]placed, 0, len(rows))
	for _, r := range rows {
		w := levelOf(series, r.Level)
		if w == nil {
			return fmt.Errorf("stored level %.2f dB: %w", r.Level, waveform.ErrNotFound)
		}
		key, err := waveform.ParseFeatureKey(r.Feature)
		if err != nil {
			return fmt.Errorf("stored feature: %w", err)
		}
		resolved = append(resolved, placed{w: w, key: key, row: r})
	}

	series.ClearPoints()
	series.Threshold = threshold
	for _, p := range resolved {
		pt := p.w.SetPoint(p.key, p.row.SampleIdx)
		pt.Unscorable = p.row.Unscorable
		pt.Estimated = p.row.Estimated
	}
	return nil
}

func levelOf(series *waveform.Series, level float64) *waveform.Waveform {
	for _, w := range series.Waveforms() {
		if math.Abs(w.Level-level) < 1e-6 {
			return w
		}
	}
	return nil
}

func (s *storageAdapter) IsAnalyzed(filename string, frequency float64) (bool, error) {
	return s.db.IsAnalyzed(filename, frequency)
}

func (s *storageAdapter) GetAnalysis(id string) (*Analysis, []Point, error) {
	rec, rows, err := s.db.GetAnalysis(id)
	if err != nil {
		return nil, nil, err
	}
	a := toAnalysis(*rec)
	a.Points = len(rows)

	points := make([]Point, len(rows))
	for i, r := range rows {
		points[i] = Point{
			Level:      r.Level,
			Feature:    r.Feature,
			Index:      r.SampleIdx,
			Latency:    storage.FromNullable(r.Latency),
			Amplitude:  storage.FromNullable(r.Amplitude),
			Unscorable: r.Unscorable,
			Estimated:  r.Estimated,
		}
	}
	return &a, points, nil
}

func (s *storageAdapter) ListAnalyses() ([]Analysis, error) {
	rows, err := s.db.ListAnalyses()
	if err != nil {
		return nil, err
	}

	out := make([]Analysis, len(rows))
	for i, r := range rows {
		out[i] = toAnalysis(r)
		n, err := s.db.GetPointCount(r.ID)
		if err != nil {
			return nil, err
		}
		out[i].Points = n
	}
	return out, nil
}

func toAnalysis(r storage.Analysis) Analysis {
	threshold, err := storage.DecodeFloat(r.Threshold)
	if err != nil {
		threshold = math.NaN()
	}
	return Analysis{
		ID:        r.ID,
		Filename:  r.Filename,
		Frequency: r.Frequency,
		Analyzer:  r.Analyzer,
		Threshold: threshold,
		Filter:    r.Filter,
		Levels:    r.Levels,
		UpdatedAt: r.UpdatedAt,
	}
}

func (s *storageAdapter) DeleteAnalysis(id string) error {
	return s.db.DeleteAnalysis(id)
}

func (s *storageAdapter) Close() error {
	return s.db.Close()
}
