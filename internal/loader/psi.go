package loader

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/himanishpuri/abrpeaks/internal/waveform"
	"gonum.org/v1/gonum/stat"
)

const (
	WaveformsFile = "ABR average waveforms.csv"
	SettingsFile  = "ABR processing settings.json"
	// DirSuffix marks experiment directories written by the acquisition
	// software.
	DirSuffix = "abr_io"
)

var (
	ErrNoRecording = errors.New("no average waveforms file")
	ErrInvalidFile = errors.New("invalid average waveforms file")
)

type column struct {
	frequency float64
	level     float64
	y         []float64
}

// Recording is the content of one average waveforms file: one column per
// frequency and level.
type Recording struct {
	Filename string
	FS       float64 // Hz

	columns []column
}

// Dataset is one frequency of a recording.
type Dataset struct {
	Recording *Recording
	Frequency float64 // Hz
}

// ResolveFilename accepts the waveforms file itself or the experiment
// directory holding it, named either plainly or prefixed with the directory
// name.
func ResolveFilename(path string) (string, error) {
	return resolve(path, WaveformsFile)
}

func resolve(path, suffix string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	if !info.IsDir() {
		if strings.HasSuffix(filepath.Base(path), suffix) {
			return path, nil
		}
		return "", fmt.Errorf("%s: %w", path, ErrInvalidFile)
	}
	for _, name := range []string{suffix, filepath.Base(path) + " " + suffix} {
		candidate := filepath.Join(path, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: %w", path, ErrNoRecording)
}

// Open reads a recording from a waveforms file or experiment directory.
func Open(path string) (*Recording, error) {
	filename, err := ResolveFilename(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	rec, times, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(filename), err)
	}
	rec.Filename = filename

	fsHz, err := readSampleRate(filepath.Dir(filename))
	if err != nil {
		return nil, err
	}
	if fsHz == 0 {
		fsHz = sampleRateFromTimes(times)
	}
	if fsHz <= 0 {
		return nil, fmt.Errorf("%s: cannot determine sampling rate: %w", filepath.Base(filename), ErrInvalidFile)
	}
	rec.FS = fsHz
	return rec, nil
}

// parse reads the header rows (one per column attribute, ending at the row
// starting with "time") and the samples. Samples recorded before stimulus
// onset are dropped so that sample 0 is time zero.
func parse(r io.Reader) (*Recording, []float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header := make(map[string][]float64)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil, nil, fmt.Errorf("missing time row: %w", ErrInvalidFile)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading header: %w", err)
		}
		if strings.HasPrefix(row[0], "time") {
			break
		}
		values, err := parseFloats(row[1:])
		if err != nil {
			return nil, nil, fmt.Errorf("header %q: %w", row[0], err)
		}
		header[strings.TrimSpace(row[0])] = values
	}

	freqs, levels := header["frequency"], header["level"]
	if freqs == nil || levels == nil || len(freqs) != len(levels) || len(freqs) == 0 {
		return nil, nil, fmt.Errorf("frequency and level rows required: %w", ErrInvalidFile)
	}

	rec := &Recording{columns: make([]column, len(freqs))}
	for i := range freqs {
		rec.columns[i] = column{frequency: freqs[i], level: levels[i]}
	}

	var times []float64
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading samples: %w", err)
		}
		if len(row) != len(freqs)+1 {
			return nil, nil, fmt.Errorf("sample row has %d fields, expected %d: %w", len(row), len(freqs)+1, ErrInvalidFile)
		}
		values, err := parseFloats(row)
		if err != nil {
			return nil, nil, fmt.Errorf("sample row: %w", err)
		}
		if values[0] < 0 {
			continue
		}
		times = append(times, values[0])
		for i := range rec.columns {
			rec.columns[i].y = append(rec.columns[i].y, values[i+1])
		}
	}
	if len(times) == 0 {
		return nil, nil, fmt.Errorf("no samples: %w", ErrInvalidFile)
	}
	return rec, times, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", f, ErrInvalidFile)
		}
		out[i] = v
	}
	return out, nil
}

// readSampleRate returns 0 when the settings file does not exist.
func readSampleRate(dir string) (float64, error) {
	path, err := resolve(dir, SettingsFile)
	if err != nil {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read settings: %w", err)
	}
	var settings struct {
		ActualFS float64 `json:"actual_fs"`
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return settings.ActualFS, nil
}

// sampleRateFromTimes averages the instantaneous rate of the time column
// (seconds).
func sampleRateFromTimes(times []float64) float64 {
	if len(times) < 2 {
		return 0
	}
	rates := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		dt := times[i] - times[i-1]
		if dt <= 0 {
			return 0
		}
		rates = append(rates, 1/dt)
	}
	return stat.Mean(rates, nil)
}

// Name is the experiment the recording belongs to.
func (r *Recording) Name() string {
	return filepath.Base(filepath.Dir(r.Filename))
}

// Frequencies returns the distinct stimulus frequencies in ascending order.
func (r *Recording) Frequencies() []float64 {
	var out []float64
	for _, c := range r.columns {
		if !math.IsNaN(c.frequency) && !containsFloat(out, c.frequency) {
			out = append(out, c.frequency)
		}
	}
	sort.Float64s(out)
	return out
}

func containsFloat(xs []float64, v float64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// Datasets returns one dataset per frequency.
func (r *Recording) Datasets() []Dataset {
	freqs := r.Frequencies()
	out := make([]Dataset, len(freqs))
	for i, f := range freqs {
		out[i] = Dataset{Recording: r, Frequency: f}
	}
	return out
}

// Series builds the waveforms of one frequency, band-pass filtered when the
// filter is enabled.
func (r *Recording) Series(frequency float64, filter waveform.FilterSettings) (*waveform.Series, error) {
	var ws []*waveform.Waveform
	seen := make(map[float64]bool)
	for _, c := range r.columns {
		if c.frequency != frequency {
			continue
		}
		if seen[c.level] {
			return nil, fmt.Errorf("duplicate level %.2f dB at %g Hz: %w", c.level, frequency, ErrInvalidFile)
		}
		seen[c.level] = true
		sig := waveform.NewSignal(r.FS, c.y, c.level)
		if filter.Enabled() {
			sig = sig.Filtered(filter)
		}
		ws = append(ws, waveform.NewWaveform(sig))
	}
	if len(ws) == 0 {
		return nil, fmt.Errorf("frequency %g Hz: %w", frequency, waveform.ErrNotFound)
	}

	s := waveform.NewSeries(ws, frequency)
	s.Filename = r.Filename
	if filter.Enabled() {
		s.FilterHistory = filter.String()
	}
	return s, nil
}

func (d Dataset) Series(filter waveform.FilterSettings) (*waveform.Series, error) {
	return d.Recording.Series(d.Frequency, filter)
}

func (d Dataset) String() string {
	return fmt.Sprintf("%s %gkHz", d.Recording.Name(), d.Frequency/1000)
}

// FindRecordings returns the waveforms files of every experiment directory
// below root. Directories that cannot be read are skipped.
func FindRecordings(root string) ([]string, error) {
	var out []string
	err := WalkRecordings(root, nil, func(file string) error {
		out = append(out, file)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WalkRecordings calls fn with the waveforms file of each experiment
// directory below root, in lexical order, as they are found. stop, when not
// nil, is checked before every directory entry; once it reports true the
// walk ends without error. An error from fn ends the walk and is returned.
func WalkRecordings(root string, stop func() bool, fn func(file string) error) error {
	if strings.HasSuffix(filepath.Base(root), DirSuffix) {
		if stop != nil && stop() {
			return nil
		}
		f, err := ResolveFilename(root)
		if err != nil {
			return err
		}
		return fn(f)
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if stop != nil && stop() {
			return fs.SkipAll
		}
		if err != nil {
			if path == root {
				return err
			}
			return fs.SkipDir
		}
		if !d.IsDir() || !strings.HasSuffix(d.Name(), DirSuffix) {
			return nil
		}
		f, err := ResolveFilename(path)
		if err != nil {
			return fs.SkipDir
		}
		if err := fn(f); err != nil {
			return err
		}
		return fs.SkipDir
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", root, err)
	}
	return nil
}
