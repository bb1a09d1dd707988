package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/himanishpuri/abrpeaks/internal/waveform"
)

// ErrMalformed is returned when a report cannot be parsed.
var ErrMalformed = errors.New("malformed analysis report")

const (
	noFiltering = "No filtering"
	noteLine    = "NOTE: Negative latencies indicate no peak. NaN latencies indicate unscorable peaks."
)

var (
	thresholdRe = regexp.MustCompile(`^Threshold \(dB SPL\): ([\w.+-]+)`)
	frequencyRe = regexp.MustCompile(`^Frequency \(kHz\): ([\d.]+)`)
)

// Measurement is one feature of one level as written to a report.
type Measurement struct {
	Latency   float64 // msec, negative below threshold, NaN when unscorable
	Amplitude float64
}

// Row holds the measurements of one level.
type Row struct {
	Level  float64
	Mean   float64 // first msec
	StdDev float64 // first msec
	Points map[waveform.FeatureKey]Measurement
}

// Analysis is the content of a report: the series header plus one row per
// level, highest level first.
type Analysis struct {
	Threshold float64 // dB SPL, NaN when unset
	Frequency float64 // Hz
	Filter    string
	Keys      []waveform.FeatureKey
	Rows      []Row
}

// FromSeries collects the measurements of every point of series. A feature
// missing on some level is written as NaN there.
func FromSeries(series *waveform.Series) *Analysis {
	seen := make(map[waveform.FeatureKey]bool)
	var keys []waveform.FeatureKey
	for _, w := range series.Waveforms() {
		for k := range w.Points {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	waveform.SortKeys(keys)

	a := &Analysis{
		Threshold: series.Threshold,
		Frequency: series.Frequency,
		Filter:    series.FilterHistory,
		Keys:      keys,
		Rows:      make([]Row, 0, series.Len()),
	}
	for i := series.Len() - 1; i >= 0; i-- {
		w := series.At(i)
		mean, std := w.Stat(0, 1)
		row := Row{
			Level:  w.Level,
			Mean:   mean,
			StdDev: std,
			Points: make(map[waveform.FeatureKey]Measurement, len(keys)),
		}
		for _, k := range keys {
			m := Measurement{Latency: math.NaN(), Amplitude: math.NaN()}
			if p, err := w.Point(k); err == nil {
				m = Measurement{Latency: p.Latency(), Amplitude: p.Amplitude()}
			}
			row.Points[k] = m
		}
		a.Rows = append(a.Rows, row)
	}
	return a
}

// Write renders a as a tab separated report.
func Write(w io.Writer, a *Analysis) error {
	bw := bufio.NewWriter(w)

	filter := a.Filter
	if filter == "" {
		filter = noFiltering
	}
	fmt.Fprintf(bw, "Threshold (dB SPL): %s\n", formatThreshold(a.Threshold))
	fmt.Fprintf(bw, "Frequency (kHz): %s\n", formatKHz(a.Frequency))
	fmt.Fprintf(bw, "Filter history: %s\n", filter)
	fmt.Fprintf(bw, "%s\n", noteLine)

	columns := []string{"Level", "1msec Avg", "1msec StDev"}
	for _, k := range a.Keys {
		columns = append(columns, k.String()+" Latency", k.String()+" Amplitude")
	}
	fmt.Fprintln(bw, strings.Join(columns, "\t"))

	for _, row := range a.Rows {
		fields := []string{
			fmt.Sprintf("%.2f", row.Level),
			fmt.Sprintf("%f", row.Mean),
			fmt.Sprintf("%f", row.StdDev),
		}
		for _, k := range a.Keys {
			m, ok := row.Points[k]
			if !ok {
				m = Measurement{Latency: math.NaN(), Amplitude: math.NaN()}
			}
			fields = append(fields, fmt.Sprintf("%.8f", m.Latency), fmt.Sprintf("%.8f", m.Amplitude))
		}
		fmt.Fprintln(bw, strings.Join(fields, "\t"))
	}
	return bw.Flush()
}

// Read parses a report written by Write.
func Read(r io.Reader) (*Analysis, error) {
	a := &Analysis{Threshold: math.NaN(), Frequency: math.NaN()}
	var (
		haveThreshold bool
		header        []string
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		if header == nil {
			switch {
			case thresholdRe.MatchString(text):
				v, err := parseThreshold(thresholdRe.FindStringSubmatch(text)[1])
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				a.Threshold = v
				haveThreshold = true
			case frequencyRe.MatchString(text):
				v, err := strconv.ParseFloat(frequencyRe.FindStringSubmatch(text)[1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: frequency: %w", line, ErrMalformed)
				}
				a.Frequency = v * 1000
			case strings.HasPrefix(text, "Filter history: "):
				a.Filter = strings.TrimPrefix(text, "Filter history: ")
				if a.Filter == noFiltering {
					a.Filter = ""
				}
			case strings.HasPrefix(text, "Level\t"):
				keys, err := parseHeader(text)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				header = strings.Split(text, "\t")
				a.Keys = keys
			}
			continue
		}

		row, err := parseRow(text, a.Keys)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		a.Rows = append(a.Rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	if !haveThreshold {
		return nil, fmt.Errorf("missing threshold: %w", ErrMalformed)
	}
	if math.IsNaN(a.Frequency) {
		return nil, fmt.Errorf("missing frequency: %w", ErrMalformed)
	}
	if header == nil {
		return nil, fmt.Errorf("missing data table: %w", ErrMalformed)
	}
	return a, nil
}

// Apply replaces the threshold and points of series with the content of a.
// Latencies are mapped back to the nearest sample; NaN latencies become
// unscorable points.
func Apply(series *waveform.Series, a *Analysis) error {
	for _, row := range a.Rows {
		if findLevel(series, row.Level) == nil {
			return fmt.Errorf("report level %.2f dB: %w", row.Level, waveform.ErrNotFound)
		}
	}

	series.ClearPoints()
	series.Threshold = a.Threshold
	for _, row := range a.Rows {
		w := findLevel(series, row.Level)
		for k, m := range row.Points {
			if math.IsNaN(m.Latency) {
				w.SetPoint(k, 0).Unscorable = true
				continue
			}
			w.SetPoint(k, int(math.Round(math.Abs(m.Latency)*w.FS/1000)))
		}
	}
	return nil
}

// findLevel matches levels with the precision they are written with.
func findLevel(series *waveform.Series, level float64) *waveform.Waveform {
	for _, w := range series.Waveforms() {
		if math.Abs(w.Level-level) < 0.005 {
			return w
		}
	}
	return nil
}

func formatThreshold(v float64) string {
	switch {
	case math.IsNaN(v):
		return "None"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseThreshold(s string) (float64, error) {
	if s == "None" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("threshold %q: %w", s, ErrMalformed)
	}
	return v, nil
}

func parseHeader(text string) ([]waveform.FeatureKey, error) {
	cols := strings.Split(text, "\t")
	if len(cols) < 3 || (len(cols)-3)%2 != 0 {
		return nil, fmt.Errorf("unexpected columns %q: %w", text, ErrMalformed)
	}
	var keys []waveform.FeatureKey
	for i := 3; i < len(cols); i += 2 {
		name, ok := strings.CutSuffix(cols[i], " Latency")
		if !ok || cols[i+1] != name+" Amplitude" {
			return nil, fmt.Errorf("unexpected columns %q, %q: %w", cols[i], cols[i+1], ErrMalformed)
		}
		k, err := waveform.ParseFeatureKey(name)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", cols[i], ErrMalformed)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func parseRow(text string, keys []waveform.FeatureKey) (Row, error) {
	fields := strings.Split(text, "\t")
	if len(fields) != 3+2*len(keys) {
		return Row{}, fmt.Errorf("expected %d fields, got %d: %w", 3+2*len(keys), len(fields), ErrMalformed)
	}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Row{}, fmt.Errorf("field %d %q: %w", i+1, f, ErrMalformed)
		}
		values[i] = v
	}

	row := Row{
		Level:  values[0],
		Mean:   values[1],
		StdDev: values[2],
		Points: make(map[waveform.FeatureKey]Measurement, len(keys)),
	}
	for i, k := range keys {
		row.Points[k] = Measurement{Latency: values[3+2*i], Amplitude: values[4+2*i]}
	}
	return row, nil
}
