package abr

import (
	"math"

	"github.com/himanishpuri/abrpeaks/internal/peakdetect"
	"github.com/himanishpuri/abrpeaks/internal/waveform"
)

type Config struct {
	DBPath string
	// ReportDir receives text reports. Empty writes them next to each
	// recording.
	ReportDir string
	Analyzer  string
	Filter    waveform.FilterSettings
	// Waves is the number of peaks seeded on the highest level. Zero scores
	// the threshold only.
	Waves int
	// MinLatency (msec) hides earlier extrema from automatic peak placement
	// on every loaded waveform. Zero disables it.
	MinLatency float64
	Detect     peakdetect.DetectOptions
	Prior      peakdetect.PriorOptions
	Logger     Logger
	Storage    Storage
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithReportDir(dir string) Option {
	return func(c *Config) {
		c.ReportDir = dir
	}
}

func WithAnalyzer(name string) Option {
	return func(c *Config) {
		c.Analyzer = name
	}
}

func WithFilter(f waveform.FilterSettings) Option {
	return func(c *Config) {
		c.Filter = f
	}
}

func WithWaves(n int) Option {
	return func(c *Config) {
		if n < 0 {
			n = 0
		}
		c.Waves = n
	}
}

func WithMinLatency(ms float64) Option {
	return func(c *Config) {
		if ms < 0 || math.IsNaN(ms) {
			ms = 0
		}
		c.MinLatency = ms
	}
}

func WithDetectOptions(o peakdetect.DetectOptions) Option {
	return func(c *Config) {
		c.Detect = o
	}
}

func WithPriorOptions(o peakdetect.PriorOptions) Option {
	return func(c *Config) {
		c.Prior = o
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath: "abrpeaks.sqlite3",
		Filter: waveform.DefaultFilter(),
		Waves:  5,
		Detect: peakdetect.DefaultDetectOptions(),
		Prior:  peakdetect.DefaultPriorOptions(),
		Logger: nil,
	}
}
