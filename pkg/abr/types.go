package abr

import "time"

// Analysis describes a saved analysis.
type Analysis struct {
	ID        string
	Filename  string  // recording the analysis belongs to
	Frequency float64 // Hz
	Analyzer  string
	Threshold float64 // dB SPL; NaN unset, +Inf no response, -Inf all levels respond
	Filter    string
	Levels    int
	Points    int
	UpdatedAt time.Time
}

// Point is one saved feature.
type Point struct {
	Level      float64
	Feature    string // e.g. "P1"
	Index      int
	Latency    float64 // msec, NaN when unscorable
	Amplitude  float64
	Unscorable bool
	Estimated  bool
}
