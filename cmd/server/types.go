package main

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// MaxAutoFrequencies bounds the frequency filter of one automatic analysis request.
const MaxAutoFrequencies = 32

// AutoAnalyzeRequest is the request body for POST /api/auto
type AutoAnalyzeRequest struct {
	// Path is a recording file or experiment directory readable by the server
	Path string `json:"path"`

	// Frequencies in kHz; empty analyses every frequency of the recording
	Frequencies []float64 `json:"frequencies,omitempty"`
}

// Validate checks if the request is valid
func (r *AutoAnalyzeRequest) Validate() error {
	if r.Path == "" {
		return fmt.Errorf("path is required")
	}
	if len(r.Frequencies) > MaxAutoFrequencies {
		return fmt.Errorf("too many frequencies: %d (maximum: %d)", len(r.Frequencies), MaxAutoFrequencies)
	}
	for _, f := range r.Frequencies {
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("invalid frequency: %v", f)
		}
	}
	return nil
}

// AutoAnalyzeResponse lists the outcome per dataset.
type AutoAnalyzeResponse struct {
	Results []AutoResultDTO `json:"results"`
	Saved   int             `json:"saved"`
}

type AutoResultDTO struct {
	Dataset   string  `json:"dataset"`
	Frequency float64 `json:"frequency_hz"`
	Saved     bool    `json:"saved"`
	Error     string  `json:"error,omitempty"`
}

// AnalysisDTO represents a stored analysis in API responses. Threshold is a
// string because it may be "NaN" (not set), "+Inf" (no response) or "-Inf"
// (response at every level).
type AnalysisDTO struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Frequency float64   `json:"frequency_hz"`
	Analyzer  string    `json:"analyzer"`
	Threshold string    `json:"threshold_db"`
	Filter    string    `json:"filter"`
	Levels    int       `json:"levels"`
	Points    int       `json:"points"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PointDTO is one marked feature. Latency and amplitude are null when the
// point is unscorable.
type PointDTO struct {
	Level      float64  `json:"level_db"`
	Feature    string   `json:"feature"`
	Index      int      `json:"index"`
	Latency    *float64 `json:"latency_ms"`
	Amplitude  *float64 `json:"amplitude"`
	Unscorable bool     `json:"unscorable,omitempty"`
	Estimated  bool     `json:"estimated,omitempty"`
}

type AnalysisDetailResponse struct {
	AnalysisDTO
	PointList []PointDTO `json:"point_list"`
}

// ListAnalysesResponse is the response for GET /api/analyses
type ListAnalysesResponse struct {
	Analyses []AnalysisDTO `json:"analyses"`
	Count    int           `json:"count"`
}

// DeleteAnalysisResponse is the response for DELETE /api/analyses/{id}
type DeleteAnalysisResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// DatasetDTO names an unprocessed dataset.
type DatasetDTO struct {
	Name      string  `json:"name"`
	Filename  string  `json:"filename"`
	Frequency float64 `json:"frequency_hz"`
}

type UnprocessedResponse struct {
	Datasets []DatasetDTO `json:"datasets"`
	Count    int          `json:"count"`
}

// MetricsResponse provides server health and database metrics
type MetricsResponse struct {
	Status        string `json:"status"`
	DatabasePath  string `json:"database_path"`
	AnalysisCount int    `json:"analysis_count"`
	PointCount    int    `json:"point_count"`
	Analyzer      string `json:"analyzer"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func formatThreshold(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
