package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/himanishpuri/abrpeaks/internal/loader"
	"github.com/himanishpuri/abrpeaks/internal/waveform"
	"github.com/himanishpuri/abrpeaks/pkg/abr"
	"github.com/himanishpuri/abrpeaks/pkg/logger"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service abr.Service
	config  *ServerConfig
	log     abr.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	Analyzer       string
	AllowedOrigins []string
}

// NewServer creates a new server instance
func NewServer(service abr.Service, config *ServerConfig) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     logger.GetLogger().With("server"),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "abrpeaks API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":         "GET /health",
			"metrics":        "GET /api/health/metrics",
			"analyses":       "GET /api/analyses",
			"getAnalysis":    "GET /api/analyses/{id}",
			"deleteAnalysis": "DELETE /api/analyses/{id}",
			"unprocessed":    "GET /api/unprocessed?dir=...&frequency=8",
			"autoAnalyze":    "POST /api/auto",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	analyses, err := s.service.ListAnalyses()
	if err != nil {
		s.log.Errorf("Failed to list analyses: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}

	points := 0
	for _, a := range analyses {
		points += a.Points
	}
	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Status:        "healthy",
		DatabasePath:  s.config.DBPath,
		AnalysisCount: len(analyses),
		PointCount:    points,
		Analyzer:      s.config.Analyzer,
	})
}

func toDTO(a abr.Analysis) AnalysisDTO {
	return AnalysisDTO{
		ID:        a.ID,
		Filename:  a.Filename,
		Frequency: a.Frequency,
		Analyzer:  a.Analyzer,
		Threshold: formatThreshold(a.Threshold),
		Filter:    a.Filter,
		Levels:    a.Levels,
		Points:    a.Points,
		UpdatedAt: a.UpdatedAt,
	}
}

// handleListAnalyses handles GET /api/analyses
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	analyses, err := s.service.ListAnalyses()
	if err != nil {
		s.log.Errorf("Failed to list analyses: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve analyses")
		return
	}

	dtos := make([]AnalysisDTO, len(analyses))
	for i, a := range analyses {
		dtos[i] = toDTO(a)
	}
	s.respondJSON(w, http.StatusOK, ListAnalysesResponse{
		Analyses: dtos,
		Count:    len(dtos),
	})
}

// handleGetAnalysis handles GET /api/analyses/{id}
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request, id string) {
	a, points, err := s.service.GetAnalysis(id)
	if err != nil {
		s.respondLookupError(w, id, err)
		return
	}

	resp := AnalysisDetailResponse{
		AnalysisDTO: toDTO(*a),
		PointList:   make([]PointDTO, len(points)),
	}
	for i, p := range points {
		resp.PointList[i] = PointDTO{
			Level:      p.Level,
			Feature:    p.Feature,
			Index:      p.Index,
			Latency:    nullable(p.Latency),
			Amplitude:  nullable(p.Amplitude),
			Unscorable: p.Unscorable,
			Estimated:  p.Estimated,
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleDeleteAnalysis handles DELETE /api/analyses/{id}
func (s *Server) handleDeleteAnalysis(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.service.DeleteAnalysis(id); err != nil {
		s.respondLookupError(w, id, err)
		return
	}

	s.log.Infof("Deleted analysis %s", id)
	s.respondJSON(w, http.StatusOK, DeleteAnalysisResponse{
		Message: "Analysis deleted successfully",
		ID:      id,
	})
}

func (s *Server) respondLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, waveform.ErrNotFound) {
		s.log.Warnf("Analysis not found: %s", id)
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Analysis with ID %s not found", id))
		return
	}
	s.log.Errorf("Analysis %s: %v", id, err)
	s.respondError(w, http.StatusInternalServerError, "Failed to access analysis")
}

func parseKHz(values []string) ([]float64, error) {
	var out []float64
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			khz, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil || khz <= 0 {
				return nil, fmt.Errorf("invalid frequency %q", part)
			}
			out = append(out, khz*1000)
		}
	}
	return out, nil
}

// handleUnprocessed handles GET /api/unprocessed
func (s *Server) handleUnprocessed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query := r.URL.Query()
	dirs := query["dir"]
	if len(dirs) == 0 {
		s.respondError(w, http.StatusBadRequest, "at least one dir is required")
		return
	}
	freqs, err := parseKHz(query["frequency"])
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	datasets, err := s.service.Unprocessed(ctx, dirs, freqs...)
	if err != nil {
		s.log.Errorf("Failed to scan %v: %v", dirs, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to scan directories")
		return
	}

	resp := UnprocessedResponse{Datasets: make([]DatasetDTO, len(datasets)), Count: len(datasets)}
	for i, d := range datasets {
		resp.Datasets[i] = DatasetDTO{Name: d.String(), Filename: d.Recording.Filename, Frequency: d.Frequency}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleAuto handles POST /api/auto. Every selected dataset of the recording
// gets a response at all levels and guessed peaks and valleys, then is saved.
func (s *Server) handleAuto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req AutoAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	datasets, err := s.service.Open(req.Path)
	if err != nil {
		if errors.Is(err, loader.ErrNoRecording) || errors.Is(err, fs.ErrNotExist) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp := AutoAnalyzeResponse{}
	for _, d := range datasets {
		if !wanted(d.Frequency, req.Frequencies) {
			continue
		}
		result := AutoResultDTO{Dataset: d.String(), Frequency: d.Frequency}
		p, err := s.service.AutoAnalyze(d)
		if err == nil {
			err = p.Save()
		}
		if err != nil {
			s.log.Warnf("Automatic analysis of %s failed: %v", d, err)
			result.Error = err.Error()
		} else {
			result.Saved = true
			resp.Saved++
		}
		resp.Results = append(resp.Results, result)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func wanted(freq float64, khz []float64) bool {
	if len(khz) == 0 {
		return true
	}
	for _, k := range khz {
		if k*1000 == freq {
			return true
		}
	}
	return false
}

// handleAnalyses routes requests to /api/analyses
func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListAnalyses(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleAnalysis routes requests to /api/analyses/{id}
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/analyses/")
	if id == "" || strings.Contains(id, "/") {
		s.respondError(w, http.StatusBadRequest, "Analysis ID required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetAnalysis(w, r, id)
	case http.MethodDelete:
		s.handleDeleteAnalysis(w, r, id)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
