package abr

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/himanishpuri/abrpeaks/internal/loader"
	"github.com/himanishpuri/abrpeaks/internal/presenter"
	"github.com/himanishpuri/abrpeaks/internal/waveform"
	"github.com/himanishpuri/abrpeaks/pkg/logger"
)

const testFS = 50000.0

// writeExperiment writes an 8 kHz recording at 50, 70 and 90 dB with two
// Gaussian peaks whose size grows with level.
func writeExperiment(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, "m1 abr_io")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	levels := []float64{90, 70, 50}
	var b strings.Builder
	b.WriteString("frequency,8000,8000,8000\nlevel,90,70,50\ntime,,,\n")
	for i := 0; i < 500; i++ {
		ms := float64(i) * 1000 / testFS
		fmt.Fprintf(&b, "%g", float64(i)/testFS)
		for _, level := range levels {
			gain := (level - 40) / 50
			shift := (90 - level) / 100
			y := gain * (math.Exp(-sq((ms-1.5-shift)/0.1)/2) + 0.7*math.Exp(-sq((ms-2.6-shift)/0.1)/2))
			fmt.Fprintf(&b, ",%g", y)
		}
		b.WriteString("\n")
	}
	if err := os.WriteFile(filepath.Join(dir, loader.WaveformsFile), []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func sq(x float64) float64 { return x * x }

func newTestService(t *testing.T, root string) Service {
	t.Helper()
	svc, err := NewService(
		WithDBPath(filepath.Join(root, "db", "abr.sqlite3")),
		WithReportDir(filepath.Join(root, "reports")),
		WithAnalyzer("jd"),
		WithWaves(2),
		WithFilter(waveform.FilterSettings{}),
		WithLogger(logger.Discard()),
	)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestAnalyzeSaveRestore(t *testing.T) {
	root := t.TempDir()
	dir := writeExperiment(t, root)
	svc := newTestService(t, root)
	ctx := context.Background()

	datasets, err := svc.Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(datasets) != 1 || datasets[0].Frequency != 8000 {
		t.Fatalf("unexpected datasets %v", datasets)
	}

	pending, err := svc.Unprocessed(ctx, []string{root})
	if err != nil || len(pending) != 1 {
		t.Fatalf("Unprocessed before saving = %v, %v", pending, err)
	}

	p, err := svc.AutoAnalyze(datasets[0])
	if err != nil {
		t.Fatalf("AutoAnalyze failed: %v", err)
	}
	if p.State() != presenter.ValleysMarked {
		t.Fatalf("state after AutoAnalyze = %v", p.State())
	}
	top := p.Series().At(2)
	p1, err := top.Point(waveform.P(1))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(p1.Latency()-1.5) > 0.02 {
		t.Errorf("P1 at 90 dB = %v msec, expected 1.5", p1.Latency())
	}
	savedIndex := p1.Index

	if err := p.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	reportPath := filepath.Join(root, "reports", "ABR average waveforms-8kHz-jd-analyzed.txt")
	if _, err := os.Stat(reportPath); err != nil {
		t.Fatalf("report not written: %v", err)
	}

	list, err := svc.ListAnalyses()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Points != 12 || !math.IsInf(list[0].Threshold, -1) {
		t.Fatalf("unexpected stored analyses %+v", list)
	}

	if pending, _ := svc.Unprocessed(ctx, []string{root}); len(pending) != 0 {
		t.Errorf("saved dataset still unprocessed: %v", pending)
	}

	restored, err := svc.Analyze(datasets[0])
	if err != nil {
		t.Fatal(err)
	}
	if restored.State() != presenter.ValleysMarked {
		t.Errorf("restored state = %v", restored.State())
	}
	if pt, _ := restored.Series().At(2).Point(waveform.P(1)); pt == nil || pt.Index != savedIndex {
		t.Errorf("restored P1 %+v, expected index %d", pt, savedIndex)
	}

	// Without the report the store still has the analysis.
	if err := os.Remove(reportPath); err != nil {
		t.Fatal(err)
	}
	fromStore, err := svc.Analyze(datasets[0])
	if err != nil {
		t.Fatal(err)
	}
	if fromStore.State() != presenter.ValleysMarked || !math.IsInf(fromStore.Series().Threshold, -1) {
		t.Errorf("store restore: state %v, threshold %v", fromStore.State(), fromStore.Series().Threshold)
	}

	a, points, err := svc.GetAnalysis(list[0].ID)
	if err != nil || len(points) != 12 || a.Analyzer != "jd" {
		t.Errorf("GetAnalysis = %+v, %d points, %v", a, len(points), err)
	}

	if err := svc.DeleteAnalysis(list[0].ID); err != nil {
		t.Fatalf("DeleteAnalysis failed: %v", err)
	}
	if pending, _ := svc.Unprocessed(ctx, []string{root}); len(pending) != 1 {
		t.Errorf("deleted analysis should make the dataset unprocessed again, got %v", pending)
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeExperiment(t, root)
	svc := newTestService(t, root)

	sc := svc.Scan(context.Background(), []string{root})
	if err := sc.Wait(); err != nil {
		t.Fatal(err)
	}
	msgs, done := sc.Poll()
	if !done || len(msgs) != 2 {
		t.Errorf("expected one dataset and completion, got %d messages (done %v)", len(msgs), done)
	}
}

func TestConfigOptions(t *testing.T) {
	cfg := defaultConfig()
	if cfg.Waves != 5 || cfg.Filter != waveform.DefaultFilter() {
		t.Errorf("unexpected defaults %+v", cfg)
	}

	for _, opt := range []Option{WithWaves(-3), WithAnalyzer("kb"), WithReportDir("out"), WithMinLatency(-1)} {
		opt(cfg)
	}
	if cfg.Waves != 0 || cfg.Analyzer != "kb" || cfg.ReportDir != "out" || cfg.MinLatency != 0 {
		t.Errorf("options not applied: %+v", cfg)
	}
}

func TestAnalyzeAppliesMinLatency(t *testing.T) {
	root := t.TempDir()
	dir := writeExperiment(t, root)
	svc, err := NewService(
		WithDBPath(filepath.Join(root, "db", "abr.sqlite3")),
		WithReportDir(filepath.Join(root, "reports")),
		WithWaves(1),
		WithMinLatency(2.0),
		WithFilter(waveform.FilterSettings{}),
		WithLogger(logger.Discard()),
	)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	datasets, err := svc.Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	p, err := svc.AutoAnalyze(datasets[0])
	if err != nil {
		t.Fatalf("AutoAnalyze failed: %v", err)
	}

	for _, w := range p.Series().Waveforms() {
		if w.MinLatency != 2.0 {
			t.Errorf("%.0f dB: MinLatency = %v, expected 2", w.Level, w.MinLatency)
		}
	}
	// The 1.5 ms peak is hidden, so P1 lands on the later one.
	p1, err := p.Series().At(2).Point(waveform.P(1))
	if err != nil {
		t.Fatalf("P1 not placed: %v", err)
	}
	if p1.Latency() < 2.0 {
		t.Errorf("P1 at %.3f ms, expected no earlier than 2 ms", p1.Latency())
	}
}
