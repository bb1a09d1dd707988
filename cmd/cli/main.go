package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/himanishpuri/abrpeaks/internal/loader"
	"github.com/himanishpuri/abrpeaks/internal/scanner"
	"github.com/himanishpuri/abrpeaks/internal/waveform"
	"github.com/himanishpuri/abrpeaks/pkg/abr"
	"github.com/himanishpuri/abrpeaks/pkg/logger"
	"github.com/joho/godotenv"
)

// Global flags
var (
	dbPath     string
	reportDir  string
	analyzer   string
	waves      int
	minLatency float64
	highpass   float64
	lowpass    float64
	order      int
	noFilter   bool
	logLevel   string
)

func registerFlags() {
	// Global flags that can be used with any command
	flag.StringVar(&dbPath, "db", getEnvOrDefault("ABR_DB_PATH", "abrpeaks.sqlite3"), "Path to the SQLite database file")
	flag.StringVar(&reportDir, "reports", getEnvOrDefault("ABR_REPORT_DIR", ""), "Directory for text reports (default: next to each recording)")
	flag.StringVar(&analyzer, "analyzer", getEnvOrDefault("ABR_ANALYZER", ""), "Name of the person scoring, added to report names")
	flag.IntVar(&waves, "waves", 5, "Number of waves to identify (0 scores the threshold only)")
	flag.Float64Var(&minLatency, "min-latency", 0, "Ignore extrema earlier than this many msec when guessing peaks")
	flag.Float64Var(&highpass, "highpass", 300, "High-pass edge of the band-pass filter in Hz")
	flag.Float64Var(&lowpass, "lowpass", 3000, "Low-pass edge of the band-pass filter in Hz")
	flag.IntVar(&order, "order", 1, "Filter order")
	flag.BoolVar(&noFilter, "no-filter", false, "Do not filter waveforms")
	flag.StringVar(&logLevel, "log-level", getEnvOrDefault(logger.LevelEnv, "warn"), "Log level (debug, info, warn, error, off)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func filterSettings() waveform.FilterSettings {
	if noFilter {
		return waveform.FilterSettings{}
	}
	return waveform.FilterSettings{Highpass: highpass, Lowpass: lowpass, Order: order}
}

// createService creates a new ABR service with configured options
func createService() (abr.Service, error) {
	return abr.NewService(
		abr.WithDBPath(dbPath),
		abr.WithReportDir(reportDir),
		abr.WithAnalyzer(analyzer),
		abr.WithWaves(waves),
		abr.WithMinLatency(minLatency),
		abr.WithFilter(filterSettings()),
	)
}

func mustService() abr.Service {
	svc, err := createService()
	if err != nil {
		fmt.Printf("❌ Failed to create service: %v\n", err)
		logger.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	return svc
}

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()
	registerFlags()
	flag.Usage = printUsage
	flag.Parse()

	log := logger.GetLogger()
	if level, err := logger.ParseLevel(logLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("%v", err)
	}

	printBanner()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]
	log.Infof("Executing command: %s", command)

	switch command {
	case "analyze":
		handleAnalyze(args)
	case "batch":
		handleBatch(args)
	case "scan":
		handleScan(args)
	case "list":
		handleList()
	case "show":
		handleShow(args)
	case "delete":
		handleDelete(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
    _    ____  ____                 _
   / \  | __ )|  _ \ _ __   ___  __ _| | _____
  / _ \ |  _ \| |_) | '_ \ / _ \/ _' | |/ / __|
 / ___ \| |_) |  _ <| |_) |  __/ (_| |   <\__ \
/_/   \_\____/|_| \_\ .__/ \___|\__,_|_|\_\___/
                    |_|
        Evoked Response Peak Picking Tool
`
	fmt.Println(banner)
}

// splitArgs separates positional arguments from trailing flags, so that
// "analyze dir --frequencies 8" works like "analyze --frequencies 8 dir".
func splitArgs(args []string) (positional, flags []string) {
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return positional, args[i:]
		}
		positional = append(positional, arg)
	}
	return positional, nil
}

func parseFrequencies(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	var out []float64
	for _, part := range strings.Split(s, ",") {
		khz, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid frequency %q", part)
		}
		out = append(out, khz*1000)
	}
	return out, nil
}

func selectDatasets(ds []loader.Dataset, freqs []float64) []loader.Dataset {
	if len(freqs) == 0 {
		return ds
	}
	var out []loader.Dataset
	for _, d := range ds {
		for _, f := range freqs {
			if d.Frequency == f {
				out = append(out, d)
			}
		}
	}
	return out
}

func handleAnalyze(rawArgs []string) {
	log := logger.GetLogger()

	positional, flagArgs := splitArgs(rawArgs)
	analyzeCmd := flag.NewFlagSet("analyze", flag.ExitOnError)
	frequencies := analyzeCmd.String("frequencies", "", "Comma separated frequencies in kHz (default: all)")
	auto := analyzeCmd.Bool("auto", false, "Guess every feature and save without prompting")
	analyzeCmd.Parse(flagArgs)

	if len(positional) != 1 {
		fmt.Println("Usage: abrpeaks analyze <recording or experiment dir> [--frequencies 8,16] [--auto]")
		os.Exit(1)
	}
	freqs, err := parseFrequencies(*frequencies)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	svc := mustService()
	defer svc.Close()

	if info, err := os.Stat(positional[0]); err == nil && !info.IsDir() {
		fmt.Printf("📂 %s (%s)\n", positional[0], humanize.Bytes(uint64(info.Size())))
	}
	datasets, err := svc.Open(positional[0])
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		log.Errorf("Open failed: %v", err)
		os.Exit(1)
	}

	runDatasets(svc, selectDatasets(datasets, freqs), *auto)
}

func runDatasets(svc abr.Service, datasets []loader.Dataset, auto bool) {
	log := logger.GetLogger()

	// One reader for the whole run so buffered input carries over between datasets.
	sess := newSession(nil, os.Stdin, os.Stdout)
	for i, d := range datasets {
		fmt.Printf("\n🎧 [%d/%d] %s\n", i+1, len(datasets), d)

		if auto {
			p, err := svc.AutoAnalyze(d)
			if err == nil {
				err = p.Save()
			}
			if err != nil {
				fmt.Printf("❌ %s: %v\n", d, err)
				log.Errorf("Automatic analysis of %s failed: %v", d, err)
				continue
			}
			fmt.Println("✅ Saved")
			continue
		}

		p, err := svc.Analyze(d)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", d, err)
			log.Errorf("Analyze %s failed: %v", d, err)
			continue
		}
		sess.p = p
		if err := sess.run(); err != nil {
			if !errors.Is(err, errQuit) {
				log.Errorf("Session ended: %v", err)
			}
			return
		}
	}
}

func handleBatch(rawArgs []string) {
	log := logger.GetLogger()

	dirs, flagArgs := splitArgs(rawArgs)
	batchCmd := flag.NewFlagSet("batch", flag.ExitOnError)
	list := batchCmd.Bool("list", false, "List unprocessed datasets and exit")
	shuffle := batchCmd.Bool("shuffle", false, "Analyze datasets in random order")
	frequencies := batchCmd.String("frequencies", "", "Comma separated frequencies in kHz (default: all)")
	auto := batchCmd.Bool("auto", false, "Guess every feature and save without prompting")
	batchCmd.Parse(flagArgs)

	if len(dirs) == 0 {
		fmt.Println("Usage: abrpeaks batch <dir>... [--list] [--shuffle] [--frequencies 8,16] [--auto]")
		os.Exit(1)
	}
	freqs, err := parseFrequencies(*frequencies)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	svc := mustService()
	defer svc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	fmt.Println("🔍 Looking for unprocessed datasets...")
	pending, err := svc.Unprocessed(ctx, dirs, freqs...)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		log.Errorf("Unprocessed failed: %v", err)
		os.Exit(1)
	}

	if len(pending) == 0 {
		fmt.Println("\n📭 Nothing left to analyze")
		return
	}
	if *list {
		fmt.Printf("\n📚 %d unprocessed dataset(s):\n\n", len(pending))
		for _, d := range pending {
			fmt.Printf("   %s  (%s)\n", d, d.Recording.Filename)
		}
		return
	}
	if *shuffle {
		rand.Shuffle(len(pending), func(i, j int) { pending[i], pending[j] = pending[j], pending[i] })
	}

	runDatasets(svc, pending, *auto)
}

func handleScan(rawArgs []string) {
	dirs, flagArgs := splitArgs(rawArgs)
	scanCmd := flag.NewFlagSet("scan", flag.ExitOnError)
	frequencies := scanCmd.String("frequencies", "", "Comma separated frequencies in kHz (default: all)")
	interval := scanCmd.Duration("interval", 250*time.Millisecond, "Polling interval")
	scanCmd.Parse(flagArgs)

	if len(dirs) == 0 {
		fmt.Println("Usage: abrpeaks scan <dir>... [--frequencies 8,16]")
		os.Exit(1)
	}
	freqs, err := parseFrequencies(*frequencies)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	svc := mustService()
	defer svc.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	fmt.Println("🔍 Scanning (Ctrl-C to stop)...")
	start := time.Now()
	sc := svc.Scan(context.Background(), dirs, freqs...)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	found := 0
	for {
		select {
		case <-interrupt:
			fmt.Println("\n⏹  Stopping after the current recording...")
			sc.Stop()
		case <-ticker.C:
			msgs, done := sc.Poll()
			for _, m := range msgs {
				switch m.Kind {
				case scanner.Append:
					found++
					fmt.Printf("   %s\n", m.Dataset)
				case scanner.Complete:
					if m.Err != nil {
						fmt.Printf("❌ Scan failed: %v\n", m.Err)
					}
				}
			}
			if done {
				sc.Wait()
				fmt.Printf("\n✅ %d unprocessed dataset(s) in %s\n", found, time.Since(start).Round(time.Millisecond))
				return
			}
		}
	}
}

func handleList() {
	log := logger.GetLogger()

	svc := mustService()
	defer svc.Close()

	analyses, err := svc.ListAnalyses()
	if err != nil {
		fmt.Printf("❌ Failed to list analyses: %v\n", err)
		log.Errorf("ListAnalyses failed: %v", err)
		os.Exit(1)
	}

	if len(analyses) == 0 {
		fmt.Println("\n📭 No analyses in database")
		return
	}

	fmt.Printf("\n📚 Found %d analys(e)s:\n\n", len(analyses))
	for i, a := range analyses {
		fmt.Printf("%d. %s @ %g kHz (ID: %s)\n", i+1, a.Filename, a.Frequency/1000, a.ID)
		analyzerName := a.Analyzer
		if analyzerName == "" {
			analyzerName = "-"
		}
		fmt.Printf("   Analyzer: %s | Threshold: %s | %d levels, %s points | saved %s\n",
			analyzerName, thresholdString(a.Threshold), a.Levels, humanize.Comma(int64(a.Points)), humanize.Time(a.UpdatedAt))
		fmt.Println()
	}
	log.Infof("Listed %d analyses", len(analyses))
}

func handleShow(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: abrpeaks show <analysis_id>")
		os.Exit(1)
	}

	svc := mustService()
	defer svc.Close()

	a, points, err := svc.GetAnalysis(args[0])
	if err != nil {
		fmt.Printf("❌ Analysis not found (ID: %s): %v\n", args[0], err)
		os.Exit(1)
	}

	fmt.Printf("\n%s @ %g kHz\n", a.Filename, a.Frequency/1000)
	fmt.Printf("Threshold: %s | Filter: %s\n\n", thresholdString(a.Threshold), a.Filter)
	fmt.Printf("%8s  %-4s %12s %12s\n", "Level", "", "Latency", "Amplitude")
	for _, p := range points {
		flagText := ""
		switch {
		case p.Unscorable:
			flagText = " unscorable"
		case p.Estimated:
			flagText = " estimated"
		}
		fmt.Printf("%8.2f  %-4s %12s %12s%s\n", p.Level, p.Feature, formatValue(p.Latency), formatValue(p.Amplitude), flagText)
	}
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func handleDelete(args []string) {
	log := logger.GetLogger()

	if len(args) < 1 {
		fmt.Println("Usage: abrpeaks delete <analysis_id>")
		os.Exit(1)
	}

	svc := mustService()
	defer svc.Close()

	a, _, err := svc.GetAnalysis(args[0])
	if err != nil {
		fmt.Printf("❌ Analysis not found (ID: %s)\n", args[0])
		log.Warnf("Analysis %s not found: %v", args[0], err)
		os.Exit(1)
	}

	if err := svc.DeleteAnalysis(a.ID); err != nil {
		fmt.Printf("❌ Failed to delete analysis: %v\n", err)
		log.Errorf("DeleteAnalysis failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("\n✅ Successfully deleted analysis:\n")
	fmt.Printf("   ID:        %s\n", a.ID)
	fmt.Printf("   Recording: %s\n", a.Filename)
	fmt.Printf("   Frequency: %g kHz\n", a.Frequency/1000)
	log.Infof("Deleted analysis ID=%s", a.ID)
}

func printUsage() {
	fmt.Println("abrpeaks - evoked response peak picking CLI")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --db <path>          Path to SQLite database (env: ABR_DB_PATH, default: abrpeaks.sqlite3)")
	fmt.Println("  --reports <dir>      Directory for text reports (env: ABR_REPORT_DIR, default: next to the recording)")
	fmt.Println("  --analyzer <name>    Analyzer name added to report names (env: ABR_ANALYZER)")
	fmt.Println("  --waves <n>          Number of waves to identify (default: 5, 0 scores the threshold only)")
	fmt.Println("  --min-latency <ms>   Ignore earlier extrema when guessing peaks (default: 0)")
	fmt.Println("  --highpass <hz>      Filter high-pass edge (default: 300)")
	fmt.Println("  --lowpass <hz>       Filter low-pass edge (default: 3000)")
	fmt.Println("  --order <n>          Filter order (default: 1)")
	fmt.Println("  --no-filter          Do not filter waveforms")
	fmt.Println("  --log-level <level>  debug, info, warn, error or off (env: ABR_LOG_LEVEL)")
	fmt.Println("\nUsage:")
	fmt.Println("  abrpeaks [global-options] analyze <recording> [--frequencies 8,16] [--auto]")
	fmt.Println("  abrpeaks [global-options] batch <dir>... [--list] [--shuffle] [--frequencies 8,16] [--auto]")
	fmt.Println("  abrpeaks [global-options] scan <dir>... [--frequencies 8,16]")
	fmt.Println("  abrpeaks [global-options] list")
	fmt.Println("  abrpeaks [global-options] show <analysis_id>")
	fmt.Println("  abrpeaks [global-options] delete <analysis_id>")
	fmt.Println("\nExamples:")
	fmt.Println("  # Score one experiment interactively")
	fmt.Println("  abrpeaks --analyzer jd analyze \"data/m1 abr_io\"")
	fmt.Println()
	fmt.Println("  # Work through everything not yet analysed, in random order")
	fmt.Println("  abrpeaks --analyzer jd batch data --shuffle")
	fmt.Println()
	fmt.Println("  # Threshold only, without filtering")
	fmt.Println("  abrpeaks --waves 0 --no-filter analyze \"data/m1 abr_io\" --frequencies 8")
}
