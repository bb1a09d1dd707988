package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/himanishpuri/abrpeaks/pkg/abr"
	"github.com/joho/godotenv"
)

var (
	port           int
	dbPath         string
	reportDir      string
	analyzer       string
	waves          int
	allowedOrigins string
)

func registerFlags() {
	flag.IntVar(&port, "port", 8080, "HTTP server port")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("ABR_DB_PATH", "abrpeaks.sqlite3"), "Path to SQLite database")
	flag.StringVar(&reportDir, "reports", getEnvOrDefault("ABR_REPORT_DIR", ""), "Directory for text reports")
	flag.StringVar(&analyzer, "analyzer", getEnvOrDefault("ABR_ANALYZER", "auto"), "Analyzer name used for automatic analyses")
	flag.IntVar(&waves, "waves", 5, "Number of waves to identify")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	_ = godotenv.Load()
	registerFlags()
	flag.Parse()

	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	service, err := abr.NewService(
		abr.WithDBPath(dbPath),
		abr.WithReportDir(reportDir),
		abr.WithAnalyzer(analyzer),
		abr.WithWaves(waves),
	)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		Analyzer:       analyzer,
		AllowedOrigins: origins,
	}

	server := NewServer(service, config)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
