package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/config"
	"github.com/mikey/phish-detect/internal/core"
	"github.com/mikey/phish-detect/internal/factory"
	"github.com/mikey/phish-detect/internal/logging"
	"github.com/mikey/phish-detect/internal/parser"
	"github.com/mikey/phish-detect/internal/rules"
	"github.com/mikey/phish-detect/internal/utils"
)

var (
	// Rule set flags
	rulesFile = flag.String("rules", "", "Rules CSV file (start_segment, end_segment, suspicious_phrase)")

	// Storage flags
	storageType = flag.String("storage", "sqlite", "Storage backend (sqlite, postgres, mysql, memory)")
	sqlitePath  = flag.String("sqlite-path", "phish_detect.db", "SQLite database path")
	postgresDSN = flag.String("postgres-dsn", "", "PostgreSQL connection string")
	mysqlDSN    = flag.String("mysql-dsn", "", "MySQL connection string")

	// Report flags
	report      = flag.Bool("report", false, "Print stored top phrases and recent flagged emails")
	topN        = flag.Int("top", 10, "Number of top phrases in the report")
	recentN     = flag.Int("recent", 10, "Number of recent flagged emails in the report")
	findingsFor = flag.String("findings", "", "Print stored findings for a flagged email identity")
	pruneAge    = flag.Duration("prune", 0, "Delete flagged emails older than this age (e.g. 720h)")

	// Input flags
	inputFile  = flag.String("file", "", "Input email file (use stdin if not specified)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog    = flag.Bool("json-log", false, "Output logs in JSON format")
	configFile = flag.String("config", "", "Path to config file (overrides command line flags)")
)

func main() {
	flag.Parse()

	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var cfg *config.Config
	if *configFile != "" {
		cfg, err = config.New()
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}
		logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
	} else {
		cfg = createConfigFromFlags()
	}

	store, err := factory.NewStoreFactory(cfg, logger).CreateFlagStore()
	if err != nil {
		logger.Fatal("Failed to create flag store", zap.Error(err))
	}
	defer closeStore(store, logger)

	ctx := context.Background()

	switch {
	case *report:
		runReport(ctx, store, logger)
		return
	case *findingsFor != "":
		runFindings(ctx, store, *findingsFor, logger)
		return
	case *pruneAge > 0:
		deleted, err := store.DeleteOlderThan(ctx, time.Now().Add(-*pruneAge))
		if err != nil {
			logger.Fatal("Failed to prune old flagged emails", zap.Error(err))
		}
		fmt.Printf("Deleted %d flagged email(s) older than %v\n", deleted, *pruneAge)
		return
	}

	if *rulesFile == "" {
		logger.Fatal("A rules file is required (-rules)")
	}
	ruleSet, err := rules.NewLoader(logger).LoadFile(*rulesFile)
	if err != nil {
		logger.Fatal("Failed to load rule set", zap.Error(err))
	}

	raw, err := readInput(logger)
	if err != nil {
		logger.Fatal("Failed to read email", zap.Error(err))
	}

	msgParser := parser.New(logger, utils.NewTextProcessor(logger))
	service := core.NewDetectorService(msgParser, ruleSet, store, logger)

	result, outcome, err := service.Inspect(ctx, raw)
	if err != nil {
		logger.Fatal("Inspection failed", zap.Error(err))
	}

	printResult(result, outcome, ruleSet.Len())
}

func readInput(logger *zap.Logger) ([]byte, error) {
	if *inputFile != "" {
		logger.Info("Reading email from file", zap.String("file", *inputFile))
		return os.ReadFile(*inputFile)
	}
	logger.Info("Reading email from stdin")
	return io.ReadAll(os.Stdin)
}

func printResult(result *core.AnalysisResult, outcome core.PersistOutcome, ruleCount int) {
	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", result.Email.From)
	fmt.Printf("To: %s\n", result.Email.To)
	fmt.Printf("Subject: %s\n", result.Email.Subject)
	fmt.Printf("Identity: %s\n", result.Identity)
	fmt.Printf("Rules checked: %d\n", ruleCount)

	fmt.Printf("\n=== Results ===\n")
	if result.IsFlagged {
		fmt.Printf("PHISHING DETECTED - %d suspicious finding(s)\n", len(result.Findings))
		for i, f := range result.Findings {
			fmt.Printf("\nFinding #%d: %q in %s segment (offset %d)\n", i+1, f.Phrase, f.Segment, f.Position)
			fmt.Printf("  Context: %s\n", f.Context)
		}
		fmt.Printf("\nPersist outcome: %s\n", outcome)
	} else {
		fmt.Printf("EMAIL PASSED - no suspicious phrases detected\n")
	}
}

func runReport(ctx context.Context, store core.FlagStore, logger *zap.Logger) {
	phrases, err := store.TopPhrases(ctx, *topN)
	if err != nil {
		logger.Fatal("Failed to query top phrases", zap.Error(err))
	}
	recent, err := store.RecentFlagged(ctx, *recentN)
	if err != nil {
		logger.Fatal("Failed to query recent flagged emails", zap.Error(err))
	}

	fmt.Printf("=== Top Suspicious Phrases ===\n")
	if len(phrases) == 0 {
		fmt.Printf("(none recorded)\n")
	}
	for _, p := range phrases {
		fmt.Printf("%6d  %-10s %q (last seen %s)\n",
			p.Occurrences, p.Segment, p.Phrase, p.LastSeen.Format(time.RFC3339))
	}

	fmt.Printf("\n=== Recently Flagged Emails ===\n")
	if len(recent) == 0 {
		fmt.Printf("(none recorded)\n")
	}
	for _, e := range recent {
		fmt.Printf("%s  %s  from=%s findings=%d\n",
			e.FlaggedAt.Format(time.RFC3339), e.Identity[:12], e.From, e.FindingCount)
	}
}

func runFindings(ctx context.Context, store core.FlagStore, identity string, logger *zap.Logger) {
	findings, err := store.FindingsFor(ctx, identity)
	if err != nil {
		logger.Fatal("Failed to query findings", zap.Error(err))
	}
	if len(findings) == 0 {
		fmt.Printf("No findings stored for identity %s\n", identity)
		return
	}
	for i, f := range findings {
		fmt.Printf("Finding #%d: %q in %s segment (offset %d)\n", i+1, f.Phrase, f.Segment, f.Position)
		fmt.Printf("  Context: %s\n", f.Context)
	}
}

func closeStore(store core.FlagStore, logger *zap.Logger) {
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
		return
	}
	if closer, ok := store.(interface{ Close() }); ok {
		closer.Close()
	}
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags() *config.Config {
	v := config.NewEmptyViper()

	v.Set("storage.type", *storageType)
	if *sqlitePath != "" {
		v.Set("storage.sqlite_path", *sqlitePath)
	}
	if *postgresDSN != "" {
		v.Set("storage.postgres_dsn", *postgresDSN)
	}
	if *mysqlDSN != "" {
		v.Set("storage.mysql_dsn", *mysqlDSN)
	}
	if *rulesFile != "" {
		v.Set("rules.path", *rulesFile)
	}

	return config.NewFromViper(v)
}
