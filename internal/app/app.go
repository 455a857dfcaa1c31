// Package app wires the CLI commands to the services. Each command
// parses its own flags, loads configuration and opens the database,
// so a failure in one command path never leaks state into another.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"ledger.fit/recon/internal/cli"
	"ledger.fit/recon/internal/config"
	"ledger.fit/recon/internal/db"
	"ledger.fit/recon/internal/linematch"
	"ledger.fit/recon/internal/logging"
	"ledger.fit/recon/internal/pairing"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "suggest":
		return runSuggest(args[1:])
	case "autopair":
		return runAutoPair(args[1:])
	case "confirm":
		return runConfirm(args[1:])
	case "reject":
		return runReject(args[1:])
	case "lines":
		return runLines(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "recon CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  recon <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  ingest    Assemble a batch of page-extraction payloads into canonical documents")
	fmt.Fprintln(os.Stderr, "  suggest   Score an invoice against all delivery notes and store suggestions")
	fmt.Fprintln(os.Stderr, "  autopair  Confirm the best suggestion when it clears the auto threshold")
	fmt.Fprintln(os.Stderr, "  confirm   Link an invoice to a delivery note")
	fmt.Fprintln(os.Stderr, "  reject    Reject a pairing suggestion and unlink any confirmed match")
	fmt.Fprintln(os.Stderr, "  lines     Show the per-line outcome of a confirmed match")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"recon <command> -h\" for command-specific flags.")
}

// bootstrap loads env + config, builds the logger and opens the pool.
func bootstrap(ctx context.Context, envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, *db.Pool, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("initialize logger: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		return nil, zerolog.Nop(), nil, fmt.Errorf("connect to database: %w", err)
	}
	return cfg, logger, pool, nil
}

func pairingConfig(cfg *config.Config) pairing.Config {
	return pairing.Config{
		WeightSupplier: cfg.PairWeightSupplier,
		WeightDate:     cfg.PairWeightDate,
		WeightLines:    cfg.PairWeightLines,
		WeightQtyPrice: cfg.PairWeightQtyPrice,
		DateWindowDays: cfg.PairDateWindowDays,
		HighThreshold:  cfg.PairHighThreshold,
		LowThreshold:   cfg.PairLowThreshold,
		AutoThreshold:  cfg.PairAutoThreshold,
		AutoMargin:     cfg.PairAutoMargin,
		SuggestionMin:  cfg.PairSuggestionMin,
		LineMatch: linematch.Config{
			MinScore:              cfg.LineMatchMinScore,
			QtyTolerance:          cfg.LineMatchQtyTolerance,
			PriceTolerancePennies: cfg.LinePriceTolerance,
		},
	}
}
