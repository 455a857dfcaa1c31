package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Config carries database settings plus every tunable threshold and
// weight used by the pipeline. It is loaded once and passed into the
// stages as immutable values; nothing reads the environment after Load.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"RECON_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"RECON_DB_MAX_CONNS" default:"8"`

	// Duplicate detection.
	DedupePHashMaxHamming int     `envconfig:"RECON_DEDUPE_PHASH_MAX_HAMMING" default:"8"`
	DedupeSimhashFloor    float64 `envconfig:"RECON_DEDUPE_SIMHASH_FLOOR" default:"0.80"`
	DedupeScoreMin        float64 `envconfig:"RECON_DEDUPE_SCORE_MIN" default:"0.85"`

	// Stitching.
	StitchHeaderSimhashMin float64 `envconfig:"RECON_STITCH_HEADER_SIMHASH_MIN" default:"0.86"`
	StitchFooterSimhashMin float64 `envconfig:"RECON_STITCH_FOOTER_SIMHASH_MIN" default:"0.84"`
	StitchScoreMin         float64 `envconfig:"RECON_STITCH_SCORE_MIN" default:"0.72"`
	StitchSupplierMin      float64 `envconfig:"RECON_STITCH_SUPPLIER_MIN" default:"0.50"`
	StitchLowConfidence    float64 `envconfig:"RECON_STITCH_LOW_CONFIDENCE" default:"0.40"`
	StitchMaxGroupSize     int     `envconfig:"RECON_STITCH_MAX_GROUP_SIZE" default:"10"`

	// Canonicalization.
	MoneyTolerancePennies  int64   `envconfig:"RECON_MONEY_TOLERANCE_PENNIES" default:"2"`
	CanonicalComparableGap float64 `envconfig:"RECON_CANONICAL_COMPARABLE_GAP" default:"0.1"`

	// Pairing weights; must sum to 1.0.
	PairWeightSupplier float64 `envconfig:"RECON_PAIR_WEIGHT_SUPPLIER" default:"0.4"`
	PairWeightDate     float64 `envconfig:"RECON_PAIR_WEIGHT_DATE" default:"0.3"`
	PairWeightLines    float64 `envconfig:"RECON_PAIR_WEIGHT_LINES" default:"0.2"`
	PairWeightQtyPrice float64 `envconfig:"RECON_PAIR_WEIGHT_QTY_PRICE" default:"0.1"`

	PairDateWindowDays int `envconfig:"RECON_PAIR_DATE_WINDOW_DAYS" default:"30"`
	PairHighThreshold  int `envconfig:"RECON_PAIR_HIGH_THRESHOLD" default:"80"`
	PairLowThreshold   int `envconfig:"RECON_PAIR_LOW_THRESHOLD" default:"50"`
	PairAutoThreshold  int `envconfig:"RECON_PAIR_AUTO_THRESHOLD" default:"92"`
	PairAutoMargin     int `envconfig:"RECON_PAIR_AUTO_MARGIN" default:"10"`
	PairSuggestionMin  int `envconfig:"RECON_PAIR_SUGGESTION_MIN" default:"10"`

	// Line matching.
	LineMatchMinScore     float64 `envconfig:"RECON_LINE_MATCH_MIN_SCORE" default:"0.55"`
	LineMatchQtyTolerance float64 `envconfig:"RECON_LINE_MATCH_QTY_TOLERANCE" default:"0.01"`
	LinePriceTolerance    int64   `envconfig:"RECON_LINE_PRICE_TOLERANCE_PENNIES" default:"1"`

	// Transaction retry at unit-of-work boundaries.
	TxRetries int `envconfig:"RECON_TX_RETRIES" default:"3"`

	// Parallel per-file workers inside one batch.
	BatchWorkers int `envconfig:"RECON_BATCH_WORKERS" default:"4"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("RECON_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("RECON_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("RECON_DB_MIN_CONNS (%d) cannot exceed RECON_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.DedupePHashMaxHamming < 0 || c.DedupePHashMaxHamming > 64 {
		return fmt.Errorf("RECON_DEDUPE_PHASH_MAX_HAMMING must be in [0,64]")
	}
	sum := c.PairWeightSupplier + c.PairWeightDate + c.PairWeightLines + c.PairWeightQtyPrice
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("pairing weights must sum to 1.0, got %.3f", sum)
	}
	if c.PairHighThreshold < c.PairLowThreshold {
		return fmt.Errorf("RECON_PAIR_HIGH_THRESHOLD (%d) cannot be below RECON_PAIR_LOW_THRESHOLD (%d)", c.PairHighThreshold, c.PairLowThreshold)
	}
	if c.PairDateWindowDays < 1 {
		return fmt.Errorf("RECON_PAIR_DATE_WINDOW_DAYS must be >= 1")
	}
	if c.LineMatchMinScore <= 0 || c.LineMatchMinScore > 1 {
		return fmt.Errorf("RECON_LINE_MATCH_MIN_SCORE must be in (0,1]")
	}
	if c.TxRetries < 1 {
		return fmt.Errorf("RECON_TX_RETRIES must be >= 1")
	}
	if c.BatchWorkers < 1 {
		return fmt.Errorf("RECON_BATCH_WORKERS must be >= 1")
	}
	return nil
}
