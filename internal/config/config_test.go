package config

import "testing"

func validConfig() Config {
	return Config{
		Environment:           "local",
		LogLevel:              "info",
		DatabaseURL:           "postgres://localhost/recon",
		DBMinConns:            1,
		DBMaxConns:            8,
		DedupePHashMaxHamming: 8,
		DedupeSimhashFloor:    0.8,
		DedupeScoreMin:        0.85,
		StitchHeaderSimhashMin: 0.86,
		StitchFooterSimhashMin: 0.84,
		StitchScoreMin:         0.72,
		StitchSupplierMin:      0.5,
		StitchLowConfidence:    0.4,
		StitchMaxGroupSize:     10,
		MoneyTolerancePennies:  2,
		PairWeightSupplier:     0.4,
		PairWeightDate:         0.3,
		PairWeightLines:        0.2,
		PairWeightQtyPrice:     0.1,
		PairDateWindowDays:     30,
		PairHighThreshold:      80,
		PairLowThreshold:       50,
		PairAutoThreshold:      92,
		PairAutoMargin:         10,
		PairSuggestionMin:      10,
		LineMatchMinScore:      0.55,
		LineMatchQtyTolerance:  0.01,
		LinePriceTolerance:     1,
		TxRetries:              3,
		BatchWorkers:           4,
	}
}

func TestValidate_OK(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_RequiresDatabaseURL(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.DatabaseURL = "  "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for blank DATABASE_URL")
	}
}

func TestValidate_PairingWeightsMustSumToOne(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.PairWeightSupplier = 0.9
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for weights summing past 1.0")
	}
}

func TestValidate_ThresholdOrdering(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.PairHighThreshold = 40
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when high threshold below low threshold")
	}
}
