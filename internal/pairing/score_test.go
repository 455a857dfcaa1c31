package pairing

import (
	"testing"
	"time"

	"ledger.fit/recon/internal/domain"
	"ledger.fit/recon/internal/linematch"
)

func testConfig() Config {
	return Config{
		WeightSupplier: 0.4,
		WeightDate:     0.3,
		WeightLines:    0.2,
		WeightQtyPrice: 0.1,
		DateWindowDays: 30,
		HighThreshold:  80,
		LowThreshold:   50,
		AutoThreshold:  92,
		AutoMargin:     10,
		SuggestionMin:  10,
		LineMatch: linematch.Config{
			MinScore:              0.55,
			QtyTolerance:          0.01,
			PriceTolerancePennies: 1,
		},
	}
}

func testLines() []domain.LineItem {
	return []domain.LineItem{
		{Description: "Tomatoes", Quantity: 6, UnitPennies: 1200, TotalPennies: 7200},
		{Description: "Olive Oil", Quantity: 2, UnitPennies: 2500, TotalPennies: 5000},
		{Description: "Flour", Quantity: 10, UnitPennies: 450, TotalPennies: 4500},
	}
}

func TestScoreStrongPair(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	inv := &domain.CanonicalInvoice{
		ID:           1,
		SupplierName: "Acme Ltd",
		InvoiceDate:  day,
		HasDate:      true,
		LineItems:    testLines(),
	}
	dn := &domain.CanonicalDocument{
		ID:           7,
		DocType:      domain.DocTypeDeliveryNote,
		SupplierName: "ACME LTD.",
		DocDate:      day,
		HasDate:      true,
		LineItems:    testLines(),
	}

	r := Score(inv, dn, testConfig())
	if r.Score < 90 {
		t.Fatalf("score = %d, want >= 90", r.Score)
	}
	if r.Status != domain.MatchMatched {
		t.Fatalf("status = %q, want matched", r.Status)
	}
	if r.MatchedLines != 3 {
		t.Fatalf("matched lines = %d, want 3", r.MatchedLines)
	}
	if r.SupplierScore != 1 {
		t.Fatalf("supplier score = %v, want 1 after normalization", r.SupplierScore)
	}
}

func TestScorePartialOnDateDrift(t *testing.T) {
	t.Parallel()

	inv := &domain.CanonicalInvoice{
		ID:           1,
		SupplierName: "Acme Ltd",
		InvoiceDate:  time.Date(2026, 4, 16, 0, 0, 0, 0, time.UTC),
		HasDate:      true,
	}
	dn := &domain.CanonicalDocument{
		ID:           7,
		DocType:      domain.DocTypeDeliveryNote,
		SupplierName: "Acme Limited",
		DocDate:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		HasDate:      true,
	}

	// Supplier 0.4, date 45 days -> 0.825 proximity -> 0.2475, no lines.
	r := Score(inv, dn, testConfig())
	if r.Score != 65 {
		t.Fatalf("score = %d, want 65", r.Score)
	}
	if r.Status != domain.MatchPartial {
		t.Fatalf("status = %q, want partial", r.Status)
	}
	if r.DateDeltaDays != 45 {
		t.Fatalf("date delta = %d, want 45", r.DateDeltaDays)
	}
}

func TestScoreUnmatchedOnNoSignals(t *testing.T) {
	t.Parallel()

	inv := &domain.CanonicalInvoice{ID: 1, SupplierName: "Acme Ltd"}
	dn := &domain.CanonicalDocument{
		ID:           7,
		DocType:      domain.DocTypeDeliveryNote,
		SupplierName: "Borough Flour Co",
	}

	r := Score(inv, dn, testConfig())
	if r.Score != 0 {
		t.Fatalf("score = %d, want 0", r.Score)
	}
	if r.Status != domain.MatchUnmatched {
		t.Fatalf("status = %q, want unmatched", r.Status)
	}
}

func TestDateProximity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		delta int
		want  float64
	}{
		{0, 1},
		{30, 1},
		{60, 0.65},
		{90, 0},
		{365, 0},
	}
	for _, tc := range cases {
		got := dateProximity(tc.delta, 30)
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("dateProximity(%d) = %v, want %v", tc.delta, got, tc.want)
		}
	}
}

func TestScoreMonotonicInDateProximity(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	dn := &domain.CanonicalDocument{
		ID:           7,
		DocType:      domain.DocTypeDeliveryNote,
		SupplierName: "Acme Ltd",
		DocDate:      base,
		HasDate:      true,
	}
	invoiceAt := func(day time.Time) *domain.CanonicalInvoice {
		return &domain.CanonicalInvoice{
			ID:           1,
			SupplierName: "Acme Ltd",
			InvoiceDate:  day,
			HasDate:      true,
		}
	}

	near := Score(invoiceAt(base.AddDate(0, 0, 10)), dn, testConfig())
	far := Score(invoiceAt(base.AddDate(0, 0, 50)), dn, testConfig())
	if near.Score < far.Score {
		t.Fatalf("near score %d below far score %d", near.Score, far.Score)
	}
}

func TestRankTieBreaks(t *testing.T) {
	t.Parallel()

	results := []Result{
		{DeliveryNoteID: 9, Score: 70, MatchedLines: 1, DateDeltaDays: 5, HasDateDelta: true},
		{DeliveryNoteID: 4, Score: 70, MatchedLines: 2, DateDeltaDays: 20, HasDateDelta: true},
		{DeliveryNoteID: 2, Score: 70, MatchedLines: 1, DateDeltaDays: 5, HasDateDelta: true},
		{DeliveryNoteID: 5, Score: 85, MatchedLines: 0},
	}
	Rank(results)

	wantOrder := []int64{5, 4, 2, 9}
	for i, want := range wantOrder {
		if results[i].DeliveryNoteID != want {
			t.Fatalf("rank[%d] = dn %d, want %d", i, results[i].DeliveryNoteID, want)
		}
	}
}
