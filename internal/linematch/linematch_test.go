package linematch

import (
	"testing"

	"ledger.fit/recon/internal/domain"
)

func testConfig() Config {
	return Config{
		MinScore:              0.55,
		QtyTolerance:          0.01,
		PriceTolerancePennies: 1,
	}
}

func line(desc string, qty float64, unitPennies int64) domain.LineItem {
	return domain.LineItem{
		Description: desc,
		Quantity:    qty,
		UnitPennies: unitPennies,
	}
}

func TestPairsExactLine(t *testing.T) {
	t.Parallel()

	inv := []domain.LineItem{line("Tomatoes", 6, 1200)}
	dn := []domain.LineItem{line("Tomatoes", 6, 1200)}

	matches := Pairs(inv, dn, testConfig())
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.Status != domain.LineOK {
		t.Fatalf("status = %q, want ok", m.Status)
	}
	if m.InvoiceIndex != 0 || m.DeliveryIndex != 0 {
		t.Fatalf("indexes = %d/%d, want 0/0", m.InvoiceIndex, m.DeliveryIndex)
	}
	if m.Score != 1 {
		t.Fatalf("score = %v, want 1", m.Score)
	}
}

func TestPairsReorderedDescriptionStillMatches(t *testing.T) {
	t.Parallel()

	inv := []domain.LineItem{line("Vine Tomatoes", 6, 1200)}
	dn := []domain.LineItem{line("Tomatoes, Vine", 6, 1200)}

	matches := Pairs(inv, dn, testConfig())
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Status != domain.LineOK {
		t.Fatalf("status = %q, want ok", matches[0].Status)
	}
}

func TestPairsQuantityCheckedBeforePrice(t *testing.T) {
	t.Parallel()

	// Both quantity and price drift; quantity wins the blame.
	inv := []domain.LineItem{line("Tomatoes", 6, 1200)}
	dn := []domain.LineItem{line("Tomatoes", 5, 1100)}

	matches := Pairs(inv, dn, testConfig())
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Status != domain.LineQtyMismatch {
		t.Fatalf("status = %q, want qty_mismatch", matches[0].Status)
	}
}

func TestPairsPriceMismatch(t *testing.T) {
	t.Parallel()

	inv := []domain.LineItem{line("Tomatoes", 6, 1200)}
	dn := []domain.LineItem{line("Tomatoes", 6, 1100)}

	matches := Pairs(inv, dn, testConfig())
	if matches[0].Status != domain.LinePriceMismatch {
		t.Fatalf("status = %q, want price_mismatch", matches[0].Status)
	}
}

func TestPairsPennyDriftTolerated(t *testing.T) {
	t.Parallel()

	inv := []domain.LineItem{line("Tomatoes", 6, 1200)}
	dn := []domain.LineItem{line("Tomatoes", 6, 1201)}

	matches := Pairs(inv, dn, testConfig())
	if matches[0].Status != domain.LineOK {
		t.Fatalf("status = %q, want ok", matches[0].Status)
	}
}

func TestPairsGreedyPrefersBestCandidate(t *testing.T) {
	t.Parallel()

	inv := []domain.LineItem{
		line("Tomatoes", 6, 1200),
		line("Tomato Sauce", 2, 300),
	}
	dn := []domain.LineItem{
		line("Tomato Sauce", 2, 300),
		line("Tomatoes", 6, 1200),
	}

	matches := Pairs(inv, dn, testConfig())
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	got := make(map[int]int, 2)
	for _, m := range matches {
		if m.Status != domain.LineOK {
			t.Fatalf("status = %q, want ok", m.Status)
		}
		got[m.InvoiceIndex] = m.DeliveryIndex
	}
	if got[0] != 1 || got[1] != 0 {
		t.Fatalf("pairing = %v, want 0->1 and 1->0", got)
	}
}

func TestPairsLeftoversSurfaceAsMissing(t *testing.T) {
	t.Parallel()

	inv := []domain.LineItem{
		line("Tomatoes", 6, 1200),
		line("Olive Oil", 1, 2500),
	}
	dn := []domain.LineItem{
		line("Tomatoes", 6, 1200),
		line("Flour", 3, 450),
	}

	matches := Pairs(inv, dn, testConfig())
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}

	var sawOK, sawMissingDN, sawMissingInv bool
	for _, m := range matches {
		switch m.Status {
		case domain.LineOK:
			sawOK = true
		case domain.LineMissingOnDN:
			sawMissingDN = true
			if m.InvoiceIndex != 1 || m.DeliveryIndex != -1 {
				t.Fatalf("missing_on_dn indexes = %d/%d", m.InvoiceIndex, m.DeliveryIndex)
			}
		case domain.LineMissingOnInv:
			sawMissingInv = true
			if m.InvoiceIndex != -1 || m.DeliveryIndex != 1 {
				t.Fatalf("missing_on_inv indexes = %d/%d", m.InvoiceIndex, m.DeliveryIndex)
			}
		}
	}
	if !sawOK || !sawMissingDN || !sawMissingInv {
		t.Fatalf("expected one of each status, got %+v", matches)
	}
}

func TestPairsEmptyInputs(t *testing.T) {
	t.Parallel()

	if got := Pairs(nil, nil, testConfig()); len(got) != 0 {
		t.Fatalf("expected no matches, got %d", len(got))
	}

	matches := Pairs(nil, []domain.LineItem{line("Tomatoes", 6, 1200)}, testConfig())
	if len(matches) != 1 || matches[0].Status != domain.LineMissingOnInv {
		t.Fatalf("unexpected matches %+v", matches)
	}
}

func TestAgreement(t *testing.T) {
	t.Parallel()

	matches := []Match{
		{InvoiceIndex: 0, DeliveryIndex: 0, Status: domain.LineOK},
		{InvoiceIndex: 1, DeliveryIndex: 1, Status: domain.LineQtyMismatch},
		{InvoiceIndex: 2, DeliveryIndex: -1, Status: domain.LineMissingOnDN},
	}
	if got := Agreement(matches); got != 0.5 {
		t.Fatalf("agreement = %v, want 0.5", got)
	}
	if got := Agreement(nil); got != 0 {
		t.Fatalf("agreement of nothing = %v, want 0", got)
	}
}
