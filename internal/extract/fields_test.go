package extract

import (
	"testing"
	"time"
)

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	if got := NormalizeText("  INVOICE \n\t No:  INV-1042  "); got != "invoice no: inv-1042" {
		t.Fatalf("unexpected normalized text: %q", got)
	}
	if got := NormalizeText("   "); got != "" {
		t.Fatalf("expected blank input to normalize to empty string, got %q", got)
	}
}

func TestTokenAndTrigramJaccard(t *testing.T) {
	t.Parallel()

	if got := TokenJaccard("acme fresh produce", "acme fresh produce"); got != 1 {
		t.Fatalf("expected identical texts to score 1, got %f", got)
	}
	if got := TokenJaccard("acme fresh produce", "totally different words"); got != 0 {
		t.Fatalf("expected disjoint texts to score 0, got %f", got)
	}
	if got := TrigramJaccard("acme fresh produce", "acme frosh produce"); got <= 0.5 {
		t.Fatalf("expected OCR-noisy variant to keep high trigram overlap, got %f", got)
	}
	if got := TrigramJaccard("", "anything"); got != 0 {
		t.Fatalf("expected empty text to score 0, got %f", got)
	}
}

func TestSupplierName(t *testing.T) {
	t.Parallel()

	text := "ACME FRESH PRODUCE LTD\n12 Market Road\nInvoice No: INV-1042"
	if got := SupplierName(text); got != "ACME FRESH PRODUCE LTD" {
		t.Fatalf("unexpected supplier name: %q", got)
	}
	if got := SupplierName("no company names here"); got != "" {
		t.Fatalf("expected no supplier, got %q", got)
	}
}

func TestNormalizeSupplier(t *testing.T) {
	t.Parallel()

	if got := NormalizeSupplier("Acme Ltd"); got != "acme" {
		t.Fatalf("unexpected normalized supplier: %q", got)
	}
	if got := NormalizeSupplier("ACME LTD."); got != "acme" {
		t.Fatalf("unexpected normalized supplier: %q", got)
	}
	if got := NormalizeSupplier("  Northern Foods PLC  "); got != "northern foods" {
		t.Fatalf("unexpected normalized supplier: %q", got)
	}
}

func TestSupplierSimilarity(t *testing.T) {
	t.Parallel()

	if got := SupplierSimilarity("Acme Ltd", "ACME LTD."); got != 1 {
		t.Fatalf("expected normalized-equal suppliers to score 1, got %f", got)
	}
	if got := SupplierSimilarity("Acme Fresh Produce", "Acme"); got < 0.9 {
		t.Fatalf("expected containment to score at least 0.9, got %f", got)
	}
	if got := SupplierSimilarity("Acme Ltd", ""); got != 0 {
		t.Fatalf("expected blank supplier to score 0, got %f", got)
	}
}

func TestInvoiceNumbers(t *testing.T) {
	t.Parallel()

	numbers := InvoiceNumbers("Invoice No: INV-1042\nRef INV-1042 continued")
	if len(numbers) == 0 {
		t.Fatalf("expected at least one invoice number")
	}
	if numbers[0] != "INV-1042" {
		t.Fatalf("unexpected first invoice number: %q", numbers[0])
	}
	for i := 1; i < len(numbers); i++ {
		if numbers[i] == numbers[0] {
			t.Fatalf("expected deduplicated invoice numbers, got %v", numbers)
		}
	}
}

func TestDocumentDate(t *testing.T) {
	t.Parallel()

	parsed, ok := DocumentDate("Invoice Date: 02/03/2026")
	if !ok {
		t.Fatalf("expected a date to parse")
	}
	want := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	if !parsed.Equal(want) {
		t.Fatalf("expected day-first parse %v, got %v", want, parsed)
	}

	if _, ok := DocumentDate("no dates anywhere"); ok {
		t.Fatalf("expected no date")
	}
}

func TestParsePennies(t *testing.T) {
	t.Parallel()

	if got, ok := ParsePennies("1,234.56"); !ok || got != 123456 {
		t.Fatalf("unexpected pennies for 1,234.56: %d (ok=%v)", got, ok)
	}
	if got, ok := ParsePennies("72"); !ok || got != 7200 {
		t.Fatalf("unexpected pennies for 72: %d (ok=%v)", got, ok)
	}
	if got, ok := ParsePennies("12.5"); !ok || got != 1250 {
		t.Fatalf("unexpected pennies for 12.5: %d (ok=%v)", got, ok)
	}
	if _, ok := ParsePennies("12.345"); ok {
		t.Fatalf("expected three decimal places to be rejected")
	}
	if _, ok := ParsePennies("not money"); ok {
		t.Fatalf("expected garbage to be rejected")
	}
}

func TestTotalPennies(t *testing.T) {
	t.Parallel()

	got, ok := TotalPennies("Subtotal: £60.00\nVAT: £12.00\nTotal Due: £72.00")
	if !ok || got != 7200 {
		t.Fatalf("unexpected total: %d (ok=%v)", got, ok)
	}
}

func TestPageNumber(t *testing.T) {
	t.Parallel()

	page, total, ok := PageNumber("continued...\nPage 2 of 3")
	if !ok || page != 2 || total != 3 {
		t.Fatalf("unexpected page cue: page=%d total=%d ok=%v", page, total, ok)
	}

	page, total, ok = PageNumber("Page 4")
	if !ok || page != 4 || total != 0 {
		t.Fatalf("unexpected bare page cue: page=%d total=%d ok=%v", page, total, ok)
	}

	if _, _, ok := PageNumber("no cues"); ok {
		t.Fatalf("expected no page cue")
	}
}
