package canonical

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"ledger.fit/recon/internal/domain"
)

func testConfig() Config {
	return Config{
		MoneyTolerancePennies: 2,
		ComparableDelta:       0.1,
	}
}

func invoiceGroup(pages ...*domain.Page) *domain.StitchGroup {
	seg := &domain.Segment{
		DocType: domain.DocTypeInvoice,
		Pages:   pages,
	}
	return &domain.StitchGroup{
		DocType:    domain.DocTypeInvoice,
		Segments:   []*domain.Segment{seg},
		Confidence: 0.9,
	}
}

func invoicePage(id int64, confidence float64, text string) *domain.Page {
	return &domain.Page{
		ID:         id,
		DocType:    domain.DocTypeInvoice,
		Confidence: confidence,
		Text:       text,
	}
}

const fullInvoiceText = `ACME FRESH PRODUCE LTD
Invoice No: INV-1042
Date: 02/03/2026
Tomatoes 6 x 12.00 72.00
Subtotal: 72.00
VAT: 0.00
Total Due: 72.00`

func TestBuildInvoice(t *testing.T) {
	t.Parallel()

	invoice, err := BuildInvoice(invoiceGroup(invoicePage(1, 0.9, fullInvoiceText)), testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if invoice.SupplierName != "ACME FRESH PRODUCE LTD" {
		t.Fatalf("unexpected supplier: %q", invoice.SupplierName)
	}
	if invoice.InvoiceNumber != "INV-1042" {
		t.Fatalf("unexpected invoice number: %q", invoice.InvoiceNumber)
	}
	if !invoice.HasDate || !invoice.InvoiceDate.Equal(time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date: %v (has=%v)", invoice.InvoiceDate, invoice.HasDate)
	}
	if invoice.TotalPennies != 7200 {
		t.Fatalf("unexpected total: %d", invoice.TotalPennies)
	}
	if len(invoice.LineItems) != 1 || invoice.LineItems[0].TotalPennies != 7200 {
		t.Fatalf("unexpected line items: %+v", invoice.LineItems)
	}
	if len(invoice.SourcePageIDs) != 1 || invoice.SourcePageIDs[0] != 1 {
		t.Fatalf("unexpected provenance: %v", invoice.SourcePageIDs)
	}
	if conf, ok := invoice.FieldConfidence["supplier_name"]; !ok || conf <= 0 {
		t.Fatalf("expected supplier field confidence, got %v", invoice.FieldConfidence)
	}
}

func TestBuildInvoiceIsIdempotent(t *testing.T) {
	t.Parallel()

	group := invoiceGroup(invoicePage(1, 0.9, fullInvoiceText))
	cfg := testConfig()

	first, err := BuildInvoice(group, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := BuildInvoice(group, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	firstDigest, err := InvoiceDigest(first)
	if err != nil {
		t.Fatalf("unexpected digest error: %v", err)
	}
	secondDigest, err := InvoiceDigest(second)
	if err != nil {
		t.Fatalf("unexpected digest error: %v", err)
	}
	if !bytes.Equal(firstDigest, secondDigest) {
		t.Fatalf("expected byte-identical canonical records across re-runs")
	}
}

func TestBuildInvoiceWarnsOnComparableDisagreement(t *testing.T) {
	t.Parallel()

	group := invoiceGroup(
		invoicePage(1, 0.85, "ACME FRESH PRODUCE LTD\nInvoice page one"),
		invoicePage(2, 0.84, "NORTHERN MEATS LIMITED\nInvoice page two"),
	)

	invoice, err := BuildInvoice(group, testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if invoice.SupplierName != "ACME FRESH PRODUCE LTD" {
		t.Fatalf("expected highest-confidence page to win, got %q", invoice.SupplierName)
	}
	found := false
	for _, warning := range invoice.Warnings {
		if strings.Contains(warning, "supplier_name disagrees") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a disagreement warning, got %v", invoice.Warnings)
	}
}

func TestBuildInvoiceWarnsOnMoneyMismatch(t *testing.T) {
	t.Parallel()

	text := `ACME LTD
Invoice No: INV-9000
Subtotal: 60.00
VAT: 12.00
Total Due: 80.00`

	invoice, err := BuildInvoice(invoiceGroup(invoicePage(1, 0.9, text)), testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, warning := range invoice.Warnings {
		if strings.Contains(warning, "disagrees with printed total") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a money mismatch warning, got %v", invoice.Warnings)
	}
}

func TestBuildDocument(t *testing.T) {
	t.Parallel()

	page := &domain.Page{
		ID:         4,
		DocType:    domain.DocTypeDeliveryNote,
		Confidence: 0.8,
		Text:       "ACME FRESH PRODUCE LTD\nDelivery Date: 01/03/2026\nTomatoes 6 x 12.00",
	}
	group := &domain.StitchGroup{
		DocType:    domain.DocTypeDeliveryNote,
		Segments:   []*domain.Segment{{DocType: domain.DocTypeDeliveryNote, Pages: []*domain.Page{page}}},
		Confidence: 0.8,
	}

	document, err := BuildDocument(group, testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if document.DocType != domain.DocTypeDeliveryNote {
		t.Fatalf("unexpected doc type: %s", document.DocType)
	}
	if document.SupplierName != "ACME FRESH PRODUCE LTD" {
		t.Fatalf("unexpected supplier: %q", document.SupplierName)
	}
	if len(document.LineItems) != 1 {
		t.Fatalf("expected one delivery line, got %d", len(document.LineItems))
	}

	if _, err := BuildDocument(invoiceGroup(invoicePage(1, 0.9, fullInvoiceText)), testConfig()); err == nil {
		t.Fatalf("expected invoice group to be rejected")
	}
}
