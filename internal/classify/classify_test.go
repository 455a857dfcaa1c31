package classify

import (
	"testing"

	"ledger.fit/recon/internal/domain"
)

const invoicePage = `INVOICE
ACME FRESH PRODUCE LTD
Invoice Number: INV-1042
Invoice Date: 02/03/2026
Bill To: The Corner Kitchen
Qty  Description   Unit Price  Amount
6    Tomatoes      12.00       72.00
Total Due: £72.00`

const deliveryPage = `DELIVERY NOTE
ACME FRESH PRODUCE LTD
Delivery Date: 01/03/2026
Delivered To: The Corner Kitchen
Quantity Received: 6 cases
Received By: J. Smith
Signature: ____________
Delivery Reference: DN-2210`

const utilityPage = `Northern Energy Supplier
Electricity statement
Meter Reading: 04512 to 04711
Consumption: 199 kWh
Standing Charge: 28.5p/day
Usage period 01/02/2026 to 28/02/2026
Gas and electricity usage summary`

func TestPageClassifiesInvoice(t *testing.T) {
	t.Parallel()

	result := Page(invoicePage, nil)
	if result.DocType != domain.DocTypeInvoice {
		t.Fatalf("expected invoice, got %s (reasons: %v)", result.DocType, result.Reasons)
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		t.Fatalf("confidence out of range: %f", result.Confidence)
	}
	if len(result.Reasons) == 0 {
		t.Fatalf("expected reasons for a classified page")
	}
}

func TestPageClassifiesDeliveryNote(t *testing.T) {
	t.Parallel()

	result := Page(deliveryPage, nil)
	if result.DocType != domain.DocTypeDeliveryNote {
		t.Fatalf("expected delivery_note, got %s (reasons: %v)", result.DocType, result.Reasons)
	}
}

func TestPageClassifiesUtility(t *testing.T) {
	t.Parallel()

	result := Page(utilityPage, nil)
	if result.DocType != domain.DocTypeUtility {
		t.Fatalf("expected utility, got %s (reasons: %v)", result.DocType, result.Reasons)
	}
}

func TestPageReceiptShapeCue(t *testing.T) {
	t.Parallel()

	text := "RECEIPT\nPayment Received\nTransaction: 9912\nThank you for your payment\n£4.50"
	narrow := Page(text, map[string]float64{"aspect_ratio": 0.4})
	wide := Page(text, map[string]float64{"aspect_ratio": 1.4})

	if narrow.DocType != domain.DocTypeReceipt {
		t.Fatalf("expected receipt, got %s", narrow.DocType)
	}
	if narrow.Confidence <= wide.Confidence {
		t.Fatalf("expected narrow page to be more confidently a receipt: %f vs %f",
			narrow.Confidence, wide.Confidence)
	}
}

func TestPageUnknownOnEmptyInput(t *testing.T) {
	t.Parallel()

	result := Page("", nil)
	if result.DocType != domain.DocTypeUnknown {
		t.Fatalf("expected unknown for empty page, got %s", result.DocType)
	}
	if result.Confidence != 0 {
		t.Fatalf("expected zero confidence, got %f", result.Confidence)
	}
}

func TestPageNeverPanicsOnGarbage(t *testing.T) {
	t.Parallel()

	result := Page("\x00\x01\x02 ?? ~~ 123", map[string]float64{"aspect_ratio": -1})
	if result.DocType == "" {
		t.Fatalf("expected a terminal doc type, got empty")
	}
}
