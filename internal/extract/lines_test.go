package extract

import "testing"

func TestLineItems(t *testing.T) {
	t.Parallel()

	text := `Tomatoes 6 x 12.00 72.00
Peppers 4 @ £6.00
Subtotal 60.00 x 1 60.00
Total Due: £72.00`

	lines := LineItems(text)
	if len(lines) != 2 {
		t.Fatalf("expected two line items, got %d: %+v", len(lines), lines)
	}

	if lines[0].Description != "Tomatoes" || lines[0].Quantity != 6 ||
		lines[0].UnitPennies != 1200 || lines[0].TotalPennies != 7200 {
		t.Fatalf("unexpected first line: %+v", lines[0])
	}

	// Missing total derives from quantity and unit price.
	if lines[1].Description != "Peppers" || lines[1].TotalPennies != 2400 {
		t.Fatalf("unexpected second line: %+v", lines[1])
	}
}

func TestLineItemsColumnarLayout(t *testing.T) {
	t.Parallel()

	text := "6 Tomato Cases 12.00 72.00"
	lines := LineItems(text)
	if len(lines) != 1 {
		t.Fatalf("expected one columnar line, got %d", len(lines))
	}
	if lines[0].Description != "Tomato Cases" || lines[0].Quantity != 6 {
		t.Fatalf("unexpected columnar line: %+v", lines[0])
	}
}

func TestLineItemsEmptyText(t *testing.T) {
	t.Parallel()

	if lines := LineItems("no tables here"); len(lines) != 0 {
		t.Fatalf("expected no lines, got %+v", lines)
	}
}
