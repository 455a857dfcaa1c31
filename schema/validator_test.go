package payloadschema

import (
	"encoding/json"
	"testing"
)

func TestValidatePageExtractionPayload_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"filename":"acme_march_invoices.pdf",
		"page_index":0,
		"page_text":"INVOICE\nAcme Ltd\nInvoice No: INV-1042",
		"ocr_confidence":0.93,
		"phash":"9f8e7d6c5b4a3f2e",
		"layout_features":{"table_density":0.41,"logo_region":1},
		"language":"en",
		"uploaded_at":"2026-03-02T09:15:00Z"
	}`)

	extraction, err := ValidatePageExtractionPayload(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}

	if extraction.Filename != "acme_march_invoices.pdf" {
		t.Fatalf("expected filename=acme_march_invoices.pdf, got %q", extraction.Filename)
	}
	if extraction.PageIndex != 0 {
		t.Fatalf("expected page_index=0, got %d", extraction.PageIndex)
	}
	if extraction.PHash == nil {
		t.Fatalf("expected phash to survive validation")
	}
}

func TestValidatePageExtractionPayload_MissingRequired(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"page_index":3
	}`)

	_, err := ValidatePageExtractionPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for missing filename")
	}
}

func TestValidatePageExtractionPayload_BadPHash(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"filename":"scan.pdf",
		"page_index":1,
		"phash":"not-a-hash"
	}`)

	_, err := ValidatePageExtractionPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for malformed phash")
	}
}

func TestValidatePageExtractionPayload_TrailingContent(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"filename":"scan.pdf",
		"page_index":0
	}{"extra":true}`)

	_, err := ValidatePageExtractionPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for trailing content")
	}
}

func TestParsePHash(t *testing.T) {
	hash, err := ParsePHash("00000000000000ff")
	if err != nil {
		t.Fatalf("expected phash to parse, got error: %v", err)
	}
	if hash != 0xff {
		t.Fatalf("expected 0xff, got %#x", hash)
	}

	if _, err := ParsePHash("ff"); err == nil {
		t.Fatalf("expected short phash to be rejected")
	}
	if _, err := ParsePHash("zzzzzzzzzzzzzzzz"); err == nil {
		t.Fatalf("expected non-hex phash to be rejected")
	}
}
