package assembly

import (
	"encoding/json"
	"strings"
	"testing"

	"ledger.fit/recon/internal/domain"
)

func pagePayload(t *testing.T, overrides map[string]any) json.RawMessage {
	t.Helper()

	payload := map[string]any{
		"payload_version": "v1",
		"filename":        "invoice.pdf",
		"page_index":      0,
		"page_text":       "ACME FRESH PRODUCE LTD\nInvoice No: INV-1042\nDate: 02/03/2026\nTotal Due: 72.00",
		"ocr_confidence":  0.93,
		"phash":           "f0f0f0f0f0f0f0f0",
		"language":        "en",
	}
	for k, v := range overrides {
		if v == nil {
			delete(payload, k)
			continue
		}
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func TestBuildPage(t *testing.T) {
	t.Parallel()

	page, err := buildPage(pagePayload(t, nil), 3, 9, 0)
	if err != nil {
		t.Fatalf("buildPage: %v", err)
	}
	if page.FileID != 3 || page.BatchID != 9 || page.PageIndex != 0 {
		t.Fatalf("identity fields = %d/%d/%d", page.FileID, page.BatchID, page.PageIndex)
	}
	if page.Language != "en" {
		t.Fatalf("language = %q, want en", page.Language)
	}
	if page.OCRConfidence != 0.93 {
		t.Fatalf("ocr confidence = %v", page.OCRConfidence)
	}
	if !page.Fingerprint.HasPHash || page.Fingerprint.PHash != 0xf0f0f0f0f0f0f0f0 {
		t.Fatalf("phash = %x (has=%v)", page.Fingerprint.PHash, page.Fingerprint.HasPHash)
	}
	if !page.Fingerprint.HasText || len(page.Fingerprint.TextHash) == 0 {
		t.Fatalf("expected text fingerprint")
	}
	if page.DocType != domain.DocTypeInvoice {
		t.Fatalf("doc type = %q, want invoice", page.DocType)
	}
}

func TestBuildPageWithoutOptionalFields(t *testing.T) {
	t.Parallel()

	raw := pagePayload(t, map[string]any{
		"page_text":      nil,
		"ocr_confidence": nil,
		"phash":          nil,
		"language":       nil,
	})
	page, err := buildPage(raw, 1, 1, 0)
	if err != nil {
		t.Fatalf("buildPage: %v", err)
	}
	if page.Fingerprint.HasPHash || page.Fingerprint.HasText {
		t.Fatalf("expected no fingerprint signals, got %+v", page.Fingerprint)
	}
	if page.DocType != domain.DocTypeUnknown {
		t.Fatalf("doc type = %q, want unknown for empty text", page.DocType)
	}
}

func TestBuildPageRejectsIndexMismatch(t *testing.T) {
	t.Parallel()

	_, err := buildPage(pagePayload(t, map[string]any{"page_index": 4}), 1, 1, 0)
	if err == nil {
		t.Fatal("expected index mismatch error")
	}
	if !strings.Contains(err.Error(), "page_index") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuildPageRejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	if _, err := buildPage(json.RawMessage(`{"payload_version":"v2"}`), 1, 1, 0); err == nil {
		t.Fatal("expected schema validation error")
	}
	if _, err := buildPage(pagePayload(t, map[string]any{"phash": "nothex"}), 1, 1, 0); err == nil {
		t.Fatal("expected phash validation error")
	}
}

func TestCurrentBatchGroups(t *testing.T) {
	t.Parallel()

	groups := []domain.DuplicateGroup{
		{GroupUUID: "old", MemberIDs: []int64{1, 2}},
		{GroupUUID: "mixed", MemberIDs: []int64{3, 10}},
	}
	pages := []*domain.Page{{ID: 10}, {ID: 11}}

	kept := currentBatchGroups(groups, pages)
	if len(kept) != 1 || kept[0].GroupUUID != "mixed" {
		t.Fatalf("kept = %+v, want just the mixed group", kept)
	}
}

func TestPagesByFile(t *testing.T) {
	t.Parallel()

	pages := []*domain.Page{
		{ID: 1, FileID: 2, PageIndex: 1},
		{ID: 2, FileID: 1, PageIndex: 0},
		{ID: 3, FileID: 2, PageIndex: 0},
	}
	runs := pagesByFile(pages)
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0][0].FileID != 1 {
		t.Fatalf("first run belongs to file %d, want 1", runs[0][0].FileID)
	}
	if runs[1][0].PageIndex != 0 || runs[1][1].PageIndex != 1 {
		t.Fatalf("second run not ordered by page index")
	}
}
