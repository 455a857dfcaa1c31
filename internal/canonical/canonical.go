// Package canonical merges a stitch group into the single truth record
// exposed to the rest of the system. Field resolution follows one
// policy everywhere: the page with the highest classification
// confidence wins, and a disagreement between comparably confident
// pages is flagged as a warning rather than silently resolved.
// Canonicalization is idempotent; unchanged input yields a byte
// identical record.
package canonical

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"ledger.fit/recon/internal/domain"
	"ledger.fit/recon/internal/extract"
)

// Config carries the canonicalizer tolerances.
type Config struct {
	// MoneyTolerancePennies bounds acceptable drift between the printed
	// total and subtotal+VAT before a warning is recorded.
	MoneyTolerancePennies int64

	// ComparableDelta is the confidence gap under which two disagreeing
	// pages count as "comparably confident".
	ComparableDelta float64
}

type fieldCandidate struct {
	value      string
	confidence float64
	pageID     int64
}

// BuildInvoice produces the canonical invoice for an invoice-typed
// stitch group.
func BuildInvoice(group *domain.StitchGroup, cfg Config) (*domain.CanonicalInvoice, error) {
	if group == nil || len(group.Segments) == 0 {
		return nil, fmt.Errorf("stitch group is empty")
	}
	if group.DocType != domain.DocTypeInvoice {
		return nil, fmt.Errorf("stitch group is %s, not invoice", group.DocType)
	}

	pages := groupPages(group)
	resolution := resolveFields(pages, cfg)

	invoice := &domain.CanonicalInvoice{
		SupplierName:    resolution.values["supplier_name"],
		InvoiceNumber:   resolution.values["invoice_number"],
		Currency:        "GBP",
		FieldConfidence: resolution.confidence,
		Warnings:        resolution.warnings,
		Confidence:      group.Confidence,
		SourcePageIDs:   group.PageIDs(),
	}

	if rawDate := resolution.values["document_date"]; rawDate != "" {
		if parsed, ok := extract.ParseDate(rawDate); ok {
			invoice.InvoiceDate = parsed
			invoice.HasDate = true
		}
	}

	combined := combinedText(pages)
	if subtotal, ok := extract.SubtotalPennies(combined); ok {
		invoice.SubtotalPennies = subtotal
	}
	if vat, ok := extract.VATPennies(combined); ok {
		invoice.VATPennies = vat
	}
	if total, ok := extract.TotalPennies(combined); ok {
		invoice.TotalPennies = total
	}

	invoice.LineItems = collectLineItems(pages)
	invoice.Warnings = append(invoice.Warnings, validateMoney(invoice, cfg)...)
	sort.Strings(invoice.Warnings)
	return invoice, nil
}

// BuildDocument produces the canonical record for a non-invoice group.
func BuildDocument(group *domain.StitchGroup, cfg Config) (*domain.CanonicalDocument, error) {
	if group == nil || len(group.Segments) == 0 {
		return nil, fmt.Errorf("stitch group is empty")
	}
	if group.DocType == domain.DocTypeInvoice {
		return nil, fmt.Errorf("invoice groups canonicalize via BuildInvoice")
	}

	pages := groupPages(group)
	resolution := resolveFields(pages, cfg)

	document := &domain.CanonicalDocument{
		DocType:         group.DocType,
		SupplierName:    resolution.values["supplier_name"],
		DocumentNumber:  resolution.values["invoice_number"],
		FieldConfidence: resolution.confidence,
		Warnings:        resolution.warnings,
		Confidence:      group.Confidence,
		SourcePageIDs:   group.PageIDs(),
	}

	if rawDate := resolution.values["document_date"]; rawDate != "" {
		if parsed, ok := extract.ParseDate(rawDate); ok {
			document.DocDate = parsed
			document.HasDate = true
		}
	}

	document.LineItems = collectLineItems(pages)
	sort.Strings(document.Warnings)
	return document, nil
}

// InvoiceDigest is the byte-stable content digest used to verify
// idempotence across re-runs. Maps marshal with sorted keys, provenance
// and warnings are pre-sorted, so equal inputs digest equally.
func InvoiceDigest(invoice *domain.CanonicalInvoice) ([]byte, error) {
	shadow := *invoice
	shadow.ID = 0
	shadow.UUID = ""
	encoded, err := json.Marshal(shadow)
	if err != nil {
		return nil, fmt.Errorf("encode canonical invoice: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return sum[:], nil
}

// DocumentDigest mirrors InvoiceDigest for non-invoice records.
func DocumentDigest(document *domain.CanonicalDocument) ([]byte, error) {
	shadow := *document
	shadow.ID = 0
	shadow.UUID = ""
	encoded, err := json.Marshal(shadow)
	if err != nil {
		return nil, fmt.Errorf("encode canonical document: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return sum[:], nil
}

type resolved struct {
	values     map[string]string
	confidence map[string]float64
	warnings   []string
}

// Per-field trust in regex extraction, applied on top of the page's own
// classification confidence.
var fieldWeights = map[string]float64{
	"supplier_name":  0.8,
	"invoice_number": 0.8,
	"document_date":  0.7,
}

func resolveFields(pages []*domain.Page, cfg Config) resolved {
	candidates := map[string][]fieldCandidate{}

	for _, page := range pages {
		if supplier := extract.SupplierName(page.Text); supplier != "" {
			candidates["supplier_name"] = append(candidates["supplier_name"], fieldCandidate{
				value:      supplier,
				confidence: page.Confidence * fieldWeights["supplier_name"],
				pageID:     page.ID,
			})
		}
		if numbers := extract.InvoiceNumbers(page.Text); len(numbers) > 0 {
			candidates["invoice_number"] = append(candidates["invoice_number"], fieldCandidate{
				value:      numbers[0],
				confidence: page.Confidence * fieldWeights["invoice_number"],
				pageID:     page.ID,
			})
		}
		if date, ok := extract.DocumentDate(page.Text); ok {
			candidates["document_date"] = append(candidates["document_date"], fieldCandidate{
				value:      date.Format(time.DateOnly),
				confidence: page.Confidence * fieldWeights["document_date"],
				pageID:     page.ID,
			})
		}
	}

	result := resolved{
		values:     make(map[string]string, len(candidates)),
		confidence: make(map[string]float64, len(candidates)),
	}

	fields := make([]string, 0, len(candidates))
	for field := range candidates {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		winner, warning := resolveField(field, candidates[field], cfg)
		result.values[field] = winner.value
		result.confidence[field] = winner.confidence
		if warning != "" {
			result.warnings = append(result.warnings, warning)
		}
	}
	return result
}

// resolveField applies the per-field resolution policy: highest
// confidence wins, ties break on lowest page id for determinism, and a
// disagreeing runner-up within ComparableDelta raises a warning.
func resolveField(field string, list []fieldCandidate, cfg Config) (fieldCandidate, string) {
	sort.SliceStable(list, func(a, b int) bool {
		if list[a].confidence != list[b].confidence {
			return list[a].confidence > list[b].confidence
		}
		return list[a].pageID < list[b].pageID
	})

	winner := list[0]
	for _, candidate := range list[1:] {
		if candidate.value == winner.value {
			continue
		}
		if winner.confidence-candidate.confidence <= cfg.ComparableDelta {
			warning := fmt.Sprintf("%s disagrees between pages %d and %d with comparable confidence",
				field, winner.pageID, candidate.pageID)
			return winner, warning
		}
	}
	return winner, ""
}

func validateMoney(invoice *domain.CanonicalInvoice, cfg Config) []string {
	var warnings []string

	if invoice.SubtotalPennies > 0 && invoice.VATPennies > 0 && invoice.TotalPennies > 0 {
		drift := invoice.SubtotalPennies + invoice.VATPennies - invoice.TotalPennies
		if drift < 0 {
			drift = -drift
		}
		if drift > cfg.MoneyTolerancePennies {
			warnings = append(warnings, fmt.Sprintf(
				"subtotal %d + vat %d disagrees with printed total %d by %d pennies",
				invoice.SubtotalPennies, invoice.VATPennies, invoice.TotalPennies, drift))
		}
	}

	if len(invoice.LineItems) > 0 && invoice.SubtotalPennies > 0 {
		var lineSum int64
		for _, line := range invoice.LineItems {
			lineSum += line.TotalPennies
		}
		drift := lineSum - invoice.SubtotalPennies
		if drift < 0 {
			drift = -drift
		}
		if drift > cfg.MoneyTolerancePennies {
			warnings = append(warnings, fmt.Sprintf(
				"line items sum to %d pennies but subtotal reads %d", lineSum, invoice.SubtotalPennies))
		}
	}

	return warnings
}

func groupPages(group *domain.StitchGroup) []*domain.Page {
	var pages []*domain.Page
	for _, seg := range group.Segments {
		pages = append(pages, seg.Pages...)
	}
	return pages
}

func combinedText(pages []*domain.Page) string {
	var combined string
	for _, page := range pages {
		if combined != "" {
			combined += "\n"
		}
		combined += page.Text
	}
	return combined
}

func collectLineItems(pages []*domain.Page) []domain.LineItem {
	var items []domain.LineItem
	for _, page := range pages {
		for _, line := range extract.LineItems(page.Text) {
			items = append(items, domain.LineItem{
				Description:  line.Description,
				Quantity:     line.Quantity,
				Unit:         line.Unit,
				UnitPennies:  line.UnitPennies,
				TotalPennies: line.TotalPennies,
				Confidence:   page.Confidence,
			})
		}
	}
	return items
}
