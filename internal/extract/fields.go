package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	supplierPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b([A-Z][A-Z\s&\.]+(?:LTD|LIMITED|PLC|INC|CORP|LLC|CO|COMPANY))\b`),
		regexp.MustCompile(`(?im)^(?:from|supplier|company)\s*:\s*([A-Za-z\s&\.]+)$`),
		regexp.MustCompile(`(?i)\b([A-Z][A-Z\s&\.]{3,20})\s+(?:invoice|delivery|receipt)`),
	}

	invoiceNumberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(INV[0-9\-_/]{3,20})\b`),
		regexp.MustCompile(`(?i)\b(?:invoice|inv)(?:\s+(?:no|number))?\.?\s*[#:]\s*([A-Za-z0-9\-_/]{3,20})\b`),
		regexp.MustCompile(`\b([A-Z]{2,4}[0-9]{3,8})\b`),
	}

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})\b`),
		regexp.MustCompile(`\b(\d{4}[/\-.]\d{1,2}[/\-.]\d{1,2})\b`),
	}

	totalAmountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:grand\s+total|final\s+total|total\s+due|amount\s+due|total)\s*:?\s*[£$€]?\s*([\d,]+\.?\d*)\b`),
		regexp.MustCompile(`(?i)[£$€]\s*([\d,]+\.?\d*)\s*(?:total|due)`),
	}

	subtotalPattern = regexp.MustCompile(`(?i)\b(?:subtotal|sub\s+total|net)\s*:?\s*[£$€]?\s*([\d,]+\.?\d*)\b`)
	vatPattern      = regexp.MustCompile(`(?i)\b(?:vat|tax)\s*(?:@?\s*\d{1,2}(?:\.\d+)?%)?\s*:?\s*[£$€]?\s*([\d,]+\.?\d*)\b`)

	pageNumberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:page|p)\s*(\d+)(?:\s*of\s*(\d+))?\b`),
	}

	supplierSuffixes = []string{
		"ltd", "limited", "plc", "inc", "corp", "corporation", "llc", "co",
	}
)

// SupplierName returns the first supplier-looking name found in the
// page text, or an empty string.
func SupplierName(text string) string {
	for _, pattern := range supplierPatterns {
		if m := pattern.FindStringSubmatch(text); len(m) > 1 {
			name := strings.TrimSpace(m[1])
			if name != "" {
				return name
			}
		}
	}
	return ""
}

// NormalizeSupplier lowercases a supplier name and strips common legal
// suffixes and trailing punctuation, so "Acme Ltd" and "ACME LTD."
// compare equal.
func NormalizeSupplier(name string) string {
	normalized := NormalizeText(name)
	if normalized == "" {
		return ""
	}
	normalized = strings.Trim(normalized, " .,")
	for _, suffix := range supplierSuffixes {
		if strings.HasSuffix(normalized, " "+suffix) {
			normalized = strings.TrimSuffix(normalized, " "+suffix)
			break
		}
		if strings.HasSuffix(normalized, "."+suffix) {
			normalized = strings.TrimSuffix(normalized, "."+suffix)
			break
		}
	}
	return strings.Trim(normalized, " .,")
}

// SupplierSimilarity scores two supplier names in [0, 1]. Exact match
// after normalization wins outright; otherwise token and trigram
// overlap cover word reordering and OCR character noise.
func SupplierSimilarity(left, right string) float64 {
	normLeft := NormalizeSupplier(left)
	normRight := NormalizeSupplier(right)
	if normLeft == "" || normRight == "" {
		return 0
	}
	if normLeft == normRight {
		return 1
	}
	if strings.Contains(normLeft, normRight) || strings.Contains(normRight, normLeft) {
		return 0.9
	}

	tokens := TokenJaccard(normLeft, normRight)
	trigrams := TrigramJaccard(normLeft, normRight)
	if tokens > trigrams {
		return tokens
	}
	return trigrams
}

// InvoiceNumbers returns the distinct invoice-number candidates found
// in the text, upper-cased.
func InvoiceNumbers(text string) []string {
	seen := make(map[string]struct{})
	var numbers []string
	for _, pattern := range invoiceNumberPatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			if len(m) < 2 {
				continue
			}
			candidate := strings.ToUpper(strings.TrimSpace(m[1]))
			if candidate == "" {
				continue
			}
			if _, ok := seen[candidate]; ok {
				continue
			}
			seen[candidate] = struct{}{}
			numbers = append(numbers, candidate)
		}
	}
	return numbers
}

// DocumentDate returns the first parseable date found in the text.
func DocumentDate(text string) (time.Time, bool) {
	for _, pattern := range datePatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			if len(m) < 2 {
				continue
			}
			if parsed, ok := ParseDate(m[1]); ok {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"2006/01/02",
	"02.01.2006",
	"2006.01.02",
	"02/01/06",
	"02-01-06",
}

// ParseDate parses the date formats seen on UK supplier paperwork,
// day-first for ambiguous numeric forms.
func ParseDate(raw string) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

// TotalPennies returns the printed total amount as integer pennies.
func TotalPennies(text string) (int64, bool) {
	for _, pattern := range totalAmountPatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			if len(m) < 2 {
				continue
			}
			if pennies, ok := ParsePennies(m[1]); ok {
				return pennies, true
			}
		}
	}
	return 0, false
}

// SubtotalPennies returns the printed subtotal as integer pennies.
func SubtotalPennies(text string) (int64, bool) {
	if m := subtotalPattern.FindStringSubmatch(text); len(m) > 1 {
		return ParsePennies(m[1])
	}
	return 0, false
}

// VATPennies returns the printed VAT amount as integer pennies.
func VATPennies(text string) (int64, bool) {
	if m := vatPattern.FindStringSubmatch(text); len(m) > 1 {
		return ParsePennies(m[1])
	}
	return 0, false
}

// ParsePennies converts a printed decimal amount like "1,234.56" into
// integer pennies. Amounts with more than two decimal places are
// rejected rather than silently rounded.
func ParsePennies(raw string) (int64, bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return 0, false
	}

	whole := cleaned
	fraction := ""
	if dot := strings.IndexByte(cleaned, '.'); dot >= 0 {
		whole = cleaned[:dot]
		fraction = cleaned[dot+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(fraction) > 2 {
		return 0, false
	}
	for len(fraction) < 2 {
		fraction += "0"
	}

	pounds, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, false
	}
	pence, err := strconv.ParseInt(fraction, 10, 64)
	if err != nil {
		return 0, false
	}
	return pounds*100 + pence, true
}

// PageNumber extracts a "page 2 of 3" style cue. Total is zero when the
// cue carries no "of N" part.
func PageNumber(text string) (page, total int, ok bool) {
	for _, pattern := range pageNumberPatterns {
		m := pattern.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		parsed, err := strconv.Atoi(m[1])
		if err != nil || parsed <= 0 {
			continue
		}
		page = parsed
		if len(m) > 2 && m[2] != "" {
			if totalParsed, err := strconv.Atoi(m[2]); err == nil {
				total = totalParsed
			}
		}
		return page, total, true
	}
	return 0, 0, false
}
