package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Line is one parsed table row from a page's text.
type Line struct {
	Description  string
	Quantity     float64
	Unit         string
	UnitPennies  int64
	TotalPennies int64
}

// "Tomatoes 6 x 12.00 72.00" or "6 Tomatoes @ £12.00 = £72.00".
var lineItemPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^(.{2,60}?)\s+(\d+(?:\.\d+)?)\s*(?:x|@)\s*£?([\d,]+\.?\d*)(?:\s*=?\s*£?([\d,]+\.?\d*))?\s*$`),
	regexp.MustCompile(`(?im)^(\d+(?:\.\d+)?)\s+(.{2,60}?)\s+£?([\d,]+\.\d{2})\s+£?([\d,]+\.\d{2})\s*$`),
}

var lineNoiseWords = []string{"subtotal", "total", "vat", "tax", "balance", "amount due"}

// LineItems parses table rows out of page text. Rows mentioning totals
// or VAT are skipped so summary lines never become line items. A
// missing line total is derived from quantity and unit price.
func LineItems(text string) []Line {
	var lines []Line
	seen := make(map[string]struct{})

	for patternIndex, pattern := range lineItemPatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			var description, qtyRaw, unitRaw, totalRaw string
			if patternIndex == 0 {
				description, qtyRaw, unitRaw, totalRaw = m[1], m[2], m[3], m[4]
			} else {
				qtyRaw, description, unitRaw, totalRaw = m[1], m[2], m[3], m[4]
			}

			description = strings.TrimSpace(description)
			if description == "" || isSummaryRow(description) {
				continue
			}
			if _, duplicate := seen[strings.ToLower(description)]; duplicate {
				continue
			}

			quantity, err := strconv.ParseFloat(qtyRaw, 64)
			if err != nil || quantity <= 0 {
				continue
			}
			unitPennies, ok := ParsePennies(unitRaw)
			if !ok {
				continue
			}

			line := Line{
				Description: description,
				Quantity:    quantity,
				UnitPennies: unitPennies,
			}
			if totalRaw != "" {
				if totalPennies, ok := ParsePennies(totalRaw); ok {
					line.TotalPennies = totalPennies
				}
			}
			if line.TotalPennies == 0 {
				line.TotalPennies = int64(quantity*float64(unitPennies) + 0.5)
			}

			seen[strings.ToLower(description)] = struct{}{}
			lines = append(lines, line)
		}
	}
	return lines
}

func isSummaryRow(description string) bool {
	lower := strings.ToLower(description)
	for _, word := range lineNoiseWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
