// Package classify assigns a document type to a single page using
// weighted keyword and layout votes. Classification never fails:
// unclassifiable input lands on DocTypeUnknown with zero confidence.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"ledger.fit/recon/internal/domain"
	"ledger.fit/recon/internal/extract"
)

var keywords = map[domain.DocType][]string{
	domain.DocTypeInvoice: {
		"invoice", "bill", "statement", "account", "payment due",
		"invoice number", "invoice date", "billing", "amount due",
		"total due", "balance", "outstanding", "invoice to", "bill to",
	},
	domain.DocTypeDeliveryNote: {
		"delivery note", "goods received", "pod", "delivery date",
		"received by", "signature", "delivery address", "delivered to",
		"quantity received", "received quantity", "delivery reference",
	},
	domain.DocTypeReceipt: {
		"receipt", "payment received", "thank you for your payment",
		"transaction", "purchase", "sale", "cash register", "register",
		"payment confirmation", "transaction receipt", "payment slip",
	},
	domain.DocTypeUtility: {
		"energy", "kwh", "standing charge", "gas", "electricity", "utility",
		"meter reading", "consumption", "usage", "energy supplier",
		"electric supplier", "gas supplier", "water", "sewerage",
	},
}

var (
	tableIndicators = []string{"qty", "quantity", "description", "unit", "price", "amount", "total"}
	currencyPattern = regexp.MustCompile(`[£$€]\s*[\d,]+\.?\d*`)
	numberPattern   = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	datePattern     = regexp.MustCompile(`\b\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}\b`)
)

// Result is the outcome of classifying one page.
type Result struct {
	DocType    domain.DocType
	Confidence float64
	Reasons    []string
}

// Page scores a page's text and layout features against every known
// document type. The winner takes the label; confidence is the vote
// margin over the runner-up, so a contested page scores low and an
// exact tie resolves to unknown.
func Page(text string, layoutFeatures map[string]float64) Result {
	features := extractFeatures(text, layoutFeatures)

	scores := map[domain.DocType]float64{
		domain.DocTypeInvoice:      0,
		domain.DocTypeDeliveryNote: 0,
		domain.DocTypeReceipt:      0,
		domain.DocTypeUtility:      0,
	}
	reasons := make(map[domain.DocType][]string)

	if features.keywordHits[domain.DocTypeInvoice] > 2 {
		scores[domain.DocTypeInvoice] += 0.4
		reasons[domain.DocTypeInvoice] = append(reasons[domain.DocTypeInvoice],
			fmt.Sprintf("invoice keywords: %d", features.keywordHits[domain.DocTypeInvoice]))
	}
	if features.invoiceNumbers > 0 {
		scores[domain.DocTypeInvoice] += 0.3
		reasons[domain.DocTypeInvoice] = append(reasons[domain.DocTypeInvoice], "invoice number present")
	}
	if features.hasTotalAmount {
		scores[domain.DocTypeInvoice] += 0.2
		reasons[domain.DocTypeInvoice] = append(reasons[domain.DocTypeInvoice], "printed total present")
	}
	if features.tableDensity > 0.1 {
		scores[domain.DocTypeInvoice] += 0.1
		reasons[domain.DocTypeInvoice] = append(reasons[domain.DocTypeInvoice], "line-item table layout")
	}

	if features.keywordHits[domain.DocTypeDeliveryNote] > 2 {
		scores[domain.DocTypeDeliveryNote] += 0.5
		reasons[domain.DocTypeDeliveryNote] = append(reasons[domain.DocTypeDeliveryNote],
			fmt.Sprintf("delivery keywords: %d", features.keywordHits[domain.DocTypeDeliveryNote]))
	}
	if features.hasSupplier {
		scores[domain.DocTypeDeliveryNote] += 0.2
		reasons[domain.DocTypeDeliveryNote] = append(reasons[domain.DocTypeDeliveryNote], "supplier name present")
	}
	if features.textLength > 200 {
		scores[domain.DocTypeDeliveryNote] += 0.1
		reasons[domain.DocTypeDeliveryNote] = append(reasons[domain.DocTypeDeliveryNote], "substantial page text")
	}

	if features.keywordHits[domain.DocTypeReceipt] > 2 {
		scores[domain.DocTypeReceipt] += 0.4
		reasons[domain.DocTypeReceipt] = append(reasons[domain.DocTypeReceipt],
			fmt.Sprintf("receipt keywords: %d", features.keywordHits[domain.DocTypeReceipt]))
	}
	if features.receiptShape {
		scores[domain.DocTypeReceipt] += 0.3
		reasons[domain.DocTypeReceipt] = append(reasons[domain.DocTypeReceipt], "narrow till-roll aspect ratio")
	}
	if features.currencyCount > 0 {
		scores[domain.DocTypeReceipt] += 0.1
		reasons[domain.DocTypeReceipt] = append(reasons[domain.DocTypeReceipt], "currency amounts present")
	}
	if features.textLength < 500 {
		scores[domain.DocTypeReceipt] += 0.1
		reasons[domain.DocTypeReceipt] = append(reasons[domain.DocTypeReceipt], "short page text")
	}

	if features.keywordHits[domain.DocTypeUtility] > 2 {
		scores[domain.DocTypeUtility] += 0.5
		reasons[domain.DocTypeUtility] = append(reasons[domain.DocTypeUtility],
			fmt.Sprintf("utility keywords: %d", features.keywordHits[domain.DocTypeUtility]))
	}
	if features.numberCount > 10 {
		scores[domain.DocTypeUtility] += 0.2
		reasons[domain.DocTypeUtility] = append(reasons[domain.DocTypeUtility], "dense numeric content")
	}
	if features.dateCount > 0 {
		scores[domain.DocTypeUtility] += 0.1
		reasons[domain.DocTypeUtility] = append(reasons[domain.DocTypeUtility], "dated content")
	}

	best := domain.DocTypeUnknown
	bestScore, secondScore := 0.0, 0.0
	for _, docType := range []domain.DocType{
		domain.DocTypeInvoice,
		domain.DocTypeDeliveryNote,
		domain.DocTypeReceipt,
		domain.DocTypeUtility,
	} {
		score := scores[docType]
		switch {
		case score > bestScore:
			secondScore = bestScore
			best, bestScore = docType, score
		case score > secondScore:
			secondScore = score
		}
	}

	if bestScore == 0 || bestScore == secondScore {
		return Result{DocType: domain.DocTypeUnknown, Confidence: 0, Reasons: []string{"no decisive signals"}}
	}

	confidence := bestScore - secondScore
	if confidence > 1 {
		confidence = 1
	}
	return Result{
		DocType:    best,
		Confidence: confidence,
		Reasons:    reasons[best],
	}
}

type pageFeatures struct {
	keywordHits    map[domain.DocType]int
	invoiceNumbers int
	hasTotalAmount bool
	hasSupplier    bool
	tableDensity   float64
	currencyCount  int
	numberCount    int
	dateCount      int
	textLength     int
	receiptShape   bool
}

func extractFeatures(text string, layoutFeatures map[string]float64) pageFeatures {
	lower := strings.ToLower(text)
	words := len(strings.Fields(lower))

	features := pageFeatures{
		keywordHits: make(map[domain.DocType]int, len(keywords)),
		textLength:  len(text),
	}

	for docType, docKeywords := range keywords {
		hits := 0
		for _, keyword := range docKeywords {
			if strings.Contains(lower, keyword) {
				hits++
			}
		}
		features.keywordHits[docType] = hits
	}

	features.invoiceNumbers = len(extract.InvoiceNumbers(text))
	_, features.hasTotalAmount = extract.TotalPennies(text)
	features.hasSupplier = extract.SupplierName(text) != ""

	tableHits := 0
	for _, indicator := range tableIndicators {
		if strings.Contains(lower, indicator) {
			tableHits++
		}
	}
	if words > 0 {
		features.tableDensity = float64(tableHits) / float64(words)
	}

	features.currencyCount = len(currencyPattern.FindAllString(text, -1))
	features.numberCount = len(numberPattern.FindAllString(text, -1))
	features.dateCount = len(datePattern.FindAllString(text, -1))

	if aspect, ok := layoutFeatures["aspect_ratio"]; ok && aspect > 0 && aspect < 0.8 {
		features.receiptShape = true
	}

	return features
}
