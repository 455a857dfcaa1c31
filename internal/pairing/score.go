// Package pairing scores invoices against delivery notes and manages
// the confirm/reject lifecycle of the resulting suggestions. Scoring is
// pure and deterministic; all persistence lives in the service.
package pairing

import (
	"fmt"
	"math"
	"sort"

	"ledger.fit/recon/internal/domain"
	"ledger.fit/recon/internal/extract"
	"ledger.fit/recon/internal/linematch"
)

// Config carries the pairing weights and thresholds. Weights sum to 1;
// scores land on a 0-100 scale.
type Config struct {
	WeightSupplier float64
	WeightDate     float64
	WeightLines    float64
	WeightQtyPrice float64

	// DateWindowDays is full credit. Proximity decays linearly down to
	// dateFarCredit at three windows, then drops to zero.
	DateWindowDays int

	HighThreshold int
	LowThreshold  int

	// Auto-confirmation: best candidate must clear AutoThreshold and
	// lead the runner-up by at least AutoMargin.
	AutoThreshold int
	AutoMargin    int

	// SuggestionMin is the floor below which a candidate is not even
	// recorded as a pending suggestion.
	SuggestionMin int

	LineMatch linematch.Config
}

const dateFarCredit = 0.3

// Result is one scored invoice/delivery-note candidate.
type Result struct {
	InvoiceID      int64
	DeliveryNoteID int64

	Score  int
	Status domain.MatchStatus

	SupplierScore float64
	DateScore     float64
	LineScore     float64
	QtyPriceScore float64

	MatchedLines  int
	DateDeltaDays int
	HasDateDelta  bool

	LineMatches []linematch.Match
	Reasons     []string
}

// Score evaluates one candidate pair. It never errors; absent signals
// simply contribute nothing.
func Score(inv *domain.CanonicalInvoice, dn *domain.CanonicalDocument, cfg Config) Result {
	r := Result{
		InvoiceID:      inv.ID,
		DeliveryNoteID: dn.ID,
	}

	r.SupplierScore = extract.SupplierSimilarity(inv.SupplierName, dn.SupplierName)
	if r.SupplierScore >= 0.99 {
		r.Reasons = append(r.Reasons, "supplier names match")
	} else if r.SupplierScore > 0 {
		r.Reasons = append(r.Reasons, fmt.Sprintf("supplier similarity %.2f", r.SupplierScore))
	}

	if inv.HasDate && dn.HasDate {
		delta := int(math.Abs(inv.InvoiceDate.Sub(dn.DocDate).Hours()) / 24)
		r.DateDeltaDays = delta
		r.HasDateDelta = true
		r.DateScore = dateProximity(delta, cfg.DateWindowDays)
		r.Reasons = append(r.Reasons, fmt.Sprintf("dates %d days apart", delta))
	}

	r.LineMatches = linematch.Pairs(inv.LineItems, dn.LineItems, cfg.LineMatch)
	r.MatchedLines = countAccepted(r.LineMatches)
	r.LineScore = lineSimilarity(r.LineMatches, len(inv.LineItems), len(dn.LineItems))
	r.QtyPriceScore = linematch.Agreement(r.LineMatches)
	if r.MatchedLines > 0 {
		r.Reasons = append(r.Reasons, fmt.Sprintf("%d of %d lines matched",
			r.MatchedLines, maxInt(len(inv.LineItems), len(dn.LineItems))))
	}

	weighted := cfg.WeightSupplier*r.SupplierScore +
		cfg.WeightDate*r.DateScore +
		cfg.WeightLines*r.LineScore +
		cfg.WeightQtyPrice*r.QtyPriceScore
	r.Score = clampScore(int(math.Round(weighted * 100)))

	switch {
	case r.Score >= cfg.HighThreshold:
		r.Status = domain.MatchMatched
	case r.Score >= cfg.LowThreshold:
		r.Status = domain.MatchPartial
	default:
		r.Status = domain.MatchUnmatched
	}
	return r
}

// Rank orders candidates best first. Equal scores break on more matched
// lines, then smaller date delta, then lower delivery-note id.
func Rank(results []Result) {
	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		if results[a].MatchedLines != results[b].MatchedLines {
			return results[a].MatchedLines > results[b].MatchedLines
		}
		da, db := deltaForRank(results[a]), deltaForRank(results[b])
		if da != db {
			return da < db
		}
		return results[a].DeliveryNoteID < results[b].DeliveryNoteID
	})
}

// dateProximity gives full credit inside the window, decays linearly to
// dateFarCredit at three windows and clips to zero past that.
func dateProximity(deltaDays, windowDays int) float64 {
	if windowDays < 1 {
		windowDays = 1
	}
	far := windowDays * 3
	switch {
	case deltaDays <= windowDays:
		return 1
	case deltaDays >= far:
		return 0
	default:
		span := float64(far - windowDays)
		progress := float64(deltaDays-windowDays) / span
		return 1 - progress*(1-dateFarCredit)
	}
}

// lineSimilarity blends description quality with coverage so that a
// single perfect line on a ten-line invoice does not score like a full
// match.
func lineSimilarity(matches []linematch.Match, invCount, dnCount int) float64 {
	total := maxInt(invCount, dnCount)
	if total == 0 {
		return 0
	}
	accepted := countAccepted(matches)
	if accepted == 0 {
		return 0
	}
	coverage := float64(accepted) / float64(total)
	return coverage * linematch.MeanDescriptionScore(matches)
}

func countAccepted(matches []linematch.Match) int {
	n := 0
	for _, m := range matches {
		if m.InvoiceIndex >= 0 && m.DeliveryIndex >= 0 {
			n++
		}
	}
	return n
}

func deltaForRank(r Result) int {
	if !r.HasDateDelta {
		return math.MaxInt32
	}
	return r.DateDeltaDays
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
