// Package linematch pairs invoice line items with delivery-note line
// items. The matcher is greedy by design: it accepts the best-scoring
// available pair until nothing clears the minimum score, which keeps
// results explainable at the cost of global optimality.
package linematch

import (
	"math"
	"sort"

	"ledger.fit/recon/internal/domain"
	"ledger.fit/recon/internal/extract"
)

// Config carries the line-match tolerances.
type Config struct {
	// MinScore is the floor below which no pair is ever accepted.
	MinScore float64

	// QtyTolerance is the relative quantity drift still counted as
	// agreement.
	QtyTolerance float64

	// PriceTolerancePennies bounds unit-price drift counted as
	// agreement.
	PriceTolerancePennies int64
}

// Match is one accepted or leftover line pairing. Leftovers carry only
// the side that exists.
type Match struct {
	InvoiceIndex  int
	DeliveryIndex int
	Status        domain.LineMatchStatus
	Score         float64
	DescScore     float64
	QtyScore      float64
	PriceScore    float64
	UnitScore     float64
}

// Pairs matches the two line sets. Unmatched invoice lines surface as
// missing_on_dn, unmatched delivery lines as missing_on_inv.
func Pairs(invoiceLines, deliveryLines []domain.LineItem, cfg Config) []Match {
	type scored struct {
		inv, dn int
		match   Match
	}

	var candidates []scored
	for i := range invoiceLines {
		for j := range deliveryLines {
			m := scorePair(invoiceLines[i], deliveryLines[j], cfg)
			if m.Score < cfg.MinScore {
				continue
			}
			m.InvoiceIndex = i
			m.DeliveryIndex = j
			candidates = append(candidates, scored{inv: i, dn: j, match: m})
		}
	}

	// Highest score first; ties break on lower indexes for determinism.
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].match.Score != candidates[b].match.Score {
			return candidates[a].match.Score > candidates[b].match.Score
		}
		if candidates[a].inv != candidates[b].inv {
			return candidates[a].inv < candidates[b].inv
		}
		return candidates[a].dn < candidates[b].dn
	})

	usedInv := make(map[int]struct{}, len(invoiceLines))
	usedDN := make(map[int]struct{}, len(deliveryLines))
	var matches []Match

	for _, candidate := range candidates {
		if _, taken := usedInv[candidate.inv]; taken {
			continue
		}
		if _, taken := usedDN[candidate.dn]; taken {
			continue
		}
		usedInv[candidate.inv] = struct{}{}
		usedDN[candidate.dn] = struct{}{}

		m := candidate.match
		m.Status = classify(invoiceLines[candidate.inv], deliveryLines[candidate.dn], cfg)
		matches = append(matches, m)
	}

	for i := range invoiceLines {
		if _, taken := usedInv[i]; !taken {
			matches = append(matches, Match{
				InvoiceIndex:  i,
				DeliveryIndex: -1,
				Status:        domain.LineMissingOnDN,
			})
		}
	}
	for j := range deliveryLines {
		if _, taken := usedDN[j]; !taken {
			matches = append(matches, Match{
				InvoiceIndex:  -1,
				DeliveryIndex: j,
				Status:        domain.LineMissingOnInv,
			})
		}
	}
	return matches
}

// Agreement is the fraction of accepted pairs whose quantity and price
// both sit within tolerance, used by the pairing engine's fourth
// sub-score.
func Agreement(matches []Match) float64 {
	accepted, agreeing := 0, 0
	for _, m := range matches {
		switch m.Status {
		case domain.LineOK:
			accepted++
			agreeing++
		case domain.LineQtyMismatch, domain.LinePriceMismatch:
			accepted++
		}
	}
	if accepted == 0 {
		return 0
	}
	return float64(agreeing) / float64(accepted)
}

// MeanDescriptionScore averages description similarity over accepted
// pairs, used by the pairing engine's line-similarity sub-score.
func MeanDescriptionScore(matches []Match) float64 {
	sum, count := 0.0, 0
	for _, m := range matches {
		if m.DeliveryIndex < 0 || m.InvoiceIndex < 0 {
			continue
		}
		sum += m.DescScore
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// scorePair blends description, quantity, price and unit agreement.
// Description dominates; the rest refine the ranking.
func scorePair(inv, dn domain.LineItem, cfg Config) Match {
	m := Match{}

	tokens := extract.TokenJaccard(inv.Description, dn.Description)
	trigrams := extract.TrigramJaccard(inv.Description, dn.Description)
	m.DescScore = math.Max(tokens, trigrams)

	m.QtyScore = ratioScore(inv.Quantity, dn.Quantity)
	m.PriceScore = ratioScore(float64(inv.UnitPennies), float64(dn.UnitPennies))

	if extract.NormalizeText(inv.Unit) == extract.NormalizeText(dn.Unit) {
		m.UnitScore = 1
	}

	m.Score = 0.5*m.DescScore + 0.2*m.QtyScore + 0.2*m.PriceScore + 0.1*m.UnitScore
	return m
}

// classify tags an accepted pair, checking quantity before price.
func classify(inv, dn domain.LineItem, cfg Config) domain.LineMatchStatus {
	if !quantityAgrees(inv.Quantity, dn.Quantity, cfg.QtyTolerance) {
		return domain.LineQtyMismatch
	}
	if !priceAgrees(inv.UnitPennies, dn.UnitPennies, cfg.PriceTolerancePennies) {
		return domain.LinePriceMismatch
	}
	return domain.LineOK
}

func quantityAgrees(invQty, dnQty, tolerance float64) bool {
	if invQty == dnQty {
		return true
	}
	larger := math.Max(math.Abs(invQty), math.Abs(dnQty))
	if larger == 0 {
		return true
	}
	return math.Abs(invQty-dnQty)/larger <= tolerance
}

func priceAgrees(invPennies, dnPennies, tolerancePennies int64) bool {
	if invPennies == 0 || dnPennies == 0 {
		// One side without a price is a data gap, not a price dispute.
		return true
	}
	drift := invPennies - dnPennies
	if drift < 0 {
		drift = -drift
	}
	return drift <= tolerancePennies
}

func ratioScore(left, right float64) float64 {
	if left == right {
		return 1
	}
	larger := math.Max(math.Abs(left), math.Abs(right))
	if larger == 0 {
		return 1
	}
	return 1 - math.Abs(left-right)/larger
}
