// Package dedupe groups near-identical pages inside a batch. Similarity
// blends the perceptual hash, exact text hash, and header/footer
// simhash bands; groups are transitively closed so chained duplicates
// land together.
package dedupe

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"ledger.fit/recon/internal/domain"
	"ledger.fit/recon/internal/fingerprint"
)

// Config carries the dedup thresholds. Values come from the application
// configuration; nothing here is hard-coded at call sites.
type Config struct {
	PHashMaxHamming int
	SimhashFloor    float64
	ScoreMin        float64
}

// Detect builds duplicate groups over the batch's pages. Pages without
// any fingerprint signal are never merged. The returned groups carry
// only actual duplicates (two or more members); unique pages stay out.
func Detect(pages []*domain.Page, cfg Config) []domain.DuplicateGroup {
	n := len(pages)
	if n < 2 {
		return nil
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	type acceptedPair struct {
		left    int
		score   float64
		reasons []string
	}
	var accepted []acceptedPair

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			score, reasons := Score(pages[i].Fingerprint, pages[j].Fingerprint, cfg)
			if score < cfg.ScoreMin {
				continue
			}
			union(i, j)
			accepted = append(accepted, acceptedPair{left: i, score: score, reasons: reasons})
		}
	}

	pairReasons := make(map[int][]string)
	pairScores := make(map[int]float64)
	for _, pair := range accepted {
		root := find(pair.left)
		pairReasons[root] = append(pairReasons[root], pair.reasons...)
		if pair.score > pairScores[root] {
			pairScores[root] = pair.score
		}
	}

	components := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := find(i)
		components[root] = append(components[root], i)
	}

	roots := make([]int, 0, len(components))
	for root, members := range components {
		if len(members) > 1 {
			roots = append(roots, root)
		}
	}
	sort.Ints(roots)

	var groups []domain.DuplicateGroup
	for _, root := range roots {
		members := components[root]
		memberPages := make([]*domain.Page, 0, len(members))
		for _, idx := range members {
			memberPages = append(memberPages, pages[idx])
		}
		primary := selectPrimary(memberPages)

		memberIDs := make([]int64, 0, len(memberPages))
		for _, p := range memberPages {
			memberIDs = append(memberIDs, p.ID)
		}
		sort.Slice(memberIDs, func(a, b int) bool { return memberIDs[a] < memberIDs[b] })

		groups = append(groups, domain.DuplicateGroup{
			GroupUUID: uuid.NewString(),
			PrimaryID: primary.ID,
			MemberIDs: memberIDs,
			Score:     pairScores[root],
			Reasons:   dedupeReasons(pairReasons[root]),
		})
	}
	return groups
}

// Score blends the fingerprint signals into [0, 1]. A missing signal on
// either side simply contributes nothing, so a page with no fingerprint
// at all scores zero against everything.
func Score(left, right domain.Fingerprint, cfg Config) (float64, []string) {
	var score float64
	var reasons []string

	if left.HasPHash && right.HasPHash {
		distance := fingerprint.HammingDistance(left.PHash, right.PHash)
		if distance <= cfg.PHashMaxHamming {
			similarity := 1 - float64(distance)/64
			score += similarity * 0.6
			reasons = append(reasons, fmt.Sprintf("phash similarity %.2f", similarity))
		}
	}

	if left.HasText && right.HasText && bytes.Equal(left.TextHash, right.TextHash) {
		score += 0.4
		reasons = append(reasons, "exact text match")
	}

	if left.HasText && right.HasText {
		headerSim := fingerprint.Similarity(left.HeaderSimhash, right.HeaderSimhash)
		if headerSim > cfg.SimhashFloor {
			score += headerSim * 0.2
			reasons = append(reasons, fmt.Sprintf("header similarity %.2f", headerSim))
		}
		footerSim := fingerprint.Similarity(left.FooterSimhash, right.FooterSimhash)
		if footerSim > cfg.SimhashFloor {
			score += footerSim * 0.2
			reasons = append(reasons, fmt.Sprintf("footer similarity %.2f", footerSim))
		}
	}

	if score > 1 {
		score = 1
	}
	return score, reasons
}

// Primaries returns the batch's pages with non-primary duplicates
// removed, preserving input order. Group members keep their
// back-reference through the group record itself.
func Primaries(pages []*domain.Page, groups []domain.DuplicateGroup) []*domain.Page {
	drop := make(map[int64]struct{})
	for _, group := range groups {
		for _, id := range group.MemberIDs {
			if id != group.PrimaryID {
				drop[id] = struct{}{}
			}
		}
	}

	kept := make([]*domain.Page, 0, len(pages))
	for _, page := range pages {
		if _, dropped := drop[page.ID]; dropped {
			continue
		}
		kept = append(kept, page)
	}
	return kept
}

// selectPrimary picks the page that survives dedup: highest OCR
// confidence, then earliest upload, then lowest id. Stable so repeated
// runs always elect the same primary.
func selectPrimary(members []*domain.Page) *domain.Page {
	primary := members[0]
	for _, candidate := range members[1:] {
		switch {
		case candidate.OCRConfidence > primary.OCRConfidence:
			primary = candidate
		case candidate.OCRConfidence == primary.OCRConfidence:
			if candidate.UploadedAt.Before(primary.UploadedAt) {
				primary = candidate
			} else if candidate.UploadedAt.Equal(primary.UploadedAt) && candidate.ID < primary.ID {
				primary = candidate
			}
		}
	}
	return primary
}

func dedupeReasons(reasons []string) []string {
	seen := make(map[string]struct{}, len(reasons))
	unique := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		if _, ok := seen[reason]; ok {
			continue
		}
		seen[reason] = struct{}{}
		unique = append(unique, reason)
	}
	return unique
}
