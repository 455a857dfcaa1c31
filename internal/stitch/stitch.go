// Package stitch assembles classified pages into logical multi-page
// documents. Segmenting runs per source file as a sequential state
// machine; a second pass merges segments of the same document across
// files. Under-merging is preferred to over-merging throughout, since a
// wrongly merged invoice corrupts totals.
package stitch

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"ledger.fit/recon/internal/domain"
	"ledger.fit/recon/internal/extract"
	"ledger.fit/recon/internal/fingerprint"
)

// Config carries the stitch thresholds, sourced from application
// configuration.
type Config struct {
	HeaderSimhashMin float64
	FooterSimhashMin float64
	ScoreMin         float64
	SupplierMin      float64
	LowConfidence    float64
	MaxGroupSize     int
}

// Segments scans one source file's pages in order and cuts them into
// contiguous same-type segments. Boundaries open on a type change, a
// strong last-page signal, an anchor-field disagreement, or a
// low-confidence page, which is always isolated into its own segment.
func Segments(pages []*domain.Page, cfg Config) []*domain.Segment {
	var segments []*domain.Segment
	var current *builder

	flush := func() {
		if current != nil && len(current.pages) > 0 {
			segments = append(segments, current.segment())
		}
		current = nil
	}

	for _, page := range pages {
		if page.Confidence < cfg.LowConfidence {
			flush()
			isolated := newBuilder(page)
			isolated.reasons = append(isolated.reasons, "low classification confidence, kept separate")
			segments = append(segments, isolated.segment())
			continue
		}

		if current == nil {
			current = newBuilder(page)
			continue
		}

		if reason, boundary := current.boundaryBefore(page, cfg); boundary {
			flush()
			current = newBuilder(page)
			current.reasons = append(current.reasons, reason)
			continue
		}

		current.add(page)

		if reason, last := current.lastPageSignal(); last {
			current.reasons = append(current.reasons, reason)
			flush()
		} else if cfg.MaxGroupSize > 0 && len(current.pages) >= cfg.MaxGroupSize {
			current.reasons = append(current.reasons, "segment size cap reached")
			flush()
		}
	}
	flush()

	return segments
}

type builder struct {
	pages     []*domain.Page
	docType   domain.DocType
	supplier  string
	invoiceNo map[string]struct{}
	reasons   []string
}

func newBuilder(page *domain.Page) *builder {
	b := &builder{
		docType:   page.DocType,
		invoiceNo: make(map[string]struct{}),
	}
	b.add(page)
	return b
}

func (b *builder) add(page *domain.Page) {
	b.pages = append(b.pages, page)
	if b.supplier == "" {
		b.supplier = extract.SupplierName(page.Text)
	}
	for _, number := range extract.InvoiceNumbers(page.Text) {
		b.invoiceNo[number] = struct{}{}
	}
}

// boundaryBefore reports whether the next page must open a new segment.
func (b *builder) boundaryBefore(page *domain.Page, cfg Config) (string, bool) {
	if page.DocType != b.docType {
		return fmt.Sprintf("document type changed %s -> %s", b.docType, page.DocType), true
	}

	if pageSupplier := extract.SupplierName(page.Text); pageSupplier != "" && b.supplier != "" {
		if extract.SupplierSimilarity(b.supplier, pageSupplier) < cfg.SupplierMin {
			return fmt.Sprintf("supplier disagreement %q vs %q", b.supplier, pageSupplier), true
		}
	}

	if pageNumbers := extract.InvoiceNumbers(page.Text); len(pageNumbers) > 0 && len(b.invoiceNo) > 0 {
		if !intersects(b.invoiceNo, pageNumbers) {
			return "invoice number disagreement", true
		}
	}

	if number, _, ok := extract.PageNumber(page.Text); ok && number == 1 && len(b.pages) > 0 {
		if _, hasTotal := extract.TotalPennies(b.pages[len(b.pages)-1].Text); hasTotal {
			return "previous page closed with a printed total", true
		}
	}

	return "", false
}

// lastPageSignal fires when the newest page both prints a total and its
// page-number cue says the document is complete.
func (b *builder) lastPageSignal() (string, bool) {
	page := b.pages[len(b.pages)-1]
	if _, hasTotal := extract.TotalPennies(page.Text); !hasTotal {
		return "", false
	}
	number, total, ok := extract.PageNumber(page.Text)
	if ok && total > 0 && number == total {
		return fmt.Sprintf("printed total on closing page %d of %d", number, total), true
	}
	if !ok || total == 0 {
		return "printed total with no continuation cue", true
	}
	return "", false
}

func (b *builder) segment() *domain.Segment {
	first := b.pages[0]
	seg := &domain.Segment{
		FileID:        first.FileID,
		BatchID:       first.BatchID,
		DocType:       b.docType,
		FirstPage:     first.PageIndex,
		LastPage:      b.pages[len(b.pages)-1].PageIndex,
		Pages:         b.pages,
		SupplierGuess: b.supplier,
		Confidence:    1,
		Reasons:       b.reasons,
	}
	for _, page := range b.pages {
		if page.Confidence < seg.Confidence {
			seg.Confidence = page.Confidence
		}
		if !seg.HasDate {
			if date, ok := extract.DocumentDate(page.Text); ok {
				seg.DocDate = date
				seg.HasDate = true
			}
		}
	}
	if len(b.invoiceNo) > 0 {
		numbers := make([]string, 0, len(b.invoiceNo))
		for number := range b.invoiceNo {
			numbers = append(numbers, number)
		}
		sort.Strings(numbers)
		seg.InvoiceNumber = numbers[0]
	}
	return seg
}

func intersects(set map[string]struct{}, values []string) bool {
	for _, value := range values {
		if _, ok := set[value]; ok {
			return true
		}
	}
	return false
}

// Groups merges segments that belong to the same logical document, even
// across source files, and orders each group's segments by page-number
// cues. Segments that merge with nothing become one-segment groups.
func Groups(segments []*domain.Segment, cfg Config) []*domain.StitchGroup {
	n := len(segments)
	if n == 0 {
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

	type mergeEdge struct {
		left    int
		reasons []string
	}
	var edges []mergeEdge

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// Never merge across document types; stitch groups are
			// type-homogeneous.
			if segments[i].DocType != segments[j].DocType {
				continue
			}
			if segments[i].Confidence < cfg.LowConfidence || segments[j].Confidence < cfg.LowConfidence {
				continue
			}
			score, reasons := mergeScore(segments[i], segments[j], cfg)
			if score < cfg.ScoreMin {
				continue
			}
			union(i, j)
			edges = append(edges, mergeEdge{left: i, reasons: reasons})
		}
	}

	groupReasons := make(map[int][]string)
	for _, edge := range edges {
		root := find(edge.left)
		groupReasons[root] = append(groupReasons[root], edge.reasons...)
	}

	components := make(map[int][]*domain.Segment)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		root := find(i)
		if _, seen := components[root]; !seen {
			order = append(order, root)
		}
		components[root] = append(components[root], segments[i])
	}

	groups := make([]*domain.StitchGroup, 0, len(order))
	for _, root := range order {
		members := components[root]
		sortSegments(members)

		group := &domain.StitchGroup{
			GroupUUID:  uuid.NewString(),
			DocType:    members[0].DocType,
			Segments:   members,
			Confidence: 1,
			Reasons:    groupReasons[root],
		}
		for _, seg := range members {
			if seg.Confidence < group.Confidence {
				group.Confidence = seg.Confidence
			}
			group.Reasons = append(group.Reasons, seg.Reasons...)
			if group.SupplierGuess == "" {
				group.SupplierGuess = seg.SupplierGuess
			}
			if group.InvoiceNumber == "" {
				group.InvoiceNumber = seg.InvoiceNumber
			}
			if !group.HasDate && seg.HasDate {
				group.DocDate = seg.DocDate
				group.HasDate = true
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// mergeScore weighs the evidence that two segments are halves of one
// document: shared anchors first, then layout band similarity, then
// language continuity.
func mergeScore(left, right *domain.Segment, cfg Config) (float64, []string) {
	var score float64
	var reasons []string

	if left.SupplierGuess != "" && right.SupplierGuess != "" {
		similarity := extract.SupplierSimilarity(left.SupplierGuess, right.SupplierGuess)
		switch {
		case similarity == 1:
			score += 0.3
			reasons = append(reasons, "same supplier")
		case similarity >= cfg.SupplierMin:
			score += 0.2
			reasons = append(reasons, "similar supplier")
		}
	}

	if left.InvoiceNumber != "" && left.InvoiceNumber == right.InvoiceNumber {
		score += 0.4
		reasons = append(reasons, fmt.Sprintf("shared invoice number %s", left.InvoiceNumber))
	}

	if left.HasDate && right.HasDate && left.DocDate.Equal(right.DocDate) {
		score += 0.2
		reasons = append(reasons, "shared document date")
	}

	leftFirst, rightFirst := left.Pages[0], right.Pages[0]
	leftLast, rightLast := left.Pages[len(left.Pages)-1], right.Pages[len(right.Pages)-1]

	if leftFirst.Fingerprint.HasText && rightFirst.Fingerprint.HasText {
		headerSim := fingerprint.Similarity(leftFirst.Fingerprint.HeaderSimhash, rightFirst.Fingerprint.HeaderSimhash)
		if headerSim >= cfg.HeaderSimhashMin {
			score += 0.2
			reasons = append(reasons, fmt.Sprintf("header band similarity %.2f", headerSim))
		}
	}
	if leftLast.Fingerprint.HasText && rightLast.Fingerprint.HasText {
		footerSim := fingerprint.Similarity(leftLast.Fingerprint.FooterSimhash, rightLast.Fingerprint.FooterSimhash)
		if footerSim >= cfg.FooterSimhashMin {
			score += 0.2
			reasons = append(reasons, fmt.Sprintf("footer band similarity %.2f", footerSim))
		}
	}

	if leftFirst.Language != "" && leftFirst.Language == rightFirst.Language {
		score += 0.1
		reasons = append(reasons, "language continuity")
	}

	if score > 1 {
		score = 1
	}
	return score, reasons
}

// sortSegments orders merged segments by their page-number cues, then
// by file and page index for segments without cues.
func sortSegments(segments []*domain.Segment) {
	sort.SliceStable(segments, func(a, b int) bool {
		aNum, aOK := segmentPageCue(segments[a])
		bNum, bOK := segmentPageCue(segments[b])
		switch {
		case aOK && bOK && aNum != bNum:
			return aNum < bNum
		case aOK != bOK:
			return aOK
		}
		if segments[a].FileID != segments[b].FileID {
			return segments[a].FileID < segments[b].FileID
		}
		return segments[a].FirstPage < segments[b].FirstPage
	})
}

func segmentPageCue(seg *domain.Segment) (int, bool) {
	number, _, ok := extract.PageNumber(seg.Pages[0].Text)
	return number, ok
}
