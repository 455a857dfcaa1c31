// Package fingerprint computes per-page identity signals: the render
// collaborator's perceptual hash, simhashes of the header and footer
// text bands, and a hash of the full page text. All functions are pure
// and deterministic; duplicate detection depends on that.
package fingerprint

import (
	"crypto/sha256"
	"hash/fnv"
	"math/bits"
	"strings"

	"ledger.fit/recon/internal/domain"
	"ledger.fit/recon/internal/extract"
)

const (
	// Fraction of a page's lines treated as the header and footer band.
	bandRatio = 0.1

	shingleSize = 4
)

// Compute builds the fingerprint for one page from its OCR text and the
// collaborator-supplied perceptual hash. A page with neither text nor a
// phash yields an empty fingerprint, which downstream stages treat as
// unique.
func Compute(text string, phash uint64, hasPHash bool) domain.Fingerprint {
	fp := domain.Fingerprint{
		PHash:    phash,
		HasPHash: hasPHash,
	}

	normalized := extract.NormalizeText(text)
	if normalized == "" {
		return fp
	}

	fp.HasText = true
	sum := sha256.Sum256([]byte(normalized))
	fp.TextHash = sum[:]

	header, footer := HeaderFooterBands(text)
	fp.HeaderSimhash, _ = Simhash64(header)
	fp.FooterSimhash, _ = Simhash64(footer)
	return fp
}

// HeaderFooterBands splits page text into its top and bottom bands.
// Bands overlap on very short pages; a one-line page is both its own
// header and footer.
func HeaderFooterBands(text string) (header, footer string) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return "", ""
	}

	bandLines := int(float64(len(lines)) * bandRatio)
	if bandLines < 1 {
		bandLines = 1
	}

	footerStart := len(lines) - bandLines
	if footerStart < 0 {
		footerStart = 0
	}

	header = strings.TrimSpace(strings.Join(lines[:bandLines], "\n"))
	footer = strings.TrimSpace(strings.Join(lines[footerStart:], "\n"))
	return header, footer
}

// Simhash64 computes a 64-bit similarity hash over 4-rune shingles of
// the normalized text. Returns false when the text is too short to
// shingle.
func Simhash64(text string) (uint64, bool) {
	normalized := extract.NormalizeText(text)
	runes := []rune(normalized)
	if len(runes) < shingleSize {
		return 0, false
	}

	var bitWeights [64]int
	for i := 0; i <= len(runes)-shingleSize; i++ {
		h := hashShingle64(string(runes[i : i+shingleSize]))
		for bit := 0; bit < 64; bit++ {
			mask := uint64(1) << bit
			if h&mask != 0 {
				bitWeights[bit]++
			} else {
				bitWeights[bit]--
			}
		}
	}

	var result uint64
	for bit := 0; bit < 64; bit++ {
		if bitWeights[bit] > 0 {
			result |= uint64(1) << bit
		}
	}
	return result, true
}

func hashShingle64(shingle string) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(shingle))
	return hasher.Sum64()
}

// HammingDistance counts differing bits between two 64-bit hashes.
func HammingDistance(left, right uint64) int {
	return bits.OnesCount64(left ^ right)
}

// Similarity maps a Hamming distance onto [0, 1], 1 meaning identical.
func Similarity(left, right uint64) float64 {
	return 1 - float64(HammingDistance(left, right))/64
}
