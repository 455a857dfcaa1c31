package fingerprint

import (
	"bytes"
	"strings"
	"testing"
)

const samplePage = `ACME FRESH PRODUCE LTD
12 Market Road, Leeds
Invoice No: INV-1042
Date: 02/03/2026
Tomatoes x 6 @ 12.00
Subtotal: 60.00
VAT: 12.00
Total Due: 72.00
Page 1 of 1
Registered in England 0123456`

func TestComputeIsDeterministic(t *testing.T) {
	t.Parallel()

	first := Compute(samplePage, 0x9f8e7d6c5b4a3f2e, true)
	second := Compute(samplePage, 0x9f8e7d6c5b4a3f2e, true)

	if first.PHash != second.PHash ||
		first.HeaderSimhash != second.HeaderSimhash ||
		first.FooterSimhash != second.FooterSimhash ||
		!bytes.Equal(first.TextHash, second.TextHash) {
		t.Fatalf("expected repeated fingerprints to be identical: %+v vs %+v", first, second)
	}
	if !first.HasPHash || !first.HasText {
		t.Fatalf("expected both signals present, got %+v", first)
	}
}

func TestComputeEmptyText(t *testing.T) {
	t.Parallel()

	fp := Compute("   \n  ", 0, false)
	if fp.HasText || fp.HasPHash {
		t.Fatalf("expected empty fingerprint, got %+v", fp)
	}
	if len(fp.TextHash) != 0 {
		t.Fatalf("expected no text hash, got %x", fp.TextHash)
	}
}

func TestHeaderFooterBands(t *testing.T) {
	t.Parallel()

	header, footer := HeaderFooterBands(samplePage)
	if !strings.Contains(header, "ACME FRESH PRODUCE LTD") {
		t.Fatalf("unexpected header band: %q", header)
	}
	if !strings.Contains(footer, "Registered in England") {
		t.Fatalf("unexpected footer band: %q", footer)
	}

	header, footer = HeaderFooterBands("only line")
	if header != "only line" || footer != "only line" {
		t.Fatalf("expected single line to be both bands, got %q / %q", header, footer)
	}
}

func TestSimhash64SimilarTexts(t *testing.T) {
	t.Parallel()

	left, ok := Simhash64("ACME FRESH PRODUCE LTD 12 Market Road Leeds")
	if !ok {
		t.Fatalf("expected simhash to compute")
	}
	right, ok := Simhash64("ACME FRESH PRODUCE LTD 12 Market Road, Leeds")
	if !ok {
		t.Fatalf("expected simhash to compute")
	}
	other, ok := Simhash64("completely unrelated text about meter readings and kwh usage")
	if !ok {
		t.Fatalf("expected simhash to compute")
	}

	if near, far := HammingDistance(left, right), HammingDistance(left, other); near >= far {
		t.Fatalf("expected similar texts closer than dissimilar ones: %d vs %d", near, far)
	}

	if _, ok := Simhash64("ab"); ok {
		t.Fatalf("expected too-short text to yield no simhash")
	}
}

func TestSimilarityBounds(t *testing.T) {
	t.Parallel()

	if got := Similarity(0xffff, 0xffff); got != 1 {
		t.Fatalf("expected identical hashes to score 1, got %f", got)
	}
	if got := Similarity(0, ^uint64(0)); got != 0 {
		t.Fatalf("expected inverted hashes to score 0, got %f", got)
	}
}
