package domain

import (
	"time"
)

// DocType is the closed set of document classes the pipeline recognises.
// Unknown is a valid terminal classification, not an error.
type DocType string

const (
	DocTypeInvoice      DocType = "invoice"
	DocTypeDeliveryNote DocType = "delivery_note"
	DocTypeReceipt      DocType = "receipt"
	DocTypeUtility      DocType = "utility"
	DocTypeUnknown      DocType = "unknown"
)

// ParseDocType maps a stored label onto the enum, defaulting to unknown.
func ParseDocType(raw string) DocType {
	switch DocType(raw) {
	case DocTypeInvoice, DocTypeDeliveryNote, DocTypeReceipt, DocTypeUtility:
		return DocType(raw)
	default:
		return DocTypeUnknown
	}
}

// Fingerprint carries the per-page identity signals used for duplicate
// detection and stitching. PHash comes from the render collaborator;
// the simhashes and text hash are computed from OCR text.
type Fingerprint struct {
	PHash         uint64
	HeaderSimhash uint64
	FooterSimhash uint64
	TextHash      []byte
	HasPHash      bool
	HasText       bool
}

// Page is one OCR'd page of a source file. Immutable once classified.
type Page struct {
	ID             int64
	FileID         int64
	BatchID        int64
	PageIndex      int
	Text           string
	Language       string
	Fingerprint    Fingerprint
	DocType        DocType
	Confidence     float64
	OCRConfidence  float64
	LayoutFeatures map[string]float64
	Reasons        []string
	UploadedAt     time.Time
}

// Segment is a contiguous same-type page range inside one source file.
// A segment never spans two files.
type Segment struct {
	ID            int64
	FileID        int64
	BatchID       int64
	DocType       DocType
	FirstPage     int
	LastPage      int
	Pages         []*Page
	SupplierGuess string
	InvoiceNumber string
	DocDate       time.Time
	HasDate       bool
	Confidence    float64
	Reasons       []string
}

// PageIDs returns the ids of the pages covered by the segment, in order.
func (s *Segment) PageIDs() []int64 {
	ids := make([]int64, 0, len(s.Pages))
	for _, p := range s.Pages {
		ids = append(ids, p.ID)
	}
	return ids
}

// DuplicateGroup is a transitively-closed set of near-identical pages.
// Membership is frozen at creation; a later batch opens a new group.
type DuplicateGroup struct {
	GroupUUID string
	PrimaryID int64
	MemberIDs []int64
	Score     float64
	Reasons   []string
}

// StitchGroup is an ordered run of segments believed to form one
// logical multi-page document. Type-homogeneous by construction.
type StitchGroup struct {
	GroupUUID     string
	DocType       DocType
	Segments      []*Segment
	SupplierGuess string
	InvoiceNumber string
	DocDate       time.Time
	HasDate       bool
	Confidence    float64
	Reasons       []string
}

// PageIDs returns the provenance page ids across all segments, in
// stitch order.
func (g *StitchGroup) PageIDs() []int64 {
	var ids []int64
	for _, seg := range g.Segments {
		ids = append(ids, seg.PageIDs()...)
	}
	return ids
}

// LineItem is one billed or delivered line on a canonical record.
type LineItem struct {
	ID           int64
	Description  string
	Quantity     float64
	Unit         string
	UnitPennies  int64
	TotalPennies int64
	Confidence   float64
	Flags        []string
}

// CanonicalInvoice is the deduplicated truth entity for one invoice.
type CanonicalInvoice struct {
	ID              int64
	UUID            string
	SupplierName    string
	InvoiceNumber   string
	InvoiceDate     time.Time
	HasDate         bool
	Currency        string
	SubtotalPennies int64
	VATPennies      int64
	TotalPennies    int64
	FieldConfidence map[string]float64
	Warnings        []string
	Confidence      float64
	LineItems       []LineItem
	SourcePageIDs   []int64
}

// CanonicalDocument is the truth entity for a non-invoice document.
type CanonicalDocument struct {
	ID              int64
	UUID            string
	DocType         DocType
	SupplierName    string
	DocumentNumber  string
	DocDate         time.Time
	HasDate         bool
	FieldConfidence map[string]float64
	Warnings        []string
	Confidence      float64
	LineItems       []LineItem
	SourcePageIDs   []int64
}

// SuggestionStatus is the review state of a pairing suggestion.
type SuggestionStatus string

const (
	SuggestionPending   SuggestionStatus = "pending"
	SuggestionConfirmed SuggestionStatus = "confirmed"
	SuggestionRejected  SuggestionStatus = "rejected"
)

// MatchStatus is the outcome of a confirmed invoice/delivery-note link.
type MatchStatus string

const (
	MatchMatched   MatchStatus = "matched"
	MatchPartial   MatchStatus = "partial"
	MatchUnmatched MatchStatus = "unmatched"
	MatchConflict  MatchStatus = "conflict"
)

// PairingSuggestion is a scored invoice/delivery-note candidate pair.
type PairingSuggestion struct {
	InvoiceID      int64
	DeliveryNoteID int64
	Score          int
	Status         SuggestionStatus
	Reasons        []string
}

// LineMatchStatus classifies one accepted or leftover line pairing.
type LineMatchStatus string

const (
	LineOK            LineMatchStatus = "ok"
	LineQtyMismatch   LineMatchStatus = "qty_mismatch"
	LinePriceMismatch LineMatchStatus = "price_mismatch"
	LineMissingOnDN   LineMatchStatus = "missing_on_dn"
	LineMissingOnInv  LineMatchStatus = "missing_on_inv"
)
