// Package assembly runs the ingest pipeline: payload validation,
// fingerprinting, classification, duplicate detection, stitching and
// canonicalization, in that order. Per-page and per-group failures are
// isolated; one bad payload never sinks the batch.
package assembly

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ledger.fit/recon/internal/canonical"
	"ledger.fit/recon/internal/classify"
	"ledger.fit/recon/internal/config"
	"ledger.fit/recon/internal/db"
	"ledger.fit/recon/internal/dedupe"
	"ledger.fit/recon/internal/domain"
	"ledger.fit/recon/internal/fingerprint"
	"ledger.fit/recon/internal/globaltime"
	"ledger.fit/recon/internal/langdetect"
	"ledger.fit/recon/internal/stitch"
	payloadschema "ledger.fit/recon/schema"
)

// FilePayload is one uploaded source file with its per-page OCR
// payloads, in page order.
type FilePayload struct {
	Filename string
	Pages    []json.RawMessage
}

// Failure records one isolated per-unit error inside a batch.
type Failure struct {
	Filename  string
	PageIndex int
	Reason    string
}

// Result summarizes one ingest batch.
type Result struct {
	BatchID         int64
	BatchUUID       string
	PagesIngested   int
	PagesFailed     int
	DuplicateGroups int
	StitchGroups    int
	Invoices        []*domain.CanonicalInvoice
	Documents       []*domain.CanonicalDocument
	Failures        []Failure
}

// Service orchestrates ingest over the canonical store.
type Service struct {
	pool   *db.Pool
	cfg    *config.Config
	logger zerolog.Logger
}

func NewService(pool *db.Pool, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		pool:   pool,
		cfg:    cfg,
		logger: logger.With().Str("component", "assembly").Logger(),
	}
}

// Ingest processes one batch of uploaded files end to end. The page
// stage parallelizes across the configured worker count; everything
// downstream of it runs serialized because dedup and stitching need
// the whole batch in view.
func (s *Service) Ingest(ctx context.Context, label string, files []FilePayload) (*Result, error) {
	if len(files) == 0 {
		return nil, errors.New("batch contains no files")
	}

	batchID, batchUUID, err := s.openBatch(ctx, label)
	if err != nil {
		return nil, err
	}
	result := &Result{BatchID: batchID, BatchUUID: batchUUID}

	pages, err := s.ingestPages(ctx, batchID, files, result)
	if err != nil {
		s.finalizeBatch(ctx, batchID, result, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		s.finalizeBatch(ctx, batchID, result, err)
		return nil, err
	}

	// Dedup compares against every previously ingested page as well;
	// a duplicate of an old page drops out of this batch's assembly.
	prior, err := s.loadPriorFingerprints(ctx, batchID)
	if err != nil {
		s.finalizeBatch(ctx, batchID, result, err)
		return nil, err
	}
	combined := append(append([]*domain.Page{}, prior...), pages...)
	groups := currentBatchGroups(dedupe.Detect(combined, dedupe.Config{
		PHashMaxHamming: s.cfg.DedupePHashMaxHamming,
		SimhashFloor:    s.cfg.DedupeSimhashFloor,
		ScoreMin:        s.cfg.DedupeScoreMin,
	}), pages)
	if err := s.persistDuplicateGroups(ctx, batchID, groups); err != nil {
		s.finalizeBatch(ctx, batchID, result, err)
		return nil, err
	}
	result.DuplicateGroups = len(groups)

	primaries := make([]*domain.Page, 0, len(pages))
	for _, page := range dedupe.Primaries(combined, groups) {
		if page.BatchID == batchID {
			primaries = append(primaries, page)
		}
	}
	if err := ctx.Err(); err != nil {
		s.finalizeBatch(ctx, batchID, result, err)
		return nil, err
	}

	stitchCfg := stitch.Config{
		HeaderSimhashMin: s.cfg.StitchHeaderSimhashMin,
		FooterSimhashMin: s.cfg.StitchFooterSimhashMin,
		ScoreMin:         s.cfg.StitchScoreMin,
		SupplierMin:      s.cfg.StitchSupplierMin,
		LowConfidence:    s.cfg.StitchLowConfidence,
		MaxGroupSize:     s.cfg.StitchMaxGroupSize,
	}
	var segments []*domain.Segment
	for _, filePages := range pagesByFile(primaries) {
		segments = append(segments, stitch.Segments(filePages, stitchCfg)...)
	}
	stitchGroups := stitch.Groups(segments, stitchCfg)
	result.StitchGroups = len(stitchGroups)
	if err := ctx.Err(); err != nil {
		s.finalizeBatch(ctx, batchID, result, err)
		return nil, err
	}

	canonicalCfg := canonical.Config{
		MoneyTolerancePennies: s.cfg.MoneyTolerancePennies,
		ComparableDelta:       s.cfg.CanonicalComparableGap,
	}
	for _, group := range stitchGroups {
		if err := ctx.Err(); err != nil {
			s.finalizeBatch(ctx, batchID, result, err)
			return nil, err
		}
		if err := s.closeStitchGroup(ctx, batchID, group, canonicalCfg, result); err != nil {
			// One unbuildable document does not fail the batch.
			result.Failures = append(result.Failures, Failure{
				Filename: firstFilename(files, group),
				Reason:   err.Error(),
			})
			s.logger.Warn().Err(err).
				Str("stitch_uuid", group.GroupUUID).
				Str("doc_type", string(group.DocType)).
				Msg("failed to close stitch group")
		}
	}

	s.finalizeBatch(ctx, batchID, result, nil)
	s.logger.Info().
		Int64("batch_id", batchID).
		Int("pages", result.PagesIngested).
		Int("failed", result.PagesFailed).
		Int("duplicate_groups", result.DuplicateGroups).
		Int("stitch_groups", result.StitchGroups).
		Int("invoices", len(result.Invoices)).
		Int("documents", len(result.Documents)).
		Msg("batch ingested")
	return result, nil
}

type pageDraft struct {
	fileID    int64
	filename  string
	pageIndex int
	raw       json.RawMessage
	page      *domain.Page
	err       error
}

// ingestPages validates, fingerprints and classifies every page, then
// persists the survivors. Computation runs across BatchWorkers;
// inserts stay on the calling goroutine.
func (s *Service) ingestPages(ctx context.Context, batchID int64, files []FilePayload, result *Result) ([]*domain.Page, error) {
	var drafts []*pageDraft
	for _, file := range files {
		fileID, err := s.insertSourceFile(ctx, batchID, file.Filename, len(file.Pages))
		if err != nil {
			return nil, err
		}
		for idx, raw := range file.Pages {
			drafts = append(drafts, &pageDraft{
				fileID:    fileID,
				filename:  file.Filename,
				pageIndex: idx,
				raw:       raw,
			})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchWorkers)
	for _, draft := range drafts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			draft.page, draft.err = buildPage(draft.raw, draft.fileID, batchID, draft.pageIndex)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var pages []*domain.Page
	for _, draft := range drafts {
		if draft.err != nil {
			result.PagesFailed++
			result.Failures = append(result.Failures, Failure{
				Filename:  draft.filename,
				PageIndex: draft.pageIndex,
				Reason:    draft.err.Error(),
			})
			s.logger.Warn().Err(draft.err).
				Str("filename", draft.filename).
				Int("page_index", draft.pageIndex).
				Msg("page payload rejected")
			continue
		}
		if err := s.insertPage(ctx, draft.page); err != nil {
			return nil, err
		}
		result.PagesIngested++
		pages = append(pages, draft.page)
	}
	return pages, nil
}

// buildPage turns one raw payload into a classified, fingerprinted
// page. Pure apart from the language detector's lazy model load.
func buildPage(raw json.RawMessage, fileID, batchID int64, pageIndex int) (*domain.Page, error) {
	extraction, err := payloadschema.ValidatePageExtractionPayload(raw)
	if err != nil {
		return nil, err
	}
	if extraction.PageIndex != pageIndex {
		return nil, fmt.Errorf("payload page_index %d does not match position %d", extraction.PageIndex, pageIndex)
	}

	page := &domain.Page{
		FileID:         fileID,
		BatchID:        batchID,
		PageIndex:      pageIndex,
		LayoutFeatures: extraction.LayoutFeatures,
		UploadedAt:     globaltime.UTC(),
	}
	if extraction.PageText != nil {
		page.Text = *extraction.PageText
	}
	if extraction.OCRConfidence != nil {
		page.OCRConfidence = *extraction.OCRConfidence
	}
	if extraction.UploadedAt != nil {
		if ts, err := time.Parse(time.RFC3339, *extraction.UploadedAt); err == nil {
			page.UploadedAt = ts.UTC()
		}
	}

	var phash uint64
	hasPHash := false
	if extraction.PHash != nil {
		phash, err = payloadschema.ParsePHash(*extraction.PHash)
		if err != nil {
			return nil, err
		}
		hasPHash = true
	}
	page.Fingerprint = fingerprint.Compute(page.Text, phash, hasPHash)

	if extraction.Language != nil && *extraction.Language != "" {
		page.Language = strings.ToLower(*extraction.Language)
	} else {
		page.Language = langdetect.DetectISO6391(page.Text)
	}
	if page.Language == "" {
		page.Language = "und"
	}

	verdict := classify.Page(page.Text, page.LayoutFeatures)
	page.DocType = verdict.DocType
	page.Confidence = verdict.Confidence
	page.Reasons = verdict.Reasons
	return page, nil
}

// closeStitchGroup persists the stitch group and its canonical record
// in one transaction, bounded-retried on serialization failures.
func (s *Service) closeStitchGroup(ctx context.Context, batchID int64, group *domain.StitchGroup, cfg canonical.Config, result *Result) error {
	var invoice *domain.CanonicalInvoice
	var document *domain.CanonicalDocument
	var err error

	switch group.DocType {
	case domain.DocTypeInvoice:
		invoice, err = canonical.BuildInvoice(group, cfg)
	case domain.DocTypeUnknown:
		// Unclassifiable groups keep their stitch record for review but
		// never produce a canonical entity.
	default:
		document, err = canonical.BuildDocument(group, cfg)
	}
	if err != nil {
		return err
	}

	err = s.pool.RetryTx(ctx, s.cfg.TxRetries, func(tx db.Tx) error {
		stitchID, txErr := insertStitchGroup(ctx, tx, batchID, group)
		if txErr != nil {
			return txErr
		}
		if invoice != nil {
			return persistInvoice(ctx, tx, batchID, stitchID, invoice)
		}
		if document != nil {
			return persistDocument(ctx, tx, batchID, stitchID, document)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if invoice != nil {
		result.Invoices = append(result.Invoices, invoice)
	}
	if document != nil {
		result.Documents = append(result.Documents, document)
	}
	return nil
}

func (s *Service) openBatch(ctx context.Context, label string) (int64, string, error) {
	var batchID int64
	var batchUUID string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO recon.ingest_batches (label, status)
		VALUES ($1, 'running')
		RETURNING batch_id, batch_uuid`,
		nullString(label),
	).Scan(&batchID, &batchUUID)
	if err != nil {
		return 0, "", fmt.Errorf("open ingest batch: %w", err)
	}
	return batchID, batchUUID, nil
}

func (s *Service) finalizeBatch(ctx context.Context, batchID int64, result *Result, ingestErr error) {
	status := "completed"
	var errMsg any
	if ingestErr != nil {
		status = "failed"
		errMsg = ingestErr.Error()
	} else if result.PagesFailed > 0 || len(result.Failures) > 0 {
		status = "completed_with_errors"
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE recon.ingest_batches
		   SET status = $1,
		       pages_ingested = $2,
		       pages_failed = $3,
		       error_message = $4,
		       finished_at = now(),
		       updated_at = now()
		 WHERE batch_id = $5`,
		status, result.PagesIngested, result.PagesFailed, errMsg, batchID,
	)
	if err != nil {
		s.logger.Error().Err(err).Int64("batch_id", batchID).Msg("failed to finalize batch")
	}
}

func (s *Service) insertSourceFile(ctx context.Context, batchID int64, filename string, pageCount int) (int64, error) {
	var fileID int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO recon.source_files (batch_id, filename, page_count)
		VALUES ($1, $2, $3)
		RETURNING file_id`,
		batchID, filename, pageCount,
	).Scan(&fileID)
	if err != nil {
		return 0, fmt.Errorf("insert source file %q: %w", filename, err)
	}
	return fileID, nil
}

func (s *Service) insertPage(ctx context.Context, page *domain.Page) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO recon.pages
		       (file_id, batch_id, page_index, text, language,
		        phash, header_simhash, footer_simhash, text_hash,
		        doc_type, confidence, ocr_confidence,
		        layout_features, reasons, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING page_id`,
		page.FileID, page.BatchID, page.PageIndex, page.Text, page.Language,
		signedHash(page.Fingerprint.PHash, page.Fingerprint.HasPHash),
		signedHash(page.Fingerprint.HeaderSimhash, page.Fingerprint.HasText),
		signedHash(page.Fingerprint.FooterSimhash, page.Fingerprint.HasText),
		page.Fingerprint.TextHash,
		string(page.DocType), page.Confidence, page.OCRConfidence,
		marshalFeatureMap(page.LayoutFeatures), marshalStrings(page.Reasons), page.UploadedAt,
	).Scan(&page.ID)
	if err != nil {
		return fmt.Errorf("insert page %d of file %d: %w", page.PageIndex, page.FileID, err)
	}
	return nil
}

// loadPriorFingerprints pulls the fingerprint signals of every page
// outside this batch, enough for dedup scoring and primary selection.
func (s *Service) loadPriorFingerprints(ctx context.Context, batchID int64) ([]*domain.Page, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT page_id, file_id, batch_id, phash, header_simhash, footer_simhash,
		       text_hash, ocr_confidence, uploaded_at
		  FROM recon.pages
		 WHERE batch_id <> $1`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query prior fingerprints: %w", err)
	}
	defer rows.Close()

	var pages []*domain.Page
	for rows.Next() {
		var (
			page                          domain.Page
			phash, headerHash, footerHash sql.NullInt64
		)
		err := rows.Scan(&page.ID, &page.FileID, &page.BatchID,
			&phash, &headerHash, &footerHash,
			&page.Fingerprint.TextHash, &page.OCRConfidence, &page.UploadedAt)
		if err != nil {
			return nil, fmt.Errorf("scan prior fingerprint: %w", err)
		}
		page.Fingerprint.PHash, page.Fingerprint.HasPHash = uint64(phash.Int64), phash.Valid
		page.Fingerprint.HeaderSimhash = uint64(headerHash.Int64)
		page.Fingerprint.FooterSimhash = uint64(footerHash.Int64)
		page.Fingerprint.HasText = len(page.Fingerprint.TextHash) > 0
		pages = append(pages, &page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prior fingerprints: %w", err)
	}
	return pages, nil
}

// currentBatchGroups keeps only duplicate groups that involve at least
// one page from this batch; purely historical groupings stay frozen.
func currentBatchGroups(groups []domain.DuplicateGroup, pages []*domain.Page) []domain.DuplicateGroup {
	current := make(map[int64]struct{}, len(pages))
	for _, page := range pages {
		current[page.ID] = struct{}{}
	}

	kept := groups[:0]
	for _, group := range groups {
		for _, id := range group.MemberIDs {
			if _, ok := current[id]; ok {
				kept = append(kept, group)
				break
			}
		}
	}
	return kept
}

func (s *Service) persistDuplicateGroups(ctx context.Context, batchID int64, groups []domain.DuplicateGroup) error {
	for _, group := range groups {
		var groupID int64
		err := s.pool.QueryRow(ctx, `
			INSERT INTO recon.duplicate_groups (group_uuid, batch_id, primary_page_id, score, reasons)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING group_id`,
			group.GroupUUID, batchID, group.PrimaryID, group.Score, marshalStrings(group.Reasons),
		).Scan(&groupID)
		if err != nil {
			return fmt.Errorf("insert duplicate group: %w", err)
		}
		for _, pageID := range group.MemberIDs {
			_, err = s.pool.Exec(ctx, `
				INSERT INTO recon.duplicate_members (group_id, page_id)
				VALUES ($1, $2)`,
				groupID, pageID,
			)
			if err != nil {
				return fmt.Errorf("insert duplicate member: %w", err)
			}
		}
	}
	return nil
}

func insertStitchGroup(ctx context.Context, tx db.Tx, batchID int64, group *domain.StitchGroup) (int64, error) {
	var stitchID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO recon.stitch_groups (stitch_uuid, batch_id, doc_type, page_ids, reasons)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING stitch_id`,
		group.GroupUUID, batchID, string(group.DocType),
		marshalInt64s(group.PageIDs()), marshalStrings(group.Reasons),
	).Scan(&stitchID)
	if err != nil {
		return 0, fmt.Errorf("insert stitch group: %w", err)
	}
	return stitchID, nil
}

func persistInvoice(ctx context.Context, tx db.Tx, batchID, stitchID int64, invoice *domain.CanonicalInvoice) error {
	digest, err := canonical.InvoiceDigest(invoice)
	if err != nil {
		return fmt.Errorf("invoice digest: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO recon.canonical_documents
		       (batch_id, stitch_id, doc_type, supplier_name, document_number, document_date,
		        subtotal_pennies, vat_pennies, total_pennies, currency,
		        field_confidence, warnings, source_page_ids, content_digest)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING document_id, document_uuid`,
		batchID, stitchID, string(domain.DocTypeInvoice),
		nullString(invoice.SupplierName), nullString(invoice.InvoiceNumber),
		nullDate(invoice.InvoiceDate, invoice.HasDate),
		invoice.SubtotalPennies, invoice.VATPennies, invoice.TotalPennies, invoice.Currency,
		marshalFeatureMap(invoice.FieldConfidence), marshalStrings(invoice.Warnings),
		marshalInt64s(invoice.SourcePageIDs), digest,
	).Scan(&invoice.ID, &invoice.UUID)
	if err != nil {
		return fmt.Errorf("insert canonical invoice: %w", err)
	}
	return insertLineItems(ctx, tx, invoice.ID, invoice.LineItems)
}

func persistDocument(ctx context.Context, tx db.Tx, batchID, stitchID int64, document *domain.CanonicalDocument) error {
	digest, err := canonical.DocumentDigest(document)
	if err != nil {
		return fmt.Errorf("document digest: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO recon.canonical_documents
		       (batch_id, stitch_id, doc_type, supplier_name, document_number, document_date,
		        field_confidence, warnings, source_page_ids, content_digest)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING document_id, document_uuid`,
		batchID, stitchID, string(document.DocType),
		nullString(document.SupplierName), nullString(document.DocumentNumber),
		nullDate(document.DocDate, document.HasDate),
		marshalFeatureMap(document.FieldConfidence), marshalStrings(document.Warnings),
		marshalInt64s(document.SourcePageIDs), digest,
	).Scan(&document.ID, &document.UUID)
	if err != nil {
		return fmt.Errorf("insert canonical document: %w", err)
	}
	return insertLineItems(ctx, tx, document.ID, document.LineItems)
}

func insertLineItems(ctx context.Context, tx db.Tx, documentID int64, items []domain.LineItem) error {
	for idx := range items {
		item := &items[idx]
		err := tx.QueryRow(ctx, `
			INSERT INTO recon.line_items
			       (document_id, line_index, description, quantity, unit, unit_price_pennies, total_pennies)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING line_id`,
			documentID, idx, item.Description, item.Quantity,
			nullString(item.Unit), item.UnitPennies, item.TotalPennies,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("insert line item %d: %w", idx, err)
		}
	}
	return nil
}

// pagesByFile splits pages into per-file runs ordered by page index,
// files ordered by id for determinism.
func pagesByFile(pages []*domain.Page) [][]*domain.Page {
	byFile := make(map[int64][]*domain.Page)
	for _, page := range pages {
		byFile[page.FileID] = append(byFile[page.FileID], page)
	}

	fileIDs := make([]int64, 0, len(byFile))
	for id := range byFile {
		fileIDs = append(fileIDs, id)
	}
	sort.Slice(fileIDs, func(a, b int) bool { return fileIDs[a] < fileIDs[b] })

	out := make([][]*domain.Page, 0, len(fileIDs))
	for _, id := range fileIDs {
		run := byFile[id]
		sort.Slice(run, func(a, b int) bool { return run[a].PageIndex < run[b].PageIndex })
		out = append(out, run)
	}
	return out
}

func firstFilename(files []FilePayload, group *domain.StitchGroup) string {
	if len(group.Segments) == 0 || len(files) == 0 {
		return ""
	}
	// Best effort: stitch groups span files, report the first one.
	return files[0].Filename
}

func signedHash(value uint64, present bool) *int64 {
	if !present {
		return nil
	}
	signed := int64(value)
	return &signed
}

func nullString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullDate(value time.Time, present bool) any {
	if !present {
		return nil
	}
	return value
}

func marshalStrings(values []string) json.RawMessage {
	if len(values) == 0 {
		return json.RawMessage("[]")
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return json.RawMessage("[]")
	}
	return raw
}

func marshalInt64s(values []int64) json.RawMessage {
	if len(values) == 0 {
		return json.RawMessage("[]")
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return json.RawMessage("[]")
	}
	return raw
}

func marshalFeatureMap(features map[string]float64) json.RawMessage {
	if len(features) == 0 {
		return json.RawMessage("{}")
	}
	raw, err := json.Marshal(features)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}
