package pairing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"ledger.fit/recon/internal/db"
	"ledger.fit/recon/internal/domain"
)

var (
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrDeliveryNoteNotFound = errors.New("delivery note not found")

	// ErrDeliveryNoteTaken means another invoice already holds the
	// active link for this delivery note.
	ErrDeliveryNoteTaken = errors.New("delivery note already linked to another invoice")
)

// Service runs pairing against the canonical store. Confirmation is
// serialized per delivery note through a row lock so that at most one
// active link exists at a time.
type Service struct {
	pool      *db.Pool
	cfg       Config
	txRetries int
	logger    zerolog.Logger
}

func NewService(pool *db.Pool, cfg Config, txRetries int, logger zerolog.Logger) *Service {
	if txRetries < 1 {
		txRetries = 1
	}
	return &Service{
		pool:      pool,
		cfg:       cfg,
		txRetries: txRetries,
		logger:    logger.With().Str("component", "pairing").Logger(),
	}
}

// LineLink is one persisted per-line outcome of a confirmed pairing.
type LineLink struct {
	LineLinkID    int64
	MatchID       int64
	InvoiceLineID int64
	DNLineID      int64
	HasInvoiceID  bool
	HasDNID       bool
	Status        domain.LineMatchStatus
	Score         float64
}

// ConfirmedMatch is the outcome of Confirm.
type ConfirmedMatch struct {
	MatchID        int64
	InvoiceID      int64
	DeliveryNoteID int64
	Status         domain.MatchStatus
	Score          int
	AutoPaired     bool
}

// Suggest scores the invoice against every delivery note, persists
// candidates at or above the suggestion floor as pending suggestions
// and returns the full ranked result set. Delivery notes already linked
// elsewhere come back with conflict status and are never persisted.
func (s *Service) Suggest(ctx context.Context, invoiceID int64) ([]Result, error) {
	invoice, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	notes, linked, err := s.loadDeliveryNotes(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(notes))
	for _, note := range notes {
		r := Score(invoice, note, s.cfg)
		if holder, taken := linked[note.ID]; taken && holder != invoiceID {
			r.Status = domain.MatchConflict
			r.Reasons = append(r.Reasons, "delivery note already linked to another invoice")
		}
		results = append(results, r)
	}
	Rank(results)

	for _, r := range results {
		if r.Score < s.cfg.SuggestionMin || r.Status == domain.MatchConflict {
			continue
		}
		if err := s.upsertSuggestion(ctx, r); err != nil {
			return nil, fmt.Errorf("persist suggestion for delivery note %d: %w", r.DeliveryNoteID, err)
		}
	}

	s.logger.Debug().
		Int64("invoice_id", invoiceID).
		Int("candidates", len(results)).
		Msg("pairing suggestions computed")
	return results, nil
}

// AutoPair confirms the best suggestion when it clears the auto
// threshold and leads the runner-up by the required margin. Returns nil
// without error when no candidate qualifies.
func (s *Service) AutoPair(ctx context.Context, invoiceID int64) (*ConfirmedMatch, error) {
	results, err := s.Suggest(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	best := results[0]
	if best.Status != domain.MatchMatched || best.Score < s.cfg.AutoThreshold {
		return nil, nil
	}
	if len(results) > 1 && best.Score-results[1].Score < s.cfg.AutoMargin {
		return nil, nil
	}

	match, err := s.confirm(ctx, invoiceID, best.DeliveryNoteID, "auto", true)
	if err != nil {
		// A concurrent confirm winning the race is not a failure of
		// auto-pairing, just a lost election.
		if errors.Is(err, ErrDeliveryNoteTaken) {
			return nil, nil
		}
		return nil, err
	}
	s.logger.Info().
		Int64("invoice_id", invoiceID).
		Int64("delivery_note_id", best.DeliveryNoteID).
		Int("score", best.Score).
		Msg("auto-paired invoice")
	return match, nil
}

// Confirm links the invoice to the delivery note and rejects every
// competing pending suggestion for that delivery note, atomically.
func (s *Service) Confirm(ctx context.Context, invoiceID, deliveryNoteID int64, confirmedBy string) (*ConfirmedMatch, error) {
	return s.confirm(ctx, invoiceID, deliveryNoteID, confirmedBy, false)
}

func (s *Service) confirm(ctx context.Context, invoiceID, deliveryNoteID int64, confirmedBy string, auto bool) (*ConfirmedMatch, error) {
	invoice, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	note, err := s.loadDeliveryNote(ctx, deliveryNoteID)
	if err != nil {
		return nil, err
	}
	result := Score(invoice, note, s.cfg)

	var match *ConfirmedMatch
	err = s.pool.RetryTx(ctx, s.txRetries, func(tx db.Tx) error {
		m, txErr := s.confirmInTx(ctx, tx, invoice, note, result, confirmedBy, auto)
		if txErr != nil {
			return txErr
		}
		match = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

func (s *Service) confirmInTx(ctx context.Context, tx db.Tx, invoice *domain.CanonicalInvoice, note *domain.CanonicalDocument, result Result, confirmedBy string, auto bool) (*ConfirmedMatch, error) {
	// Row lock on the delivery note serializes competing confirms.
	var lockedID int64
	err := tx.QueryRow(ctx, `
		SELECT document_id
		  FROM recon.canonical_documents
		 WHERE document_id = $1 AND doc_type = $2
		 FOR UPDATE`,
		note.ID, string(domain.DocTypeDeliveryNote),
	).Scan(&lockedID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrDeliveryNoteNotFound
		}
		return nil, fmt.Errorf("lock delivery note %d: %w", note.ID, err)
	}

	var existingMatchID, existingInvoiceID int64
	var existingStatus string
	var existingScore int
	err = tx.QueryRow(ctx, `
		SELECT match_id, invoice_id, status, score
		  FROM recon.match_links
		 WHERE delivery_note_id = $1 AND deleted_at IS NULL`,
		note.ID,
	).Scan(&existingMatchID, &existingInvoiceID, &existingStatus, &existingScore)
	switch {
	case err == nil:
		if existingInvoiceID != invoice.ID {
			return nil, ErrDeliveryNoteTaken
		}
		// Re-confirming the same pair is a no-op.
		return &ConfirmedMatch{
			MatchID:        existingMatchID,
			InvoiceID:      invoice.ID,
			DeliveryNoteID: note.ID,
			Status:         domain.MatchStatus(existingStatus),
			Score:          existingScore,
			AutoPaired:     auto,
		}, nil
	case db.IsNoRows(err):
		// Free to link.
	default:
		return nil, fmt.Errorf("check existing link for delivery note %d: %w", note.ID, err)
	}

	var matchID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO recon.match_links (invoice_id, delivery_note_id, status, score, confirmed_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING match_id`,
		invoice.ID, note.ID, string(result.Status), result.Score, confirmedBy,
	).Scan(&matchID)
	if err != nil {
		return nil, fmt.Errorf("insert match link: %w", err)
	}

	for _, lm := range result.LineMatches {
		var invLineID, dnLineID any
		if lm.InvoiceIndex >= 0 {
			invLineID = invoice.LineItems[lm.InvoiceIndex].ID
		}
		if lm.DeliveryIndex >= 0 {
			dnLineID = note.LineItems[lm.DeliveryIndex].ID
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO recon.match_line_links (match_id, invoice_line_id, dn_line_id, status, score)
			VALUES ($1, $2, $3, $4, $5)`,
			matchID, invLineID, dnLineID, string(lm.Status), lm.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("insert line link: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO recon.pairing_suggestions (invoice_id, delivery_note_id, score, status, auto_paired, reasons)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (invoice_id, delivery_note_id)
		DO UPDATE SET status = EXCLUDED.status,
		              score = EXCLUDED.score,
		              auto_paired = EXCLUDED.auto_paired,
		              updated_at = now()`,
		invoice.ID, note.ID, result.Score, string(domain.SuggestionConfirmed), auto, marshalReasons(result.Reasons),
	)
	if err != nil {
		return nil, fmt.Errorf("mark suggestion confirmed: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE recon.pairing_suggestions
		   SET status = $1, updated_at = now()
		 WHERE delivery_note_id = $2
		   AND invoice_id <> $3
		   AND status = $4`,
		string(domain.SuggestionRejected), note.ID, invoice.ID, string(domain.SuggestionPending),
	)
	if err != nil {
		return nil, fmt.Errorf("reject competing suggestions: %w", err)
	}

	return &ConfirmedMatch{
		MatchID:        matchID,
		InvoiceID:      invoice.ID,
		DeliveryNoteID: note.ID,
		Status:         result.Status,
		Score:          result.Score,
		AutoPaired:     auto,
	}, nil
}

// Reject marks the suggestion rejected. A previously confirmed link for
// the same pair is soft-deleted so the delivery note becomes pairable
// again.
func (s *Service) Reject(ctx context.Context, invoiceID, deliveryNoteID int64) error {
	return s.pool.RetryTx(ctx, s.txRetries, func(tx db.Tx) error {
		var lockedID int64
		err := tx.QueryRow(ctx, `
			SELECT document_id
			  FROM recon.canonical_documents
			 WHERE document_id = $1 AND doc_type = $2
			 FOR UPDATE`,
			deliveryNoteID, string(domain.DocTypeDeliveryNote),
		).Scan(&lockedID)
		if err != nil {
			if db.IsNoRows(err) {
				return ErrDeliveryNoteNotFound
			}
			return fmt.Errorf("lock delivery note %d: %w", deliveryNoteID, err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE recon.match_links
			   SET deleted_at = now(), updated_at = now()
			 WHERE invoice_id = $1 AND delivery_note_id = $2 AND deleted_at IS NULL`,
			invoiceID, deliveryNoteID,
		)
		if err != nil {
			return fmt.Errorf("unlink match: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE recon.pairing_suggestions
			   SET status = $1, updated_at = now()
			 WHERE invoice_id = $2 AND delivery_note_id = $3`,
			string(domain.SuggestionRejected), invoiceID, deliveryNoteID,
		)
		if err != nil {
			return fmt.Errorf("reject suggestion: %w", err)
		}
		if tag.RowsAffected() == 0 {
			_, err = tx.Exec(ctx, `
				INSERT INTO recon.pairing_suggestions (invoice_id, delivery_note_id, score, status)
				VALUES ($1, $2, 0, $3)`,
				invoiceID, deliveryNoteID, string(domain.SuggestionRejected),
			)
			if err != nil {
				return fmt.Errorf("record rejection: %w", err)
			}
		}
		return nil
	})
}

// LineMatches returns the persisted per-line outcomes for a match.
func (s *Service) LineMatches(ctx context.Context, matchID int64) ([]LineLink, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT line_link_id, match_id, invoice_line_id, dn_line_id, status, score
		  FROM recon.match_line_links
		 WHERE match_id = $1
		 ORDER BY line_link_id`,
		matchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query line links for match %d: %w", matchID, err)
	}
	defer rows.Close()

	var links []LineLink
	for rows.Next() {
		var link LineLink
		var invLine, dnLine sql.NullInt64
		var status string
		if err := rows.Scan(&link.LineLinkID, &link.MatchID, &invLine, &dnLine, &status, &link.Score); err != nil {
			return nil, fmt.Errorf("scan line link: %w", err)
		}
		link.InvoiceLineID, link.HasInvoiceID = invLine.Int64, invLine.Valid
		link.DNLineID, link.HasDNID = dnLine.Int64, dnLine.Valid
		link.Status = domain.LineMatchStatus(status)
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line links: %w", err)
	}
	return links, nil
}

func (s *Service) loadInvoice(ctx context.Context, invoiceID int64) (*domain.CanonicalInvoice, error) {
	var (
		supplier, number sql.NullString
		docDate          sql.NullTime
	)
	inv := &domain.CanonicalInvoice{ID: invoiceID}
	err := s.pool.QueryRow(ctx, `
		SELECT document_uuid, supplier_name, document_number, document_date
		  FROM recon.canonical_documents
		 WHERE document_id = $1 AND doc_type = $2`,
		invoiceID, string(domain.DocTypeInvoice),
	).Scan(&inv.UUID, &supplier, &number, &docDate)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("load invoice %d: %w", invoiceID, err)
	}
	inv.SupplierName = supplier.String
	inv.InvoiceNumber = number.String
	inv.InvoiceDate, inv.HasDate = docDate.Time, docDate.Valid

	inv.LineItems, err = s.loadLineItems(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) loadDeliveryNote(ctx context.Context, deliveryNoteID int64) (*domain.CanonicalDocument, error) {
	var (
		supplier, number sql.NullString
		docDate          sql.NullTime
	)
	note := &domain.CanonicalDocument{ID: deliveryNoteID, DocType: domain.DocTypeDeliveryNote}
	err := s.pool.QueryRow(ctx, `
		SELECT document_uuid, supplier_name, document_number, document_date
		  FROM recon.canonical_documents
		 WHERE document_id = $1 AND doc_type = $2`,
		deliveryNoteID, string(domain.DocTypeDeliveryNote),
	).Scan(&note.UUID, &supplier, &number, &docDate)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrDeliveryNoteNotFound
		}
		return nil, fmt.Errorf("load delivery note %d: %w", deliveryNoteID, err)
	}
	note.SupplierName = supplier.String
	note.DocumentNumber = number.String
	note.DocDate, note.HasDate = docDate.Time, docDate.Valid

	note.LineItems, err = s.loadLineItems(ctx, deliveryNoteID)
	if err != nil {
		return nil, err
	}
	return note, nil
}

// loadDeliveryNotes returns every delivery note plus a map of delivery
// note id to the invoice currently holding its active link.
func (s *Service) loadDeliveryNotes(ctx context.Context) ([]*domain.CanonicalDocument, map[int64]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.document_id, d.document_uuid, d.supplier_name, d.document_number, d.document_date,
		       l.invoice_id
		  FROM recon.canonical_documents d
		  LEFT JOIN recon.match_links l
		    ON l.delivery_note_id = d.document_id AND l.deleted_at IS NULL
		 WHERE d.doc_type = $1
		 ORDER BY d.document_id`,
		string(domain.DocTypeDeliveryNote),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("query delivery notes: %w", err)
	}
	defer rows.Close()

	var notes []*domain.CanonicalDocument
	linked := make(map[int64]int64)
	for rows.Next() {
		var (
			supplier, number sql.NullString
			docDate          sql.NullTime
			holder           sql.NullInt64
		)
		note := &domain.CanonicalDocument{DocType: domain.DocTypeDeliveryNote}
		if err := rows.Scan(&note.ID, &note.UUID, &supplier, &number, &docDate, &holder); err != nil {
			return nil, nil, fmt.Errorf("scan delivery note: %w", err)
		}
		note.SupplierName = supplier.String
		note.DocumentNumber = number.String
		note.DocDate, note.HasDate = docDate.Time, docDate.Valid
		if holder.Valid {
			linked[note.ID] = holder.Int64
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate delivery notes: %w", err)
	}

	for _, note := range notes {
		note.LineItems, err = s.loadLineItems(ctx, note.ID)
		if err != nil {
			return nil, nil, err
		}
	}
	return notes, linked, nil
}

func (s *Service) loadLineItems(ctx context.Context, documentID int64) ([]domain.LineItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT line_id, description, quantity, unit, unit_price_pennies, total_pennies
		  FROM recon.line_items
		 WHERE document_id = $1
		 ORDER BY line_index`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query line items for document %d: %w", documentID, err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var (
			item        domain.LineItem
			unit        sql.NullString
			unitPennies sql.NullInt64
			total       sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.Description, &item.Quantity, &unit, &unitPennies, &total); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		item.Unit = unit.String
		item.UnitPennies = unitPennies.Int64
		item.TotalPennies = total.Int64
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return items, nil
}

func (s *Service) upsertSuggestion(ctx context.Context, r Result) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recon.pairing_suggestions (invoice_id, delivery_note_id, score, status, reasons)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (invoice_id, delivery_note_id)
		DO UPDATE SET score = EXCLUDED.score,
		              reasons = EXCLUDED.reasons,
		              updated_at = now()
		WHERE recon.pairing_suggestions.status = $4`,
		r.InvoiceID, r.DeliveryNoteID, r.Score, string(domain.SuggestionPending), marshalReasons(r.Reasons),
	)
	return err
}

func marshalReasons(reasons []string) json.RawMessage {
	if len(reasons) == 0 {
		return json.RawMessage("[]")
	}
	raw, err := json.Marshal(reasons)
	if err != nil {
		return json.RawMessage("[]")
	}
	return raw
}
