package db

import (
	"encoding/json"
	"time"
)

// IngestBatch maps recon.ingest_batches.
type IngestBatch struct {
	BatchID       int64      `gorm:"column:batch_id;primaryKey;autoIncrement"`
	BatchUUID     string     `gorm:"column:batch_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Label         *string    `gorm:"column:label;type:text"`
	StartedAt     time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt    *time.Time `gorm:"column:finished_at;type:timestamptz"`
	Status        string     `gorm:"column:status;type:text;not null;default:running"`
	PagesIngested int        `gorm:"column:pages_ingested;type:integer;not null;default:0"`
	PagesFailed   int        `gorm:"column:pages_failed;type:integer;not null;default:0"`
	ErrorMessage  *string    `gorm:"column:error_message;type:text"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (IngestBatch) TableName() string { return "recon.ingest_batches" }

// SourceFile maps recon.source_files.
type SourceFile struct {
	FileID     int64     `gorm:"column:file_id;primaryKey;autoIncrement"`
	FileUUID   string    `gorm:"column:file_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	BatchID    int64     `gorm:"column:batch_id;type:bigint;not null"`
	Filename   string    `gorm:"column:filename;type:text;not null"`
	PageCount  int       `gorm:"column:page_count;type:integer;not null;default:0"`
	UploadedAt time.Time `gorm:"column:uploaded_at;type:timestamptz;not null;default:now()"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (SourceFile) TableName() string { return "recon.source_files" }

// PageRecord maps recon.pages. Simhashes and phash are stored bit-cast
// as signed bigints.
type PageRecord struct {
	PageID         int64           `gorm:"column:page_id;primaryKey;autoIncrement"`
	PageUUID       string          `gorm:"column:page_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	FileID         int64           `gorm:"column:file_id;type:bigint;not null"`
	BatchID        int64           `gorm:"column:batch_id;type:bigint;not null"`
	PageIndex      int             `gorm:"column:page_index;type:integer;not null"`
	Text           string          `gorm:"column:text;type:text;not null;default:''"`
	Language       string          `gorm:"column:language;type:text;not null;default:und"`
	PHash          *int64          `gorm:"column:phash;type:bigint"`
	HeaderSimhash  *int64          `gorm:"column:header_simhash;type:bigint"`
	FooterSimhash  *int64          `gorm:"column:footer_simhash;type:bigint"`
	TextHash       []byte          `gorm:"column:text_hash;type:bytea"`
	DocType        string          `gorm:"column:doc_type;type:text;not null;default:unknown"`
	Confidence     float64         `gorm:"column:confidence;type:double precision;not null;default:0"`
	OCRConfidence  float64         `gorm:"column:ocr_confidence;type:double precision;not null;default:0"`
	LayoutFeatures json.RawMessage `gorm:"column:layout_features;type:jsonb"`
	Reasons        json.RawMessage `gorm:"column:reasons;type:jsonb"`
	UploadedAt     time.Time       `gorm:"column:uploaded_at;type:timestamptz;not null;default:now()"`
	CreatedAt      time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (PageRecord) TableName() string { return "recon.pages" }

// DuplicateGroupRecord maps recon.duplicate_groups.
type DuplicateGroupRecord struct {
	GroupID       int64           `gorm:"column:group_id;primaryKey;autoIncrement"`
	GroupUUID     string          `gorm:"column:group_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	BatchID       int64           `gorm:"column:batch_id;type:bigint;not null"`
	PrimaryPageID int64           `gorm:"column:primary_page_id;type:bigint;not null"`
	Score         float64         `gorm:"column:score;type:double precision;not null"`
	Reasons       json.RawMessage `gorm:"column:reasons;type:jsonb"`
	CreatedAt     time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (DuplicateGroupRecord) TableName() string { return "recon.duplicate_groups" }

// DuplicateMember maps recon.duplicate_members.
type DuplicateMember struct {
	GroupID   int64     `gorm:"column:group_id;type:bigint;primaryKey"`
	PageID    int64     `gorm:"column:page_id;type:bigint;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (DuplicateMember) TableName() string { return "recon.duplicate_members" }

// StitchGroupRecord maps recon.stitch_groups. PageIDs holds the ordered
// page ids of the assembled document as a JSON array.
type StitchGroupRecord struct {
	StitchID   int64           `gorm:"column:stitch_id;primaryKey;autoIncrement"`
	StitchUUID string          `gorm:"column:stitch_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	BatchID    int64           `gorm:"column:batch_id;type:bigint;not null"`
	DocType    string          `gorm:"column:doc_type;type:text;not null"`
	PageIDs    json.RawMessage `gorm:"column:page_ids;type:jsonb;not null"`
	Reasons    json.RawMessage `gorm:"column:reasons;type:jsonb"`
	CreatedAt  time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (StitchGroupRecord) TableName() string { return "recon.stitch_groups" }

// CanonicalDocumentRecord maps recon.canonical_documents. Invoices and
// delivery notes share the table, discriminated by doc_type. Monetary
// amounts are integer pennies.
type CanonicalDocumentRecord struct {
	DocumentID      int64           `gorm:"column:document_id;primaryKey;autoIncrement"`
	DocumentUUID    string          `gorm:"column:document_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	BatchID         int64           `gorm:"column:batch_id;type:bigint;not null"`
	StitchID        int64           `gorm:"column:stitch_id;type:bigint;not null;unique"`
	DocType         string          `gorm:"column:doc_type;type:text;not null"`
	SupplierName    *string         `gorm:"column:supplier_name;type:text"`
	DocumentNumber  *string         `gorm:"column:document_number;type:text"`
	DocumentDate    *time.Time      `gorm:"column:document_date;type:date"`
	SubtotalPennies *int64          `gorm:"column:subtotal_pennies;type:bigint"`
	VATPennies      *int64          `gorm:"column:vat_pennies;type:bigint"`
	TotalPennies    *int64          `gorm:"column:total_pennies;type:bigint"`
	Currency        string          `gorm:"column:currency;type:text;not null;default:GBP"`
	FieldConfidence json.RawMessage `gorm:"column:field_confidence;type:jsonb"`
	Warnings        json.RawMessage `gorm:"column:warnings;type:jsonb"`
	SourcePageIDs   json.RawMessage `gorm:"column:source_page_ids;type:jsonb;not null"`
	ContentDigest   []byte          `gorm:"column:content_digest;type:bytea;not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (CanonicalDocumentRecord) TableName() string { return "recon.canonical_documents" }

// LineItemRecord maps recon.line_items.
type LineItemRecord struct {
	LineID           int64     `gorm:"column:line_id;primaryKey;autoIncrement"`
	DocumentID       int64     `gorm:"column:document_id;type:bigint;not null"`
	LineIndex        int       `gorm:"column:line_index;type:integer;not null"`
	Description      string    `gorm:"column:description;type:text;not null"`
	SKU              *string   `gorm:"column:sku;type:text"`
	Quantity         float64   `gorm:"column:quantity;type:double precision;not null;default:0"`
	Unit             *string   `gorm:"column:unit;type:text"`
	UnitPricePennies *int64    `gorm:"column:unit_price_pennies;type:bigint"`
	TotalPennies     *int64    `gorm:"column:total_pennies;type:bigint"`
	CreatedAt        time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (LineItemRecord) TableName() string { return "recon.line_items" }

// PairingSuggestionRecord maps recon.pairing_suggestions.
type PairingSuggestionRecord struct {
	SuggestionID   int64           `gorm:"column:suggestion_id;primaryKey;autoIncrement"`
	SuggestionUUID string          `gorm:"column:suggestion_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	InvoiceID      int64           `gorm:"column:invoice_id;type:bigint;not null"`
	DeliveryNoteID int64           `gorm:"column:delivery_note_id;type:bigint;not null"`
	Score          int             `gorm:"column:score;type:integer;not null"`
	Status         string          `gorm:"column:status;type:text;not null;default:pending"`
	AutoPaired     bool            `gorm:"column:auto_paired;type:boolean;not null;default:false"`
	Reasons        json.RawMessage `gorm:"column:reasons;type:jsonb"`
	CreatedAt      time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (PairingSuggestionRecord) TableName() string { return "recon.pairing_suggestions" }

// MatchLinkRecord maps recon.match_links, the confirmed invoice to
// delivery-note pairings with their reconciliation status.
type MatchLinkRecord struct {
	MatchID        int64      `gorm:"column:match_id;primaryKey;autoIncrement"`
	MatchUUID      string     `gorm:"column:match_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	InvoiceID      int64      `gorm:"column:invoice_id;type:bigint;not null"`
	DeliveryNoteID int64      `gorm:"column:delivery_note_id;type:bigint;not null"`
	Status         string     `gorm:"column:status;type:text;not null"`
	Score          int        `gorm:"column:score;type:integer;not null"`
	ConfirmedBy    *string    `gorm:"column:confirmed_by;type:text"`
	ConfirmedAt    time.Time  `gorm:"column:confirmed_at;type:timestamptz;not null;default:now()"`
	DeletedAt      *time.Time `gorm:"column:deleted_at;type:timestamptz"`
	CreatedAt      time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (MatchLinkRecord) TableName() string { return "recon.match_links" }

// MatchLineLinkRecord maps recon.match_line_links, the per-line outcome
// of a confirmed pairing.
type MatchLineLinkRecord struct {
	LineLinkID    int64     `gorm:"column:line_link_id;primaryKey;autoIncrement"`
	MatchID       int64     `gorm:"column:match_id;type:bigint;not null"`
	InvoiceLineID *int64    `gorm:"column:invoice_line_id;type:bigint"`
	DNLineID      *int64    `gorm:"column:dn_line_id;type:bigint"`
	Status        string    `gorm:"column:status;type:text;not null"`
	Score         float64   `gorm:"column:score;type:double precision;not null;default:0"`
	CreatedAt     time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (MatchLineLinkRecord) TableName() string { return "recon.match_line_links" }

func autoMigrateModels() []any {
	return []any{
		&IngestBatch{},
		&SourceFile{},
		&PageRecord{},
		&DuplicateGroupRecord{},
		&DuplicateMember{},
		&StitchGroupRecord{},
		&CanonicalDocumentRecord{},
		&LineItemRecord{},
		&PairingSuggestionRecord{},
		&MatchLinkRecord{},
		&MatchLineLinkRecord{},
	}
}
