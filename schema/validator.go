package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed page_extraction.schema.json
var pageExtractionSchemaJSON string

// PageExtraction is the OCR payload submitted for a single scanned page.
// The perceptual hash arrives as a 16-digit hex string computed by the
// rendering collaborator; text and confidence may be absent when OCR
// produced nothing usable.
type PageExtraction struct {
	PayloadVersion   string             `json:"payload_version"`
	Filename         string             `json:"filename"`
	PageIndex        int                `json:"page_index"`
	PageText         *string            `json:"page_text,omitempty"`
	OCRConfidence    *float64           `json:"ocr_confidence,omitempty"`
	PHash            *string            `json:"phash,omitempty"`
	LayoutFeatures   map[string]float64 `json:"layout_features,omitempty"`
	RenderedImageRef *string            `json:"rendered_image_ref,omitempty"`
	Language         *string            `json:"language,omitempty"`
	UploadedAt       *string            `json:"uploaded_at,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidatePageExtractionPayload(payload json.RawMessage) (*PageExtraction, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var extraction PageExtraction
	if err := json.Unmarshal(normalized, &extraction); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&extraction); err != nil {
		return nil, err
	}

	return &extraction, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("page_extraction.schema.json", strings.NewReader(pageExtractionSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("page_extraction.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(extraction *PageExtraction) error {
	if extraction == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(extraction.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}
	if strings.TrimSpace(extraction.Filename) == "" {
		return fmt.Errorf("filename must not be empty")
	}
	if extraction.PageIndex < 0 {
		return fmt.Errorf("page_index must not be negative")
	}

	if extraction.OCRConfidence != nil {
		if *extraction.OCRConfidence < 0 || *extraction.OCRConfidence > 1 {
			return fmt.Errorf("ocr_confidence must be within [0, 1]")
		}
	}
	if extraction.PHash != nil {
		if _, err := ParsePHash(*extraction.PHash); err != nil {
			return err
		}
	}
	if extraction.UploadedAt != nil {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*extraction.UploadedAt)); err != nil {
			return fmt.Errorf("uploaded_at must be RFC3339: %w", err)
		}
	}
	for name, value := range extraction.LayoutFeatures {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("layout_features contains an empty feature name")
		}
		if value != value {
			return fmt.Errorf("layout_features[%s] is NaN", name)
		}
	}

	return nil
}

// ParsePHash decodes the collaborator's 64-bit perceptual hash from its
// 16-digit hex form.
func ParsePHash(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) != 16 {
		return 0, fmt.Errorf("phash must be exactly 16 hex digits")
	}
	var hash uint64
	for _, r := range trimmed {
		var nibble uint64
		switch {
		case r >= '0' && r <= '9':
			nibble = uint64(r - '0')
		case r >= 'a' && r <= 'f':
			nibble = uint64(r-'a') + 10
		case r >= 'A' && r <= 'F':
			nibble = uint64(r-'A') + 10
		default:
			return 0, fmt.Errorf("phash contains a non-hex digit %q", r)
		}
		hash = hash<<4 | nibble
	}
	return hash, nil
}
