package model

import "time"

// Document is a source text file with its content hash.
type Document struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	SHA256     string    `json:"sha256"`
	SizeBytes  int64     `json:"size_bytes"`
	Text       string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// LineType classifies a document line.
type LineType string

const (
	LineHeader      LineType = "header"
	LineListItem    LineType = "list_item"
	LineKeyValue    LineType = "key_value"
	LineContactInfo LineType = "contact_info"
	LineDateInfo    LineType = "date_info"
	LineContent     LineType = "content"
)

// TextLine is one cleaned, classified line of a document.
type TextLine struct {
	DocumentID string   `json:"document_id"`
	Number     int      `json:"line_number"`
	Text       string   `json:"text"`
	Type       LineType `json:"line_type"`
}
