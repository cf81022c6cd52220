package lease

import "time"

// DocumentType classifies a document within a lease document set.
type DocumentType string

const (
	DocBaseLease  DocumentType = "base_lease"
	DocAmendment  DocumentType = "amendment"
	DocExhibit    DocumentType = "exhibit"
	DocGuaranty   DocumentType = "guaranty"
	DocSNDA       DocumentType = "snda"
	DocEstoppel   DocumentType = "estoppel"
	DocAssignment DocumentType = "assignment"
	DocSublease   DocumentType = "sublease"
	DocSideLetter DocumentType = "side_letter"
	DocMemorandum DocumentType = "memorandum"
)

// ValidDocumentTypes is the closed set accepted on input.
var ValidDocumentTypes = map[DocumentType]bool{
	DocBaseLease:  true,
	DocAmendment:  true,
	DocExhibit:    true,
	DocGuaranty:   true,
	DocSNDA:       true,
	DocEstoppel:   true,
	DocAssignment: true,
	DocSublease:   true,
	DocSideLetter: true,
	DocMemorandum: true,
}

// Document is one input document: plain OCR'd text, optionally carrying
// "--- PAGE N ---" markers, plus identifying metadata.
type Document struct {
	ID      string       `json:"doc_id"`
	Type    DocumentType `json:"doc_type"`
	Title   string       `json:"title"`
	Text    string       `json:"-"`
	Date    *time.Time   `json:"date,omitempty"`
	Parties []string     `json:"parties,omitempty"`
}
