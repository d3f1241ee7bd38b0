package models

import (
	"time"
)

const (
	// DocumentTypeAnnualReport is the only type the scraper currently admits
	DocumentTypeAnnualReport = "annual_report"
)

// Document represents one stored filing PDF belonging to a project.
// FileURL points at the uploaded blob; OriginalURL at the registrar source.
type Document struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	DocumentType string    `json:"document_type"`
	FiscalYear   string    `json:"fiscal_year,omitempty"` // FY2024, FY2023, ...
	Label        string    `json:"label,omitempty"`       // source row label, e.g. "2024-25 (Revised)"
	FileURL      string    `json:"file_url"`
	OriginalURL  string    `json:"original_url,omitempty"`
	PageCount    int       `json:"page_count,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DocumentPage holds the extracted text of a single PDF page.
// PageNumber is 1-based.
type DocumentPage struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	PageNumber int    `json:"page_number"`
	PageText   string `json:"page_text"`
}
