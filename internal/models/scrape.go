package models

import (
	"crypto/md5"
	"encoding/hex"
)

// ScrapedReport is one qualifying annual-report row found on the registrar
// filings page. Key identifies the report across steps (documents are only
// created later, at upload).
type ScrapedReport struct {
	Label        string `json:"label"`       // source row label, e.g. "2024-25 (Revised)"
	PDFURL       string `json:"pdf_url"`     // absolute download URL
	FiscalYear   string `json:"fiscal_year"` // FY2024, FY2023, ...
	Year         int    `json:"year"`        // numeric year parsed from the row
	DocumentType string `json:"document_type"`
	Key          string `json:"key"` // ReportKey(PDFURL)
}

// ReportKey derives the stable identity of a scraped report: the first 8 hex
// characters of the MD5 of its source PDF URL. Two rows pointing at the same
// PDF collapse to one report.
func ReportKey(pdfURL string) string {
	sum := md5.Sum([]byte(pdfURL))
	return hex.EncodeToString(sum[:])[:8]
}
