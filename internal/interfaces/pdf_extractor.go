// -----------------------------------------------------------------------
// PDF Extractor Interface - Extract text content from PDF documents
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
)

// PDFPageContent represents extracted content from a single PDF page
type PDFPageContent struct {
	PageNumber int    `json:"page_number"` // 1-based
	Text       string `json:"text"`
}

// PDFExtractor extracts text from PDF bytes. Implementations work on raw
// buffers because filing PDFs arrive as in-memory downloads, never as files.
type PDFExtractor interface {
	// PageCount returns the number of pages without extracting text.
	PageCount(ctx context.Context, raw []byte) (int, error)

	// ExtractPages extracts page text in page order, 1-based. A page whose
	// content cannot be decoded yields an entry with empty text rather than
	// failing the document.
	ExtractPages(ctx context.Context, raw []byte) ([]PDFPageContent, error)
}
