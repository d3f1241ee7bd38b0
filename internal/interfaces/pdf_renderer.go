// -----------------------------------------------------------------------
// PDF Renderer Interface - Markdown to PDF conversion for snapshot export
// -----------------------------------------------------------------------

package interfaces

// PDFRenderer converts rendered markdown into a downloadable PDF document.
type PDFRenderer interface {
	// ConvertMarkdownToPDF converts markdown content to a PDF byte slice.
	// The title is stored in the document metadata.
	ConvertMarkdownToPDF(markdown, title string) ([]byte, error)
}
