// -----------------------------------------------------------------------
// PDF Extractor Service - Extract text content from PDF documents
// Uses pdfcpu for Go-native PDF processing
// -----------------------------------------------------------------------

package pdf

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// contentPageFile matches pdfcpu's extracted content file names, which carry
// the source file's base name as a prefix (e.g. doc_123_Content_page_4.txt).
var contentPageFile = regexp.MustCompile(`Content_page_(\d+)`)

// Extractor pulls per-page text out of PDF buffers using pdfcpu. pdfcpu works
// on files, so each call round-trips through a scratch directory.
type Extractor struct {
	logger  arbor.ILogger
	tempDir string
}

// Compile-time interface assertion
var _ interfaces.PDFExtractor = (*Extractor)(nil)

// NewExtractor creates a PDF extractor backed by a scratch directory under
// the system temp dir.
func NewExtractor(logger arbor.ILogger) *Extractor {
	tempDir := filepath.Join(os.TempDir(), "colligo-pdf")
	os.MkdirAll(tempDir, 0755)

	return &Extractor{
		logger:  logger,
		tempDir: tempDir,
	}
}

// PageCount returns the number of pages without extracting text.
func (e *Extractor) PageCount(ctx context.Context, raw []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, common.WrapErr(common.KindCancelled, err, "page count cancelled")
	}

	tempFile, cleanup, err := e.writeTemp(raw)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return 0, common.WrapErr(common.KindValidation, err, "unreadable PDF")
	}
	return pdfCtx.PageCount, nil
}

// ExtractPages extracts page text in page order, 1-based. A page whose
// content stream cannot be decoded yields an entry with empty text so one
// bad page does not sink the whole document.
func (e *Extractor) ExtractPages(ctx context.Context, raw []byte) ([]interfaces.PDFPageContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.WrapErr(common.KindCancelled, err, "extraction cancelled")
	}

	tempFile, cleanup, err := e.writeTemp(raw)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return nil, common.WrapErr(common.KindValidation, err, "unreadable PDF")
	}
	pageCount := pdfCtx.PageCount

	outDir, err := os.MkdirTemp(e.tempDir, "pages_")
	if err != nil {
		return nil, common.WrapErr(common.KindInternal, err, "failed to create extraction dir")
	}
	defer os.RemoveAll(outDir)

	pages := make([]interfaces.PDFPageContent, 0, pageCount)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		e.logger.Warn().Err(err).Msg("PDF content extraction failed, returning empty pages")
		for pageNum := 1; pageNum <= pageCount; pageNum++ {
			pages = append(pages, interfaces.PDFPageContent{PageNumber: pageNum})
		}
		return pages, nil
	}

	pageTexts := readContentFiles(outDir)
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		pages = append(pages, interfaces.PDFPageContent{
			PageNumber: pageNum,
			Text:       pageTexts[pageNum],
		})
	}

	e.logger.Debug().
		Int("pages", pageCount).
		Int("with_text", len(pageTexts)).
		Msg("Extracted PDF pages")

	return pages, nil
}

// writeTemp persists the buffer so pdfcpu's file-based API can read it.
func (e *Extractor) writeTemp(raw []byte) (string, func(), error) {
	f, err := os.CreateTemp(e.tempDir, "doc_*.pdf")
	if err != nil {
		return "", nil, common.WrapErr(common.KindInternal, err, "failed to create temp PDF file")
	}
	name := f.Name()
	cleanup := func() { os.Remove(name) }

	if _, err := f.Write(raw); err != nil {
		f.Close()
		cleanup()
		return "", nil, common.WrapErr(common.KindInternal, err, "failed to write temp PDF file")
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, common.WrapErr(common.KindInternal, err, "failed to write temp PDF file")
	}
	return name, cleanup, nil
}

// readContentFiles maps page numbers to decoded content stream text.
func readContentFiles(outDir string) map[int]string {
	pageTexts := make(map[int]string)

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return pageTexts
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := contentPageFile.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		pageNum, err := strconv.Atoi(m[1])
		if err != nil || pageNum < 1 {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil {
			continue
		}
		pageTexts[pageNum] = string(content)
	}
	return pageTexts
}
