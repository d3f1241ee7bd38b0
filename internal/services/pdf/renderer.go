// -----------------------------------------------------------------------
// PDF Renderer Service - Render snapshot markdown to a downloadable PDF
// -----------------------------------------------------------------------

package pdf

import (
	"bytes"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Renderer converts snapshot markdown into an A4 PDF. Snapshot documents use
// headings, paragraphs, emphasis, lists and tables; anything else renders as
// plain text.
type Renderer struct {
	logger arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.PDFRenderer = (*Renderer)(nil)

// NewRenderer creates a markdown-to-PDF renderer.
func NewRenderer(logger arbor.ILogger) *Renderer {
	return &Renderer{logger: logger}
}

// ConvertMarkdownToPDF converts markdown content to a PDF byte slice. The
// title goes into the document metadata; the visible heading is expected to
// be part of the markdown itself.
func (r *Renderer) ConvertMarkdownToPDF(markdown, title string) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(title, false)
	doc.SetMargins(10, 10, 10)
	doc.SetAutoPageBreak(true, 10)
	doc.AddPage()
	doc.SetFont("Arial", "", 9)

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	source := []byte(markdown)
	root := md.Parser().Parse(text.NewReader(source))

	walker := &docRenderer{pdf: doc, source: source, font: "Arial", size: 9}
	if err := walker.render(root); err != nil {
		r.logger.Error().Err(err).Msg("Failed to render snapshot PDF")
		return nil, common.WrapErr(common.KindInternal, err, "failed to render PDF")
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, common.WrapErr(common.KindInternal, err, "failed to write PDF output")
	}

	r.logger.Debug().
		Int("markdown_len", len(markdown)).
		Int("pdf_size", buf.Len()).
		Msg("Rendered snapshot PDF")

	return buf.Bytes(), nil
}

// docRenderer walks the goldmark AST and emits fpdf drawing calls.
type docRenderer struct {
	pdf       *fpdf.Fpdf
	source    []byte
	font      string
	size      float64
	bold      bool
	italic    bool
	listLevel int
}

func (r *docRenderer) render(root ast.Node) error {
	return ast.Walk(root, r.walk)
}

func (r *docRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch n.Kind() {
	case ast.KindHeading:
		return r.handleHeading(n.(*ast.Heading), entering)
	case ast.KindParagraph:
		if !entering {
			r.pdf.Ln(7)
		}
	case ast.KindText:
		return r.handleText(n.(*ast.Text), entering)
	case ast.KindEmphasis:
		return r.handleEmphasis(n.(*ast.Emphasis), entering)
	case ast.KindList:
		return r.handleList(entering)
	case ast.KindListItem:
		return r.handleListItem(entering)
	case ast.KindThematicBreak:
		if entering {
			r.pdf.Ln(2)
			r.pdf.Line(15, r.pdf.GetY(), 195, r.pdf.GetY())
			r.pdf.Ln(2)
		}
	case extast.KindTable:
		return r.handleTable(n.(*extast.Table), entering)
	}
	return ast.WalkContinue, nil
}

// updateFont restores the base font with the current emphasis state.
func (r *docRenderer) updateFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont(r.font, style, r.size)
}

func (r *docRenderer) handleHeading(n *ast.Heading, entering bool) (ast.WalkStatus, error) {
	if entering {
		r.pdf.Ln(6)
		size := 10.0
		switch n.Level {
		case 1:
			size = 14
		case 2:
			size = 12
		case 3:
			size = 11
		}
		r.pdf.SetFont(r.font, "B", size)
	} else {
		r.pdf.Ln(6)
		r.updateFont()
	}
	return ast.WalkContinue, nil
}

func (r *docRenderer) handleText(n *ast.Text, entering bool) (ast.WalkStatus, error) {
	if entering {
		r.pdf.Write(5, string(n.Text(r.source)))
		if n.SoftLineBreak() {
			r.pdf.Write(5, " ")
		}
	}
	return ast.WalkContinue, nil
}

func (r *docRenderer) handleEmphasis(n *ast.Emphasis, entering bool) (ast.WalkStatus, error) {
	if n.Level == 2 {
		r.bold = entering
	} else {
		r.italic = entering
	}
	r.updateFont()
	return ast.WalkContinue, nil
}

func (r *docRenderer) handleList(entering bool) (ast.WalkStatus, error) {
	if entering {
		r.listLevel++
	} else {
		r.listLevel--
		if r.listLevel == 0 {
			r.pdf.Ln(2)
		}
	}
	return ast.WalkContinue, nil
}

func (r *docRenderer) handleListItem(entering bool) (ast.WalkStatus, error) {
	if entering {
		r.pdf.Ln(5)
		indent := float64(r.listLevel) * 5
		r.pdf.SetX(10 + indent)
		r.pdf.Write(5, "- ")
	}
	return ast.WalkContinue, nil
}

func (r *docRenderer) handleTable(n *extast.Table, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	var rows [][]string
	var collect func(node ast.Node)
	collect = func(node ast.Node) {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			switch row := child.(type) {
			case *extast.TableHeader:
				// Header cells usually hang directly off the header node;
				// fall through to the nested row otherwise.
				if cells := r.rowCells(row); len(cells) > 0 {
					rows = append(rows, cells)
				} else {
					collect(row)
				}
			case *extast.TableRow:
				rows = append(rows, r.rowCells(row))
			}
		}
	}
	collect(n)

	r.renderTable(rows)
	return ast.WalkSkipChildren, nil
}

func (r *docRenderer) rowCells(n ast.Node) []string {
	var cells []string
	for cell := n.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if _, ok := cell.(*extast.TableCell); ok {
			cells = append(cells, string(cell.Text(r.source)))
		}
	}
	return cells
}

func (r *docRenderer) renderTable(rows [][]string) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	numCols := len(rows[0])
	pageWidth := 190.0
	fontSize := 8.0
	lineHeight := 4.0

	widths := r.columnWidths(rows, numCols, pageWidth, fontSize)

	r.pdf.Ln(2)
	for i, row := range rows {
		if i == 0 {
			r.pdf.SetFont(r.font, "B", fontSize)
		} else {
			r.pdf.SetFont(r.font, "", fontSize)
		}

		maxLines := 1
		for j, cell := range row {
			if j >= numCols {
				break
			}
			if lines := r.wrapLines(cell, widths[j]-2); len(lines) > maxLines {
				maxLines = len(lines)
			}
		}
		if maxLines > 8 {
			maxLines = 8
		}

		rowHeight := float64(maxLines)*lineHeight + 2
		startX := r.pdf.GetX()
		startY := r.pdf.GetY()

		// A4 height minus bottom margin
		if startY+rowHeight > 282 {
			r.pdf.AddPage()
			startY = r.pdf.GetY()
		}

		x := startX
		for j := 0; j < numCols; j++ {
			cell := ""
			if j < len(row) {
				cell = row[j]
			}
			if i == 0 {
				r.pdf.SetFillColor(230, 230, 230)
				r.pdf.Rect(x, startY, widths[j], rowHeight, "FD")
			} else {
				r.pdf.Rect(x, startY, widths[j], rowHeight, "D")
			}
			r.pdf.SetXY(x+1, startY+1)
			r.renderCell(cell, widths[j]-2, lineHeight, maxLines)
			x += widths[j]
		}

		r.pdf.SetXY(startX, startY+rowHeight)
	}

	r.pdf.Ln(3)
	r.updateFont()
}

// columnWidths sizes columns to their widest content, clamped so no column
// exceeds a third of the page, then scales down proportionally if the table
// still overflows.
func (r *docRenderer) columnWidths(rows [][]string, numCols int, pageWidth, fontSize float64) []float64 {
	widths := make([]float64, numCols)

	r.pdf.SetFont(r.font, "", fontSize)
	for _, row := range rows {
		for i, cell := range row {
			if i >= numCols {
				break
			}
			if w := r.pdf.GetStringWidth(cell) + 4; w > widths[i] {
				widths[i] = w
			}
		}
	}

	// Headers render bold and measure wider.
	r.pdf.SetFont(r.font, "B", fontSize)
	for i, cell := range rows[0] {
		if i >= numCols {
			break
		}
		if w := r.pdf.GetStringWidth(cell) + 4; w > widths[i] {
			widths[i] = w
		}
	}
	r.pdf.SetFont(r.font, "", fontSize)

	const minWidth = 12.0
	maxWidth := pageWidth / 3
	total := 0.0
	for i := range widths {
		if widths[i] < minWidth {
			widths[i] = minWidth
		}
		if widths[i] > maxWidth {
			widths[i] = maxWidth
		}
		total += widths[i]
	}

	if total > pageWidth {
		scale := pageWidth / total
		for i := range widths {
			widths[i] *= scale
		}
	}

	return widths
}

// wrapLines breaks cell text into lines that fit the given width.
func (r *docRenderer) wrapLines(cellText string, width float64) []string {
	words := strings.Fields(cellText)
	if len(words) == 0 || width <= 0 {
		return []string{""}
	}

	spaceWidth := r.pdf.GetStringWidth(" ")
	lines := make([]string, 0, 1)
	current := words[0]
	currentWidth := r.pdf.GetStringWidth(words[0])

	for _, word := range words[1:] {
		wordWidth := r.pdf.GetStringWidth(word)
		if currentWidth+spaceWidth+wordWidth <= width {
			current += " " + word
			currentWidth += spaceWidth + wordWidth
		} else {
			lines = append(lines, current)
			current = word
			currentWidth = wordWidth
		}
	}

	return append(lines, current)
}

// renderCell writes wrapped cell text, truncating with an ellipsis when the
// content exceeds maxLines.
func (r *docRenderer) renderCell(cellText string, width, lineHeight float64, maxLines int) {
	lines := r.wrapLines(cellText, width)
	for i := 0; i < len(lines) && i < maxLines; i++ {
		line := lines[i]
		if i == maxLines-1 && len(lines) > maxLines {
			for r.pdf.GetStringWidth(line+"...") > width && len(line) > 3 {
				line = line[:len(line)-1]
			}
			line += "..."
		}
		r.pdf.CellFormat(width, lineHeight, line, "", 2, "L", false, 0, "")
	}
}
