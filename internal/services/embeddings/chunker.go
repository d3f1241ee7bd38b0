// -----------------------------------------------------------------------
// Chunker - slices page text and extraction fields into embeddable chunks
// -----------------------------------------------------------------------

package embeddings

import (
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// charsPerToken approximates the embedding model's tokenizer. Chunk sizes are
// configured in tokens; the splitter works in characters.
const charsPerToken = 4

// Chunker produces the text_chunks rows for a document: plain page-text
// chunks plus labelled chunks derived from the structured extraction output.
type Chunker struct {
	splitter   textsplitter.RecursiveCharacter
	maxPerPage int
}

// NewChunker builds a chunker from the pipeline tuning. The recursive
// splitter prefers paragraph and sentence boundaries before falling back to
// hard character cuts.
func NewChunker(config *common.PipelineConfig) *Chunker {
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize*charsPerToken),
			textsplitter.WithChunkOverlap(config.ChunkOverlap*charsPerToken),
			textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", " ", ""}),
		),
		maxPerPage: config.MaxChunksPerPage,
	}
}

// SplitPage slices one page's text into chunks, 0-based indexes, capped at
// max_chunks_per_page. A blank page yields no chunks and no error.
func (c *Chunker) SplitPage(page *models.DocumentPage) ([]*models.TextChunk, error) {
	text := strings.TrimSpace(page.PageText)
	if text == "" {
		return nil, nil
	}

	pieces, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, common.WrapErr(common.KindInternal, err, "page text split failed")
	}

	chunks := make([]*models.TextChunk, 0, len(pieces))
	for _, piece := range pieces {
		if len(chunks) == c.maxPerPage {
			break
		}
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		chunks = append(chunks, &models.TextChunk{
			ID:         common.NewID(),
			PageID:     page.ID,
			ChunkIndex: len(chunks),
			Content:    piece,
		})
	}
	return chunks, nil
}

// FieldChunks converts structured extraction output into labelled chunks so
// retrieval can surface "what are the risk factors" style questions directly.
// The rows attach to pageID and continue its index sequence from startIndex;
// long narrative fields are re-split so no chunk exceeds the configured size.
func (c *Chunker) FieldChunks(pageID string, startIndex int, data *models.ExtractedData) []*models.TextChunk {
	if data == nil {
		return nil
	}

	var chunks []*models.TextChunk
	add := func(field, content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		chunks = append(chunks, &models.TextChunk{
			ID:         common.NewID(),
			PageID:     pageID,
			ChunkIndex: startIndex + len(chunks),
			Content:    content,
			Field:      field,
		})
	}

	var overview []string
	if data.CompanyName != "" {
		overview = append(overview, "Company: "+data.CompanyName)
	}
	if data.FiscalYear != "" {
		overview = append(overview, "Fiscal Year: "+data.FiscalYear)
	}
	if data.ReportType != "" {
		overview = append(overview, "Report Type: "+data.ReportType)
	}
	if len(overview) > 0 {
		add("company_overview", strings.Join(overview, " | "))
	}

	var financial []string
	if data.Revenue != nil {
		line := "Revenue: " + num(*data.Revenue)
		if data.RevenueUnit != "" {
			line += " " + data.RevenueUnit
		}
		financial = append(financial, line)
	}
	if data.NetProfit != nil {
		financial = append(financial, "Net Profit: "+num(*data.NetProfit))
	}
	if data.OperatingProfit != nil {
		financial = append(financial, "Operating Profit: "+num(*data.OperatingProfit))
	}
	if data.EPS != nil {
		financial = append(financial, "EPS: "+num(*data.EPS))
	}
	if data.RevenueGrowth != "" {
		financial = append(financial, "Revenue Growth: "+data.RevenueGrowth)
	}
	if data.ProfitGrowth != "" {
		financial = append(financial, "Profit Growth: "+data.ProfitGrowth)
	}
	if len(financial) > 0 {
		add("financial_highlights", "Financial Highlights: "+strings.Join(financial, " | "))
	}

	for _, highlight := range data.KeyHighlights {
		if strings.TrimSpace(highlight) == "" {
			continue
		}
		add("key_highlights", "Key Highlight: "+highlight)
	}

	if len(data.BusinessSegments) > 0 {
		add("business_segments", "Business Segments: "+strings.Join(data.BusinessSegments, ", "))
	}

	for _, risk := range data.RiskFactors {
		for _, piece := range c.splitLong(risk) {
			add("risk_factors", "Risk Factor: "+piece)
		}
	}

	for _, piece := range c.splitLong(data.Outlook) {
		add("outlook", "Future Outlook: "+piece)
	}

	if data.Auditor != "" {
		add("auditor", "Auditor: "+data.Auditor)
	}
	if data.RegisteredOffice != "" {
		add("registered_office", "Registered Office: "+data.RegisteredOffice)
	}

	return chunks
}

// splitLong re-chunks a long narrative value; short values pass through whole.
func (c *Chunker) splitLong(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	pieces, err := c.splitter.SplitText(text)
	if err != nil || len(pieces) == 0 {
		return []string{text}
	}
	return pieces
}

// num renders a float without exponent notation so chunk text stays readable
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
