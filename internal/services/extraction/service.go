// -----------------------------------------------------------------------
// Extraction Service - structured financial data from annual report text
// -----------------------------------------------------------------------

package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// maxInputChars bounds the page text sent to the model. Annual reports run
// to hundreds of pages; the leading pages carry the financial highlights.
const maxInputChars = 150000

const systemDirective = `You are a financial analyst extracting data from Indian company annual reports.
Focus on accurate numerical extraction.
For monetary values, note the unit (crores, lakhs, millions).
Extract key performance metrics and business highlights.
If information is not found, leave it as null.`

// Service implements DataExtractor on top of the chat model.
type Service struct {
	llm    interfaces.LLMService
	logger arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.DataExtractor = (*Service)(nil)

// NewService creates a structured-data extraction service.
func NewService(llm interfaces.LLMService, logger arbor.ILogger) *Service {
	return &Service{
		llm:    llm,
		logger: logger,
	}
}

// Extract runs one structured extraction over a document's page text.
func (s *Service) Extract(ctx context.Context, companyName string, doc *models.Document, pages []*models.DocumentPage) (*models.ExtractedData, error) {
	if doc == nil {
		return nil, common.E(common.KindValidation, "document is required")
	}

	prompt, included := buildPrompt(companyName, doc, pages)
	if included == 0 {
		return nil, common.E(common.KindValidation, "document has no extracted text")
	}

	s.logger.Debug().
		Str("document_id", doc.ID).
		Int("pages_included", included).
		Int("prompt_chars", len(prompt)).
		Msg("Starting data extraction")

	answer, err := s.llm.Complete(ctx, systemDirective, []interfaces.ChatTurn{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, err
	}

	data, err := decodeExtraction(answer)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("document_id", doc.ID).
			Int("answer_chars", len(answer)).
			Msg("Extraction answer did not decode")
		return nil, err
	}

	// The report may omit its own identity; fill from what we already know.
	if data.CompanyName == "" {
		data.CompanyName = companyName
	}
	if data.FiscalYear == "" {
		data.FiscalYear = doc.FiscalYear
	}
	if data.ReportType == "" {
		data.ReportType = doc.DocumentType
	}

	s.logger.Debug().
		Str("document_id", doc.ID).
		Str("fiscal_year", data.FiscalYear).
		Int("highlights", len(data.KeyHighlights)).
		Msg("Data extraction completed")

	return data, nil
}

// buildPrompt assembles the extraction instructions plus bounded page text.
// Returns the prompt and the number of pages whose text made it in.
func buildPrompt(companyName string, doc *models.Document, pages []*models.DocumentPage) (string, int) {
	var b strings.Builder
	b.WriteString("Extract structured data from this annual report.\n\n")
	fmt.Fprintf(&b, "Company: %s\n", companyName)
	if doc.FiscalYear != "" {
		fmt.Fprintf(&b, "Fiscal year: %s\n", doc.FiscalYear)
	}
	b.WriteString("\nReturn ONLY valid JSON with this exact structure. Use null for anything the report does not disclose. Numeric fields must be JSON numbers, not strings.\n")
	b.WriteString(`{
  "company_name": "official name of the company",
  "fiscal_year": "fiscal year of the report, e.g. 2024-25 or FY2025",
  "report_type": "Annual Report, Quarterly Report, ...",
  "revenue": 0.0,
  "revenue_unit": "crores, lakhs or millions",
  "net_profit": 0.0,
  "operating_profit": 0.0,
  "eps": 0.0,
  "revenue_growth": "year-over-year revenue growth percentage",
  "profit_growth": "year-over-year profit growth percentage",
  "key_highlights": ["key business highlights or achievements"],
  "business_segments": ["major business segments or divisions"],
  "risk_factors": ["major risk factors mentioned in the report"],
  "outlook": "management outlook or guidance for the future",
  "auditor": "name of the auditor",
  "registered_office": "registered office address"
}
`)
	b.WriteString("\nReport text follows.\n")

	included := 0
	budget := maxInputChars
	for _, page := range pages {
		text := strings.TrimSpace(page.PageText)
		if text == "" {
			continue
		}
		section := fmt.Sprintf("\n--- Page %d ---\n%s\n", page.PageNumber, text)
		if len(section) > budget {
			break
		}
		b.WriteString(section)
		budget -= len(section)
		included++
	}

	return b.String(), included
}

// decodeExtraction parses the model answer, tolerating code fences and
// surrounding prose.
func decodeExtraction(answer string) (*models.ExtractedData, error) {
	raw := stripJSONFence(answer)

	var data models.ExtractedData
	if err := json.Unmarshal([]byte(raw), &data); err == nil {
		return &data, nil
	}

	// Best effort: the model sometimes wraps the object in prose.
	candidate, ok := firstJSONObject(raw)
	if !ok {
		return nil, common.E(common.KindInternal, "extraction answer contains no JSON object")
	}
	if err := json.Unmarshal([]byte(candidate), &data); err != nil {
		return nil, common.WrapErr(common.KindInternal, err, "extraction answer is not valid JSON")
	}
	return &data, nil
}

// stripJSONFence removes a ```json ... ``` wrapper if present.
func stripJSONFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// firstJSONObject returns the substring from the first '{' to the last '}'.
func firstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
