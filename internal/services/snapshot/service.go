// -----------------------------------------------------------------------
// Snapshot Service - aggregates extraction results into company snapshots
// -----------------------------------------------------------------------

package snapshot

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
)

// yearPattern pulls the first plausible year out of a fiscal-year label so
// "2024-25", "FY2024" and "2024" all order the same way.
var yearPattern = regexp.MustCompile(`20\d{2}`)

// Service builds company snapshots. Aggregation is deterministic: the same
// extraction rows always produce the same snapshot, so regeneration is cheap
// and versions differ only when the inputs did.
type Service struct {
	logger arbor.ILogger
}

// NewService creates a snapshot service.
func NewService(logger arbor.ILogger) *Service {
	return &Service{logger: logger}
}

// Build assembles the snapshot document from a project's extraction results
// and stored filings. Financial highlights cover every extracted period,
// most recent first; the company block and narrative sections come from the
// most recent period.
func (s *Service) Build(project *models.Project, extractions []*models.ExtractionResult, documents []*models.Document) *models.SnapshotData {
	data := &models.SnapshotData{
		Company: models.SnapshotCompany{
			Name:      project.CompanyName,
			Exchange:  project.Exchange,
			SourceURL: project.SourceURL,
		},
	}

	sorted := make([]*models.ExtractionResult, 0, len(extractions))
	for _, ex := range extractions {
		if ex != nil && ex.Data != nil {
			sorted = append(sorted, ex)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		yi, yj := yearValue(fiscalYearOf(sorted[i])), yearValue(fiscalYearOf(sorted[j]))
		if yi != yj {
			return yi > yj
		}
		return fiscalYearOf(sorted[i]) > fiscalYearOf(sorted[j])
	})

	for _, ex := range sorted {
		data.Financials = append(data.Financials, models.SnapshotFinancial{
			FiscalYear:      fiscalYearOf(ex),
			Revenue:         ex.Data.Revenue,
			RevenueUnit:     ex.Data.RevenueUnit,
			NetProfit:       ex.Data.NetProfit,
			OperatingProfit: ex.Data.OperatingProfit,
			EPS:             ex.Data.EPS,
			RevenueGrowth:   ex.Data.RevenueGrowth,
			ProfitGrowth:    ex.Data.ProfitGrowth,
		})
	}

	if len(sorted) > 0 {
		latest := sorted[0].Data
		data.Overview = models.SnapshotOverview{
			FiscalYear:       fiscalYearOf(sorted[0]),
			KeyHighlights:    latest.KeyHighlights,
			BusinessSegments: latest.BusinessSegments,
			RiskFactors:      latest.RiskFactors,
			Outlook:          latest.Outlook,
		}
		data.Company.RegisteredOffice = latest.RegisteredOffice
		data.Company.Auditor = latest.Auditor
		// Prefer the name the report states over the one derived from the URL.
		if latest.CompanyName != "" {
			data.Company.Name = latest.CompanyName
		}
	}

	for _, doc := range documents {
		data.Documents = append(data.Documents, models.SnapshotDocument{
			DocumentID:   doc.ID,
			DocumentType: doc.DocumentType,
			FiscalYear:   doc.FiscalYear,
			Label:        doc.Label,
			PageCount:    doc.PageCount,
			FileURL:      doc.FileURL,
		})
	}

	s.logger.Debug().
		Str("project_id", project.ID).
		Int("periods", len(data.Financials)).
		Int("documents", len(data.Documents)).
		Msg("Snapshot assembled")

	return data
}

// RenderMarkdown renders the snapshot as a markdown one-pager for the PDF
// export endpoint.
func (s *Service) RenderMarkdown(data *models.SnapshotData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", data.Company.Name)
	if data.Company.Exchange != "" {
		fmt.Fprintf(&b, "**Exchange:** %s\n\n", data.Company.Exchange)
	}
	if data.Company.RegisteredOffice != "" {
		fmt.Fprintf(&b, "**Registered Office:** %s\n\n", data.Company.RegisteredOffice)
	}
	if data.Company.Auditor != "" {
		fmt.Fprintf(&b, "**Auditor:** %s\n\n", data.Company.Auditor)
	}

	if len(data.Financials) > 0 {
		b.WriteString("## Financial Highlights\n\n")
		b.WriteString("| Fiscal Year | Revenue | Net Profit | Operating Profit | EPS | Revenue Growth | Profit Growth |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, fin := range data.Financials {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
				orDash(fin.FiscalYear),
				moneyCell(fin.Revenue, fin.RevenueUnit),
				moneyCell(fin.NetProfit, ""),
				moneyCell(fin.OperatingProfit, ""),
				moneyCell(fin.EPS, ""),
				orDash(fin.RevenueGrowth),
				orDash(fin.ProfitGrowth))
		}
		b.WriteString("\n")
	}

	overview := data.Overview
	if len(overview.KeyHighlights) > 0 {
		b.WriteString("## Key Highlights\n\n")
		for _, item := range overview.KeyHighlights {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		b.WriteString("\n")
	}
	if len(overview.BusinessSegments) > 0 {
		b.WriteString("## Business Segments\n\n")
		for _, item := range overview.BusinessSegments {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		b.WriteString("\n")
	}
	if len(overview.RiskFactors) > 0 {
		b.WriteString("## Risk Factors\n\n")
		for _, item := range overview.RiskFactors {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		b.WriteString("\n")
	}
	if overview.Outlook != "" {
		b.WriteString("## Outlook\n\n")
		b.WriteString(overview.Outlook)
		b.WriteString("\n\n")
	}

	if len(data.Documents) > 0 {
		b.WriteString("## Documents\n\n")
		b.WriteString("| Type | Period | Label | Pages |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, doc := range data.Documents {
			fmt.Fprintf(&b, "| %s | %s | %s | %d |\n",
				orDash(doc.DocumentType), orDash(doc.FiscalYear), orDash(doc.Label), doc.PageCount)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "*Source: %s*\n", data.Company.SourceURL)
	return b.String()
}

// fiscalYearOf prefers the extraction's own fiscal year, falling back to the
// denormalized column.
func fiscalYearOf(ex *models.ExtractionResult) string {
	if ex.Data != nil && ex.Data.FiscalYear != "" {
		return ex.Data.FiscalYear
	}
	return ex.FiscalYear
}

// yearValue orders fiscal-year labels; unparseable labels sort last.
func yearValue(fy string) int {
	match := yearPattern.FindString(fy)
	if match == "" {
		return 0
	}
	year, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return year
}

func moneyCell(v *float64, unit string) string {
	if v == nil {
		return "-"
	}
	cell := strconv.FormatFloat(*v, 'f', -1, 64)
	if unit != "" {
		cell += " " + unit
	}
	return cell
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
