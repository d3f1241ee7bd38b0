package models

import "time"

// CompanySnapshot is one generated version of a project's pre-computed
// summary. Regeneration inserts version+1 and leaves prior rows untouched;
// readers take the highest version.
type CompanySnapshot struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	Data        *SnapshotData `json:"snapshot_data"`
	Version     int           `json:"version"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// SnapshotData is the aggregated snapshot document. It is assembled
// deterministically from the project's extraction results: the company block
// and overview/outlook/risks come from the most recent fiscal year, financial
// highlights cover every extracted period, and the document inventory lists
// the stored filings.
type SnapshotData struct {
	Company    SnapshotCompany     `json:"company"`
	Financials []SnapshotFinancial `json:"financials"`
	Overview   SnapshotOverview    `json:"overview"`
	Documents  []SnapshotDocument  `json:"documents"`
}

// SnapshotCompany is the header block.
type SnapshotCompany struct {
	Name             string `json:"name"`
	Exchange         string `json:"exchange"`
	SourceURL        string `json:"source_url"`
	RegisteredOffice string `json:"registered_office,omitempty"`
	Auditor          string `json:"auditor,omitempty"`
}

// SnapshotFinancial is one fiscal year's headline numbers.
type SnapshotFinancial struct {
	FiscalYear      string   `json:"fiscal_year"`
	Revenue         *float64 `json:"revenue"`
	RevenueUnit     string   `json:"revenue_unit,omitempty"`
	NetProfit       *float64 `json:"net_profit"`
	OperatingProfit *float64 `json:"operating_profit"`
	EPS             *float64 `json:"eps"`
	RevenueGrowth   string   `json:"revenue_growth,omitempty"`
	ProfitGrowth    string   `json:"profit_growth,omitempty"`
}

// SnapshotOverview carries the narrative sections from the latest period.
type SnapshotOverview struct {
	FiscalYear       string   `json:"fiscal_year,omitempty"`
	KeyHighlights    []string `json:"key_highlights,omitempty"`
	BusinessSegments []string `json:"business_segments,omitempty"`
	RiskFactors      []string `json:"risk_factors,omitempty"`
	Outlook          string   `json:"outlook,omitempty"`
}

// SnapshotDocument is one inventory row.
type SnapshotDocument struct {
	DocumentID   string `json:"document_id"`
	DocumentType string `json:"document_type"`
	FiscalYear   string `json:"fiscal_year,omitempty"`
	Label        string `json:"label,omitempty"`
	PageCount    int    `json:"page_count,omitempty"`
	FileURL      string `json:"file_url"`
}
