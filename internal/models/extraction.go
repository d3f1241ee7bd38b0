package models

import "time"

// ExtractedData is the fixed-field structured output of the extract_data
// step. The model is instructed to return exactly this shape; unknown fields
// are dropped at decode. Numeric fields are pointers so "not disclosed"
// survives round-trips as null rather than zero.
type ExtractedData struct {
	CompanyName      string   `json:"company_name"`
	FiscalYear       string   `json:"fiscal_year"`
	ReportType       string   `json:"report_type,omitempty"`
	Revenue          *float64 `json:"revenue"`
	RevenueUnit      string   `json:"revenue_unit,omitempty"`
	NetProfit        *float64 `json:"net_profit"`
	OperatingProfit  *float64 `json:"operating_profit"`
	EPS              *float64 `json:"eps"`
	RevenueGrowth    string   `json:"revenue_growth,omitempty"`
	ProfitGrowth     string   `json:"profit_growth,omitempty"`
	KeyHighlights    []string `json:"key_highlights,omitempty"`
	BusinessSegments []string `json:"business_segments,omitempty"`
	RiskFactors      []string `json:"risk_factors,omitempty"`
	Outlook          string   `json:"outlook,omitempty"`
	Auditor          string   `json:"auditor,omitempty"`
	RegisteredOffice string   `json:"registered_office,omitempty"`
}

// ExtractionResult is the persisted extraction row for one document. The
// denormalized company/fiscal-year/revenue/profit columns exist for listing
// queries that must not unpack the jsonb blob.
type ExtractionResult struct {
	ID          string            `json:"id"`
	DocumentID  string            `json:"document_id"`
	Data        *ExtractedData    `json:"extracted_data"`
	Metadata    map[string]string `json:"extraction_metadata,omitempty"`
	CompanyName string            `json:"company_name,omitempty"`
	FiscalYear  string            `json:"fiscal_year,omitempty"`
	Revenue     *float64          `json:"revenue,omitempty"`
	NetProfit   *float64          `json:"net_profit,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
