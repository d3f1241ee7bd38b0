package models

import (
	"time"
)

// ProjectStatus tracks the coarse lifecycle shown in project listings.
// The fine-grained state lives on the project's job.
type ProjectStatus string

const (
	ProjectStatusPending     ProjectStatus = "pending"
	ProjectStatusScraping    ProjectStatus = "scraping"
	ProjectStatusDownloading ProjectStatus = "downloading"
	ProjectStatusProcessing  ProjectStatus = "processing"
	ProjectStatusCompleted   ProjectStatus = "completed"
	ProjectStatusFailed      ProjectStatus = "failed"
)

// Project represents one company ingestion rooted at a registrar filings URL.
// SourceURL is unique: re-submitting the same URL is a conflict, not a new
// project.
type Project struct {
	ID           string        `json:"id"`
	CompanyName  string        `json:"company_name"`
	SourceURL    string        `json:"source_url"`
	Exchange     string        `json:"exchange"`
	Status       ProjectStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// IsTerminal returns true when no further pipeline work is expected
func (s ProjectStatus) IsTerminal() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusFailed
}

// ProjectDetail is the read model for GET /api/projects/{id}: the project row
// joined with its documents and the most recent job.
type ProjectDetail struct {
	Project
	Documents []*Document `json:"documents"`
	LatestJob *JobSummary `json:"latest_job,omitempty"`
}
