// -----------------------------------------------------------------------
// Processing Job - resumable pipeline state machine
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/ternarybob/colligo/internal/common"
)

// JobStatus is the job lifecycle state.
// pending -> running -> completed | failed | cancelled
// failed/cancelled jobs with CanResume can re-enter running via resume;
// completed is absorbing.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Step names one unit of pipeline work. Steps run strictly in order; each
// persists its outputs and advances the cursor before the next begins.
type Step string

const (
	StepValidateURL      Step = "validate_url"
	StepScrapePage       Step = "scrape_page"
	StepDownloadPDFs     Step = "download_pdfs"
	StepUploadToCloud    Step = "upload_to_cloud"
	StepExtractText      Step = "extract_text"
	StepExtractData      Step = "extract_data"
	StepCreateEmbeddings Step = "create_embeddings"
	StepGenerateSnapshot Step = "generate_snapshot"
)

// stepOrder fixes execution order. Index in this array == current_step_index.
var stepOrder = [...]Step{
	StepValidateURL,
	StepScrapePage,
	StepDownloadPDFs,
	StepUploadToCloud,
	StepExtractText,
	StepExtractData,
	StepCreateEmbeddings,
	StepGenerateSnapshot,
}

// TotalSteps is the fixed pipeline length
const TotalSteps = len(stepOrder)

// Steps returns the ordered pipeline steps
func Steps() []Step {
	out := make([]Step, TotalSteps)
	copy(out, stepOrder[:])
	return out
}

// StepIndex returns the position of a step in the pipeline, or -1 for an
// unknown step name (e.g. from a hand-edited row).
func StepIndex(s Step) int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// StepAt returns the step at a given index, or "" when out of range
func StepAt(i int) Step {
	if i < 0 || i >= TotalSteps {
		return ""
	}
	return stepOrder[i]
}

// Job is the persisted state of one pipeline run for a project. At most one
// pending/running job may exist per project; the store enforces that with a
// partial unique index.
type Job struct {
	ID                 string      `json:"id"`
	Ref                string      `json:"ref"`
	ProjectID          string      `json:"project_id"`
	Status             JobStatus   `json:"status"`
	CurrentStep        Step        `json:"current_step"`
	CurrentStepIndex   int         `json:"current_step_index"`
	TotalSteps         int         `json:"total_steps"`
	LastSuccessfulStep Step        `json:"last_successful_step,omitempty"`
	FailedStep         Step        `json:"failed_step,omitempty"`
	ErrorMessage       string      `json:"error_message,omitempty"`
	CanResume          bool        `json:"can_resume"`
	ResumeData         *ResumeData `json:"resume_data,omitempty"`
	DocumentsProcessed int         `json:"documents_processed"`
	EmbeddingsCreated  int         `json:"embeddings_created"`
	RetryCount         int         `json:"retry_count"`
	MaxRetries         int         `json:"max_retries"`
	StartedAt          time.Time   `json:"started_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	CancelledAt        *time.Time  `json:"cancelled_at,omitempty"`
}

// NewJob creates a pending job positioned at the first step
func NewJob(projectID string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:               common.NewID(),
		Ref:              common.NewJobRef(),
		ProjectID:        projectID,
		Status:           JobStatusPending,
		CurrentStep:      stepOrder[0],
		CurrentStepIndex: 0,
		TotalSteps:       TotalSteps,
		CanResume:        true,
		MaxRetries:       3,
		ResumeData:       &ResumeData{},
		StartedAt:        now,
		UpdatedAt:        now,
	}
}

// MarkRunning transitions the job into running and stamps the heartbeat
func (j *Job) MarkRunning() {
	j.Status = JobStatusRunning
	j.UpdatedAt = time.Now().UTC()
}

// BeginStep positions the cursor at a step without completing it. A crash
// between BeginStep and CompleteStep resumes at this same step.
func (j *Job) BeginStep(step Step) {
	j.CurrentStep = step
	if idx := StepIndex(step); idx >= 0 {
		j.CurrentStepIndex = idx
	}
	j.UpdatedAt = time.Now().UTC()
}

// CompleteStep records a successful step: last_successful_step moves to it
// and the cursor advances to the next step (or one past the end after the
// final step). A failure record for this step is cleared so later resumes
// aim at the cursor, not at a failure already healed.
func (j *Job) CompleteStep(step Step) {
	idx := StepIndex(step)
	if idx < 0 {
		return
	}
	j.LastSuccessfulStep = step
	j.CurrentStepIndex = idx + 1
	if next := StepAt(idx + 1); next != "" {
		j.CurrentStep = next
	}
	if j.FailedStep == step {
		j.FailedStep = ""
	}
	j.UpdatedAt = time.Now().UTC()
}

// MarkCompleted transitions to the absorbing completed state
func (j *Job) MarkCompleted() {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.ErrorMessage = ""
	j.FailedStep = ""
	j.UpdatedAt = now
	j.CompletedAt = &now
}

// MarkFailed records a step failure. canResume=false marks the failure fatal:
// resume requests will be rejected until a fresh job replaces this one.
func (j *Job) MarkFailed(step Step, errorMsg string, canResume bool) {
	now := time.Now().UTC()
	j.Status = JobStatusFailed
	j.FailedStep = step
	j.ErrorMessage = errorMsg
	j.CanResume = canResume
	j.UpdatedAt = now
	j.CompletedAt = &now
}

// MarkCancelled records a durable cancellation
func (j *Job) MarkCancelled() {
	now := time.Now().UTC()
	j.Status = JobStatusCancelled
	j.UpdatedAt = now
	j.CancelledAt = &now
}

// PrepareResume re-arms a failed or cancelled job for another run: the error
// is cleared, the retry counter bumped, and the job returns to pending until
// a worker picks it up.
func (j *Job) PrepareResume() {
	j.Status = JobStatusPending
	j.ErrorMessage = ""
	j.RetryCount++
	j.CompletedAt = nil
	j.CancelledAt = nil
	j.UpdatedAt = time.Now().UTC()
}

// StartIndex returns the step index execution should (re)start from: the
// failed step when one is recorded, otherwise the cursor position.
func (j *Job) StartIndex() int {
	if j.FailedStep != "" {
		if idx := StepIndex(j.FailedStep); idx >= 0 {
			return idx
		}
	}
	if j.CurrentStepIndex < 0 {
		return 0
	}
	if j.CurrentStepIndex >= TotalSteps {
		return TotalSteps - 1
	}
	return j.CurrentStepIndex
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// IsActive returns true while the job occupies the project's single job slot
func (j *Job) IsActive() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusRunning
}

// RetriesExhausted reports whether the advisory retry ceiling has been passed.
// Exhaustion never blocks a resume; it only triggers a warning event.
func (j *Job) RetriesExhausted() bool {
	return j.MaxRetries > 0 && j.RetryCount > j.MaxRetries
}

// Summary strips the resume payload for API responses. The payload routinely
// carries megabytes of buffered PDF content and never belongs on the wire.
func (j *Job) Summary() *JobSummary {
	return &JobSummary{
		ID:                 j.ID,
		Ref:                j.Ref,
		ProjectID:          j.ProjectID,
		Status:             j.Status,
		CurrentStep:        j.CurrentStep,
		CurrentStepIndex:   j.CurrentStepIndex,
		TotalSteps:         j.TotalSteps,
		LastSuccessfulStep: j.LastSuccessfulStep,
		FailedStep:         j.FailedStep,
		ErrorMessage:       j.ErrorMessage,
		CanResume:          j.CanResume,
		DocumentsProcessed: j.DocumentsProcessed,
		EmbeddingsCreated:  j.EmbeddingsCreated,
		RetryCount:         j.RetryCount,
		MaxRetries:         j.MaxRetries,
		StartedAt:          j.StartedAt,
		UpdatedAt:          j.UpdatedAt,
		CompletedAt:        j.CompletedAt,
		CancelledAt:        j.CancelledAt,
	}
}

// JobSummary is the job read model exposed over the API
type JobSummary struct {
	ID                 string     `json:"id"`
	Ref                string     `json:"ref"`
	ProjectID          string     `json:"project_id"`
	Status             JobStatus  `json:"status"`
	CurrentStep        Step       `json:"current_step"`
	CurrentStepIndex   int        `json:"current_step_index"`
	TotalSteps         int        `json:"total_steps"`
	LastSuccessfulStep Step       `json:"last_successful_step,omitempty"`
	FailedStep         Step       `json:"failed_step,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	CanResume          bool       `json:"can_resume"`
	DocumentsProcessed int        `json:"documents_processed"`
	EmbeddingsCreated  int        `json:"embeddings_created"`
	RetryCount         int        `json:"retry_count"`
	MaxRetries         int        `json:"max_retries"`
	StartedAt          time.Time  `json:"started_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

// ProjectStatusForStep maps the executing step onto the coarse project
// lifecycle shown in listings.
func ProjectStatusForStep(step Step) ProjectStatus {
	switch step {
	case StepValidateURL, StepScrapePage:
		return ProjectStatusScraping
	case StepDownloadPDFs, StepUploadToCloud:
		return ProjectStatusDownloading
	default:
		return ProjectStatusProcessing
	}
}
