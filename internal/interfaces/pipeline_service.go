package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// PipelineService runs the ingestion pipeline for projects. Runs execute on
// their own goroutines; Start and Resume return as soon as the job is queued.
type PipelineService interface {
	// Start acquires the project's job slot and launches a fresh run.
	// A second active job surfaces as Conflict.
	Start(ctx context.Context, project *models.Project) (*models.Job, error)

	// Resume re-arms the project's latest failed or cancelled job and
	// launches it from the failed step. A running job older than the
	// staleness threshold is coerced to failed first; a project with no job
	// at all starts fresh. Completed projects and fresh running jobs reject
	// with ValidationFailed.
	Resume(ctx context.Context, projectID string) (*models.Job, error)

	// Cancel durably cancels the project's active job and aborts its run if
	// one is live in this process. NotFound when no active job exists.
	Cancel(ctx context.Context, projectID string) (*models.Job, error)

	// Shutdown aborts all live runs and waits for them to wind down until
	// ctx expires. Aborted jobs stay running in the store and recover
	// through the staleness path on their next resume.
	Shutdown(ctx context.Context) error
}
