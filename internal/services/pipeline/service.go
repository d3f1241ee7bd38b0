// -----------------------------------------------------------------------
// Pipeline Service - resumable step execution for project ingestion
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/embeddings"
	"github.com/ternarybob/colligo/internal/services/snapshot"
)

// terminalWriteTimeout bounds store writes that record a terminal job state.
// These run on fresh contexts because the run context may already be dead by
// the time a terminal state is reached.
const terminalWriteTimeout = 10 * time.Second

// Service runs the ingestion pipeline: eight strictly ordered steps, each
// committing its outputs atomically so a failed or cancelled job resumes
// without redoing finished work. Runs execute on their own goroutines; the
// run registry lets the cancel path reach into them.
type Service struct {
	config     *common.Config
	store      interfaces.StorageManager
	bus        interfaces.ProgressBus
	scraper    interfaces.Scraper
	downloader interfaces.Downloader
	blobs      interfaces.BlobStore
	pdf        interfaces.PDFExtractor
	extractor  interfaces.DataExtractor
	embedder   *embeddings.Coordinator
	snapshots  *snapshot.Service
	logger     arbor.ILogger

	registry *runRegistry
	steps    [models.TotalSteps]stepFunc
	wg       sync.WaitGroup
}

var _ interfaces.PipelineService = (*Service)(nil)

// NewService creates the pipeline service.
func NewService(
	config *common.Config,
	store interfaces.StorageManager,
	bus interfaces.ProgressBus,
	scraper interfaces.Scraper,
	downloader interfaces.Downloader,
	blobs interfaces.BlobStore,
	pdf interfaces.PDFExtractor,
	extractor interfaces.DataExtractor,
	embedder *embeddings.Coordinator,
	snapshots *snapshot.Service,
	logger arbor.ILogger,
) (*Service, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}
	if scraper == nil {
		return nil, fmt.Errorf("scraper cannot be nil")
	}
	if downloader == nil {
		return nil, fmt.Errorf("downloader cannot be nil")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blobs cannot be nil")
	}
	if pdf == nil {
		return nil, fmt.Errorf("pdf extractor cannot be nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("data extractor cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	service := &Service{
		config:     config,
		store:      store,
		bus:        bus,
		scraper:    scraper,
		downloader: downloader,
		blobs:      blobs,
		pdf:        pdf,
		extractor:  extractor,
		embedder:   embedder,
		snapshots:  snapshots,
		logger:     logger,
		registry:   newRunRegistry(),
	}
	service.steps = service.stepTable()

	logger.Info().Msg("Pipeline service initialized")

	return service, nil
}

// Start acquires the project's job slot and launches a fresh run. The
// partial unique index on active jobs turns a double start into a Conflict.
func (s *Service) Start(ctx context.Context, project *models.Project) (*models.Job, error) {
	job := models.NewJob(project.ID)
	job.MaxRetries = s.config.Pipeline.MaxRetries

	if err := s.store.Jobs().AcquireJobSlot(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("ref", job.Ref).
		Str("project_id", project.ID).
		Msg("Job slot acquired")

	s.launch(job, project)
	return job, nil
}

// Resume re-arms the project's latest job and launches it from the failed
// step. A running job past the staleness threshold is coerced to failed
// first; a project with no job at all starts fresh.
func (s *Service) Resume(ctx context.Context, projectID string) (*models.Job, error) {
	project, err := s.store.Projects().GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	job, err := s.store.Jobs().GetLatestJob(ctx, projectID)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			// A resume request on a project that never ran starts from scratch.
			return s.Start(ctx, project)
		}
		return nil, err
	}

	switch job.Status {
	case models.JobStatusCompleted:
		return nil, common.E(common.KindValidation, "project processing already completed")

	case models.JobStatusPending, models.JobStatusRunning:
		staleness := common.CheckJobStaleness(string(job.Status), job.UpdatedAt, time.Now(), s.config.Pipeline.StaleAfter())
		if !staleness.IsStale {
			return nil, common.E(common.KindValidation, "job is already active")
		}
		// The worker died mid-step. Coerce the abandoned row to failed so it
		// re-enters the FSM through the normal resume path.
		s.logger.Warn().
			Str("job_id", job.ID).
			Str("project_id", projectID).
			Str("reason", staleness.Reason).
			Msg("Coercing stale running job to failed")
		job.MarkFailed(job.CurrentStep, "worker presumed dead: "+staleness.Reason, true)
		if err := s.store.Jobs().UpdateJob(ctx, job, models.JobStatusRunning); err != nil {
			return nil, err
		}
	}

	if !job.CanResume {
		return nil, common.E(common.KindValidation, "job failed fatally and cannot be resumed")
	}

	job.PrepareResume()
	if err := s.store.Jobs().UpdateJob(ctx, job, models.JobStatusFailed, models.JobStatusCancelled); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("project_id", projectID).
		Int("retry_count", job.RetryCount).
		Int("start_index", job.StartIndex()).
		Msg("Job re-armed for resume")

	s.launch(job, project)
	return job, nil
}

// Cancel durably cancels the project's active job and aborts its run if one
// is live in this process.
func (s *Service) Cancel(ctx context.Context, projectID string) (*models.Job, error) {
	job, err := s.store.Jobs().CancelActiveJob(ctx, projectID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("project_id", projectID).
		Msg("Job cancelled")

	if !s.registry.signalCancel(job.ID) {
		// No live run here: the job was still pending, or its worker died.
		// The row is already cancelled durably; finish the stream ourselves.
		s.appendLog(job, "warn", job.CurrentStep, "processing cancelled")
		s.bus.Publish(job.ID, models.CancelledEvent("Processing cancelled"))
		s.bus.Close(job.ID, models.CloseCancelled)
	}
	return job, nil
}

// Shutdown aborts every live run and waits for them to wind down. Aborted
// jobs stay running in the store and recover through the staleness check on
// their next resume.
func (s *Service) Shutdown(ctx context.Context) error {
	aborted := s.registry.abortAll()
	if len(aborted) > 0 {
		s.logger.Info().Int("runs", len(aborted)).Msg("Aborting live job runs")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline shutdown: %w", ctx.Err())
	}
}

// launch hands the job to its own run goroutine.
func (s *Service) launch(job *models.Job, project *models.Project) {
	runCtx, cancel := context.WithCancel(context.Background())
	handle := s.registry.register(job.ID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(handle.done)
		defer s.registry.remove(job.ID)
		defer cancel()

		// A panicking step takes down its job, not the service. The crash
		// file keeps the full stack for diagnosis; the job row records a
		// resumable failure at the step that blew up.
		defer func() {
			if r := recover(); r != nil {
				stackTrace := common.GetStackTrace()
				s.logger.Error().
					Str("job_id", job.ID).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", stackTrace).
					Msg("Job run panicked - writing crash file")
				common.WriteCrashFile(r, stackTrace)
				s.failRun(job, project, job.CurrentStep, fmt.Errorf("internal error: %v", r), true)
			}
		}()

		s.run(runCtx, handle, job, project)
	}()
}

// run executes the step table from the job's start index to the end.
func (s *Service) run(ctx context.Context, handle *runHandle, job *models.Job, project *models.Project) {
	source, err := common.ParseSourceURL(project.SourceURL)
	if err != nil {
		// An unparseable URL on a stored project means a hand-edited row;
		// record it as a fatal validate_url failure.
		s.failRun(job, project, models.StepValidateURL, err, false)
		return
	}
	if job.ResumeData == nil {
		job.ResumeData = &models.ResumeData{}
	}
	run := &jobRun{job: job, project: project, source: source}

	start := job.StartIndex()
	resuming := job.RetryCount > 0

	job.MarkRunning()
	if err := s.store.Jobs().UpdateJob(ctx, job, models.JobStatusPending); err != nil {
		s.resolveWriteFailure(job, err, "job start")
		return
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("ref", job.Ref).
		Str("project_id", project.ID).
		Str("company", source.CompanyName).
		Int("start_index", start).
		Bool("resume", resuming).
		Msg("Job run started")

	message := "Starting project processing"
	if resuming {
		message = fmt.Sprintf("Resuming project processing at step %d/%d", start+1, models.TotalSteps)
	}
	s.appendLog(job, "info", models.StepAt(start), message)
	s.bus.Publish(job.ID, models.ProgressOfStep(models.StepAt(start), start, message))

	if job.RetriesExhausted() {
		s.bus.Publish(job.ID, models.DetailEvent(job.CurrentStep, countersOf(job),
			fmt.Sprintf("Resume attempt %d is past the advisory limit of %d", job.RetryCount, job.MaxRetries)))
	}

	for idx := start; idx < models.TotalSteps; idx++ {
		step := models.StepAt(idx)

		if ctx.Err() != nil {
			s.finishAborted(handle, job, step)
			return
		}

		job.BeginStep(step)
		if err := s.store.Jobs().UpdateJob(ctx, job, models.JobStatusRunning); err != nil {
			s.resolveWriteFailure(job, err, "step entry")
			return
		}
		if err := s.store.Projects().UpdateProjectStatus(ctx, project.ID, models.ProjectStatusForStep(step), ""); err != nil {
			s.handleStepError(ctx, handle, run, step, err)
			return
		}

		s.appendLog(job, "info", step, "step started")
		s.bus.Publish(job.ID, models.StatusEvent(step, idx, "Starting: "+stepTitle(step)))

		stepStart := time.Now()
		run.commit = &interfaces.StepCommit{}
		if err := s.steps[idx](ctx, run); err != nil {
			s.handleStepError(ctx, handle, run, step, err)
			return
		}

		job.CompleteStep(step)
		commit := run.commit
		commit.Job = job
		if idx == models.TotalSteps-1 {
			// The final step's commit carries the terminal states so the job
			// and the project lifecycle flip together.
			job.MarkCompleted()
			commit.ProjectStatus = models.ProjectStatusCompleted
		}
		if err := s.store.Jobs().CommitStep(ctx, commit); err != nil {
			s.handleStepError(ctx, handle, run, step, err)
			return
		}

		s.logger.Info().
			Str("job_id", job.ID).
			Str("step", string(step)).
			Dur("duration", time.Since(stepStart)).
			Msg("Step completed")
		s.appendLog(job, "info", step, "step completed")
		s.bus.Publish(job.ID, models.DetailEvent(step, countersOf(job), "Completed: "+stepTitle(step)))
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("project_id", project.ID).
		Int("documents_processed", job.DocumentsProcessed).
		Int("embeddings_created", job.EmbeddingsCreated).
		Msg("Job completed")
	s.appendLog(job, "info", "", "job completed")
	s.bus.Publish(job.ID, models.CompletedEvent("Project processing completed"))
	s.bus.Close(job.ID, models.CloseCompleted)
}

// handleStepError routes a step failure to the cancel, conflict or failure
// paths.
func (s *Service) handleStepError(ctx context.Context, handle *runHandle, run *jobRun, step models.Step, err error) {
	job := run.job

	// An aborted run context surfaces as whatever the provider wrapped
	// around context.Canceled; classify by the handle, not the error.
	if ctx.Err() != nil {
		s.finishAborted(handle, job, step)
		return
	}

	if common.IsKind(err, common.KindConflict) {
		// A guarded commit lost its race. A durable cancel is the normal
		// cause; anything else means the row no longer matches this run's
		// assumptions and the job must not resume onto it.
		readCtx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
		current, readErr := s.store.Jobs().GetJob(readCtx, job.ID)
		cancel()
		if readErr == nil && current.Status == models.JobStatusCancelled {
			s.finishCancelled(job, step)
			return
		}
		s.failRun(job, run.project, step, err, false)
		return
	}

	canResume := true
	switch {
	case step == models.StepValidateURL:
		canResume = false
	case step == models.StepScrapePage && common.IsKind(err, common.KindValidation):
		// A filings page with no qualifying reports never heals on retry.
		canResume = false
	}
	s.failRun(job, run.project, step, err, canResume)
}

// finishAborted handles a dead run context: a durable cancel closes the
// stream, a shutdown leaves the row running for staleness recovery.
func (s *Service) finishAborted(handle *runHandle, job *models.Job, step models.Step) {
	if handle.cancelled.Load() {
		s.finishCancelled(job, step)
		return
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("step", string(step)).
		Msg("Job run aborted by shutdown")
	s.appendLog(job, "warn", step, "run aborted by shutdown")
}

func (s *Service) finishCancelled(job *models.Job, step models.Step) {
	s.logger.Info().
		Str("job_id", job.ID).
		Str("step", string(step)).
		Msg("Job run stopped by cancellation")
	s.appendLog(job, "warn", step, "processing cancelled")
	s.bus.Publish(job.ID, models.CancelledEvent("Processing cancelled"))
	s.bus.Close(job.ID, models.CloseCancelled)
}

// failRun records a step failure on the job and project rows and ends the
// stream with an error.
func (s *Service) failRun(job *models.Job, project *models.Project, step models.Step, stepErr error, canResume bool) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	job.MarkFailed(step, stepErr.Error(), canResume)
	if err := s.store.Jobs().UpdateJob(ctx, job, models.JobStatusPending, models.JobStatusRunning); err != nil {
		if common.IsKind(err, common.KindConflict) {
			// A cancel won while the failure write was in flight.
			current, readErr := s.store.Jobs().GetJob(ctx, job.ID)
			if readErr == nil && current.Status == models.JobStatusCancelled {
				s.finishCancelled(job, step)
				return
			}
		}
		s.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to record job failure")
	}
	if err := s.store.Projects().UpdateProjectStatus(ctx, project.ID, models.ProjectStatusFailed, job.ErrorMessage); err != nil {
		s.logger.Error().Str("project_id", project.ID).Err(err).Msg("Failed to record project failure")
	}

	s.logger.Error().
		Str("job_id", job.ID).
		Str("step", string(step)).
		Bool("can_resume", canResume).
		Err(stepErr).
		Msg("Step failed")
	s.appendLog(job, "error", step, stepErr.Error())
	s.bus.Publish(job.ID, models.ErrorEvent(step, fmt.Sprintf("Failed at %s: %s", stepTitle(step), common.ClientMessage(stepErr))))
	s.bus.Close(job.ID, models.CloseError)
}

// resolveWriteFailure handles a failed job-state write outside the commit
// path. A Conflict means another writer owns the row now; anything else is a
// storage fault the run cannot record.
func (s *Service) resolveWriteFailure(job *models.Job, err error, where string) {
	if common.IsKind(err, common.KindConflict) {
		ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
		current, readErr := s.store.Jobs().GetJob(ctx, job.ID)
		cancel()
		if readErr == nil && current.Status == models.JobStatusCancelled {
			s.finishCancelled(job, job.CurrentStep)
			return
		}
		s.logger.Warn().
			Str("job_id", job.ID).
			Str("at", where).
			Err(err).
			Msg("Job row changed concurrently, abandoning run")
		return
	}
	s.logger.Error().
		Str("job_id", job.ID).
		Str("at", where).
		Err(err).
		Msg("Job state write failed")
	s.bus.Publish(job.ID, models.ErrorEvent(job.CurrentStep, "internal storage error"))
	s.bus.Close(job.ID, models.CloseError)
}

// commitSubStep persists one unit of sub-work inside a running step: the
// step's rows plus the job row carrying the updated payload and counters.
func (s *Service) commitSubStep(ctx context.Context, run *jobRun, commit *interfaces.StepCommit) error {
	commit.Job = run.job
	return s.store.Jobs().CommitStep(ctx, commit)
}

// publishProgress emits a progress event for the step currently executing.
func (s *Service) publishProgress(run *jobRun, message string) {
	s.bus.Publish(run.job.ID, models.ProgressOfStep(run.job.CurrentStep, run.job.CurrentStepIndex, message))
}

// appendLog writes one operational record to the embedded run log. Log
// failures never fail the pipeline.
func (s *Service) appendLog(job *models.Job, level string, step models.Step, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()
	entry := models.JobLogEntry{
		JobID:     job.ID,
		Timestamp: time.Now().UTC(),
		Level:     level,
		Step:      step,
		Message:   message,
	}
	if err := s.store.JobLogs().AppendLog(ctx, entry); err != nil {
		s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to append job log")
	}
}

func countersOf(job *models.Job) models.EventCounters {
	return models.EventCounters{
		DocumentsProcessed: job.DocumentsProcessed,
		EmbeddingsCreated:  job.EmbeddingsCreated,
	}
}
