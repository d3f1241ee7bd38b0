// -----------------------------------------------------------------------
// Project Handler - project CRUD, job control and snapshot endpoints
// -----------------------------------------------------------------------

package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/snapshot"
)

// ProjectHandler handles project API requests.
type ProjectHandler struct {
	config    *common.Config
	store     interfaces.StorageManager
	pipeline  interfaces.PipelineService
	snapshots *snapshot.Service
	renderer  interfaces.PDFRenderer
	logger    arbor.ILogger
}

func NewProjectHandler(
	config *common.Config,
	store interfaces.StorageManager,
	pipeline interfaces.PipelineService,
	snapshots *snapshot.Service,
	renderer interfaces.PDFRenderer,
	logger arbor.ILogger,
) *ProjectHandler {
	return &ProjectHandler{
		config:    config,
		store:     store,
		pipeline:  pipeline,
		snapshots: snapshots,
		renderer:  renderer,
		logger:    logger,
	}
}

type createProjectRequest struct {
	URL string `json:"url" validate:"required"`
}

type projectListResponse struct {
	Projects []*models.Project `json:"projects"`
	Total    int               `json:"total"`
}

type projectStatusResponse struct {
	Project *models.Project    `json:"project"`
	Job     *models.JobSummary `json:"job,omitempty"`
}

type snapshotResponse struct {
	ProjectID   string               `json:"project_id"`
	CompanyName string               `json:"company_name"`
	Snapshot    *models.SnapshotData `json:"snapshot"`
	GeneratedAt time.Time            `json:"generated_at"`
	Version     int                  `json:"version"`
}

// jobDetailResponse is a JobSummary plus the scrape/download bookkeeping.
// Raw resume data stays out of the API; it carries whole PDF buffers.
type jobDetailResponse struct {
	*models.JobSummary
	PDFInfo *models.PDFInfo `json:"pdf_info,omitempty"`
}

type jobActionResponse struct {
	Job     *models.JobSummary `json:"job"`
	Message string             `json:"message"`
}

type jobLogsResponse struct {
	JobID string               `json:"job_id"`
	Logs  []models.JobLogEntry `json:"logs"`
	Total int                  `json:"total"`
}

// CreateProjectHandler registers a company page and kicks off ingestion
// POST /api/projects
func (h *ProjectHandler) CreateProjectHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req createProjectRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	source, err := common.ParseSourceURL(req.URL)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	project := &models.Project{
		ID:          common.NewID(),
		CompanyName: source.CompanyName,
		SourceURL:   source.URL,
		Exchange:    source.Exchange,
		Status:      models.ProjectStatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.store.Projects().CreateProjectIfAbsent(r.Context(), project); err != nil {
		if common.IsKind(err, common.KindConflict) {
			WriteError(w, http.StatusBadRequest, "Project with this URL already exists")
			return
		}
		h.logger.Error().Err(err).Str("source_url", source.URL).Msg("Failed to create project")
		WriteServiceError(w, err)
		return
	}

	if _, err := h.pipeline.Start(r.Context(), project); err != nil {
		// The row exists either way; a failed kick-off is recoverable via resume.
		h.logger.Warn().Err(err).Str("project_id", project.ID).Msg("Pipeline start failed after project create")
	}

	h.logger.Info().
		Str("project_id", project.ID).
		Str("company", project.CompanyName).
		Msg("Project created")

	WriteJSON(w, http.StatusCreated, project)
}

// ListProjectsHandler returns a page of projects, newest first
// GET /api/projects?skip=0&limit=20
func (h *ProjectHandler) ListProjectsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	skip, limit := GetSkipLimit(r, 20)

	projects, total, err := h.store.Projects().ListProjects(r.Context(), skip, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list projects")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, projectListResponse{Projects: projects, Total: total})
}

// GetProjectHandler returns a project with its documents and latest job
// GET /api/projects/{id}
func (h *ProjectHandler) GetProjectHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := ResourceID(r)
	if id == "" {
		WriteError(w, http.StatusBadRequest, "project ID is required")
		return
	}

	project, err := h.store.Projects().GetProject(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	documents, err := h.store.Documents().ListDocuments(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("project_id", id).Msg("Failed to list project documents")
		WriteServiceError(w, err)
		return
	}

	detail := models.ProjectDetail{
		Project:   *project,
		Documents: documents,
	}

	job, err := h.store.Jobs().GetLatestJob(r.Context(), id)
	switch {
	case err == nil:
		detail.LatestJob = job.Summary()
	case !common.IsKind(err, common.KindNotFound):
		h.logger.Error().Err(err).Str("project_id", id).Msg("Failed to load latest job")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, detail)
}

// GetProjectStatusHandler returns the project lifecycle plus latest job state.
// A terminal job with a stale project status reconciles the project row first,
// so pollers never see a completed job under a "processing" project.
// GET /api/projects/{id}/status
func (h *ProjectHandler) GetProjectStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := ResourceID(r)
	project, err := h.store.Projects().GetProject(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	resp := projectStatusResponse{Project: project}

	job, err := h.store.Jobs().GetLatestJob(r.Context(), id)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			WriteJSON(w, http.StatusOK, resp)
			return
		}
		h.logger.Error().Err(err).Str("project_id", id).Msg("Failed to load latest job")
		WriteServiceError(w, err)
		return
	}
	resp.Job = job.Summary()

	if !project.Status.IsTerminal() {
		switch job.Status {
		case models.JobStatusCompleted:
			h.reconcileProjectStatus(r, project, models.ProjectStatusCompleted, "")
		case models.JobStatusFailed:
			h.reconcileProjectStatus(r, project, models.ProjectStatusFailed, job.ErrorMessage)
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

// reconcileProjectStatus persists the corrected lifecycle best-effort and
// mutates the in-memory project so the response reflects it regardless.
func (h *ProjectHandler) reconcileProjectStatus(r *http.Request, project *models.Project, status models.ProjectStatus, errorMessage string) {
	if err := h.store.Projects().UpdateProjectStatus(r.Context(), project.ID, status, errorMessage); err != nil {
		h.logger.Warn().Err(err).
			Str("project_id", project.ID).
			Str("status", string(status)).
			Msg("Failed to reconcile project status")
	}
	project.Status = status
	project.ErrorMessage = errorMessage
}

// GetSnapshotHandler returns the latest structured company snapshot
// GET /api/projects/{id}/snapshot
func (h *ProjectHandler) GetSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := ResourceID(r)
	project, err := h.store.Projects().GetProject(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	snap, err := h.store.Snapshots().GetLatestSnapshot(r.Context(), id)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			WriteError(w, http.StatusNotFound, "Snapshot not yet generated. Please wait for project processing to complete.")
			return
		}
		h.logger.Error().Err(err).Str("project_id", id).Msg("Failed to load snapshot")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, snapshotResponse{
		ProjectID:   project.ID,
		CompanyName: project.CompanyName,
		Snapshot:    snap.Data,
		GeneratedAt: snap.GeneratedAt,
		Version:     snap.Version,
	})
}

// ExportSnapshotHandler renders the latest snapshot as a downloadable PDF
// GET /api/projects/{id}/snapshot/export
func (h *ProjectHandler) ExportSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := ResourceID(r)
	project, err := h.store.Projects().GetProject(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	snap, err := h.store.Snapshots().GetLatestSnapshot(r.Context(), id)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			WriteError(w, http.StatusNotFound, "Snapshot not yet generated. Please wait for project processing to complete.")
			return
		}
		h.logger.Error().Err(err).Str("project_id", id).Msg("Failed to load snapshot")
		WriteServiceError(w, err)
		return
	}

	markdown := h.snapshots.RenderMarkdown(snap.Data)
	pdf, err := h.renderer.ConvertMarkdownToPDF(markdown, project.CompanyName+" Snapshot")
	if err != nil {
		h.logger.Error().Err(err).Str("project_id", id).Msg("Failed to render snapshot PDF")
		WriteError(w, http.StatusInternalServerError, "failed to render snapshot PDF")
		return
	}

	filename := fmt.Sprintf("%s-snapshot-v%d.pdf", common.Slugify(project.CompanyName), snap.Version)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// GetJobHandler returns the latest job for a project
// GET /api/projects/{id}/job
func (h *ProjectHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := ResourceID(r)
	job, err := h.store.Jobs().GetLatestJob(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	detail := jobDetailResponse{JobSummary: job.Summary()}
	if job.ResumeData != nil {
		detail.PDFInfo = job.ResumeData.PDFInfo
	}

	WriteJSON(w, http.StatusOK, detail)
}

// GetJobLogsHandler returns persisted step logs for the latest job, newest first
// GET /api/projects/{id}/job/logs?limit=100&offset=0
func (h *ProjectHandler) GetJobLogsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := ResourceID(r)
	job, err := h.store.Jobs().GetLatestJob(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}
	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	logs, err := h.store.JobLogs().GetLogs(r.Context(), job.ID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to load job logs")
		WriteServiceError(w, err)
		return
	}

	total, err := h.store.JobLogs().CountLogs(r.Context(), job.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to count job logs")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, jobLogsResponse{JobID: job.ID, Logs: logs, Total: total})
}

// CancelProjectHandler stops the active job for a project
// POST /api/projects/{id}/cancel
func (h *ProjectHandler) CancelProjectHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := ResourceID(r)
	job, err := h.pipeline.Cancel(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("project_id", id).Str("job_id", job.ID).Msg("Processing cancelled")
	WriteJSON(w, http.StatusOK, jobActionResponse{Job: job.Summary(), Message: "Processing cancelled"})
}

// ResumeProjectHandler restarts processing from the last successful step
// POST /api/projects/{id}/resume
func (h *ProjectHandler) ResumeProjectHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := ResourceID(r)
	job, err := h.pipeline.Resume(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().
		Str("project_id", id).
		Str("job_id", job.ID).
		Str("from_step", string(job.LastSuccessfulStep)).
		Msg("Processing resumed")

	WriteJSON(w, http.StatusAccepted, jobActionResponse{Job: job.Summary(), Message: "Processing resumed"})
}

// DeleteProjectHandler cancels any active job and removes the project.
// Documents, chunks, jobs and snapshots cascade in storage.
// DELETE /api/projects/{id}
func (h *ProjectHandler) DeleteProjectHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	id := ResourceID(r)
	if _, err := h.pipeline.Cancel(r.Context(), id); err != nil && !common.IsKind(err, common.KindNotFound) {
		h.logger.Error().Err(err).Str("project_id", id).Msg("Failed to cancel job before delete")
		WriteServiceError(w, err)
		return
	}

	if err := h.store.Projects().DeleteProject(r.Context(), id); err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("project_id", id).Msg("Project deleted")
	w.WriteHeader(http.StatusNoContent)
}
