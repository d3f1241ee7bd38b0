package handlers

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/snapshot"
)

var errNotWired = common.E(common.KindInternal, "not wired in handler tests")

// fakeStore is an in-memory StorageManager covering the slices the HTTP
// handlers touch. Everything else reports errNotWired so an unexpected call
// fails the test loudly.
type fakeStore struct {
	mu        sync.Mutex
	projects  []*models.Project
	documents map[string][]*models.Document
	jobs      []*models.Job
	chats     []*models.Chat
	messages  []*models.Message
	snapshots map[string]*models.CompanySnapshot
	logs      map[string][]models.JobLogEntry

	pingErr         error
	statusUpdates   []statusUpdate
	deletedProjects []string
	deletedChats    []string
}

type statusUpdate struct {
	projectID    string
	status       models.ProjectStatus
	errorMessage string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		documents: map[string][]*models.Document{},
		snapshots: map[string]*models.CompanySnapshot{},
		logs:      map[string][]models.JobLogEntry{},
	}
}

var _ interfaces.StorageManager = (*fakeStore)(nil)

func (f *fakeStore) Projects() interfaces.ProjectStorage   { return f }
func (f *fakeStore) Documents() interfaces.DocumentStorage { return f }
func (f *fakeStore) Jobs() interfaces.JobStorage           { return f }
func (f *fakeStore) Chats() interfaces.ChatStorage         { return f }
func (f *fakeStore) Snapshots() interfaces.SnapshotStorage { return f }
func (f *fakeStore) JobLogs() interfaces.JobLogStorage     { return f }

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeStore) Close() error                   { return nil }

// --- projects ---

func (f *fakeStore) CreateProjectIfAbsent(ctx context.Context, project *models.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.projects {
		if existing.SourceURL == project.SourceURL {
			return common.E(common.KindConflict, "project with this URL already exists")
		}
	}
	f.projects = append(f.projects, project)
	return nil
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.projects {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, common.E(common.KindNotFound, "project not found")
}

func (f *fakeStore) ListProjects(ctx context.Context, skip, limit int) ([]*models.Project, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Project, len(f.projects))
	copy(out, f.projects)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if skip >= len(out) {
		return []*models.Project{}, total, nil
	}
	out = out[skip:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (f *fakeStore) UpdateProjectStatus(ctx context.Context, id string, status models.ProjectStatus, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.projects {
		if p.ID == id {
			p.Status = status
			p.ErrorMessage = errorMessage
			f.statusUpdates = append(f.statusUpdates, statusUpdate{id, status, errorMessage})
			return nil
		}
	}
	return common.E(common.KindNotFound, "project not found")
}

func (f *fakeStore) DeleteProject(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.projects {
		if p.ID == id {
			f.projects = append(f.projects[:i], f.projects[i+1:]...)
			delete(f.documents, id)
			delete(f.snapshots, id)
			kept := f.jobs[:0]
			for _, job := range f.jobs {
				if job.ProjectID != id {
					kept = append(kept, job)
				}
			}
			f.jobs = kept
			f.deletedProjects = append(f.deletedProjects, id)
			return nil
		}
	}
	return common.E(common.KindNotFound, "project not found")
}

// --- documents ---

func (f *fakeStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return nil, errNotWired
}

func (f *fakeStore) ListDocuments(ctx context.Context, projectID string) ([]*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := f.documents[projectID]
	if docs == nil {
		docs = []*models.Document{}
	}
	return docs, nil
}

func (f *fakeStore) ListPages(ctx context.Context, documentID string) ([]*models.DocumentPage, error) {
	return nil, errNotWired
}
func (f *fakeStore) CountPages(ctx context.Context, documentID string) (int, error) {
	return 0, errNotWired
}
func (f *fakeStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	return 0, errNotWired
}
func (f *fakeStore) CountEmbeddings(ctx context.Context, documentID string) (int, error) {
	return 0, errNotWired
}
func (f *fakeStore) ListExtractions(ctx context.Context, projectID string) ([]*models.ExtractionResult, error) {
	return nil, errNotWired
}
func (f *fakeStore) KNN(ctx context.Context, vector []float32, projectIDs []string, k int) ([]*models.ScoredChunk, error) {
	return nil, errNotWired
}

// --- jobs ---

func (f *fakeStore) AcquireJobSlot(ctx context.Context, job *models.Job) error { return errNotWired }

func (f *fakeStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.ID == id {
			return job, nil
		}
	}
	return nil, common.E(common.KindNotFound, "job not found")
}

func (f *fakeStore) GetLatestJob(ctx context.Context, projectID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.jobs) - 1; i >= 0; i-- {
		if f.jobs[i].ProjectID == projectID {
			return f.jobs[i], nil
		}
	}
	return nil, common.E(common.KindNotFound, "no job found for project")
}

func (f *fakeStore) GetActiveJob(ctx context.Context, projectID string) (*models.Job, error) {
	return nil, errNotWired
}
func (f *fakeStore) UpdateJob(ctx context.Context, job *models.Job, fromStatuses ...models.JobStatus) error {
	return errNotWired
}
func (f *fakeStore) CancelActiveJob(ctx context.Context, projectID string) (*models.Job, error) {
	return nil, errNotWired
}
func (f *fakeStore) CommitStep(ctx context.Context, commit *interfaces.StepCommit) error {
	return errNotWired
}

// --- chats ---

func (f *fakeStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, chat)
	return nil
}

func (f *fakeStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chats {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, common.E(common.KindNotFound, "chat not found")
}

func (f *fakeStore) ListChats(ctx context.Context) ([]*models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Chat, len(f.chats))
	copy(out, f.chats)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) UpdateChatTitle(ctx context.Context, id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chats {
		if c.ID == id {
			c.Title = title
			return nil
		}
	}
	return common.E(common.KindNotFound, "chat not found")
}

func (f *fakeStore) DeleteChat(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.chats {
		if c.ID == id {
			f.chats = append(f.chats[:i], f.chats[i+1:]...)
			kept := f.messages[:0]
			for _, m := range f.messages {
				if m.ChatID != id {
					kept = append(kept, m)
				}
			}
			f.messages = kept
			f.deletedChats = append(f.deletedChats, id)
			return nil
		}
	}
	return common.E(common.KindNotFound, "chat not found")
}

func (f *fakeStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStore) ListMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Message, 0)
	for _, m := range f.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

// --- snapshots ---

func (f *fakeStore) GetLatestSnapshot(ctx context.Context, projectID string) (*models.CompanySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap, ok := f.snapshots[projectID]; ok {
		return snap, nil
	}
	return nil, common.E(common.KindNotFound, "no snapshot for project")
}

func (f *fakeStore) InsertSnapshot(ctx context.Context, projectID string, data *models.SnapshotData) (*models.CompanySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	version := 1
	if prior, ok := f.snapshots[projectID]; ok {
		version = prior.Version + 1
	}
	snap := &models.CompanySnapshot{
		ID:          common.NewID(),
		ProjectID:   projectID,
		Data:        data,
		Version:     version,
		GeneratedAt: time.Now().UTC(),
	}
	f.snapshots[projectID] = snap
	return snap, nil
}

// --- job logs ---

func (f *fakeStore) AppendLog(ctx context.Context, entry models.JobLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[entry.JobID] = append(f.logs[entry.JobID], entry)
	return nil
}

func (f *fakeStore) GetLogs(ctx context.Context, jobID string, limit, offset int) ([]models.JobLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.logs[jobID]
	newest := make([]models.JobLogEntry, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		newest = append(newest, stored[i])
	}
	if offset >= len(newest) {
		return []models.JobLogEntry{}, nil
	}
	newest = newest[offset:]
	if limit < len(newest) {
		newest = newest[:limit]
	}
	return newest, nil
}

func (f *fakeStore) CountLogs(ctx context.Context, jobID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logs[jobID]), nil
}

func (f *fakeStore) DeleteLogs(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.logs, jobID)
	return nil
}

// fakePipeline records pipeline calls and returns scripted results.
type fakePipeline struct {
	mu          sync.Mutex
	startJob    *models.Job
	startErr    error
	startCalls  []string
	resumeJob   *models.Job
	resumeErr   error
	cancelJob   *models.Job
	cancelErr   error
	cancelCalls []string
}

var _ interfaces.PipelineService = (*fakePipeline)(nil)

func (p *fakePipeline) Start(ctx context.Context, project *models.Project) (*models.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startCalls = append(p.startCalls, project.ID)
	if p.startErr != nil {
		return nil, p.startErr
	}
	if p.startJob != nil {
		return p.startJob, nil
	}
	return models.NewJob(project.ID), nil
}

func (p *fakePipeline) Resume(ctx context.Context, projectID string) (*models.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resumeErr != nil {
		return nil, p.resumeErr
	}
	if p.resumeJob != nil {
		return p.resumeJob, nil
	}
	return models.NewJob(projectID), nil
}

func (p *fakePipeline) Cancel(ctx context.Context, projectID string) (*models.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelCalls = append(p.cancelCalls, projectID)
	if p.cancelErr != nil {
		return nil, p.cancelErr
	}
	if p.cancelJob != nil {
		return p.cancelJob, nil
	}
	return nil, common.E(common.KindNotFound, "no active job for project")
}

func (p *fakePipeline) Shutdown(ctx context.Context) error { return nil }

// fakeRetrieval scripts the Answer callback.
type fakeRetrieval struct {
	answer func(ctx context.Context, chatID, content string, projectIDs []string, emit interfaces.EventSink) error
	calls  int
}

var _ interfaces.RetrievalService = (*fakeRetrieval)(nil)

func (r *fakeRetrieval) Answer(ctx context.Context, chatID, content string, projectIDs []string, emit interfaces.EventSink) error {
	r.calls++
	if r.answer != nil {
		return r.answer(ctx, chatID, content, projectIDs, emit)
	}
	return nil
}

// fakeRenderer captures the markdown handed to the PDF converter.
type fakeRenderer struct {
	err      error
	markdown string
	title    string
}

var _ interfaces.PDFRenderer = (*fakeRenderer)(nil)

func (r *fakeRenderer) ConvertMarkdownToPDF(markdown, title string) ([]byte, error) {
	r.markdown = markdown
	r.title = title
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.4 test"), nil
}

type handlerFixture struct {
	config    *common.Config
	store     *fakeStore
	pipeline  *fakePipeline
	retrieval *fakeRetrieval
	renderer  *fakeRenderer
	projects  *ProjectHandler
	chats     *ChatHandler
	api       *APIHandler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	config := common.NewDefaultConfig()
	store := newFakeStore()
	pipeline := &fakePipeline{}
	retrieval := &fakeRetrieval{}
	renderer := &fakeRenderer{}
	logger := arbor.NewLogger()

	return &handlerFixture{
		config:    config,
		store:     store,
		pipeline:  pipeline,
		retrieval: retrieval,
		renderer:  renderer,
		projects:  NewProjectHandler(config, store, pipeline, snapshot.NewService(logger), renderer, logger),
		chats:     NewChatHandler(store, retrieval, logger),
		api:       NewAPIHandler(store, logger),
	}
}

func (h *handlerFixture) seedProject(t *testing.T, company string, status models.ProjectStatus) *models.Project {
	t.Helper()
	slug := common.Slugify(company)
	project := &models.Project{
		ID:          common.NewID(),
		CompanyName: company,
		SourceURL:   "https://www.bseindia.com/stock-share-price/" + slug + "/500325/scrip/financials-annual-reports/",
		Exchange:    common.ExchangeBSE,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	h.store.projects = append(h.store.projects, project)
	return project
}

func (h *handlerFixture) seedJob(t *testing.T, projectID string, status models.JobStatus) *models.Job {
	t.Helper()
	job := models.NewJob(projectID)
	job.Status = status
	h.store.jobs = append(h.store.jobs, job)
	return job
}

func (h *handlerFixture) seedChat(t *testing.T, title string) *models.Chat {
	t.Helper()
	chat := &models.Chat{ID: common.NewID(), Title: title, CreatedAt: time.Now().UTC()}
	h.store.chats = append(h.store.chats, chat)
	return chat
}

func (h *handlerFixture) seedMessage(t *testing.T, chatID, role, content string) *models.Message {
	t.Helper()
	msg := &models.Message{
		ID:        common.NewID(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	h.store.messages = append(h.store.messages, msg)
	return msg
}
