// -----------------------------------------------------------------------
// Pipeline Service Tests - run lifecycle, resume, cancel, staleness
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/embeddings"
	"github.com/ternarybob/colligo/internal/services/snapshot"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

// ---- in-memory storage fake ----

type fakeStore struct {
	mu sync.Mutex

	projects        map[string]*models.Project
	projectStatuses []models.ProjectStatus
	jobs            map[string]*models.Job
	documents       map[string]*models.Document
	pages           map[string][]*models.DocumentPage
	pageDoc         map[string]string
	chunks          map[string][]*models.TextChunk
	chunkDoc        map[string]string
	embeddingRows   map[string][]*models.Embedding
	extractionRows  []*models.ExtractionResult
	snapshots       map[string][]*models.CompanySnapshot
	chats           map[string]*models.Chat
	messages        map[string][]*models.Message
	logs            []models.JobLogEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:      map[string]*models.Project{},
		jobs:          map[string]*models.Job{},
		documents:     map[string]*models.Document{},
		pages:         map[string][]*models.DocumentPage{},
		pageDoc:       map[string]string{},
		chunks:        map[string][]*models.TextChunk{},
		chunkDoc:      map[string]string{},
		embeddingRows: map[string][]*models.Embedding{},
		snapshots:     map[string][]*models.CompanySnapshot{},
		chats:         map[string]*models.Chat{},
		messages:      map[string][]*models.Message{},
	}
}

func (f *fakeStore) Projects() interfaces.ProjectStorage   { return f }
func (f *fakeStore) Documents() interfaces.DocumentStorage { return f }
func (f *fakeStore) Jobs() interfaces.JobStorage           { return f }
func (f *fakeStore) Chats() interfaces.ChatStorage         { return f }
func (f *fakeStore) Snapshots() interfaces.SnapshotStorage { return f }
func (f *fakeStore) JobLogs() interfaces.JobLogStorage     { return f }
func (f *fakeStore) Ping(ctx context.Context) error        { return nil }
func (f *fakeStore) Close() error                          { return nil }

func cloneJob(job *models.Job) *models.Job {
	raw, err := json.Marshal(job)
	if err != nil {
		panic(err)
	}
	clone := &models.Job{}
	if err := json.Unmarshal(raw, clone); err != nil {
		panic(err)
	}
	return clone
}

func (f *fakeStore) CreateProjectIfAbsent(ctx context.Context, project *models.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.projects {
		if existing.SourceURL == project.SourceURL {
			return common.E(common.KindConflict, "project already exists for this source URL")
		}
	}
	f.projects[project.ID] = project
	return nil
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[id]
	if !ok {
		return nil, common.E(common.KindNotFound, "project not found")
	}
	copy := *project
	return &copy, nil
}

func (f *fakeStore) ListProjects(ctx context.Context, skip, limit int) ([]*models.Project, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Project, 0, len(f.projects))
	for _, p := range f.projects {
		copy := *p
		out = append(out, &copy)
	}
	return out, len(out), nil
}

func (f *fakeStore) UpdateProjectStatus(ctx context.Context, id string, status models.ProjectStatus, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[id]
	if !ok {
		return common.E(common.KindNotFound, "project not found")
	}
	project.Status = status
	project.ErrorMessage = errorMessage
	f.projectStatuses = append(f.projectStatuses, status)
	return nil
}

func (f *fakeStore) DeleteProject(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projects, id)
	return nil
}

func (f *fakeStore) AcquireJobSlot(ctx context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.jobs {
		if row.ProjectID == job.ProjectID && row.IsActive() {
			return common.E(common.KindConflict, "project already has an active job")
		}
	}
	f.jobs[job.ID] = cloneJob(job)
	return nil
}

func (f *fakeStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.jobs[id]
	if !ok {
		return nil, common.E(common.KindNotFound, "job not found")
	}
	return cloneJob(row), nil
}

func (f *fakeStore) GetLatestJob(ctx context.Context, projectID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.Job
	for _, row := range f.jobs {
		if row.ProjectID != projectID {
			continue
		}
		if latest == nil || row.StartedAt.After(latest.StartedAt) {
			latest = row
		}
	}
	if latest == nil {
		return nil, common.E(common.KindNotFound, "no job for project")
	}
	return cloneJob(latest), nil
}

func (f *fakeStore) GetActiveJob(ctx context.Context, projectID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.jobs {
		if row.ProjectID == projectID && row.IsActive() {
			return cloneJob(row), nil
		}
	}
	return nil, common.E(common.KindNotFound, "no active job for project")
}

func (f *fakeStore) UpdateJob(ctx context.Context, job *models.Job, fromStatuses ...models.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.jobs[job.ID]
	if !ok {
		return common.E(common.KindNotFound, "job not found")
	}
	if len(fromStatuses) > 0 {
		matched := false
		for _, status := range fromStatuses {
			if row.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return common.Ef(common.KindConflict, "job is %s, expected one of %v", row.Status, fromStatuses)
		}
	}
	f.jobs[job.ID] = cloneJob(job)
	return nil
}

func (f *fakeStore) CancelActiveJob(ctx context.Context, projectID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, row := range f.jobs {
		if row.ProjectID == projectID && row.IsActive() {
			cancelled := cloneJob(row)
			cancelled.MarkCancelled()
			f.jobs[id] = cancelled
			return cloneJob(cancelled), nil
		}
	}
	return nil, common.E(common.KindNotFound, "no active job for project")
}

func (f *fakeStore) CommitStep(ctx context.Context, commit *interfaces.StepCommit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.jobs[commit.Job.ID]
	if !ok {
		return common.E(common.KindNotFound, "job not found")
	}
	if row.Status != models.JobStatusRunning {
		return common.Ef(common.KindConflict, "job is %s, commits require running", row.Status)
	}
	f.jobs[commit.Job.ID] = cloneJob(commit.Job)

	for _, doc := range commit.Documents {
		copy := *doc
		f.documents[doc.ID] = &copy
	}
	for _, page := range commit.Pages {
		copy := *page
		f.pages[page.DocumentID] = append(f.pages[page.DocumentID], &copy)
		f.pageDoc[page.ID] = page.DocumentID
	}
	for _, extraction := range commit.Extractions {
		copy := *extraction
		f.extractionRows = append(f.extractionRows, &copy)
	}
	for _, chunk := range commit.Chunks {
		docID := f.pageDoc[chunk.PageID]
		copy := *chunk
		f.chunks[docID] = append(f.chunks[docID], &copy)
		f.chunkDoc[chunk.ID] = docID
	}
	for _, embedding := range commit.Embeddings {
		docID := f.chunkDoc[embedding.ChunkID]
		copy := *embedding
		f.embeddingRows[docID] = append(f.embeddingRows[docID], &copy)
	}
	if commit.Snapshot != nil {
		projectID := commit.Job.ProjectID
		f.snapshots[projectID] = append(f.snapshots[projectID], &models.CompanySnapshot{
			ID:          common.NewID(),
			ProjectID:   projectID,
			Data:        commit.Snapshot,
			Version:     len(f.snapshots[projectID]) + 1,
			GeneratedAt: time.Now().UTC(),
		})
	}
	if commit.ProjectStatus != "" {
		if project, ok := f.projects[commit.Job.ProjectID]; ok {
			project.Status = commit.ProjectStatus
			f.projectStatuses = append(f.projectStatuses, commit.ProjectStatus)
		}
	}
	return nil
}

func (f *fakeStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return nil, common.E(common.KindNotFound, "document not found")
	}
	copy := *doc
	return &copy, nil
}

func (f *fakeStore) ListDocuments(ctx context.Context, projectID string) ([]*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Document{}
	for _, doc := range f.documents {
		if doc.ProjectID == projectID {
			copy := *doc
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (f *fakeStore) ListPages(ctx context.Context, documentID string) ([]*models.DocumentPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := append([]*models.DocumentPage{}, f.pages[documentID]...)
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	return pages, nil
}

func (f *fakeStore) CountPages(ctx context.Context, documentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pages[documentID]), nil
}

func (f *fakeStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks[documentID]), nil
}

func (f *fakeStore) CountEmbeddings(ctx context.Context, documentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.embeddingRows[documentID]), nil
}

func (f *fakeStore) ListExtractions(ctx context.Context, projectID string) ([]*models.ExtractionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.ExtractionResult{}
	for _, row := range f.extractionRows {
		if doc, ok := f.documents[row.DocumentID]; ok && doc.ProjectID == projectID {
			copy := *row
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (f *fakeStore) KNN(ctx context.Context, vector []float32, projectIDs []string, k int) ([]*models.ScoredChunk, error) {
	return nil, nil
}

func (f *fakeStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[chat.ID] = chat
	return nil
}

func (f *fakeStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[id]
	if !ok {
		return nil, common.E(common.KindNotFound, "chat not found")
	}
	return chat, nil
}

func (f *fakeStore) ListChats(ctx context.Context) ([]*models.Chat, error) {
	return nil, nil
}

func (f *fakeStore) UpdateChatTitle(ctx context.Context, id, title string) error {
	return nil
}

func (f *fakeStore) DeleteChat(ctx context.Context, id string) error {
	return nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.ChatID] = append(f.messages[msg.ChatID], msg)
	return nil
}

func (f *fakeStore) ListMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Message{}, f.messages[chatID]...), nil
}

func (f *fakeStore) GetLatestSnapshot(ctx context.Context, projectID string) (*models.CompanySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := f.snapshots[projectID]
	if len(versions) == 0 {
		return nil, common.E(common.KindNotFound, "no snapshot for project")
	}
	return versions[len(versions)-1], nil
}

func (f *fakeStore) InsertSnapshot(ctx context.Context, projectID string, data *models.SnapshotData) (*models.CompanySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := &models.CompanySnapshot{
		ID:          common.NewID(),
		ProjectID:   projectID,
		Data:        data,
		Version:     len(f.snapshots[projectID]) + 1,
		GeneratedAt: time.Now().UTC(),
	}
	f.snapshots[projectID] = append(f.snapshots[projectID], snap)
	return snap, nil
}

func (f *fakeStore) AppendLog(ctx context.Context, entry models.JobLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeStore) GetLogs(ctx context.Context, jobID string, limit, offset int) ([]models.JobLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.JobLogEntry{}
	for _, entry := range f.logs {
		if entry.JobID == jobID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeStore) CountLogs(ctx context.Context, jobID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, entry := range f.logs {
		if entry.JobID == jobID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) DeleteLogs(ctx context.Context, jobID string) error {
	return nil
}

// Test hooks, not part of the storage contract.

func (f *fakeStore) putJob(job *models.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = cloneJob(job)
}

func (f *fakeStore) ageJob(jobID string, age time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.jobs[jobID]; ok {
		row.UpdatedAt = time.Now().UTC().Add(-age)
	}
}

func (f *fakeStore) documentCount(projectID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, doc := range f.documents {
		if doc.ProjectID == projectID {
			count++
		}
	}
	return count
}

func (f *fakeStore) totalEmbeddings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, rows := range f.embeddingRows {
		total += len(rows)
	}
	return total
}

func (f *fakeStore) statusHistory() []models.ProjectStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ProjectStatus{}, f.projectStatuses...)
}

// ---- dependency fakes ----

type fakeBus struct {
	mu     sync.Mutex
	events map[string][]models.ProgressEvent
	closes map[string][]models.CloseReason
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		events: map[string][]models.ProgressEvent{},
		closes: map[string][]models.CloseReason{},
	}
}

func (f *fakeBus) Publish(jobID string, event models.ProgressEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[jobID] = append(f.events[jobID], event)
}

func (f *fakeBus) Subscribe(jobID string) (<-chan models.ProgressEvent, interfaces.Unsubscribe) {
	ch := make(chan models.ProgressEvent)
	close(ch)
	return ch, func() {}
}

func (f *fakeBus) Close(jobID string, reason models.CloseReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes[jobID] = append(f.closes[jobID], reason)
}

func (f *fakeBus) CloseAll() {}

func (f *fakeBus) eventsFor(jobID string) []models.ProgressEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ProgressEvent{}, f.events[jobID]...)
}

func (f *fakeBus) closesFor(jobID string) []models.CloseReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CloseReason{}, f.closes[jobID]...)
}

func (f *fakeBus) hasEvent(jobID string, eventType models.EventType, messagePart string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, event := range f.events[jobID] {
		if event.Type == eventType && strings.Contains(event.Message, messagePart) {
			return true
		}
	}
	return false
}

type fakeScraper struct {
	mu      sync.Mutex
	calls   int
	err     error
	reports []models.ScrapedReport
}

func (f *fakeScraper) ScrapeAnnualReports(ctx context.Context, pageURL string) ([]models.ScrapedReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.ScrapedReport{}, f.reports...), nil
}

func (f *fakeScraper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDownloader struct {
	mu       sync.Mutex
	calls    int
	blocking bool
	started  chan struct{}
	once     sync.Once
}

func (f *fakeDownloader) DownloadPDF(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	blocking := f.blocking
	f.mu.Unlock()

	if blocking {
		if f.started != nil {
			f.once.Do(func() { close(f.started) })
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte("%PDF-1.4 " + url), nil
}

func (f *fakeDownloader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBlobs struct {
	mu       sync.Mutex
	uploads  int
	failOnce map[string]error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{failOnce: map[string]error{}}
}

func (f *fakeBlobs) UploadPDF(ctx context.Context, companySlug, fiscalYear, sourceURL string, raw []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOnce[sourceURL]; ok {
		delete(f.failOnce, sourceURL)
		return "", err
	}
	f.uploads++
	return fmt.Sprintf("https://blobs.test/%s/%s-%d.pdf", companySlug, fiscalYear, f.uploads), nil
}

func (f *fakeBlobs) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeBlobs) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

type fakePDF struct {
	pagesPerDoc int
}

func (f *fakePDF) PageCount(ctx context.Context, raw []byte) (int, error) {
	return f.pagesPerDoc, nil
}

func (f *fakePDF) ExtractPages(ctx context.Context, raw []byte) ([]interfaces.PDFPageContent, error) {
	contents := make([]interfaces.PDFPageContent, f.pagesPerDoc)
	for i := range contents {
		contents[i] = interfaces.PDFPageContent{
			PageNumber: i + 1,
			Text:       fmt.Sprintf("Page %d of %s. Revenue from operations grew over the prior period.", i+1, raw),
		}
	}
	return contents, nil
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, companyName string, doc *models.Document, pages []*models.DocumentPage) (*models.ExtractedData, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	revenue := 1000.0
	profit := 100.0
	return &models.ExtractedData{
		CompanyName:   companyName,
		FiscalYear:    doc.FiscalYear,
		ReportType:    doc.DocumentType,
		Revenue:       &revenue,
		NetProfit:     &profit,
		RevenueUnit:   "INR Crore",
		KeyHighlights: []string{"Steady revenue growth", "Margin expansion"},
		Outlook:       "Management expects continued growth.",
	}, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEmbedder struct {
	mu         sync.Mutex
	calls      int
	failAtCall int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAtCall > 0 && f.calls == f.failAtCall {
		f.failAtCall = 0
		return nil, common.E(common.KindUnavailable, "embedding quota exhausted")
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{float32(len(texts[i])), 1, 0.5}
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---- fixture ----

type fixture struct {
	service    *Service
	config     *common.Config
	store      *fakeStore
	bus        *fakeBus
	scraper    *fakeScraper
	downloader *fakeDownloader
	blobs      *fakeBlobs
	pdfx       *fakePDF
	extractor  *fakeExtractor
	embedder   *fakeEmbedder
	coord      *embeddings.Coordinator
	snapshots  *snapshot.Service
	logger     arbor.ILogger
}

func testReports() []models.ScrapedReport {
	urls := []string{
		"https://www.bseindia.com/xml-data/ar-2024.pdf",
		"https://www.bseindia.com/xml-data/ar-2023.pdf",
	}
	return []models.ScrapedReport{
		{
			Label:        "Annual Report 2023-24",
			PDFURL:       urls[0],
			FiscalYear:   "FY2024",
			Year:         2024,
			DocumentType: models.DocumentTypeAnnualReport,
			Key:          models.ReportKey(urls[0]),
		},
		{
			Label:        "Annual Report 2022-23",
			PDFURL:       urls[1],
			FiscalYear:   "FY2023",
			Year:         2023,
			DocumentType: models.DocumentTypeAnnualReport,
			Key:          models.ReportKey(urls[1]),
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	config := common.NewDefaultConfig()
	logger := arbor.NewLogger()

	f := &fixture{
		config:     config,
		store:      newFakeStore(),
		bus:        newFakeBus(),
		scraper:    &fakeScraper{reports: testReports()},
		downloader: &fakeDownloader{},
		blobs:      newFakeBlobs(),
		pdfx:       &fakePDF{pagesPerDoc: 2},
		extractor:  &fakeExtractor{},
		embedder:   &fakeEmbedder{},
		logger:     logger,
	}
	f.coord = embeddings.NewCoordinator(embeddings.NewChunker(&config.Pipeline), f.embedder, logger)
	f.snapshots = snapshot.NewService(logger)

	service, err := NewService(config, f.store, f.bus, f.scraper, f.downloader, f.blobs,
		f.pdfx, f.extractor, f.coord, f.snapshots, logger)
	require.NoError(t, err)
	f.service = service
	return f
}

func (f *fixture) seedProject(t *testing.T) *models.Project {
	t.Helper()
	project := &models.Project{
		ID:          common.NewID(),
		CompanyName: "RELIANCE INDUSTRIES LTD",
		SourceURL:   "https://www.bseindia.com/stock-share-price/reliance-industries-ltd/500325/RELIANCE/financials-annual-reports/",
		Exchange:    common.ExchangeBSE,
		Status:      models.ProjectStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateProjectIfAbsent(context.Background(), project))
	return project
}

func waitJobStatus(t *testing.T, store *fakeStore, jobID string, want models.JobStatus) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		row, err := store.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = row
		return row.Status == want
	}, waitFor, tick, "job never reached %s", want)
	return job
}

func waitClosed(t *testing.T, bus *fakeBus, jobID string, want models.CloseReason) {
	t.Helper()
	require.Eventually(t, func() bool {
		closes := bus.closesFor(jobID)
		return len(closes) > 0 && closes[len(closes)-1] == want
	}, waitFor, tick, "stream never closed with %s", want)
}

func waitRegistryEmpty(t *testing.T, service *Service) {
	t.Helper()
	require.Eventually(t, func() bool {
		service.registry.mu.Lock()
		defer service.registry.mu.Unlock()
		return len(service.registry.runs) == 0
	}, waitFor, tick, "run registry never drained")
}

// ---- tests ----

func TestStartRunsAllStepsToCompletion(t *testing.T) {
	f := newFixture(t)
	project := f.seedProject(t)

	job, err := f.service.Start(context.Background(), project)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPending, job.Status)

	final := waitJobStatus(t, f.store, job.ID, models.JobStatusCompleted)
	waitClosed(t, f.bus, job.ID, models.CloseCompleted)

	assert.Equal(t, models.TotalSteps, final.CurrentStepIndex)
	assert.Equal(t, models.StepGenerateSnapshot, final.LastSuccessfulStep)
	assert.Empty(t, final.FailedStep)
	assert.NotNil(t, final.CompletedAt)
	assert.Equal(t, 2, final.DocumentsProcessed)
	assert.Equal(t, f.store.totalEmbeddings(), final.EmbeddingsCreated)
	assert.Positive(t, final.EmbeddingsCreated)

	// The buffered PDFs were released once page text became durable.
	assert.Empty(t, final.ResumeData.PDFBuffers)
	require.NotNil(t, final.ResumeData.PDFInfo)
	assert.Equal(t, 2, final.ResumeData.PDFInfo.Downloaded)

	assert.Equal(t, 2, f.store.documentCount(project.ID))
	assert.Equal(t, 1, f.scraper.callCount())
	assert.Equal(t, 2, f.downloader.callCount())
	assert.Equal(t, 2, f.blobs.uploadCount())
	assert.Equal(t, 2, f.extractor.callCount())

	stored, err := f.store.GetProject(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusCompleted, stored.Status)

	history := f.store.statusHistory()
	require.NotEmpty(t, history)
	assert.Equal(t, models.ProjectStatusScraping, history[0])
	assert.Contains(t, history, models.ProjectStatusDownloading)
	assert.Contains(t, history, models.ProjectStatusProcessing)
	assert.Equal(t, models.ProjectStatusCompleted, history[len(history)-1])

	snap, err := f.store.GetLatestSnapshot(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Version)
	require.Len(t, snap.Data.Financials, 2)
	assert.Equal(t, "FY2024", snap.Data.Financials[0].FiscalYear)
	assert.Len(t, snap.Data.Documents, 2)

	events := f.bus.eventsFor(job.ID)
	require.NotEmpty(t, events)
	statusCount := 0
	for _, event := range events {
		if event.Type == models.EventStatus {
			statusCount++
		}
	}
	assert.Equal(t, models.TotalSteps, statusCount)
	assert.Equal(t, models.EventCompleted, events[len(events)-1].Type)
	assert.True(t, f.bus.hasEvent(job.ID, models.EventDetail, "Completed: Generate Snapshot"))

	logCount, err := f.store.CountLogs(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Positive(t, logCount)
}

func TestStartRejectsSecondActiveJob(t *testing.T) {
	f := newFixture(t)
	f.downloader.blocking = true
	f.downloader.started = make(chan struct{})
	project := f.seedProject(t)

	job, err := f.service.Start(context.Background(), project)
	require.NoError(t, err)

	select {
	case <-f.downloader.started:
	case <-time.After(waitFor):
		t.Fatal("run never reached the download step")
	}

	_, err = f.service.Start(context.Background(), project)
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindConflict))

	_, err = f.service.Cancel(context.Background(), project.ID)
	require.NoError(t, err)
	waitJobStatus(t, f.store, job.ID, models.JobStatusCancelled)
	waitRegistryEmpty(t, f.service)
}

func TestResumeRetriesFailedUploadWithoutRedoingFinishedWork(t *testing.T) {
	f := newFixture(t)
	project := f.seedProject(t)
	reports := testReports()
	f.blobs.failOnce[reports[1].PDFURL] = common.E(common.KindUnavailable, "bucket unreachable")

	job, err := f.service.Start(context.Background(), project)
	require.NoError(t, err)

	failed := waitJobStatus(t, f.store, job.ID, models.JobStatusFailed)
	waitClosed(t, f.bus, job.ID, models.CloseError)

	assert.Equal(t, models.StepUploadToCloud, failed.FailedStep)
	assert.True(t, failed.CanResume)
	assert.Contains(t, failed.ErrorMessage, "Annual Report 2022-23")
	assert.Equal(t, 1, f.store.documentCount(project.ID))
	assert.True(t, f.bus.hasEvent(job.ID, models.EventError, "Failed at Upload to Cloud"))

	stored, err := f.store.GetProject(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusFailed, stored.Status)

	resumed, err := f.service.Resume(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, resumed.ID)
	assert.Equal(t, 1, resumed.RetryCount)

	final := waitJobStatus(t, f.store, job.ID, models.JobStatusCompleted)
	waitClosed(t, f.bus, job.ID, models.CloseCompleted)

	// Earlier steps were not redone: one scrape, two downloads, and the
	// first report's upload was skipped via the resume payload.
	assert.Equal(t, 1, f.scraper.callCount())
	assert.Equal(t, 2, f.downloader.callCount())
	assert.Equal(t, 2, f.blobs.uploadCount())
	assert.Equal(t, 2, f.store.documentCount(project.ID))
	assert.Empty(t, final.FailedStep)
	assert.Equal(t, 2, final.DocumentsProcessed)
}

func TestResumeDoesNotReembedFinishedDocuments(t *testing.T) {
	f := newFixture(t)
	project := f.seedProject(t)
	f.embedder.failAtCall = 2 // second document's batch

	job, err := f.service.Start(context.Background(), project)
	require.NoError(t, err)

	failed := waitJobStatus(t, f.store, job.ID, models.JobStatusFailed)
	waitClosed(t, f.bus, job.ID, models.CloseError)

	assert.Equal(t, models.StepCreateEmbeddings, failed.FailedStep)
	assert.True(t, failed.CanResume)
	assert.Equal(t, 1, failed.DocumentsProcessed)

	docA, ok := failed.ResumeData.UploadedDocFor(testReports()[0].Key)
	require.True(t, ok)
	chunksBefore, err := f.store.CountChunks(context.Background(), docA.DocumentID)
	require.NoError(t, err)
	require.Positive(t, chunksBefore)

	_, err = f.service.Resume(context.Background(), project.ID)
	require.NoError(t, err)

	final := waitJobStatus(t, f.store, job.ID, models.JobStatusCompleted)
	waitClosed(t, f.bus, job.ID, models.CloseCompleted)

	chunksAfter, err := f.store.CountChunks(context.Background(), docA.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, chunksBefore, chunksAfter, "finished document was re-chunked on resume")

	// One batch per document on the first run, one retried batch on resume.
	assert.Equal(t, 3, f.embedder.callCount())
	assert.Equal(t, 2, final.DocumentsProcessed)
	assert.Equal(t, f.store.totalEmbeddings(), final.EmbeddingsCreated)
	assert.True(t, f.bus.hasEvent(job.ID, models.EventProgress, "Embeddings already created"))
}

func TestCancelStopsLiveRun(t *testing.T) {
	f := newFixture(t)
	f.downloader.blocking = true
	f.downloader.started = make(chan struct{})
	project := f.seedProject(t)

	job, err := f.service.Start(context.Background(), project)
	require.NoError(t, err)

	select {
	case <-f.downloader.started:
	case <-time.After(waitFor):
		t.Fatal("run never reached the download step")
	}

	cancelled, err := f.service.Cancel(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, cancelled.ID)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	waitClosed(t, f.bus, job.ID, models.CloseCancelled)
	waitRegistryEmpty(t, f.service)

	row, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, row.Status)
	assert.True(t, f.bus.hasEvent(job.ID, models.EventCancelled, "Processing cancelled"))
	assert.Equal(t, 1, f.downloader.callCount())
	assert.Zero(t, f.store.documentCount(project.ID))
}

func TestResumeAfterCancelContinuesFromCursor(t *testing.T) {
	f := newFixture(t)
	f.downloader.blocking = true
	f.downloader.started = make(chan struct{})
	project := f.seedProject(t)

	job, err := f.service.Start(context.Background(), project)
	require.NoError(t, err)

	select {
	case <-f.downloader.started:
	case <-time.After(waitFor):
		t.Fatal("run never reached the download step")
	}

	_, err = f.service.Cancel(context.Background(), project.ID)
	require.NoError(t, err)
	waitClosed(t, f.bus, job.ID, models.CloseCancelled)
	waitRegistryEmpty(t, f.service)

	f.downloader.mu.Lock()
	f.downloader.blocking = false
	f.downloader.mu.Unlock()

	resumed, err := f.service.Resume(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed.RetryCount)

	waitJobStatus(t, f.store, job.ID, models.JobStatusCompleted)
	waitClosed(t, f.bus, job.ID, models.CloseCompleted)

	// The cursor was on download_pdfs, so scraping was not redone.
	assert.Equal(t, 1, f.scraper.callCount())
	assert.Equal(t, 2, f.store.documentCount(project.ID))
}

func TestCancelWithoutLiveRunFinishesStream(t *testing.T) {
	f := newFixture(t)
	project := f.seedProject(t)

	job := models.NewJob(project.ID)
	f.store.putJob(job)

	cancelled, err := f.service.Cancel(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)

	assert.True(t, f.bus.hasEvent(job.ID, models.EventCancelled, "Processing cancelled"))
	closes := f.bus.closesFor(job.ID)
	require.Len(t, closes, 1)
	assert.Equal(t, models.CloseCancelled, closes[0])
}

func TestCancelWithoutActiveJobIsNotFound(t *testing.T) {
	f := newFixture(t)
	project := f.seedProject(t)

	_, err := f.service.Cancel(context.Background(), project.ID)
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindNotFound))
}

func TestShutdownLeavesRunningRowForStalenessRecovery(t *testing.T) {
	f := newFixture(t)
	f.downloader.blocking = true
	f.downloader.started = make(chan struct{})
	project := f.seedProject(t)

	job, err := f.service.Start(context.Background(), project)
	require.NoError(t, err)

	select {
	case <-f.downloader.started:
	case <-time.After(waitFor):
		t.Fatal("run never reached the download step")
	}

	// A fresh running job refuses resume while its worker is alive.
	_, err = f.service.Resume(context.Background(), project.ID)
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindValidation))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.service.Shutdown(shutdownCtx))

	// The row is still running: shutdown writes nothing terminal.
	row, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, row.Status)
	assert.Empty(t, f.bus.closesFor(job.ID))

	// Simulate a process restart: a new service over the same store, with
	// the worker long dead.
	f.store.ageJob(job.ID, 10*time.Minute)
	downloader2 := &fakeDownloader{}
	service2, err := NewService(f.config, f.store, f.bus, f.scraper, downloader2, f.blobs,
		f.pdfx, f.extractor, f.coord, f.snapshots, f.logger)
	require.NoError(t, err)

	resumed, err := service2.Resume(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, resumed.ID)
	assert.Equal(t, 1, resumed.RetryCount)

	final := waitJobStatus(t, f.store, job.ID, models.JobStatusCompleted)
	assert.Equal(t, 2, final.DocumentsProcessed)
	assert.Equal(t, 1, f.scraper.callCount())
	assert.Equal(t, 2, downloader2.callCount())
}

func TestScrapeValidationFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	project := f.seedProject(t)
	f.scraper.err = common.E(common.KindValidation, "no annual report PDFs found on the filings page")

	job, err := f.service.Start(context.Background(), project)
	require.NoError(t, err)

	failed := waitJobStatus(t, f.store, job.ID, models.JobStatusFailed)
	waitClosed(t, f.bus, job.ID, models.CloseError)

	assert.Equal(t, models.StepScrapePage, failed.FailedStep)
	assert.False(t, failed.CanResume)
	assert.Contains(t, failed.ErrorMessage, "no annual report PDFs")

	_, err = f.service.Resume(context.Background(), project.ID)
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindValidation))
	assert.Contains(t, err.Error(), "cannot be resumed")
}

func TestScrapeTransientFailureIsResumable(t *testing.T) {
	f := newFixture(t)
	project := f.seedProject(t)
	f.scraper.err = common.E(common.KindUnavailable, "page render timed out")

	job, err := f.service.Start(context.Background(), project)
	require.NoError(t, err)

	failed := waitJobStatus(t, f.store, job.ID, models.JobStatusFailed)
	assert.Equal(t, models.StepScrapePage, failed.FailedStep)
	assert.True(t, failed.CanResume)

	f.scraper.mu.Lock()
	f.scraper.err = nil
	f.scraper.mu.Unlock()

	_, err = f.service.Resume(context.Background(), project.ID)
	require.NoError(t, err)
	waitJobStatus(t, f.store, job.ID, models.JobStatusCompleted)
}

func TestUnparseableStoredURLFailsFatally(t *testing.T) {
	f := newFixture(t)
	project := &models.Project{
		ID:          common.NewID(),
		CompanyName: "MANGLED ROW",
		SourceURL:   "https://example.com/not-a-filings-page",
		Status:      models.ProjectStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateProjectIfAbsent(context.Background(), project))

	job, err := f.service.Start(context.Background(), project)
	require.NoError(t, err)

	failed := waitJobStatus(t, f.store, job.ID, models.JobStatusFailed)
	waitClosed(t, f.bus, job.ID, models.CloseError)

	assert.Equal(t, models.StepValidateURL, failed.FailedStep)
	assert.False(t, failed.CanResume)
}

func TestProductionRejectsLoopbackSourceURL(t *testing.T) {
	f := newFixture(t)
	f.config.Environment = "production"
	project := &models.Project{
		ID:          common.NewID(),
		CompanyName: "TEST CO",
		SourceURL:   "https://localhost:8443/stock-share-price/test-co/500001/TESTCO/financials-annual-reports/",
		Status:      models.ProjectStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateProjectIfAbsent(context.Background(), project))

	job, err := f.service.Start(context.Background(), project)
	require.NoError(t, err)

	failed := waitJobStatus(t, f.store, job.ID, models.JobStatusFailed)
	assert.Equal(t, models.StepValidateURL, failed.FailedStep)
	assert.False(t, failed.CanResume)
	assert.Contains(t, failed.ErrorMessage, "test URLs are not accepted")
}

func TestResumeWithoutJobStartsFresh(t *testing.T) {
	f := newFixture(t)
	project := f.seedProject(t)

	job, err := f.service.Resume(context.Background(), project.ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Zero(t, job.RetryCount)

	waitJobStatus(t, f.store, job.ID, models.JobStatusCompleted)
}

func TestResumeRejectsCompletedProject(t *testing.T) {
	f := newFixture(t)
	project := f.seedProject(t)

	job, err := f.service.Start(context.Background(), project)
	require.NoError(t, err)
	waitJobStatus(t, f.store, job.ID, models.JobStatusCompleted)

	_, err = f.service.Resume(context.Background(), project.ID)
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindValidation))
	assert.Contains(t, err.Error(), "already completed")
}

func TestResumeRejectsPendingJob(t *testing.T) {
	f := newFixture(t)
	project := f.seedProject(t)
	f.store.putJob(models.NewJob(project.ID))

	_, err := f.service.Resume(context.Background(), project.ID)
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindValidation))
	assert.Contains(t, err.Error(), "already active")
}

func TestResumePastAdvisoryCeilingStillRuns(t *testing.T) {
	f := newFixture(t)
	project := f.seedProject(t)

	job := models.NewJob(project.ID)
	job.MarkRunning()
	for _, step := range models.Steps()[:models.TotalSteps-1] {
		job.BeginStep(step)
		job.CompleteStep(step)
	}
	job.BeginStep(models.StepGenerateSnapshot)
	job.MarkFailed(models.StepGenerateSnapshot, "snapshot write timed out", true)
	job.RetryCount = 3
	f.store.putJob(job)

	resumed, err := f.service.Resume(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, resumed.RetryCount)
	assert.True(t, resumed.RetriesExhausted())

	waitJobStatus(t, f.store, job.ID, models.JobStatusCompleted)
	assert.True(t, f.bus.hasEvent(job.ID, models.EventDetail, "advisory limit"))
}
