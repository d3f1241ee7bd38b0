package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/progress"
)

// syncRecorder is a goroutine-safe ResponseWriter for handlers that keep
// streaming while the test observes the body.
type syncRecorder struct {
	mu     sync.Mutex
	header http.Header
	body   bytes.Buffer
	status int
}

func newSyncRecorder() *syncRecorder {
	return &syncRecorder{header: http.Header{}, status: http.StatusOK}
}

func (r *syncRecorder) Header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.Write(p)
}

func (r *syncRecorder) WriteHeader(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
}

func (r *syncRecorder) Flush() {}

func (r *syncRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.String()
}

func (r *syncRecorder) contentType() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.Get("Content-Type")
}

type eventsFixture struct {
	*handlerFixture
	bus     interfaces.ProgressBus
	handler *EventsHandler
}

func newEventsFixture(t *testing.T) *eventsFixture {
	t.Helper()
	base := newHandlerFixture(t)
	logger := arbor.NewLogger()
	bus := progress.NewBus(logger, func(jobID string) (*models.Job, error) {
		return base.store.GetJob(context.Background(), jobID)
	}, base.config.Pipeline.SubscriberBuffer)

	return &eventsFixture{
		handlerFixture: base,
		bus:            bus,
		handler:        NewEventsHandler(base.config, base.store, bus, logger),
	}
}

// streamRequest runs the handler on its own goroutine and returns the
// recorder plus a cancel for the request context and a done channel.
func (f *eventsFixture) streamRequest(t *testing.T, projectID string) (*syncRecorder, context.CancelFunc, chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/projects/"+projectID+"/progress-stream", nil).WithContext(ctx)
	rec := newSyncRecorder()
	done := make(chan struct{})
	go func() {
		f.handler.ProgressStreamHandler(rec, req)
		close(done)
	}()
	return rec, cancel, done
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("progress stream handler did not return")
	}
}

func TestProgressStreamRelaysJobEvents(t *testing.T) {
	f := newEventsFixture(t)
	project := f.seedProject(t, "TATA MOTORS LTD", models.ProjectStatusProcessing)
	job := f.seedJob(t, project.ID, models.JobStatusRunning)

	rec, cancel, done := f.streamRequest(t, project.ID)
	defer cancel()

	// The synthetic connected event confirms the subscription is live.
	require.Eventually(t, func() bool {
		return strings.Contains(rec.String(), `"connected"`)
	}, 2*time.Second, 5*time.Millisecond)

	f.bus.Publish(job.ID, models.ProgressOfStep(models.StepDownloadPDFs, 2, "Downloaded 2/3 PDFs"))
	f.bus.Publish(job.ID, models.StatusEvent(models.StepUploadToCloud, 3, "Uploading PDFs"))
	f.bus.Close(job.ID, models.CloseCompleted)

	waitDone(t, done)

	assert.Equal(t, "text/event-stream", rec.contentType())
	frames := parseSSEFrames(t, rec.String())
	require.Len(t, frames, 4)
	assert.Equal(t, models.EventConnected, frames[0].Type)
	assert.Equal(t, job.ID, frames[0].JobID)
	assert.Equal(t, models.EventProgress, frames[1].Type)
	assert.Equal(t, "Downloaded 2/3 PDFs", frames[1].Message)
	assert.Equal(t, models.EventStatus, frames[2].Type)
	assert.Equal(t, models.EventStreamEnd, frames[3].Type)
	assert.Equal(t, models.CloseCompleted, frames[3].Reason)
}

func TestProgressStreamFinishedJobEndsImmediately(t *testing.T) {
	f := newEventsFixture(t)
	project := f.seedProject(t, "TATA MOTORS LTD", models.ProjectStatusCompleted)
	job := f.seedJob(t, project.ID, models.JobStatusCompleted)

	rec, cancel, done := f.streamRequest(t, project.ID)
	defer cancel()

	waitDone(t, done)

	frames := parseSSEFrames(t, rec.String())
	require.Len(t, frames, 2)
	assert.Equal(t, models.EventConnected, frames[0].Type)
	require.NotNil(t, frames[0].AlreadyFinished)
	assert.True(t, *frames[0].AlreadyFinished)
	assert.Equal(t, job.ID, frames[0].JobID)
	assert.Equal(t, models.EventStreamEnd, frames[1].Type)
}

func TestProgressStreamUnknownProjectIs404(t *testing.T) {
	f := newEventsFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/missing/progress-stream", nil)
	rec := httptest.NewRecorder()
	f.handler.ProgressStreamHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestProgressStreamClientDisconnectReturns(t *testing.T) {
	f := newEventsFixture(t)
	project := f.seedProject(t, "TATA MOTORS LTD", models.ProjectStatusProcessing)
	f.seedJob(t, project.ID, models.JobStatusRunning)

	rec, cancel, done := f.streamRequest(t, project.ID)

	require.Eventually(t, func() bool {
		return strings.Contains(rec.String(), `"connected"`)
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	waitDone(t, done)
}

func TestProgressStreamSendsKeepAlives(t *testing.T) {
	f := newEventsFixture(t)
	f.config.Pipeline.KeepAlive = "20ms"
	project := f.seedProject(t, "TATA MOTORS LTD", models.ProjectStatusProcessing)
	f.seedJob(t, project.ID, models.JobStatusRunning)

	rec, cancel, done := f.streamRequest(t, project.ID)

	require.Eventually(t, func() bool {
		return strings.Contains(rec.String(), ": keep-alive")
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	waitDone(t, done)
}
