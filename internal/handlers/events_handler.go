// -----------------------------------------------------------------------
// Events Handler - SSE progress streams for project jobs
// -----------------------------------------------------------------------

package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// EventsHandler streams job progress events to clients over SSE.
type EventsHandler struct {
	config *common.Config
	store  interfaces.StorageManager
	bus    interfaces.ProgressBus
	logger arbor.ILogger
}

func NewEventsHandler(config *common.Config, store interfaces.StorageManager, bus interfaces.ProgressBus, logger arbor.ILogger) *EventsHandler {
	return &EventsHandler{
		config: config,
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

// ProgressStreamHandler streams the latest job's events for a project.
// The stream opens with a connected event, relays bus events as data:
// frames, sends keep-alive comments while idle, and ends when the bus
// closes the topic or the client disconnects.
// GET /api/projects/{id}/progress-stream
func (h *EventsHandler) ProgressStreamHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	projectID := ResourceID(r)
	if projectID == "" {
		WriteError(w, http.StatusBadRequest, "project ID is required")
		return
	}

	job, err := h.store.Jobs().GetLatestJob(r.Context(), projectID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	setSSEHeaders(w)
	// Flush headers immediately so EventSource.onopen fires before the
	// first event arrives.
	flusher.Flush()

	events, unsubscribe := h.bus.Subscribe(job.ID)
	defer unsubscribe()

	h.logger.Debug().
		Str("project_id", projectID).
		Str("job_id", job.ID).
		Msg("Progress stream opened")

	keepAlive := time.NewTicker(h.config.Pipeline.KeepAliveInterval())
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, flusher, event); err != nil {
				h.logger.Debug().Err(err).Str("job_id", job.ID).Msg("Progress stream write failed")
				return
			}

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// setSSEHeaders applies the standard event-stream headers. X-Accel-Buffering
// stops nginx from batching frames.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSE renders one event as a data: frame and flushes it.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event models.ProgressEvent) error {
	data, err := event.Encode()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
