package progress

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// JobLookup resolves current job state for the synthetic connected event.
type JobLookup func(jobID string) (*models.Job, error)

// subscriber owns one bounded delivery channel. Its mutex covers channel
// lifecycle and the lagged marker; sends are non-blocking so holding it
// never stalls other subscribers.
type subscriber struct {
	mu     sync.Mutex
	ch     chan models.ProgressEvent
	closed bool
	lagged bool
}

func (s *subscriber) deliver(event models.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if s.lagged {
		event.Lagged = true
	}
	select {
	case s.ch <- event:
		s.lagged = false
		return
	default:
	}

	// Buffer full: drop the oldest event to make room and flag the gap.
	select {
	case <-s.ch:
	default:
	}
	s.lagged = true
	event.Lagged = true
	select {
	case s.ch <- event:
		s.lagged = false
	default:
		// Reader raced the drop and the buffer is full again; the marker
		// stays set for the next delivery.
	}
}

// closeWith pushes the final frame (dropping the oldest event if the buffer
// is full) and closes the channel.
func (s *subscriber) closeWith(end models.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	select {
	case s.ch <- end:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- end:
		default:
		}
	}
	close(s.ch)
}

// closeQuiet closes the channel without a final frame. Used when the
// subscriber itself went away.
func (s *subscriber) closeQuiet() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

type topic struct {
	subs map[*subscriber]struct{}
}

// Bus is the in-process progress dispatcher: one topic per job, fan-out to
// bounded subscriber channels. The registry mutex is never held across a
// channel send.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic
	lookup JobLookup
	buffer int
	logger arbor.ILogger
}

// NewBus creates a Bus. lookup feeds the synthetic connected event; buffer
// is the per-subscriber channel capacity.
func NewBus(logger arbor.ILogger, lookup JobLookup, buffer int) interfaces.ProgressBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		topics: make(map[string]*topic),
		lookup: lookup,
		buffer: buffer,
		logger: logger,
	}
}

// Publish fans the event out to the job's current subscribers. No topic, no
// work: events published before anyone subscribes are not replayed.
func (b *Bus) Publish(jobID string, event models.ProgressEvent) {
	b.mu.Lock()
	t := b.topics[jobID]
	if t == nil {
		b.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(event)
	}
}

func (b *Bus) Subscribe(jobID string) (<-chan models.ProgressEvent, interfaces.Unsubscribe) {
	sub := &subscriber{ch: make(chan models.ProgressEvent, b.buffer)}

	job, err := b.lookup(jobID)
	if err != nil {
		b.logger.Warn().Err(err).Str("job_id", jobID).Msg("Job lookup failed on subscribe")
	}

	finished := job != nil && job.IsTerminal()
	message := "Connected to job progress stream"
	if finished {
		message = "Job already finished"
	}
	sub.deliver(models.ConnectedEvent(jobID, finished, message))

	// A finished job gets its closing frame immediately; there is nothing to
	// subscribe to.
	if finished {
		sub.closeWith(models.StreamEndEvent(reasonForStatus(job.Status)))
		return sub.ch, func() { sub.closeQuiet() }
	}

	b.mu.Lock()
	t := b.topics[jobID]
	if t == nil {
		t = &topic{subs: make(map[*subscriber]struct{})}
		b.topics[jobID] = t
	}
	t.subs[sub] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if t := b.topics[jobID]; t != nil {
			delete(t.subs, sub)
			if len(t.subs) == 0 {
				delete(b.topics, jobID)
			}
		}
		b.mu.Unlock()
		sub.closeQuiet()
	}
	return sub.ch, unsubscribe
}

// Close ends the job's stream for everyone: stream_end {reason}, channels
// closed, topic dropped. Closing an unknown or already-closed topic is a
// no-op.
func (b *Bus) Close(jobID string, reason models.CloseReason) {
	b.mu.Lock()
	t := b.topics[jobID]
	delete(b.topics, jobID)
	b.mu.Unlock()
	if t == nil {
		return
	}

	end := models.StreamEndEvent(reason)
	for s := range t.subs {
		s.closeWith(end)
	}
}

// CloseAll ends every stream with reason shutdown.
func (b *Bus) CloseAll() {
	b.mu.Lock()
	topics := b.topics
	b.topics = make(map[string]*topic)
	b.mu.Unlock()

	end := models.StreamEndEvent(models.CloseShutdown)
	for _, t := range topics {
		for s := range t.subs {
			s.closeWith(end)
		}
	}
}

func reasonForStatus(status models.JobStatus) models.CloseReason {
	switch status {
	case models.JobStatusCompleted:
		return models.CloseCompleted
	case models.JobStatusCancelled:
		return models.CloseCancelled
	default:
		return models.CloseError
	}
}
