package interfaces

import "github.com/ternarybob/colligo/internal/models"

// EventSink receives progress events. The retrieval pipeline writes to a
// per-request sink; the executor writes through the ProgressBus.
type EventSink func(event models.ProgressEvent) error

// Unsubscribe tears down one subscriber. Safe to call more than once.
type Unsubscribe func()

// ProgressBus is the in-process per-job event dispatcher. Publishing never
// blocks on a slow subscriber: a full subscriber buffer drops its oldest
// event and flags the next delivery as lagged.
type ProgressBus interface {
	// Publish delivers the event to every current subscriber of the job.
	Publish(jobID string, event models.ProgressEvent)

	// Subscribe returns a receive-only event channel with a bounded buffer
	// plus its teardown handle. The new subscriber immediately receives a
	// synthetic connected event; if the job is already terminal it is
	// followed by stream_end and the channel closes.
	Subscribe(jobID string) (<-chan models.ProgressEvent, Unsubscribe)

	// Close emits stream_end {reason} to all subscribers of the job, closes
	// their channels and drops the topic. Idempotent.
	Close(jobID string, reason models.CloseReason)

	// CloseAll closes every topic with reason shutdown.
	CloseAll()
}
