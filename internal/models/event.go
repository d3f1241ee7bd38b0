// -----------------------------------------------------------------------
// Progress events - the wire vocabulary of every event stream
// -----------------------------------------------------------------------

package models

import "encoding/json"

// EventType discriminates event payloads on the wire.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStatus    EventType = "status"
	EventProgress  EventType = "progress"
	EventDetail    EventType = "detail"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
	EventStreamEnd EventType = "stream_end"

	// Chat-only events. Same framing, but delivered on a per-request channel
	// rather than through the job bus.
	EventContext EventType = "context"
	EventStart   EventType = "start"
	EventChunk   EventType = "chunk"
	EventDone    EventType = "done"
)

// CloseReason is carried by stream_end.
type CloseReason string

const (
	CloseCompleted        CloseReason = "completed"
	CloseError            CloseReason = "error"
	CloseCancelled        CloseReason = "cancelled"
	CloseClientDisconnect CloseReason = "client_disconnect"
	CloseShutdown         CloseReason = "shutdown"
)

// EventCounters are the per-job counters a detail event reports.
type EventCounters struct {
	DocumentsProcessed int `json:"documents_processed"`
	EmbeddingsCreated  int `json:"embeddings_created"`
}

// ProgressEvent is one event frame. Only the fields of the event's type are
// populated; the rest stay omitted from the compact JSON encoding. Lagged is
// set on the first event a subscriber receives after the bus dropped its
// oldest buffered event.
type ProgressEvent struct {
	Type            EventType      `json:"type"`
	JobID           string         `json:"job_id,omitempty"`
	AlreadyFinished *bool          `json:"already_finished,omitempty"`
	Step            Step           `json:"step,omitempty"`
	StepIndex       *int           `json:"step_index,omitempty"`
	TotalSteps      int            `json:"total_steps,omitempty"`
	Message         string         `json:"message,omitempty"`
	Counters        *EventCounters `json:"counters,omitempty"`
	Reason          CloseReason    `json:"reason,omitempty"`
	ChunksFound     *int           `json:"chunks_found,omitempty"`
	Content         string         `json:"content,omitempty"`
	MessageID       string         `json:"message_id,omitempty"`
	Lagged          bool           `json:"lagged,omitempty"`
}

// Encode renders the compact JSON body of a `data:` frame.
func (e ProgressEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// IsTerminal reports whether this event type ends a job stream.
func (e ProgressEvent) IsTerminal() bool {
	return e.Type == EventCompleted || e.Type == EventError || e.Type == EventCancelled
}

// ConnectedEvent is sent to each new subscriber with the job's persisted
// state at subscribe time.
func ConnectedEvent(jobID string, alreadyFinished bool, message string) ProgressEvent {
	return ProgressEvent{
		Type:            EventConnected,
		JobID:           jobID,
		AlreadyFinished: &alreadyFinished,
		Message:         message,
	}
}

// StatusEvent marks step entry.
func StatusEvent(step Step, stepIndex int, message string) ProgressEvent {
	return ProgressEvent{
		Type:       EventStatus,
		Step:       step,
		StepIndex:  &stepIndex,
		TotalSteps: TotalSteps,
		Message:    message,
	}
}

// ProgressOfStep reports finer-grained progress inside a step.
func ProgressOfStep(step Step, stepIndex int, message string) ProgressEvent {
	return ProgressEvent{
		Type:       EventProgress,
		Step:       step,
		StepIndex:  &stepIndex,
		TotalSteps: TotalSteps,
		Message:    message,
	}
}

// DetailEvent carries updated counters at step completion.
func DetailEvent(step Step, counters EventCounters, message string) ProgressEvent {
	return ProgressEvent{
		Type:     EventDetail,
		Step:     step,
		Counters: &counters,
		Message:  message,
	}
}

// CompletedEvent is the happy-path terminal event.
func CompletedEvent(message string) ProgressEvent {
	return ProgressEvent{Type: EventCompleted, Message: message}
}

// ErrorEvent is the failure terminal event.
func ErrorEvent(step Step, message string) ProgressEvent {
	return ProgressEvent{Type: EventError, Step: step, Message: message}
}

// CancelledEvent is the cancellation terminal event.
func CancelledEvent(message string) ProgressEvent {
	return ProgressEvent{Type: EventCancelled, Message: message}
}

// StreamEndEvent is the last frame on every stream.
func StreamEndEvent(reason CloseReason) ProgressEvent {
	return ProgressEvent{Type: EventStreamEnd, Reason: reason}
}

// ChatStatusEvent reports a retrieval phase on a chat stream. Chat statuses
// carry no step fields; steps belong to job streams.
func ChatStatusEvent(message string) ProgressEvent {
	return ProgressEvent{Type: EventStatus, Message: message}
}

// ContextEvent reports how many chunks retrieval found for a question.
func ContextEvent(chunksFound int) ProgressEvent {
	return ProgressEvent{Type: EventContext, ChunksFound: &chunksFound}
}

// StartEvent marks the beginning of streamed answer tokens.
func StartEvent() ProgressEvent {
	return ProgressEvent{Type: EventStart}
}

// ChunkEvent carries one streamed answer token.
func ChunkEvent(content string) ProgressEvent {
	return ProgressEvent{Type: EventChunk, Content: content}
}

// DoneEvent closes a chat stream with the persisted assistant message id.
func DoneEvent(messageID string) ProgressEvent {
	return ProgressEvent{Type: EventDone, MessageID: messageID}
}
