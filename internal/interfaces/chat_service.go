package interfaces

import "context"

// RetrievalService answers a chat question over the selected projects,
// streaming events through sink in the order status*, context, start,
// chunk+, done. The user and assistant messages are persisted as part of the
// call; cancelling ctx (client disconnect) aborts generation and skips
// persisting the assistant message.
type RetrievalService interface {
	Answer(ctx context.Context, chatID, content string, projectIDs []string, sink EventSink) error
}
