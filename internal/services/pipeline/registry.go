package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
)

// runHandle tracks one in-flight job run. cancelled distinguishes a durable
// cancel from a shutdown: both abort the run context, but only a cancel may
// touch the job row afterwards.
type runHandle struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
}

// runRegistry maps job ids to live run handles so the cancel endpoint can
// reach into a run executing on another goroutine.
type runRegistry struct {
	mu   sync.Mutex
	runs map[string]*runHandle
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*runHandle)}
}

func (r *runRegistry) register(jobID string, cancel context.CancelFunc) *runHandle {
	handle := &runHandle{cancel: cancel, done: make(chan struct{})}
	r.mu.Lock()
	r.runs[jobID] = handle
	r.mu.Unlock()
	return handle
}

func (r *runRegistry) remove(jobID string) {
	r.mu.Lock()
	delete(r.runs, jobID)
	r.mu.Unlock()
}

// signalCancel flags the run as cancelled and aborts its context. Returns
// false when no run is live in this process (pending job, or a worker that
// died before restart); the row is already cancelled durably in that case.
func (r *runRegistry) signalCancel(jobID string) bool {
	r.mu.Lock()
	handle, ok := r.runs[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	handle.cancelled.Store(true)
	handle.cancel()
	return true
}

// abortAll cancels every live run context without marking them cancelled.
// Shutdown leaves job rows running; the staleness path recovers them on the
// next resume.
func (r *runRegistry) abortAll() []*runHandle {
	r.mu.Lock()
	handles := make([]*runHandle, 0, len(r.runs))
	for _, handle := range r.runs {
		handles = append(handles, handle)
	}
	r.mu.Unlock()
	for _, handle := range handles {
		handle.cancel()
	}
	return handles
}
