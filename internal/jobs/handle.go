package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Capability names one of the remote inference operations.
type Capability string

const (
	CapabilityTranscribe Capability = "transcribe"
	CapabilityGenerate   Capability = "generate"
	CapabilitySynthesize Capability = "synthesize"
)

// State is the lifecycle state of a job handle.
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
	StateTimedOut  State = "TIMED_OUT"
)

// Terminal reports whether no further transitions are possible. A terminal
// handle can never be resurrected by a late poll result.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// ErrCancelled is returned by Wait on a cancelled handle. Cancellation is
// not a failure; callers drop the chain without surfacing an error event.
var ErrCancelled = errors.New("job cancelled")

// Handle tracks one submitted job through its lifecycle. A session holds at
// most one active handle per capability.
type Handle struct {
	ID          string
	Capability  Capability
	SubmittedAt time.Time

	mu       sync.Mutex
	remoteID string
	state    State
	result   []byte
	err      error

	done   chan struct{}
	cancel context.CancelFunc
}

func newHandle(capability Capability, cancel context.CancelFunc) *Handle {
	return &Handle{
		ID:          uuid.NewString(),
		Capability:  capability,
		SubmittedAt: time.Now(),
		state:       StateQueued,
		done:        make(chan struct{}),
		cancel:      cancel,
	}
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// RemoteID returns the backend job id, empty for synchronous backends.
func (h *Handle) RemoteID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remoteID
}

// Done is closed once the handle reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle resolves or ctx is cancelled, then returns
// the result payload or the terminal error.
func (h *Handle) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// Cancel moves the handle to CANCELLED and suppresses any pending
// resolution from the poll goroutine. It is a no-op on a terminal handle.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	if h.state.Terminal() {
		h.mu.Unlock()
		return false
	}
	h.state = StateCancelled
	h.err = ErrCancelled
	close(h.done)
	cancel := h.cancel
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// Finish resolves a locally driven (tracked) handle with a result. Returns
// false if the handle already reached a terminal state.
func (h *Handle) Finish(result []byte) bool {
	return h.complete(result)
}

// Fail resolves a locally driven (tracked) handle with a failure.
func (h *Handle) Fail(err error) bool {
	return h.failTo(StateFailed, err)
}

func (h *Handle) setRemoteID(id string) {
	h.mu.Lock()
	h.remoteID = id
	h.mu.Unlock()
}

func (h *Handle) toRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateQueued {
		return false
	}
	h.state = StateRunning
	return true
}

// complete resolves the handle with a result. Returns false if the handle
// already reached a terminal state, in which case the result is dropped.
func (h *Handle) complete(result []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return false
	}
	h.state = StateCompleted
	h.result = result
	close(h.done)
	return true
}

// failTo resolves the handle with a terminal error state.
func (h *Handle) failTo(state State, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return false
	}
	h.state = state
	h.err = err
	close(h.done)
	return true
}
