// Package jobs drives remote inference work through an explicit
// submit/poll/cancel lifecycle, one active job per capability per session.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPollInterval = time.Second
	defaultTimeout      = 60 * time.Second
)

// Orchestrator owns the active job handles of one session. Submitting a new
// request for a capability supersedes (cancels) the previous handle for that
// capability. The poll loops run on their own goroutines and never block the
// session's audio path.
type Orchestrator struct {
	runners      map[Capability]Runner
	pollInterval time.Duration
	timeout      time.Duration
	logger       *zap.Logger

	mu     sync.Mutex
	active map[Capability]*Handle
}

// NewOrchestrator creates an orchestrator over per-capability runners.
// pollInterval and timeout fall back to the reference defaults when zero.
func NewOrchestrator(runners map[Capability]Runner, pollInterval, timeout time.Duration, logger *zap.Logger) *Orchestrator {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Orchestrator{
		runners:      runners,
		pollInterval: pollInterval,
		timeout:      timeout,
		logger:       logger,
		active:       make(map[Capability]*Handle),
	}
}

// Submit starts a job for the request's capability and returns its handle.
// Any still-active handle for the same capability is cancelled first. The
// job context carries the timeout as a deadline, so a backend that blocks
// past it is abandoned and the handle reports TIMED_OUT even when the
// backend never returns.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Handle, error) {
	runner, ok := o.runners[req.Capability]
	if !ok {
		return nil, fmt.Errorf("no runner for capability %q", req.Capability)
	}

	jobCtx, cancel := context.WithTimeout(ctx, o.timeout)
	handle := newHandle(req.Capability, cancel)

	o.mu.Lock()
	if prev, ok := o.active[req.Capability]; ok && !prev.State().Terminal() {
		prev.Cancel()
		o.logger.Debug("Superseded active job",
			zap.String("capability", string(req.Capability)),
			zap.String("jobID", prev.ID))
	}
	o.active[req.Capability] = handle
	o.mu.Unlock()

	go func() {
		defer cancel()
		o.run(jobCtx, runner, req, handle)
	}()
	return handle, nil
}

// Track registers a locally driven job, such as a streaming synthesis, so
// it participates in per-capability supersession and cancellation like a
// polled job. The caller drives it to completion via Finish or Fail; the
// returned context is cancelled when the handle is.
func (o *Orchestrator) Track(ctx context.Context, capability Capability) (*Handle, context.Context) {
	jobCtx, cancel := context.WithTimeout(ctx, o.timeout)
	handle := newHandle(capability, cancel)
	handle.toRunning()

	o.mu.Lock()
	if prev, ok := o.active[capability]; ok && !prev.State().Terminal() {
		prev.Cancel()
	}
	o.active[capability] = handle
	o.mu.Unlock()

	go func() {
		defer cancel()
		select {
		case <-handle.Done():
		case <-jobCtx.Done():
			// Tracked jobs honor the same timeout as polled jobs.
			if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
				if handle.failTo(StateTimedOut, &TimeoutError{Capability: capability, Elapsed: o.timeout}) {
					o.logger.Warn("Tracked job timed out",
						zap.String("capability", string(capability)),
						zap.String("jobID", handle.ID))
				}
			}
			<-handle.Done()
		}
		o.clear(capability, handle)
	}()
	return handle, jobCtx
}

// Active returns the current handle for a capability, or nil.
func (o *Orchestrator) Active(capability Capability) *Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[capability]
}

// Cancel cancels the active handle for a capability, if any. Returns true
// when a non-terminal handle was cancelled.
func (o *Orchestrator) Cancel(capability Capability) bool {
	o.mu.Lock()
	handle := o.active[capability]
	o.mu.Unlock()

	if handle == nil {
		return false
	}
	if handle.Cancel() {
		o.logger.Debug("Job cancelled",
			zap.String("capability", string(capability)),
			zap.String("jobID", handle.ID))
		return true
	}
	return false
}

// CancelAll cancels every active handle. Used on session teardown; it never
// blocks on in-flight remote calls.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	handles := make([]*Handle, 0, len(o.active))
	for _, h := range o.active {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// run drives one handle from submission to a terminal state.
func (o *Orchestrator) run(ctx context.Context, runner Runner, req Request, h *Handle) {
	defer o.clear(req.Capability, h)

	sub, err := runner.Submit(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Cancelled mid-submit; the handle is already terminal.
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// A synchronous backend blocked past the job timeout.
			if h.failTo(StateTimedOut, &TimeoutError{Capability: req.Capability, Elapsed: o.timeout}) {
				o.logger.Warn("Job timed out in submit",
					zap.String("capability", string(req.Capability)),
					zap.String("jobID", h.ID))
			}
			return
		}
		if h.failTo(StateFailed, &FailureError{Capability: req.Capability, Err: err}) {
			o.logger.Warn("Job submission failed",
				zap.String("capability", string(req.Capability)),
				zap.Error(err))
		}
		return
	}

	if sub.Done {
		h.complete(sub.Result)
		return
	}

	h.setRemoteID(sub.JobID)
	h.toRunning()
	o.poll(ctx, runner, req.Capability, h)
}

// poll checks remote status at a fixed interval until the job reaches a
// terminal state or the context deadline passes. A timed-out or cancelled
// handle's eventual remote completion is dropped, never applied.
func (o *Orchestrator) poll(ctx context.Context, runner Runner, capability Capability, h *Handle) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				if h.failTo(StateTimedOut, &TimeoutError{Capability: capability, Elapsed: o.timeout}) {
					o.logger.Warn("Job timed out",
						zap.String("capability", string(capability)),
						zap.String("remoteID", h.RemoteID()))
				}
			}
			// Best effort to stop the remote side.
			o.cancelRemote(runner, capability, h.RemoteID())
			return
		case <-ticker.C:
		}

		status, err := runner.Status(ctx, capability, h.RemoteID())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			// Transient poll failures are retried until the deadline.
			o.logger.Debug("Status check failed",
				zap.String("capability", string(capability)),
				zap.Error(err))
			continue
		}

		switch status.State {
		case StateCompleted:
			h.complete(status.Result)
			return
		case StateFailed:
			h.failTo(StateFailed, &FailureError{
				Capability: capability,
				Err:        errors.New(status.Err),
			})
			return
		case StateCancelled:
			h.Cancel()
			return
		case StateTimedOut:
			h.failTo(StateTimedOut, &TimeoutError{Capability: capability, Elapsed: time.Since(h.SubmittedAt)})
			return
		default:
			// QUEUED or RUNNING, keep polling.
		}
	}
}

func (o *Orchestrator) cancelRemote(runner Runner, capability Capability, jobID string) {
	if jobID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := runner.Cancel(ctx, capability, jobID); err != nil {
		o.logger.Debug("Remote cancel failed",
			zap.String("capability", string(capability)),
			zap.String("remoteID", jobID),
			zap.Error(err))
	}
}

func (o *Orchestrator) clear(capability Capability, h *Handle) {
	o.mu.Lock()
	if o.active[capability] == h {
		delete(o.active, capability)
	}
	o.mu.Unlock()
}
