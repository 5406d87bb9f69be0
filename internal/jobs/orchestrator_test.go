package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeRunner is a scriptable async backend.
type fakeRunner struct {
	mu        sync.Mutex
	submits   int
	cancelled []string

	submitErr error
	statusFn  func(jobID string) (Status, error)
}

func (f *fakeRunner) Submit(ctx context.Context, req Request) (Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return Submission{}, f.submitErr
	}
	f.submits++
	return Submission{JobID: fmt.Sprintf("job-%d", f.submits)}, nil
}

func (f *fakeRunner) Status(ctx context.Context, capability Capability, jobID string) (Status, error) {
	return f.statusFn(jobID)
}

func (f *fakeRunner) Cancel(ctx context.Context, capability Capability, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeRunner) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

func newTestOrchestrator(runner Runner, timeout time.Duration) *Orchestrator {
	runners := map[Capability]Runner{
		CapabilityTranscribe: runner,
		CapabilityGenerate:   runner,
		CapabilitySynthesize: runner,
	}
	return NewOrchestrator(runners, 10*time.Millisecond, timeout, zap.NewNop())
}

func TestAsyncJobCompletes(t *testing.T) {
	runner := &fakeRunner{
		statusFn: func(jobID string) (Status, error) {
			return Status{State: StateCompleted, Result: []byte("hello")}, nil
		},
	}
	o := newTestOrchestrator(runner, time.Second)

	handle, err := o.Submit(context.Background(), Request{Capability: CapabilityTranscribe, Audio: []byte{1}})
	if err != nil {
		t.Fatalf("Expected submit to succeed, got error: %v", err)
	}

	result, err := handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Expected completion, got error: %v", err)
	}
	if string(result) != "hello" {
		t.Errorf("Expected result %q, got %q", "hello", result)
	}
	if handle.State() != StateCompleted {
		t.Errorf("Expected state COMPLETED, got %s", handle.State())
	}
}

func TestAsyncJobFails(t *testing.T) {
	runner := &fakeRunner{
		statusFn: func(jobID string) (Status, error) {
			return Status{State: StateFailed, Err: "model exploded"}, nil
		},
	}
	o := newTestOrchestrator(runner, time.Second)

	handle, _ := o.Submit(context.Background(), Request{Capability: CapabilityGenerate})
	_, err := handle.Wait(context.Background())
	if err == nil {
		t.Fatal("Expected failure error, got nil")
	}

	var failure *FailureError
	if !errors.As(err, &failure) {
		t.Fatalf("Expected FailureError, got %T", err)
	}
	if failure.Capability != CapabilityGenerate {
		t.Errorf("Expected generate capability in error, got %s", failure.Capability)
	}
	if handle.State() != StateFailed {
		t.Errorf("Expected state FAILED, got %s", handle.State())
	}
}

func TestSyncRunnerCompletesInSubmit(t *testing.T) {
	runner := NewSyncRunner(func(ctx context.Context, req Request) ([]byte, error) {
		return []byte("transcript"), nil
	})
	o := newTestOrchestrator(runner, time.Second)

	handle, err := o.Submit(context.Background(), Request{Capability: CapabilityTranscribe})
	if err != nil {
		t.Fatalf("Expected submit to succeed, got error: %v", err)
	}

	result, err := handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Expected completion, got error: %v", err)
	}
	if string(result) != "transcript" {
		t.Errorf("Expected %q, got %q", "transcript", result)
	}
}

func TestJobTimesOutExactlyOnce(t *testing.T) {
	runner := &fakeRunner{
		statusFn: func(jobID string) (Status, error) {
			return Status{State: StateQueued}, nil
		},
	}
	o := newTestOrchestrator(runner, 50*time.Millisecond)

	handle, _ := o.Submit(context.Background(), Request{Capability: CapabilityTranscribe})
	_, err := handle.Wait(context.Background())

	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Expected TimeoutError, got %v", err)
	}
	if handle.State() != StateTimedOut {
		t.Errorf("Expected state TIMED_OUT, got %s", handle.State())
	}

	// The terminal state is sticky; nothing resurrects the handle later.
	time.Sleep(50 * time.Millisecond)
	if handle.State() != StateTimedOut {
		t.Errorf("Expected state to stay TIMED_OUT, got %s", handle.State())
	}
	if runner.cancelCount() == 0 {
		t.Errorf("Expected remote cancel after timeout")
	}
}

func TestHungSyncBackendTimesOut(t *testing.T) {
	runner := NewSyncRunner(func(ctx context.Context, req Request) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	o := newTestOrchestrator(runner, 50*time.Millisecond)

	handle, err := o.Submit(context.Background(), Request{Capability: CapabilityTranscribe})
	if err != nil {
		t.Fatalf("Expected submit to succeed, got error: %v", err)
	}

	_, err = handle.Wait(context.Background())
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Expected TimeoutError, got %v", err)
	}
	if timeout.Capability != CapabilityTranscribe {
		t.Errorf("Expected transcribe capability in error, got %s", timeout.Capability)
	}
	if handle.State() != StateTimedOut {
		t.Errorf("Expected state TIMED_OUT, got %s", handle.State())
	}
}

func TestTrackedJobTimesOut(t *testing.T) {
	o := newTestOrchestrator(&fakeRunner{}, 50*time.Millisecond)

	handle, streamCtx := o.Track(context.Background(), CapabilitySynthesize)

	select {
	case <-streamCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected stream context to expire")
	}

	_, err := handle.Wait(context.Background())
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Expected TimeoutError, got %v", err)
	}
	if handle.State() != StateTimedOut {
		t.Errorf("Expected state TIMED_OUT, got %s", handle.State())
	}
	if handle.Finish(nil) {
		t.Errorf("Expected Finish after timeout to be rejected")
	}
}

func TestCancelSuppressesLateResult(t *testing.T) {
	release := make(chan struct{})
	runner := &fakeRunner{
		statusFn: func(jobID string) (Status, error) {
			select {
			case <-release:
				return Status{State: StateCompleted, Result: []byte("late")}, nil
			default:
				return Status{State: StateRunning}, nil
			}
		},
	}
	o := newTestOrchestrator(runner, time.Second)

	handle, _ := o.Submit(context.Background(), Request{Capability: CapabilitySynthesize})

	if !handle.Cancel() {
		t.Fatal("Expected cancel of a running handle to succeed")
	}
	close(release)

	_, err := handle.Wait(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected ErrCancelled, got %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if handle.State() != StateCancelled {
		t.Errorf("Expected late completion to be dropped, state is %s", handle.State())
	}
}

func TestSubmitSupersedesActiveHandle(t *testing.T) {
	runner := &fakeRunner{
		statusFn: func(jobID string) (Status, error) {
			return Status{State: StateRunning}, nil
		},
	}
	o := newTestOrchestrator(runner, time.Second)

	first, _ := o.Submit(context.Background(), Request{Capability: CapabilityGenerate})
	second, _ := o.Submit(context.Background(), Request{Capability: CapabilityGenerate})

	if first.State() != StateCancelled {
		t.Errorf("Expected first handle cancelled on supersession, got %s", first.State())
	}
	if second.State().Terminal() {
		t.Errorf("Expected second handle to stay active, got %s", second.State())
	}
	if o.Active(CapabilityGenerate) != second {
		t.Errorf("Expected second handle to be the active one")
	}
}

func TestCancelledChainDoesNotAffectNext(t *testing.T) {
	var mu sync.Mutex
	done := map[string]bool{"job-2": true}
	runner := &fakeRunner{}
	runner.statusFn = func(jobID string) (Status, error) {
		mu.Lock()
		defer mu.Unlock()
		if done[jobID] {
			return Status{State: StateCompleted, Result: []byte(jobID)}, nil
		}
		return Status{State: StateRunning}, nil
	}
	o := newTestOrchestrator(runner, time.Second)

	first, _ := o.Submit(context.Background(), Request{Capability: CapabilityTranscribe})
	o.Cancel(CapabilityTranscribe)
	if first.State() != StateCancelled {
		t.Fatalf("Expected first handle cancelled, got %s", first.State())
	}

	second, _ := o.Submit(context.Background(), Request{Capability: CapabilityTranscribe})
	result, err := second.Wait(context.Background())
	if err != nil {
		t.Fatalf("Expected second chain to complete, got error: %v", err)
	}
	if string(result) != "job-2" {
		t.Errorf("Expected result %q, got %q", "job-2", result)
	}
}

func TestSubmitUnknownCapability(t *testing.T) {
	o := NewOrchestrator(map[Capability]Runner{}, 0, 0, zap.NewNop())
	if _, err := o.Submit(context.Background(), Request{Capability: CapabilityGenerate}); err == nil {
		t.Fatal("Expected error for missing runner, got nil")
	}
}

func TestTrackedJobParticipatesInCancellation(t *testing.T) {
	runner := &fakeRunner{
		statusFn: func(jobID string) (Status, error) {
			return Status{State: StateRunning}, nil
		},
	}
	o := newTestOrchestrator(runner, time.Second)

	handle, streamCtx := o.Track(context.Background(), CapabilitySynthesize)
	if handle.State() != StateRunning {
		t.Fatalf("Expected tracked handle RUNNING, got %s", handle.State())
	}

	if !o.Cancel(CapabilitySynthesize) {
		t.Fatal("Expected cancel to hit the tracked handle")
	}

	select {
	case <-streamCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected stream context cancellation")
	}

	if handle.Finish(nil) {
		t.Errorf("Expected Finish after cancel to be rejected")
	}
	if handle.State() != StateCancelled {
		t.Errorf("Expected state CANCELLED, got %s", handle.State())
	}
}

func TestCancelAll(t *testing.T) {
	runner := &fakeRunner{
		statusFn: func(jobID string) (Status, error) {
			return Status{State: StateRunning}, nil
		},
	}
	o := newTestOrchestrator(runner, time.Second)

	h1, _ := o.Submit(context.Background(), Request{Capability: CapabilityTranscribe})
	h2, _ := o.Submit(context.Background(), Request{Capability: CapabilityGenerate})

	o.CancelAll()

	if h1.State() != StateCancelled || h2.State() != StateCancelled {
		t.Errorf("Expected all handles cancelled, got %s and %s", h1.State(), h2.State())
	}
}
