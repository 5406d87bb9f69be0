package jobs

import (
	"context"
	"fmt"

	"github.com/satriahrh/wicara/server/domain/entities"
)

// Request carries the payload for one capability invocation. Only the
// fields relevant to the capability are set.
type Request struct {
	Capability Capability

	// Transcribe.
	Audio    []byte
	Language string

	// Generate.
	Messages    []entities.Message
	Temperature float32
	MaxTokens   int

	// Synthesize.
	Text   string
	Voice  string
	Format string
	Speed  int
}

// Submission is the outcome of submitting a request. Synchronous backends
// finish in Submit and set Done with the result; asynchronous backends
// return a job id to poll.
type Submission struct {
	JobID  string
	Result []byte
	Done   bool
}

// Status is a point-in-time view of a remote job.
type Status struct {
	State  State
	Result []byte
	Err    string
}

// Runner is implemented by remote capability backends. The orchestrator
// drives synchronous and asynchronous backends through the same interface,
// so neither path duplicates lifecycle logic.
type Runner interface {
	Submit(ctx context.Context, req Request) (Submission, error)
	Status(ctx context.Context, capability Capability, jobID string) (Status, error)
	Cancel(ctx context.Context, capability Capability, jobID string) error
}

// SyncFunc executes a request to completion in one call.
type SyncFunc func(ctx context.Context, req Request) ([]byte, error)

type syncRunner struct {
	fn SyncFunc
}

// NewSyncRunner adapts a synchronous capability call into a Runner. Submit
// blocks for the duration of the call and reports Done.
func NewSyncRunner(fn SyncFunc) Runner {
	return &syncRunner{fn: fn}
}

func (r *syncRunner) Submit(ctx context.Context, req Request) (Submission, error) {
	result, err := r.fn(ctx, req)
	if err != nil {
		return Submission{}, err
	}
	return Submission{Result: result, Done: true}, nil
}

func (r *syncRunner) Status(ctx context.Context, capability Capability, jobID string) (Status, error) {
	return Status{}, fmt.Errorf("synchronous %s backend has no job %q", capability, jobID)
}

func (r *syncRunner) Cancel(ctx context.Context, capability Capability, jobID string) error {
	return nil
}
