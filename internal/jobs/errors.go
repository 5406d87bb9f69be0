package jobs

import (
	"fmt"
	"time"
)

// FailureError is surfaced when a remote capability reports failure. The
// conversation history is left untouched and nothing is retried here; retry
// policy belongs to the caller.
type FailureError struct {
	Capability Capability
	Err        error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%s failed: %v", failureVerb(e.Capability), e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

func failureVerb(c Capability) string {
	switch c {
	case CapabilityTranscribe:
		return "transcription"
	case CapabilityGenerate:
		return "generation"
	case CapabilitySynthesize:
		return "synthesis"
	}
	return string(c)
}

// TimeoutError is surfaced exactly once when a job exceeds its poll
// deadline; the handle transitions to TIMED_OUT at the same moment.
type TimeoutError struct {
	Capability Capability
	Elapsed    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s job timed out after %s", failureVerb(e.Capability), e.Elapsed)
}
