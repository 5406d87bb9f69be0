package session

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/wicara/server/internal/jobs"
)

func newTestRegistry() *Registry {
	factory := func(id string, events Events) *Session {
		orch := jobs.NewOrchestrator(map[jobs.Capability]jobs.Runner{}, 10*time.Millisecond, time.Second, zap.NewNop())
		return New(id, Config{}, orch, nil, events, zap.NewNop())
	}
	return NewRegistry(factory, zap.NewNop())
}

func TestRegistryLifecycle(t *testing.T) {
	r := newTestRegistry()

	s, err := r.Create("abc", &fakeEvents{})
	if err != nil {
		t.Fatalf("Expected create to succeed, got error: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 session, got %d", r.Len())
	}

	got, err := r.Get("abc")
	if err != nil {
		t.Fatalf("Expected get to succeed, got error: %v", err)
	}
	if got != s {
		t.Errorf("Expected the same session instance back")
	}

	if err := r.End("abc"); err != nil {
		t.Fatalf("Expected end to succeed, got error: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Expected 0 sessions after end, got %d", r.Len())
	}
}

func TestRegistryUnknownSession(t *testing.T) {
	r := newTestRegistry()

	if _, err := r.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound from get, got %v", err)
	}
	// Ending an unknown session is an error, never a silent no-op.
	if err := r.End("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound from end, got %v", err)
	}
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	r := newTestRegistry()

	if _, err := r.Create("dup", &fakeEvents{}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create("dup", &fakeEvents{}); err == nil {
		t.Errorf("Expected duplicate create to fail")
	}
}

func TestRegistryShutdown(t *testing.T) {
	r := newTestRegistry()

	s1, _ := r.Create("one", &fakeEvents{})
	s2, _ := r.Create("two", &fakeEvents{})

	r.Shutdown()
	if r.Len() != 0 {
		t.Errorf("Expected empty registry after shutdown, got %d", r.Len())
	}

	if err := s1.HandleFrame(loudFrame()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected first session closed, got %v", err)
	}
	if err := s2.HandleFrame(loudFrame()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected second session closed, got %v", err)
	}
}
