// Package events publishes import and merge domain events.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeImportRunCompleted = "import_run.completed"
	TypeImportRowResolved  = "import_row.resolved"
	TypeLeadMerged         = "lead.merged"
)

// Event is the envelope written to the bus.
type Event struct {
	Type        string         `json:"event_type"`
	WorkspaceID uuid.UUID      `json:"workspace_id"`
	SubjectID   uuid.UUID      `json:"subject_id"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Publisher delivers events. Callers publish after commit and treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

func (Noop) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}
