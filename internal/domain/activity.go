package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task is a follow-up item attached to a lead.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	LeadID      uuid.UUID  `json:"lead_id"`
	Title       string     `json:"title"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Done        bool       `json:"done"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewTask creates an open task for a lead.
func NewTask(workspaceID, leadID uuid.UUID, title string, dueAt *time.Time) Task {
	now := time.Now().UTC()
	return Task{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		LeadID:      leadID,
		Title:       title,
		DueAt:       dueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TouchpointKind classifies a touchpoint.
type TouchpointKind string

const (
	TouchpointNote  TouchpointKind = "NOTE"
	TouchpointCall  TouchpointKind = "CALL"
	TouchpointEmail TouchpointKind = "EMAIL"
)

// Touchpoint records an interaction or note on a lead.
type Touchpoint struct {
	ID          uuid.UUID      `json:"id"`
	WorkspaceID uuid.UUID      `json:"workspace_id"`
	LeadID      uuid.UUID      `json:"lead_id"`
	Kind        TouchpointKind `json:"kind"`
	Body        string         `json:"body"`
	CreatedBy   uuid.UUID      `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewTouchpoint creates a touchpoint on a lead.
func NewTouchpoint(workspaceID, leadID uuid.UUID, kind TouchpointKind, body string, createdBy uuid.UUID) Touchpoint {
	return Touchpoint{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		LeadID:      leadID,
		Kind:        kind,
		Body:        body,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}
}
