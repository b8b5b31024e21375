package domain

import (
	"context"
	"encoding/json"
)

const (
	TaskCreated   = "task-created"
	TaskUpdated   = "task-updated"
	TaskCompleted = "task-completed"
	TaskReopened  = "task-reopened"
	TaskRemoved   = "task-removed"
)

// Event describes a change applied to a task.
type Event struct {
	ID         string          `json:"id"`
	EntityID   string          `json:"entityId"`
	EntityType string          `json:"entityType"`
	Type       string          `json:"type"`
	UserID     string          `json:"userId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  int64           `json:"time"`
}

// EventSink receives events after a mutation has been persisted.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}
