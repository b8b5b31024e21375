package domain

import (
	"sort"
	"strings"
	"time"
)

// DueDateLayout is the only accepted due date format.
const DueDateLayout = "2006-01-02"

// DefaultCategory is assigned to tasks created without a category.
const DefaultCategory = "General"

// Priority is the urgency level of a task.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Rank maps a priority onto its sort position. Unknown values rank with Medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// ParsePriority matches raw against the known priorities ignoring case.
func ParsePriority(raw string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high":
		return PriorityHigh, true
	case "medium":
		return PriorityMedium, true
	case "low":
		return PriorityLow, true
	}
	return "", false
}

// Task is a single to-do item.
type Task struct {
	ID          int64    `json:"id"`
	OwnerID     string   `json:"user_id,omitempty"`
	Description string   `json:"task"`
	DueDate     string   `json:"due_date"`
	Priority    Priority `json:"priority"`
	Category    string   `json:"category"`
	Completed   bool     `json:"completed"`
}

// NewTask carries the caller supplied fields for Add.
type NewTask struct {
	OwnerID     string
	Description string
	DueDate     string
	Priority    string
	Category    string
}

// TaskChanges is a partial update. Nil fields are left untouched.
type TaskChanges struct {
	Description *string
	DueDate     *string
	Priority    *string
	Category    *string
}

// Empty reports whether no field was supplied.
func (c TaskChanges) Empty() bool {
	return c.Description == nil && c.DueDate == nil && c.Priority == nil && c.Category == nil
}

func validDueDate(s string) bool {
	if len(s) != len(DueDateLayout) {
		return false
	}
	_, err := time.Parse(DueDateLayout, s)
	return err == nil
}

// SortTasks orders tasks in place: pending before completed, then by priority
// rank, then by due date, then by ID. Undated tasks go after dated ones rather
// than first as a plain string comparison would place them.
func SortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return taskLess(tasks[i], tasks[j])
	})
}

func taskLess(a, b Task) bool {
	if a.Completed != b.Completed {
		return !a.Completed
	}
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra < rb
	}
	if a.DueDate != b.DueDate {
		switch {
		case a.DueDate == "":
			return false
		case b.DueDate == "":
			return true
		}
		return a.DueDate < b.DueDate
	}
	return a.ID < b.ID
}
