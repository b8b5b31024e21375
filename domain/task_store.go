package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TaskStorage is the persistence contract a TaskStore needs. GetTask returns
// nil, nil when the task does not exist.
type TaskStorage interface {
	InsertTask(ctx context.Context, t Task) (Task, error)
	GetTask(ctx context.Context, id int64) (*Task, error)
	ListTasks(ctx context.Context, ownerID string) ([]Task, error)
	UpdateTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, t Task) error
}

// TaskStore validates and orders tasks on top of a TaskStorage.
type TaskStore struct {
	st     TaskStorage
	sink   EventSink
	logger *log.Logger
	lastTS atomic.Int64
}

// NewTaskStore creates a TaskStore. sink may be nil.
func NewTaskStore(st TaskStorage, sink EventSink, logger *log.Logger) *TaskStore {
	if st == nil {
		panic("domain.NewTaskStore: storage is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &TaskStore{st: st, sink: sink, logger: logger}
}

// Add validates and normalizes nt and persists it as a new pending task.
func (s *TaskStore) Add(ctx context.Context, nt NewTask) (Task, error) {
	desc := strings.TrimSpace(nt.Description)
	if desc == "" {
		return Task{}, ValidationError{Field: "description", Reason: "must not be empty"}
	}
	due := strings.TrimSpace(nt.DueDate)
	if due != "" && !validDueDate(due) {
		return Task{}, ValidationError{Field: "due_date", Reason: "expected YYYY-MM-DD"}
	}
	prio, ok := ParsePriority(nt.Priority)
	if !ok {
		prio = PriorityMedium
	}
	cat := strings.TrimSpace(nt.Category)
	if cat == "" {
		cat = DefaultCategory
	}

	t, err := s.st.InsertTask(ctx, Task{
		OwnerID:     nt.OwnerID,
		Description: desc,
		DueDate:     due,
		Priority:    prio,
		Category:    cat,
	})
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	s.emit(ctx, TaskCreated, t)
	return t, nil
}

// List returns the tasks visible to ownerID in display order. An empty
// ownerID returns every task.
func (s *TaskStore) List(ctx context.Context, ownerID string) ([]Task, error) {
	tasks, err := s.st.ListTasks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []Task{}
	}
	SortTasks(tasks)
	return tasks, nil
}

// Get returns a single task after the ownership check.
func (s *TaskStore) Get(ctx context.Context, id int64, ownerID string) (Task, error) {
	t, err := s.load(ctx, id, ownerID)
	if err != nil {
		return Task{}, err
	}
	return *t, nil
}

// Edit applies the non-nil fields of ch. A blank description is rejected;
// blank due date, priority and category are ignored.
func (s *TaskStore) Edit(ctx context.Context, id int64, ownerID string, ch TaskChanges) (Task, error) {
	t, err := s.load(ctx, id, ownerID)
	if err != nil {
		return Task{}, err
	}
	if ch.Empty() {
		return *t, nil
	}

	upd := *t
	if ch.Description != nil {
		desc := strings.TrimSpace(*ch.Description)
		if desc == "" {
			return Task{}, ValidationError{Field: "description", Reason: "must not be empty"}
		}
		upd.Description = desc
	}
	if ch.DueDate != nil {
		if due := strings.TrimSpace(*ch.DueDate); due != "" {
			if !validDueDate(due) {
				return Task{}, ValidationError{Field: "due_date", Reason: "expected YYYY-MM-DD"}
			}
			upd.DueDate = due
		}
	}
	if ch.Priority != nil && strings.TrimSpace(*ch.Priority) != "" {
		prio, ok := ParsePriority(*ch.Priority)
		if !ok {
			return Task{}, ValidationError{Field: "priority", Reason: "must be High, Medium or Low"}
		}
		upd.Priority = prio
	}
	if ch.Category != nil {
		if cat := strings.TrimSpace(*ch.Category); cat != "" {
			upd.Category = cat
		}
	}

	if upd == *t {
		return upd, nil
	}
	if err := s.st.UpdateTask(ctx, upd); err != nil {
		return Task{}, fmt.Errorf("update task %d: %w", id, err)
	}
	s.emit(ctx, TaskUpdated, upd)
	return upd, nil
}

// Remove permanently deletes the task.
func (s *TaskStore) Remove(ctx context.Context, id int64, ownerID string) error {
	t, err := s.load(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if err := s.st.DeleteTask(ctx, *t); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	s.emit(ctx, TaskRemoved, *t)
	return nil
}

// ToggleComplete flips the completed flag and returns the new value.
func (s *TaskStore) ToggleComplete(ctx context.Context, id int64, ownerID string) (bool, error) {
	t, err := s.load(ctx, id, ownerID)
	if err != nil {
		return false, err
	}
	t.Completed = !t.Completed
	if err := s.st.UpdateTask(ctx, *t); err != nil {
		return false, fmt.Errorf("update task %d: %w", id, err)
	}
	if t.Completed {
		s.emit(ctx, TaskCompleted, *t)
	} else {
		s.emit(ctx, TaskReopened, *t)
	}
	return t.Completed, nil
}

func (s *TaskStore) load(ctx context.Context, id int64, ownerID string) (*Task, error) {
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	if t == nil {
		return nil, NotFoundError{ID: id}
	}
	if ownerID != "" && t.OwnerID != ownerID {
		return nil, UnauthorizedError{ID: id}
	}
	return t, nil
}

func (s *TaskStore) emit(ctx context.Context, typ string, t Task) {
	if s.sink == nil {
		return
	}
	ev := Event{
		ID:         uuid.NewString(),
		EntityID:   strconv.FormatInt(t.ID, 10),
		EntityType: "task",
		Type:       typ,
		UserID:     t.OwnerID,
		Timestamp:  s.nextTimestamp(),
	}
	if typ != TaskRemoved {
		data, err := json.Marshal(t)
		if err != nil {
			s.logger.WithError(err).WithField("task", t.ID).Error("encode task event")
			return
		}
		ev.Data = data
	}
	if err := s.sink.Publish(ctx, ev); err != nil {
		s.logger.WithFields(log.Fields{"task": t.ID, "type": typ}).WithError(err).Warn("publish task event failed")
	}
}

// nextTimestamp returns a strictly increasing nanosecond timestamp so events
// keep their order even within the same clock tick.
func (s *TaskStore) nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := s.lastTS.Load()
		if now <= last {
			now = last + 1
		}
		if s.lastTS.CompareAndSwap(last, now) {
			return now
		}
	}
}
