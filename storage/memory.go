package storage

import (
	"context"
	"sync"

	"github.com/sportscave1/task-manager/domain"
)

// Memory keeps tasks and users in process memory.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	tasks  map[int64]domain.Task
	users  map[string]domain.User
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks: make(map[int64]domain.Task),
		users: make(map[string]domain.User),
	}
}

func (m *Memory) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	m.tasks[t.ID] = t
	return t, nil
}

func (m *Memory) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// ListTasks returns tasks in ID order; ordering for display is applied by the
// domain layer.
func (m *Memory) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if ownerID != "" && t.OwnerID != ownerID {
			continue
		}
		out = append(out, t)
	}
	sortByID(out)
	return out, nil
}

func (m *Memory) UpdateTask(ctx context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return domain.NotFoundError{ID: t.ID}
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) DeleteTask(ctx context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, t.ID)
	return nil
}

func (m *Memory) InsertUser(ctx context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; ok {
		return domain.ConflictError{Username: u.Username}
	}
	m.users[u.Username] = u
	return nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error { return nil }
