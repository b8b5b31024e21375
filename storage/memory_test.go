package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/sportscave1/task-manager/domain"
)

func TestMemoryTaskLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a, err := m.InsertTask(ctx, domain.Task{OwnerID: "u1", Description: "a"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	b, _ := m.InsertTask(ctx, domain.Task{OwnerID: "u2", Description: "b"})
	c, _ := m.InsertTask(ctx, domain.Task{OwnerID: "u1", Description: "c"})
	if a.ID != 1 || b.ID != 2 || c.ID != 3 {
		t.Fatalf("expected sequential ids, got %d %d %d", a.ID, b.ID, c.ID)
	}

	list, err := m.ListTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 3 {
		t.Fatalf("unexpected owner list: %#v", list)
	}
	if all, _ := m.ListTasks(ctx, ""); len(all) != 3 {
		t.Fatalf("expected all tasks for empty owner, got %d", len(all))
	}

	c.Completed = true
	if err := m.UpdateTask(ctx, c); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := m.GetTask(ctx, c.ID)
	if err != nil || got == nil || !got.Completed {
		t.Fatalf("expected updated task, got %#v %v", got, err)
	}

	if err := m.DeleteTask(ctx, c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, err := m.GetTask(ctx, c.ID); err != nil || got != nil {
		t.Fatalf("expected miss after delete, got %#v %v", got, err)
	}

	var nerr domain.NotFoundError
	if err := m.UpdateTask(ctx, c); !errors.As(err, &nerr) {
		t.Fatalf("expected not found updating deleted task, got %v", err)
	}

	d, _ := m.InsertTask(ctx, domain.Task{Description: "d"})
	if d.ID != 4 {
		t.Fatalf("expected ids never to be reused, got %d", d.ID)
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	task, _ := m.InsertTask(ctx, domain.Task{Description: "orig"})

	got, _ := m.GetTask(ctx, task.ID)
	got.Description = "mutated"

	again, _ := m.GetTask(ctx, task.ID)
	if again.Description != "orig" {
		t.Fatalf("expected stored task to be isolated from callers")
	}
}

func TestMemoryUsers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if u, err := m.GetUserByUsername(ctx, "alice"); err != nil || u != nil {
		t.Fatalf("expected miss, got %#v %v", u, err)
	}
	if err := m.InsertUser(ctx, domain.User{ID: "1", Username: "alice", PasswordHash: "h"}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	var cerr domain.ConflictError
	if err := m.InsertUser(ctx, domain.User{ID: "2", Username: "alice"}); !errors.As(err, &cerr) {
		t.Fatalf("expected conflict, got %v", err)
	}
	u, err := m.GetUserByUsername(ctx, "alice")
	if err != nil || u == nil || u.ID != "1" || u.PasswordHash != "h" {
		t.Fatalf("unexpected user: %#v %v", u, err)
	}
}
