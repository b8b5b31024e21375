package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sportscave1/task-manager/domain"
)

// TaskService is the task contract the handlers depend on.
type TaskService interface {
	Add(ctx context.Context, nt domain.NewTask) (domain.Task, error)
	List(ctx context.Context, ownerID string) ([]domain.Task, error)
	Get(ctx context.Context, id int64, ownerID string) (domain.Task, error)
	Edit(ctx context.Context, id int64, ownerID string, ch domain.TaskChanges) (domain.Task, error)
	Remove(ctx context.Context, id int64, ownerID string) error
	ToggleComplete(ctx context.Context, id int64, ownerID string) (bool, error)
}

// AccountService registers and verifies users.
type AccountService interface {
	Register(ctx context.Context, username, password string) (domain.User, error)
	Authenticate(ctx context.Context, username, password string) (domain.User, bool, error)
}

// Authenticator is implemented by types able to extract user IDs from requests.
type Authenticator interface {
	UserIDFromRequest(r *http.Request) (string, error)
}

// TokenIssuer mints bearer tokens after a successful login.
type TokenIssuer interface {
	IssueToken(userID, username string) (string, time.Time, error)
}

// Deduper prevents processing of duplicate requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// HealthChecker reports whether storage is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ChangeWatcher signals when a user's task list changes so streams can push
// without waiting for the next tick.
type ChangeWatcher interface {
	Watch(userID string) (<-chan struct{}, func())
}

// Services bundles the dependencies passed to Register. Accounts, Tokens,
// Deduper, Health and Changes are optional.
type Services struct {
	Tasks    TaskService
	Accounts AccountService
	Auth     Authenticator
	Tokens   TokenIssuer
	Deduper  Deduper
	Health   HealthChecker
	Changes  ChangeWatcher

	StreamInterval time.Duration
}
