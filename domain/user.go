package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

// UserStorage persists users. InsertUser must return ConflictError when the
// username is taken; GetUserByUsername returns nil, nil on a miss.
type UserStorage interface {
	InsertUser(ctx context.Context, u User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

// AuthStore registers users and verifies their credentials.
type AuthStore struct {
	st        UserStorage
	cost      int
	dummyHash []byte
}

// NewAuthStore creates an AuthStore hashing with the given bcrypt cost. A
// cost of zero selects bcrypt.DefaultCost.
func NewAuthStore(st UserStorage, cost int) *AuthStore {
	if st == nil {
		panic("domain.NewAuthStore: storage is nil")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("task-manager-dummy"), cost)
	if err != nil {
		panic(fmt.Sprintf("domain.NewAuthStore: %v", err))
	}
	return &AuthStore{st: st, cost: cost, dummyHash: dummy}
}

// Register creates a user with a freshly salted password hash.
func (a *AuthStore) Register(ctx context.Context, username, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, ValidationError{Field: "username", Reason: "must not be empty"}
	}
	if password == "" {
		return User{}, ValidationError{Field: "password", Reason: "must not be empty"}
	}
	if len(password) > maxPasswordBytes {
		return User{}, ValidationError{Field: "password", Reason: "must be at most 72 bytes"}
	}
	existing, err := a.st.GetUserByUsername(ctx, username)
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	if existing != nil {
		return User{}, ConflictError{Username: username}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{ID: uuid.NewString(), Username: username, PasswordHash: string(hash)}
	if err := a.st.InsertUser(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Authenticate checks the credentials. ok is false for an unknown user or a
// wrong password; err is only set when storage fails.
func (a *AuthStore) Authenticate(ctx context.Context, username, password string) (u User, ok bool, err error) {
	found, err := a.st.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return User{}, false, fmt.Errorf("lookup user: %w", err)
	}
	if found == nil {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return User{}, false, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(found.PasswordHash), []byte(password)) != nil {
		return User{}, false, nil
	}
	return *found, true, nil
}
