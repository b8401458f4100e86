// Package directory defines the user-directory collaborator and the request
// identity context used to bind certificate subjects to the authenticated
// principal.
package directory

import (
	"context"
	"errors"
	"sync"
)

// ErrUserNotFound is returned when the identifier is unknown to the directory.
var ErrUserNotFound = errors.New("user not found in directory")

// User is the directory's view of an account.
type User struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// DisplayName returns the on-record display name used for common-name
// matching during constraint validation.
func (u User) DisplayName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// Directory looks up user accounts. The lifecycle engine only reads it.
type Directory interface {
	Lookup(ctx context.Context, identifier string) (User, error)
}

type principalKey struct{}

// WithPrincipal returns a context carrying the authenticated principal's
// identifier. The authentication layer is responsible for calling this;
// constraint validation only ever reads it.
func WithPrincipal(ctx context.Context, identifier string) context.Context {
	return context.WithValue(ctx, principalKey{}, identifier)
}

// PrincipalFrom returns the authenticated principal from the context.
func PrincipalFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(principalKey{}).(string)
	return id, ok && id != ""
}

// Static is an in-memory Directory used by tests, demos and file-backed
// deployments.
type Static struct {
	mu    sync.RWMutex
	users map[string]User
}

var _ Directory = (*Static)(nil)

// NewStatic creates a Static directory from the given users, keyed by
// identifier.
func NewStatic(users map[string]User) *Static {
	m := make(map[string]User, len(users))
	for id, u := range users {
		m[id] = u
	}
	return &Static{users: m}
}

// Add inserts or replaces a user.
func (s *Static) Add(identifier string, user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[identifier] = user
}

func (s *Static) Lookup(_ context.Context, identifier string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[identifier]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}
