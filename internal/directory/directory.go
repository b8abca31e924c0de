// Package directory adapts the identity provider's user directory: lookups
// for the admin pages and the revocation data the credential verifier
// consults. It is not part of the session lifecycle core.
package directory

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserNotFound indicates no user matched the lookup.
	ErrUserNotFound = errors.New("directory.user_not_found")
	// ErrEmailRequired indicates AddUser was called without an email.
	ErrEmailRequired = errors.New("directory.email_required")
)

// User is a directory entry.
type User struct {
	ID                   string
	Subject              string
	Email                string
	DisplayName          string
	EmailVerified        bool
	Disabled             bool
	Admin                bool
	TokensValidAfterUnix int64
}

// Directory exposes the lookups the admin pages and the verifier need.
type Directory interface {
	// LookupByEmail returns the user for an email, ErrUserNotFound otherwise.
	LookupByEmail(ctx context.Context, email string) (*User, error)
	// ListUsers returns all directory entries.
	ListUsers(ctx context.Context) ([]User, error)
	// AddUser creates the user if absent and returns it either way.
	AddUser(ctx context.Context, email string, displayName string) (*User, error)
	// UpsertFromLogin records a successful login for a provider subject.
	UpsertFromLogin(ctx context.Context, subject string, email string, emailVerified bool) (*User, error)
	// SetDisabled toggles the disabled flag.
	SetDisabled(ctx context.Context, subject string, disabled bool) error
	// RevokeTokens moves the tokens-valid-after watermark to now, so
	// assertions authenticated before it read as revoked.
	RevokeTokens(ctx context.Context, subject string) error
	// IsRevoked implements the verifier's revocation check: disabled users
	// and auth times older than the watermark are revoked. Unknown subjects
	// are not revoked; first login creates them.
	IsRevoked(ctx context.Context, subject string, authTime time.Time) (bool, error)
}
