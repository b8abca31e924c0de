package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-process Directory for tests and dev runs.
type MemoryDirectory struct {
	mutex     sync.Mutex
	bySubject map[string]*User
	byEmail   map[string]string
}

// NewMemoryDirectory constructs an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		bySubject: make(map[string]*User),
		byEmail:   make(map[string]string),
	}
}

// LookupByEmail returns the user for an email.
func (store *MemoryDirectory) LookupByEmail(ctx context.Context, email string) (*User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	subject, ok := store.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, fmt.Errorf("directory.lookup: %w", ErrUserNotFound)
	}
	clone := *store.bySubject[subject]
	return &clone, nil
}

// ListUsers returns all entries ordered by email.
func (store *MemoryDirectory) ListUsers(ctx context.Context) ([]User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	users := make([]User, 0, len(store.bySubject))
	for _, user := range store.bySubject {
		users = append(users, *user)
	}
	sort.Slice(users, func(left, right int) bool {
		return users[left].Email < users[right].Email
	})
	return users, nil
}

// AddUser creates the user if absent.
func (store *MemoryDirectory) AddUser(ctx context.Context, email string, displayName string) (*User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return nil, fmt.Errorf("directory.add: %w", ErrEmailRequired)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if subject, ok := store.byEmail[normalized]; ok {
		clone := *store.bySubject[subject]
		return &clone, nil
	}
	user := &User{
		ID:          uuid.NewString(),
		Subject:     "pending:" + uuid.NewString(),
		Email:       normalized,
		DisplayName: displayName,
	}
	store.bySubject[user.Subject] = user
	store.byEmail[normalized] = user.Subject
	clone := *user
	return &clone, nil
}

// UpsertFromLogin records a login, claiming any pending entry for the email.
func (store *MemoryDirectory) UpsertFromLogin(ctx context.Context, subject string, email string, emailVerified bool) (*User, error) {
	normalized := normalizeEmail(email)
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if existing, ok := store.bySubject[subject]; ok {
		existing.Email = normalized
		existing.EmailVerified = emailVerified
		clone := *existing
		return &clone, nil
	}
	if pendingSubject, ok := store.byEmail[normalized]; ok && strings.HasPrefix(pendingSubject, "pending:") {
		pending := store.bySubject[pendingSubject]
		delete(store.bySubject, pendingSubject)
		pending.Subject = subject
		pending.EmailVerified = emailVerified
		store.bySubject[subject] = pending
		store.byEmail[normalized] = subject
		clone := *pending
		return &clone, nil
	}
	user := &User{
		ID:            uuid.NewString(),
		Subject:       subject,
		Email:         normalized,
		EmailVerified: emailVerified,
	}
	store.bySubject[subject] = user
	store.byEmail[normalized] = subject
	clone := *user
	return &clone, nil
}

// SetDisabled toggles the disabled flag.
func (store *MemoryDirectory) SetDisabled(ctx context.Context, subject string, disabled bool) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user, ok := store.bySubject[subject]
	if !ok {
		return fmt.Errorf("directory.set_disabled: %w", ErrUserNotFound)
	}
	user.Disabled = disabled
	return nil
}

// RevokeTokens moves the watermark to now.
func (store *MemoryDirectory) RevokeTokens(ctx context.Context, subject string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user, ok := store.bySubject[subject]
	if !ok {
		return fmt.Errorf("directory.revoke_tokens: %w", ErrUserNotFound)
	}
	user.TokensValidAfterUnix = time.Now().UTC().Unix()
	return nil
}

// IsRevoked answers the verifier's revocation check.
func (store *MemoryDirectory) IsRevoked(ctx context.Context, subject string, authTime time.Time) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user, ok := store.bySubject[subject]
	if !ok {
		return false, nil
	}
	if user.Disabled {
		return true, nil
	}
	if user.TokensValidAfterUnix != 0 && authTime.Unix() < user.TokensValidAfterUnix {
		return true, nil
	}
	return false, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
