package sessionkit

import (
	"context"
	"errors"
)

var (
	// ErrRotationConflict indicates the presented token hash lost a rotation
	// race or was replayed after rotation; the caller must be forced to
	// UNAUTHENTICATED.
	ErrRotationConflict = errors.New("ledger.rotation_conflict")
	// ErrRotationUnknown indicates the ledger holds no entry for the subject,
	// for example after a process restart with the memory ledger. The signed
	// refresh cookie remains the source of truth in that case.
	ErrRotationUnknown = errors.New("ledger.unknown_subject")
)

// RotationLedger holds the hash of each subject's currently valid refresh
// token and performs rotation as a compare-and-swap, so that of two requests
// racing on the same stale token at most one can win.
type RotationLedger interface {
	// Seed records the current token hash for a subject, replacing any
	// previous entry. Called on login.
	Seed(ctx context.Context, subject string, tokenHash string, expiresUnix int64) error
	// Rotate atomically swaps presentedHash for nextHash. ErrRotationConflict
	// when the stored hash differs, ErrRotationUnknown when no live entry
	// exists.
	Rotate(ctx context.Context, subject string, presentedHash string, nextHash string, expiresUnix int64) error
	// Drop removes the subject's entry. Called on logout; idempotent.
	Drop(ctx context.Context, subject string) error
}
