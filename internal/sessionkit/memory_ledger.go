package sessionkit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryLedgerEntry struct {
	tokenHash   string
	expiresUnix int64
}

// MemoryRotationLedger is an in-process RotationLedger intended for tests and
// single-instance dev runs.
type MemoryRotationLedger struct {
	mutex   sync.Mutex
	entries map[string]memoryLedgerEntry
	now     func() time.Time
}

// NewMemoryRotationLedger creates an empty in-memory ledger.
func NewMemoryRotationLedger() *MemoryRotationLedger {
	return &MemoryRotationLedger{
		entries: make(map[string]memoryLedgerEntry),
		now:     time.Now,
	}
}

// Seed records the subject's current token hash.
func (ledger *MemoryRotationLedger) Seed(ctx context.Context, subject string, tokenHash string, expiresUnix int64) error {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	ledger.purgeExpiredLocked()
	ledger.entries[subject] = memoryLedgerEntry{tokenHash: tokenHash, expiresUnix: expiresUnix}
	return nil
}

// Rotate performs the compare-and-swap under the ledger mutex.
func (ledger *MemoryRotationLedger) Rotate(ctx context.Context, subject string, presentedHash string, nextHash string, expiresUnix int64) error {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	ledger.purgeExpiredLocked()
	entry, ok := ledger.entries[subject]
	if !ok {
		return fmt.Errorf("ledger.rotate: %w", ErrRotationUnknown)
	}
	if entry.tokenHash != presentedHash {
		return fmt.Errorf("ledger.rotate: %w", ErrRotationConflict)
	}
	ledger.entries[subject] = memoryLedgerEntry{tokenHash: nextHash, expiresUnix: expiresUnix}
	return nil
}

// Drop removes the subject's entry.
func (ledger *MemoryRotationLedger) Drop(ctx context.Context, subject string) error {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	delete(ledger.entries, subject)
	return nil
}

func (ledger *MemoryRotationLedger) purgeExpiredLocked() {
	if len(ledger.entries) == 0 {
		return
	}
	nowUnix := ledger.now().Unix()
	for subject, entry := range ledger.entries {
		if entry.expiresUnix != 0 && entry.expiresUnix < nowUnix {
			delete(ledger.entries, subject)
		}
	}
}
