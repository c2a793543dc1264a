package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared by the store, repositories and managers
var (
	ErrNotFound       = errors.New("record not found")
	ErrNotInitialized = errors.New("cache service not initialized")
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrConstraint     = errors.New("unique index constraint violated")
	ErrOffline        = errors.New("cannot sync while offline")
	ErrCacheMiss      = errors.New("cache miss")
	ErrEntryTooLarge  = errors.New("cache entry larger than cache budget")
	ErrBudgetExceeded = errors.New("cache budget exceeded after eviction")
	ErrInvalidPhone   = errors.New("invalid phone number")
	ErrInvalidRecord  = errors.New("invalid record")
	ErrDisabled       = errors.New("feature disabled")
)

// DuplicateKeyError is returned by Repository.Create when the id already exists.
// Callers should Update instead.
type DuplicateKeyError struct {
	Collection string
	ID         string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("record %q already exists in %s", e.ID, e.Collection)
}

func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

// StoreTransactionError wraps a failure of the underlying store. It is
// propagated unchanged and never retried by the repository.
type StoreTransactionError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StoreTransactionError) Error() string {
	return fmt.Sprintf("store %s on %s failed: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreTransactionError) Unwrap() error {
	return e.Err
}

// SyncApplyError is a failed remote application of one queue item
type SyncApplyError struct {
	ItemID string
	Kind   MutationKind
	Entity string
	Err    error
}

func (e *SyncApplyError) Error() string {
	return fmt.Sprintf("failed to apply %s %s (item %s): %v", e.Kind, e.Entity, e.ItemID, e.Err)
}

func (e *SyncApplyError) Unwrap() error {
	return e.Err
}

// EvictionDeleteError is a failure deleting one evicted key. It is logged
// and skipped by the eviction pass.
type EvictionDeleteError struct {
	Key        string
	Collection string
	Err        error
}

func (e *EvictionDeleteError) Error() string {
	return fmt.Sprintf("failed to evict %s/%s: %v", e.Collection, e.Key, e.Err)
}

func (e *EvictionDeleteError) Unwrap() error {
	return e.Err
}

// ConflictError is reported by a remote applier when the remote copy of the
// entity was written after the local mutation.
type ConflictError struct {
	Entity          string
	EntityID        string
	RemoteUpdatedAt time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote %s %s was modified at %s", e.Entity, e.EntityID, e.RemoteUpdatedAt.Format(time.RFC3339))
}
