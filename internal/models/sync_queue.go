package models

import (
	"encoding/json"
	"time"
)

// MutationKind is the kind of local write being replicated
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// Valid reports whether k is a known mutation kind
func (k MutationKind) Valid() bool {
	switch k {
	case MutationCreate, MutationUpdate, MutationDelete:
		return true
	}
	return false
}

// SyncQueueItem is one pending remote mutation
type SyncQueueItem struct {
	ID         string          `json:"id"`
	Kind       MutationKind    `json:"kind"`
	Entity     string          `json:"entity"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	// NextAttemptAt holds the item out of sync passes while it backs off
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`
	// Force asks the applier to overwrite the remote copy unconditionally
	Force bool `json:"force,omitempty"`
}

func (i SyncQueueItem) GetID() string { return i.ID }
