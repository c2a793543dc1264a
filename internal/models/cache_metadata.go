package models

import "time"

// CacheKey is the metadata key of record id in collection. Ids are only
// unique within their collection.
func CacheKey(collection, id string) string {
	return collection + "/" + id
}

// CacheMetadata tracks one cache-managed record. It is the only input to
// eviction ordering.
type CacheMetadata struct {
	Key          string     `json:"key"`
	Collection   string     `json:"collection"`
	RecordID     string     `json:"record_id"`
	SizeBytes    int64      `json:"size_bytes"`
	LastAccessed time.Time  `json:"last_accessed"`
	AccessCount  int64      `json:"access_count"`
	Priority     int        `json:"priority"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (m CacheMetadata) GetID() string { return m.Key }

// Expired reports whether the entry is past its explicit expiry or has not
// been accessed within ttl. A zero ttl disables the idle check.
func (m CacheMetadata) Expired(now time.Time, ttl time.Duration) bool {
	if m.ExpiresAt != nil && now.After(*m.ExpiresAt) {
		return true
	}
	return ttl > 0 && now.Sub(m.LastAccessed) > ttl
}
