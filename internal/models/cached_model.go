package models

import "time"

// CachedModel is a downloaded inference model blob kept for offline use
type CachedModel struct {
	ID        string     `json:"id" bson:"_id"`
	Name      string     `json:"name" bson:"name"`
	Version   string     `json:"version" bson:"version"`
	Data      []byte     `json:"data" bson:"data"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
}

func (m CachedModel) GetID() string { return m.ID }
