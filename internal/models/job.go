package models

import "time"

// JobPosting is a job the user analyses their resume against
type JobPosting struct {
	ID          string    `json:"id" bson:"_id"`
	Title       string    `json:"title" bson:"title"`
	Company     string    `json:"company" bson:"company"`
	Location    string    `json:"location,omitempty" bson:"location,omitempty"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	Skills      []string  `json:"skills,omitempty" bson:"skills,omitempty"`
	URL         string    `json:"url,omitempty" bson:"url,omitempty"`
	PostedAt    time.Time `json:"posted_at,omitempty" bson:"posted_at,omitempty"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
}

func (j JobPosting) GetID() string { return j.ID }
