package models

import "time"

// AnalysisResult is the outcome of matching a resume against a job posting
type AnalysisResult struct {
	ID            string    `json:"id" bson:"_id"`
	UserID        string    `json:"user_id" bson:"user_id"`
	JobID         string    `json:"job_id" bson:"job_id"`
	MatchScore    float64   `json:"match_score" bson:"match_score"`
	MatchedSkills []string  `json:"matched_skills,omitempty" bson:"matched_skills,omitempty"`
	MissingSkills []string  `json:"missing_skills,omitempty" bson:"missing_skills,omitempty"`
	Suggestions   []string  `json:"suggestions,omitempty" bson:"suggestions,omitempty"`
	Summary       string    `json:"summary,omitempty" bson:"summary,omitempty"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
}

func (a AnalysisResult) GetID() string { return a.ID }
