package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
)

// UserProfile is the resume owner's profile
type UserProfile struct {
	ID         string       `json:"id" bson:"_id"`
	Email      string       `json:"email" bson:"email"`
	Name       string       `json:"name" bson:"name"`
	Phone      string       `json:"phone,omitempty" bson:"phone,omitempty"`
	Headline   string       `json:"headline,omitempty" bson:"headline,omitempty"`
	Location   string       `json:"location,omitempty" bson:"location,omitempty"`
	Skills     []string     `json:"skills,omitempty" bson:"skills,omitempty"`
	Experience []Experience `json:"experience,omitempty" bson:"experience,omitempty"`
	CreatedAt  time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" bson:"updated_at"`
}

// Experience is one position on a resume
type Experience struct {
	Title     string     `json:"title" bson:"title"`
	Company   string     `json:"company" bson:"company"`
	StartDate time.Time  `json:"start_date" bson:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty" bson:"end_date,omitempty"`
	Summary   string     `json:"summary,omitempty" bson:"summary,omitempty"`
}

func (u UserProfile) GetID() string { return u.ID }

// Normalize lowercases the email and rewrites the phone in E.164 form.
// Numbers without a country prefix are parsed in defaultRegion.
func (u *UserProfile) Normalize(defaultRegion string) error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRecord)
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	if u.Phone == "" {
		return nil
	}
	phone, err := NormalizePhone(u.Phone, defaultRegion)
	if err != nil {
		return err
	}
	u.Phone = phone
	return nil
}

// NormalizePhone parses a phone number and returns it in E.164 form
func NormalizePhone(raw, defaultRegion string) (string, error) {
	cleanPhone := strings.TrimSpace(raw)
	if cleanPhone == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhone)
	}

	num, err := phonenumbers.Parse(cleanPhone, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPhone, raw)
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}
