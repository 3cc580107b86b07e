// Package profile loads saved patient profiles and turns them into the
// context the assistant personalizes its guidance with.
package profile

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no profile exists for a user.
var ErrNotFound = errors.New("patient profile not found")

type Condition struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

type Treatment struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
	Dosage string `json:"dosage,omitempty"`
}

type BiomarkerTarget struct {
	Biomarker string `json:"biomarker"`
	Target    string `json:"target"`
	Unit      string `json:"unit,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

type Profile struct {
	UserID            string            `json:"userId"`
	FullName          string            `json:"fullName,omitempty"`
	Age               int               `json:"age,omitempty"`
	Sex               string            `json:"sex,omitempty"`
	Conditions        []Condition       `json:"conditions"`
	Treatments        []Treatment       `json:"treatments"`
	Allergies         []string          `json:"allergies"`
	Contraindications []string          `json:"contraindications"`
	FamilyHistory     []string          `json:"familyHistory"`
	BiomarkerTargets  []BiomarkerTarget `json:"biomarkerTargets"`
	Notes             string            `json:"notes,omitempty"`
	UpdatedAt         time.Time         `json:"updatedAt,omitzero"`
}

// Repository looks profiles up by user id.
type Repository interface {
	Get(ctx context.Context, userID string) (Profile, error)
}
