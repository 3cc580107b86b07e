// Package schedule serves a patient's daily care plan and records how well
// they followed it.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("schedule item not found")

type ActivityType string

const (
	ActivityDiet       ActivityType = "diet"
	ActivityMedication ActivityType = "medication"
	ActivitySleep      ActivityType = "sleep"
	ActivityActivity   ActivityType = "activity"
)

type Status string

const (
	StatusDone    Status = "done"
	StatusPartial Status = "partial"
	StatusSkipped Status = "skipped"
	StatusDelayed Status = "delayed"
)

type AlertLevel string

const (
	AlertNone   AlertLevel = "none"
	AlertWatch  AlertLevel = "watch"
	AlertUrgent AlertLevel = "urgent"
)

func ParseStatus(s string) (Status, error) {
	switch v := Status(strings.ToLower(strings.TrimSpace(s))); v {
	case StatusDone, StatusPartial, StatusSkipped, StatusDelayed:
		return v, nil
	}
	return "", fmt.Errorf("invalid status %q", s)
}

func ParseAlertLevel(s string) (AlertLevel, error) {
	switch v := AlertLevel(strings.ToLower(strings.TrimSpace(s))); v {
	case AlertNone, AlertWatch, AlertUrgent:
		return v, nil
	}
	return "", fmt.Errorf("invalid alert level %q", s)
}

// Item is one entry of the daily plan. Windows are local wall-clock times
// in HH:MM form; the end is exclusive.
type Item struct {
	ID           string       `json:"id"`
	UserID       string       `json:"userId"`
	ActivityType ActivityType `json:"activityType"`
	Title        string       `json:"title"`
	Instructions []string     `json:"instructions"`
	WindowStart  string       `json:"windowStartLocal"`
	WindowEnd    string       `json:"windowEndLocal"`
	DisplayOrder int          `json:"displayOrder"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

type Report struct {
	ID                 string
	UserID             string
	ScheduleItemID     string
	ReportDate         string
	ActivityType       ActivityType
	Status             Status
	FollowedPlan       bool
	ChangesMade        string
	FeltAfter          string
	Symptoms           string
	Notes              string
	AlertLevel         AlertLevel
	Summary            string
	ReportedAt         time.Time
	ConversationTurnID string
	SessionID          string
	CreatedAt          time.Time
}

// Store persists items and reports. Items come back ordered by display
// order, window start and id; reports by report time.
type Store interface {
	ActiveItems(ctx context.Context, userID string) ([]Item, error)
	Item(ctx context.Context, userID, itemID string) (Item, error)
	ReportsByDate(ctx context.Context, userID, date string) ([]Report, error)
	ReportsForItem(ctx context.Context, userID, itemID, date string) ([]Report, error)
	FindDuplicate(ctx context.Context, userID, itemID, sessionID, turnID string) (Report, bool, error)
	SaveReport(ctx context.Context, r Report) (Report, error)
}
