package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const (
	SourceDB   = "db"
	SourceFile = "file"
	SourceNone = "none"
)

const (
	msgLoaded        = "Loaded saved patient profile for personalized guidance."
	msgNotFound      = "No saved patient profile found. Continuing with general guidance."
	msgLookupFailed  = "Patient profile lookup failed. Continuing with general guidance."
	msgNotConfigured = "No profile service configured. Continuing with general guidance."
)

// Context is what a live cycle knows about the user's profile.
type Context struct {
	Loaded  bool
	Source  string
	Message string
	Summary string
	Profile Profile
}

// Unconfigured is the context used when no repository is wired.
func Unconfigured() Context {
	return Context{Source: SourceNone, Message: msgNotConfigured}
}

type Service struct {
	repo   Repository
	source string
	logger *slog.Logger
}

// NewService wraps repo; source is reported to the client when a profile
// loads ("db" or "file").
func NewService(repo Repository, source string, logger *slog.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("profile repository is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if source == "" {
		source = SourceDB
	}
	return &Service{repo: repo, source: source, logger: logger}, nil
}

// LoadContext never fails the session; lookup errors degrade to general
// guidance.
func (s *Service) LoadContext(ctx context.Context, userID string) Context {
	if s == nil {
		return Unconfigured()
	}
	p, err := s.repo.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Context{Source: SourceNone, Message: msgNotFound}
	}
	if err != nil {
		s.logger.Warn("patient_profile_lookup_failed", "user_id", userID, "error", err)
		return Context{Source: SourceNone, Message: msgLookupFailed}
	}
	return Context{
		Loaded:  true,
		Source:  s.source,
		Message: msgLoaded,
		Summary: Summarize(p),
		Profile: p,
	}
}

// Summarize renders the short profile digest appended to the assistant
// instruction.
func Summarize(p Profile) string {
	var conditions, treatments, targets []string
	for _, c := range p.Conditions {
		if c.Name != "" {
			conditions = append(conditions, c.Name)
		}
	}
	for _, t := range p.Treatments {
		if t.Name != "" {
			treatments = append(treatments, t.Name)
		}
	}
	for _, b := range p.BiomarkerTargets {
		targets = append(targets, formatTarget(b))
	}

	var parts []string
	if p.FullName != "" {
		parts = append(parts, fmt.Sprintf("Patient: %s.", p.FullName))
	}
	if len(conditions) > 0 {
		parts = append(parts, fmt.Sprintf("Known conditions: %s.", joinFirst(conditions, 3)))
	}
	if len(treatments) > 0 {
		parts = append(parts, fmt.Sprintf("Current or prior treatments: %s.", joinFirst(treatments, 3)))
	}
	if len(targets) > 0 {
		parts = append(parts, fmt.Sprintf("Biomarker targets: %s.", joinFirst(targets, 4)))
	}
	if len(p.Allergies) > 0 {
		parts = append(parts, fmt.Sprintf("Allergies: %s.", joinFirst(p.Allergies, 3)))
	}
	if len(p.Contraindications) > 0 {
		parts = append(parts, fmt.Sprintf("Contraindications: %s.", joinFirst(p.Contraindications, 3)))
	}
	if p.Notes != "" {
		parts = append(parts, fmt.Sprintf("Clinician notes: %s.", p.Notes))
	}
	return strings.Join(parts, " ")
}

func formatTarget(b BiomarkerTarget) string {
	if b.Unit != "" {
		return fmt.Sprintf("%s (%s %s)", b.Biomarker, b.Target, b.Unit)
	}
	return fmt.Sprintf("%s (%s)", b.Biomarker, b.Target)
}

func joinFirst(items []string, n int) string {
	if len(items) > n {
		items = items[:n]
	}
	return strings.Join(items, ", ")
}
