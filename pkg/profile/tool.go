package profile

import (
	"context"

	"github.com/bezaspace/rak4/pkg/core/tools"
)

// Tool exposes the loaded context to the model. It reads pc as loaded at
// cycle start and does not hit the repository again.
func Tool(pc Context) tools.Tool {
	return tools.Tool{
		Name:        "get_patient_profile_summary",
		Description: "Returns persisted patient profile context for personalized recommendations. Use this when tailoring suggestions to conditions, treatments, and biomarker targets.",
		Handler: tools.Bind(func(context.Context, struct{}) (map[string]any, error) {
			if !pc.Loaded {
				return map[string]any{
					"profileAvailable": false,
					"message":          "No saved patient profile is available for this user.",
					"profileSummary":   "",
					"biomarkerTargets": []BiomarkerTarget{},
				}, nil
			}
			p := pc.Profile
			return map[string]any{
				"profileAvailable":  true,
				"profileSummary":    pc.Summary,
				"biomarkerTargets":  orEmpty(p.BiomarkerTargets),
				"conditions":        orEmpty(p.Conditions),
				"treatments":        orEmpty(p.Treatments),
				"allergies":         orEmpty(p.Allergies),
				"contraindications": orEmpty(p.Contraindications),
			}, nil
		}),
	}
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
