// Package assistant composes the healthcare assistant: its instruction, its
// tools, and the runtime executions the live bridge drives.
package assistant

import (
	"strings"
)

const baseInstruction = "You are Raksha, a calm and practical healthcare guidance assistant. " +
	"You provide basic general wellness and self-care advice only. " +
	"Never diagnose diseases or claim certainty about a medical condition. " +
	"When users mention severe or emergency symptoms (for example chest pain, breathing trouble, signs of stroke, heavy bleeding, suicidal thoughts), " +
	"tell them to seek immediate emergency care or call local emergency services now. " +
	"Keep responses concise, supportive, and actionable. " +
	"If unsure, recommend consulting a licensed clinician."

const doctorGuidance = "When the user wants to see a doctor, call get_doctor_catalog first, then publish_recommendations with 2 or 3 doctor ids that fit their symptoms. " +
	"Only call book_doctor_slot with user_confirmation=true after the user clearly confirms the doctor and slot."

const profileGuidance = "Use get_patient_profile_summary when tailoring suggestions to the user's conditions, treatments, allergies, or biomarker targets. " +
	"Never suggest anything that conflicts with a listed allergy or contraindication."

const scheduleGuidance = "For questions about the daily plan, call get_current_schedule_item or get_today_schedule. " +
	"After a check-in, save it with save_adherence_report using the exact schedule item id, and set alert_level to urgent for worrying symptoms."

// Instruction builds the system instruction for one cycle.
func Instruction(profileSummary string, withSchedule bool) string {
	parts := []string{baseInstruction, doctorGuidance, profileGuidance}
	if withSchedule {
		parts = append(parts, scheduleGuidance)
	}
	if s := strings.TrimSpace(profileSummary); s != "" {
		parts = append(parts, "Saved patient profile: "+s)
	}
	return strings.Join(parts, "\n\n")
}

var urgentKeywords = []string{
	"chest pain",
	"shortness of breath",
	"can't breathe",
	"cannot breathe",
	"stroke",
	"face drooping",
	"slurred speech",
	"severe bleeding",
	"bleeding heavily",
	"suicidal",
	"kill myself",
	"self harm",
}

// ContainsUrgentRiskHint reports whether text mentions an emergency symptom.
func ContainsUrgentRiskHint(text string) bool {
	lowered := strings.ToLower(text)
	for _, k := range urgentKeywords {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}
