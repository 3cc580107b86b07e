package clinic

import (
	"context"
	"fmt"
	"strings"

	"github.com/bezaspace/rak4/pkg/core/tools"
)

const (
	PayloadCatalog         = "doctor_catalog"
	PayloadRecommendations = "doctor_recommendations"
	PayloadBookingUpdate   = "booking_update"
)

const (
	StatusFailed            = "failed"
	StatusNeedsConfirmation = "needs_confirmation"
	StatusUnavailable       = "unavailable"
	StatusConfirmed         = "confirmed"
)

type RecommendArgs struct {
	SymptomsSummary string   `json:"symptoms_summary" jsonschema:"description=Short summary of the symptoms the user described"`
	DoctorIDs       []string `json:"doctor_ids" jsonschema:"description=Two or three doctor ids taken from get_doctor_catalog"`
}

type BookArgs struct {
	DoctorID         string `json:"doctor_id" jsonschema:"description=Doctor id from the catalog"`
	SlotID           string `json:"slot_id" jsonschema:"description=Slot id belonging to that doctor"`
	UserConfirmation bool   `json:"user_confirmation,omitempty" jsonschema:"description=True only when the user explicitly confirmed this booking"`
}

// Tools returns the doctor tools bound to one conversation's booking state.
func Tools(catalog *Catalog, state *BookingState) []tools.Tool {
	d := doctorTools{catalog: catalog, state: state}
	return []tools.Tool{
		{
			Name:        "get_doctor_catalog",
			Description: "Fetches doctors and current slot availability for this conversation. Call this before recommending doctors based on symptoms.",
			Handler:     tools.Bind(func(ctx context.Context, _ struct{}) (map[string]any, error) { return d.catalogPayload(), nil }),
		},
		{
			Name:        "publish_recommendations",
			Description: "Publishes exactly 2-3 doctor recommendations to the chat UI. Use doctor ids that come from get_doctor_catalog.",
			Params:      RecommendArgs{},
			Handler:     tools.Bind(d.recommend),
		},
		{
			Name:        "book_doctor_slot",
			Description: "Books an available doctor slot after user confirmation. Set user_confirmation=true only when the user explicitly confirms.",
			Params:      BookArgs{},
			Handler:     tools.Bind(d.book),
		},
	}
}

type doctorTools struct {
	catalog *Catalog
	state   *BookingState
}

func (d doctorTools) catalogPayload() map[string]any {
	return map[string]any{
		"type":     PayloadCatalog,
		"timezone": d.catalog.Timezone(),
		"doctors":  d.state.WithAvailability(d.catalog.Doctors()),
	}
}

func (d doctorTools) recommend(_ context.Context, args RecommendArgs) (map[string]any, error) {
	summary := strings.TrimSpace(args.SymptomsSummary)
	seen := make(map[string]struct{}, len(args.DoctorIDs))
	var ids []string
	for _, id := range args.DoctorIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) < 2 || len(ids) > 3 {
		return bookingUpdate(StatusFailed, "Recommendation publishing failed: provide exactly 2 or 3 unique doctor IDs."), nil
	}

	reasonSubject := summary
	if reasonSubject == "" {
		reasonSubject = "current concerns"
	}
	doctors := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		doc, ok := d.catalog.Doctor(id)
		if !ok {
			return bookingUpdate(StatusFailed, fmt.Sprintf("Recommendation publishing failed: unknown doctor ID '%s'.", id)), nil
		}
		avail := d.state.WithAvailability([]Doctor{doc})[0]
		doctors = append(doctors, map[string]any{
			"doctorId":        avail.DoctorID,
			"name":            avail.Name,
			"specialty":       avail.Specialty,
			"experienceYears": avail.ExperienceYears,
			"languages":       avail.Languages,
			"matchReason":     fmt.Sprintf("Potential fit based on your symptoms: %s.", reasonSubject),
			"slots":           avail.Slots,
		})
	}

	if summary == "" {
		summary = "General symptom discussion"
	}
	return map[string]any{
		"type":            PayloadRecommendations,
		"requestId":       "rec_" + shortHex(),
		"symptomsSummary": summary,
		"doctors":         doctors,
	}, nil
}

func (d doctorTools) book(_ context.Context, args BookArgs) (map[string]any, error) {
	doctorID := strings.TrimSpace(args.DoctorID)
	slotID := strings.TrimSpace(args.SlotID)
	if doctorID == "" || slotID == "" {
		return bookingUpdate(StatusFailed, "Booking failed: doctor ID and slot ID are required."), nil
	}
	doc, ok := d.catalog.Doctor(doctorID)
	if !ok {
		return bookingUpdate(StatusFailed, fmt.Sprintf("Booking failed: unknown doctor ID '%s'.", doctorID)), nil
	}
	if !hasSlot(doc, slotID) {
		return bookingUpdate(StatusFailed, fmt.Sprintf("Booking failed: slot '%s' does not belong to %s.", slotID, doc.Name)), nil
	}
	if !args.UserConfirmation {
		return bookingUpdate(StatusNeedsConfirmation, fmt.Sprintf("Please confirm booking for %s at slot '%s'.", doc.Name, slotID)), nil
	}
	if !d.state.IsSlotAvailable(doctorID, slotID) {
		return bookingUpdate(StatusUnavailable, fmt.Sprintf("That slot is no longer available for %s. Please choose another time.", doc.Name)), nil
	}
	booking, ok := d.state.TryBook(doc, slotID)
	if !ok {
		return bookingUpdate(StatusFailed, "Booking failed unexpectedly. Please try another slot."), nil
	}

	payload := bookingUpdate(StatusConfirmed, fmt.Sprintf("Booked %s on %s (%s).", booking.DoctorName, booking.DisplayLabel, booking.Timezone))
	payload["booking"] = booking
	return payload, nil
}

func hasSlot(doc Doctor, slotID string) bool {
	for _, s := range doc.Slots {
		if s.SlotID == slotID {
			return true
		}
	}
	return false
}

func bookingUpdate(status, message string) map[string]any {
	return map[string]any{"type": PayloadBookingUpdate, "status": status, "message": message}
}
