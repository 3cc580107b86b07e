package clinic

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Booking struct {
	BookingID    string `json:"bookingId"`
	DoctorID     string `json:"doctorId"`
	DoctorName   string `json:"doctorName"`
	SlotID       string `json:"slotId"`
	StartISO     string `json:"startIso"`
	DisplayLabel string `json:"displayLabel"`
	Timezone     string `json:"timezone"`
	CreatedAtISO string `json:"createdAtIso"`
}

// AvailableSlot is a slot annotated with whether it can still be booked.
type AvailableSlot struct {
	Slot
	IsAvailable bool `json:"isAvailable"`
}

type DoctorAvailability struct {
	DoctorID        string          `json:"doctorId"`
	Name            string          `json:"name"`
	Specialty       string          `json:"specialty"`
	ExperienceYears int             `json:"experienceYears"`
	Languages       []string        `json:"languages"`
	Slots           []AvailableSlot `json:"slots"`
}

type slotKey struct {
	doctorID string
	slotID   string
}

// BookingState tracks bookings made during one conversation. It lives for
// the whole client connection so a recovered session still sees earlier
// bookings.
type BookingState struct {
	mu       sync.Mutex
	slots    map[slotKey]Slot
	booked   map[slotKey]struct{}
	bookings []Booking
	now      func() time.Time
}

func NewBookingState(doctors []Doctor) *BookingState {
	s := &BookingState{
		slots:  make(map[slotKey]Slot),
		booked: make(map[slotKey]struct{}),
		now:    time.Now,
	}
	for _, d := range doctors {
		for _, slot := range d.Slots {
			s.slots[slotKey{d.DoctorID, slot.SlotID}] = slot
		}
	}
	return s
}

func (s *BookingState) IsSlotAvailable(doctorID, slotID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availableLocked(slotKey{doctorID, slotID})
}

func (s *BookingState) availableLocked(k slotKey) bool {
	if _, ok := s.slots[k]; !ok {
		return false
	}
	_, taken := s.booked[k]
	return !taken
}

func (s *BookingState) WithAvailability(doctors []Doctor) []DoctorAvailability {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DoctorAvailability, 0, len(doctors))
	for _, d := range doctors {
		da := DoctorAvailability{
			DoctorID:        d.DoctorID,
			Name:            d.Name,
			Specialty:       d.Specialty,
			ExperienceYears: d.ExperienceYears,
			Languages:       append([]string(nil), d.Languages...),
			Slots:           make([]AvailableSlot, 0, len(d.Slots)),
		}
		for _, slot := range d.Slots {
			da.Slots = append(da.Slots, AvailableSlot{Slot: slot, IsAvailable: s.availableLocked(slotKey{d.DoctorID, slot.SlotID})})
		}
		out = append(out, da)
	}
	return out
}

// TryBook reserves the slot. It fails when the slot is unknown or taken.
func (s *BookingState) TryBook(doctor Doctor, slotID string) (Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := slotKey{doctor.DoctorID, slotID}
	slot, ok := s.slots[k]
	if !ok {
		return Booking{}, false
	}
	if _, taken := s.booked[k]; taken {
		return Booking{}, false
	}
	s.booked[k] = struct{}{}
	b := Booking{
		BookingID:    "bk_" + shortHex(),
		DoctorID:     doctor.DoctorID,
		DoctorName:   doctor.Name,
		SlotID:       slotID,
		StartISO:     slot.StartISO,
		DisplayLabel: slot.DisplayLabel,
		Timezone:     slot.Timezone,
		CreatedAtISO: s.now().UTC().Format(time.RFC3339Nano),
	}
	s.bookings = append(s.bookings, b)
	return b, true
}

func (s *BookingState) Bookings() []Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Booking(nil), s.bookings...)
}

// shortHex is the first 10 hex characters of a random uuid.
func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}
