// Package clinic holds the doctor catalog, the per-conversation booking
// state, and the tools the assistant uses to recommend and book doctors.
package clinic

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jinzhu/copier"
)

//go:embed data/doctors.json
var defaultCatalogJSON []byte

type Slot struct {
	SlotID       string `json:"slotId"`
	StartISO     string `json:"startIso"`
	DisplayLabel string `json:"displayLabel"`
	Timezone     string `json:"timezone"`
}

type Doctor struct {
	DoctorID        string   `json:"doctorId"`
	Name            string   `json:"name"`
	Specialty       string   `json:"specialty"`
	ExperienceYears int      `json:"experienceYears"`
	Languages       []string `json:"languages"`
	Slots           []Slot   `json:"slots"`
}

// Catalog is read-only after load. Accessors return deep copies.
type Catalog struct {
	timezone string
	doctors  []Doctor
	byID     map[string]int
}

// DefaultCatalog parses the embedded fixture.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogJSON)
}

// LoadCatalog reads path, or the embedded fixture when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read doctor catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var raw struct {
		Timezone string   `json:"timezone"`
		Doctors  []Doctor `json:"doctors"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode doctor catalog: %w", err)
	}
	if len(raw.Doctors) == 0 {
		return nil, fmt.Errorf("doctor catalog must contain a non-empty doctors list")
	}

	c := &Catalog{
		timezone: strings.TrimSpace(raw.Timezone),
		doctors:  raw.Doctors,
		byID:     make(map[string]int, len(raw.Doctors)),
	}
	if c.timezone == "" {
		c.timezone = "UTC"
	}
	for i, d := range raw.Doctors {
		if err := validateDoctor(d); err != nil {
			return nil, err
		}
		if _, dup := c.byID[d.DoctorID]; dup {
			return nil, fmt.Errorf("duplicate doctor id %q", d.DoctorID)
		}
		c.byID[d.DoctorID] = i
	}
	return c, nil
}

func validateDoctor(d Doctor) error {
	switch {
	case strings.TrimSpace(d.DoctorID) == "":
		return fmt.Errorf("doctor entry missing required key: doctorId")
	case strings.TrimSpace(d.Name) == "":
		return fmt.Errorf("doctor %q missing required key: name", d.DoctorID)
	case strings.TrimSpace(d.Specialty) == "":
		return fmt.Errorf("doctor %q missing required key: specialty", d.DoctorID)
	case d.ExperienceYears < 0:
		return fmt.Errorf("doctor %q has negative experienceYears", d.DoctorID)
	case len(d.Slots) == 0:
		return fmt.Errorf("doctor %q must define at least one slot", d.DoctorID)
	}
	for _, s := range d.Slots {
		if s.SlotID == "" || s.StartISO == "" || s.DisplayLabel == "" || s.Timezone == "" {
			return fmt.Errorf("doctor %q has a slot missing slotId, startIso, displayLabel or timezone", d.DoctorID)
		}
	}
	return nil
}

func (c *Catalog) Timezone() string { return c.timezone }

func (c *Catalog) Has(doctorID string) bool {
	_, ok := c.byID[doctorID]
	return ok
}

func (c *Catalog) Doctor(doctorID string) (Doctor, bool) {
	i, ok := c.byID[doctorID]
	if !ok {
		return Doctor{}, false
	}
	var out Doctor
	if err := copier.CopyWithOption(&out, &c.doctors[i], copier.Option{DeepCopy: true}); err != nil {
		return Doctor{}, false
	}
	return out, true
}

func (c *Catalog) Doctors() []Doctor {
	var out []Doctor
	if err := copier.CopyWithOption(&out, &c.doctors, copier.Option{DeepCopy: true}); err != nil {
		return nil
	}
	return out
}
