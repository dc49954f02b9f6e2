// Package catalog holds the reference data the departments order from:
// lab tests and panels for the lab, drugs and prescription sets for the
// pharmacy. Catalog entries are read-mostly master data.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// LabTest is a single orderable laboratory test.
type LabTest struct {
	ID             uuid.UUID `json:"id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Unit           *string   `json:"unit,omitempty"`
	ReferenceRange *string   `json:"reference_range,omitempty"`
	Price          float64   `json:"price"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TestPanel groups lab tests that are commonly ordered together.
type TestPanel struct {
	ID        uuid.UUID   `json:"id"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	TestIDs   []uuid.UUID `json:"test_ids"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Drug is a single dispensable medication.
type Drug struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Form      *string   `json:"form,omitempty"`
	Strength  *string   `json:"strength,omitempty"`
	UnitPrice float64   `json:"unit_price"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PrescriptionSetItem is one drug with its default dose inside a set.
type PrescriptionSetItem struct {
	DrugID      uuid.UUID `json:"drug_id"`
	DefaultDose string    `json:"default_dose"`
}

// PrescriptionSet groups drugs that are commonly prescribed together.
type PrescriptionSet struct {
	ID        uuid.UUID             `json:"id"`
	Code      string                `json:"code"`
	Name      string                `json:"name"`
	Items     []PrescriptionSetItem `json:"items"`
	Active    bool                  `json:"active"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}
