// Package visit implements the front-desk visit workflow: a visit is
// routed through three independent departments (lab, pharmacy, doctor)
// and its status is derived from their completion flags.
package visit

import (
	"time"

	"github.com/google/uuid"
)

// Status is the derived lifecycle state of a visit.
type Status string

const (
	StatusPendingAll       Status = "pending_all"
	StatusPendingLab       Status = "pending_lab"
	StatusPendingPharmacy  Status = "pending_pharmacy"
	StatusPendingDoctor    Status = "pending_doctor"
	StatusCompleted        Status = "completed"
	StatusClosedIncomplete Status = "closed_incomplete"
)

// Terminal reports whether the status permits no further mutation.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusClosedIncomplete
}

// Department identifies one of the three fixed service points.
type Department string

const (
	DeptLab      Department = "lab"
	DeptPharmacy Department = "pharmacy"
	DeptDoctor   Department = "doctor"
)

// ValidDepartment reports whether d names one of the three departments.
func ValidDepartment(d Department) bool {
	return d == DeptLab || d == DeptPharmacy || d == DeptDoctor
}

// Variant distinguishes the two visit kinds.
type Variant string

const (
	VariantStandard       Variant = "standard"
	VariantDoctorDirected Variant = "doctor_directed"
)

// DeriveStatus computes the visit status from the three completion
// flags. It is the only way a non-terminal status is ever produced.
func DeriveStatus(lab, pharmacy, doctor bool) Status {
	if lab && pharmacy && doctor {
		return StatusCompleted
	}
	switch {
	case !lab && pharmacy && doctor:
		return StatusPendingLab
	case lab && !pharmacy && doctor:
		return StatusPendingPharmacy
	case lab && pharmacy && !doctor:
		return StatusPendingDoctor
	}
	return StatusPendingAll
}

// Visit is one patient encounter moving through the three departments.
// Visits are never physically deleted.
type Visit struct {
	ID                   uuid.UUID   `json:"id"`
	VisitNumber          string      `json:"visit_number"`
	PatientID            uuid.UUID   `json:"patient_id"`
	Variant              Variant     `json:"variant"`
	LabDone              bool        `json:"lab_done"`
	PharmacyDone         bool        `json:"pharmacy_done"`
	DoctorDone           bool        `json:"doctor_done"`
	Status               Status      `json:"status"`
	RestrictedLabTestIDs []uuid.UUID `json:"restricted_lab_test_ids,omitempty"`
	RestrictedDrugIDs    []uuid.UUID `json:"restricted_drug_ids,omitempty"`
	CloseReason          *string     `json:"close_reason,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// Terminal reports whether the visit is in a terminal state.
func (v *Visit) Terminal() bool {
	return v.Status.Terminal()
}

// Done returns the completion flag of the given department.
func (v *Visit) Done(d Department) bool {
	switch d {
	case DeptLab:
		return v.LabDone
	case DeptPharmacy:
		return v.PharmacyDone
	case DeptDoctor:
		return v.DoctorDone
	}
	return false
}

// SetDone flips the completion flag of the given department to true and
// recomputes the derived status. Flags only ever move false to true.
func (v *Visit) SetDone(d Department) {
	switch d {
	case DeptLab:
		v.LabDone = true
	case DeptPharmacy:
		v.PharmacyDone = true
	case DeptDoctor:
		v.DoctorDone = true
	}
	v.Status = DeriveStatus(v.LabDone, v.PharmacyDone, v.DoctorDone)
}

// SelectionMade reports whether the doctor has recorded the item
// selection on a doctor-directed visit. A selection requires at least
// one id, so a non-empty union is equivalent to "selection happened".
func (v *Visit) SelectionMade() bool {
	return len(v.RestrictedLabTestIDs) > 0 || len(v.RestrictedDrugIDs) > 0
}

// LabResult is a lab department work item.
type LabResult struct {
	ID         uuid.UUID  `json:"id"`
	VisitID    uuid.UUID  `json:"visit_id"`
	LabTestID  *uuid.UUID `json:"lab_test_id,omitempty"`
	TestName   string     `json:"test_name"`
	Value      string     `json:"value"`
	Unit       *string    `json:"unit,omitempty"`
	Flag       string     `json:"flag,omitempty"` // normal, abnormal
	RecordedBy string     `json:"recorded_by"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Prescription is a pharmacy department work item.
type Prescription struct {
	ID           uuid.UUID  `json:"id"`
	VisitID      uuid.UUID  `json:"visit_id"`
	DrugID       *uuid.UUID `json:"drug_id,omitempty"`
	DrugName     string     `json:"drug_name"`
	Dose         string     `json:"dose"`
	Quantity     int        `json:"quantity"`
	Instructions *string    `json:"instructions,omitempty"`
	DispensedBy  string     `json:"dispensed_by"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Diagnosis is a doctor department work item.
type Diagnosis struct {
	ID          uuid.UUID `json:"id"`
	VisitID     uuid.UUID `json:"visit_id"`
	ICDCode     *string   `json:"icd_code,omitempty"`
	Summary     string    `json:"summary"`
	Notes       *string   `json:"notes,omitempty"`
	DiagnosedBy string    `json:"diagnosed_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// StatusHistory is one append-only row of the visit's status trail.
type StatusHistory struct {
	ID        uuid.UUID `json:"id"`
	VisitID   uuid.UUID `json:"visit_id"`
	Status    Status    `json:"status"`
	Note      string    `json:"note,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Detail is a visit with its work items and history attached, as
// returned by the read endpoint.
type Detail struct {
	*Visit
	LabResults    []*LabResult     `json:"lab_results"`
	Prescriptions []*Prescription  `json:"prescriptions"`
	Diagnoses     []*Diagnosis     `json:"diagnoses"`
	History       []*StatusHistory `json:"history"`
}
