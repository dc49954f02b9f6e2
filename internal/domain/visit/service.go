package visit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hims/hims/internal/platform/db"
)

// Notifier receives visit lifecycle events after they are committed.
// Implementations must not fail the workflow; delivery problems are
// theirs to log.
type Notifier interface {
	VisitOpened(ctx context.Context, recipient, patientName, visitNumber, date string)
	DepartmentCompleted(ctx context.Context, recipient, patientName, visitNumber, department string)
	VisitCompleted(ctx context.Context, recipient, patientName, visitNumber string)
	VisitClosed(ctx context.Context, recipient, patientName, visitNumber string)
}

// PatientInfo is the slice of patient data the engine needs for
// notifications.
type PatientInfo struct {
	Name  string
	Email string
}

// PatientDirectory resolves patient ids. Wired to the patient domain in
// the server; mocked in tests.
type PatientDirectory interface {
	PatientInfo(ctx context.Context, id uuid.UUID) (PatientInfo, error)
}

type Service struct {
	repo     Repository
	patients PatientDirectory
	notifier Notifier
	logger   zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SetNotifier attaches an optional Notifier to the service.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetPatientDirectory attaches an optional patient lookup used for
// notification addressing.
func (s *Service) SetPatientDirectory(d PatientDirectory) {
	s.patients = d
}

// CreateVisit opens a new visit for the patient. At most one visit per
// patient may be open at a time; the database enforces this with a
// partial unique index as a backstop for the lookup here.
func (s *Service) CreateVisit(ctx context.Context, patientID uuid.UUID, variant Variant) (*Visit, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if variant == "" {
		variant = VariantStandard
	}
	if variant != VariantStandard && variant != VariantDoctorDirected {
		return nil, fmt.Errorf("invalid variant: %s", variant)
	}

	if existing, err := s.repo.GetOpenByPatient(ctx, patientID); err == nil {
		return nil, errOpenVisitExists(existing)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	v := &Visit{
		PatientID: patientID,
		Variant:   variant,
		Status:    DeriveStatus(false, false, false),
	}
	if err := s.repo.Create(ctx, v); err != nil {
		if db.IsUniqueViolation(err) {
			// Lost the race to a concurrent CreateVisit.
			if existing, lookupErr := s.repo.GetOpenByPatient(ctx, patientID); lookupErr == nil {
				return nil, errOpenVisitExists(existing)
			}
			return nil, newWorkflowError(CodeOpenVisitExists, "patient already has an open visit")
		}
		return nil, err
	}

	s.logger.Info().
		Str("visit_id", v.ID.String()).
		Str("visit_number", v.VisitNumber).
		Str("patient_id", patientID.String()).
		Str("variant", string(variant)).
		Msg("visit opened")

	if s.notifier != nil {
		info := s.patientInfo(ctx, patientID)
		s.notifier.VisitOpened(ctx, info.Email, info.Name, v.VisitNumber, v.CreatedAt.Format(time.DateOnly))
	}
	return v, nil
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Detail, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	labResults, err := s.repo.ListLabResults(ctx, id)
	if err != nil {
		return nil, err
	}
	prescriptions, err := s.repo.ListPrescriptions(ctx, id)
	if err != nil {
		return nil, err
	}
	diagnoses, err := s.repo.ListDiagnoses(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.GetStatusHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{
		Visit:         v,
		LabResults:    labResults,
		Prescriptions: prescriptions,
		Diagnoses:     diagnoses,
		History:       history,
	}, nil
}

func (s *Service) ListVisits(ctx context.Context, limit, offset int) ([]*Visit, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListVisitsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListVisitsByStatus(ctx context.Context, status Status, limit, offset int) ([]*Visit, int, error) {
	return s.repo.ListByStatus(ctx, status, limit, offset)
}

// addItemGuard checks the preconditions for recording a work item in a
// department: visit not terminal, department flag still false, and the
// doctor-directed allow-lists permit the item. The repository runs it
// against a row-locked visit so the checks and the insert commit
// together.
func addItemGuard(v *Visit, dept Department, itemID *uuid.UUID) error {
	if v.Terminal() {
		return errTerminal(v)
	}
	if v.Done(dept) {
		return newWorkflowError(CodeDepartmentAlreadyComplete,
			fmt.Sprintf("%s already completed; its record set is frozen", dept))
	}
	return checkRestriction(v, dept, itemID)
}

// checkRestriction enforces the doctor-directed allow-lists for lab and
// pharmacy. Until the doctor records a selection both departments are
// blocked; after it, an empty per-department set means unrestricted.
func checkRestriction(v *Visit, dept Department, itemID *uuid.UUID) error {
	if v.Variant != VariantDoctorDirected || dept == DeptDoctor {
		return nil
	}
	if !v.SelectionMade() {
		return newWorkflowError(CodeRestrictedItem,
			fmt.Sprintf("%s is blocked until the doctor selects items for this visit", dept)).
			withDetail("department", dept)
	}

	var allowed []uuid.UUID
	if dept == DeptLab {
		allowed = v.RestrictedLabTestIDs
	} else {
		allowed = v.RestrictedDrugIDs
	}
	if len(allowed) == 0 {
		return nil
	}
	if itemID != nil {
		for _, id := range allowed {
			if id == *itemID {
				return nil
			}
		}
	}
	return newWorkflowError(CodeRestrictedItem,
		fmt.Sprintf("item is not on the doctor's %s selection for this visit", dept)).
		withDetail("department", dept)
}

func (s *Service) AddLabResult(ctx context.Context, visitID uuid.UUID, lr *LabResult) error {
	if lr.TestName == "" {
		return fmt.Errorf("test_name is required")
	}
	lr.VisitID = visitID
	return s.repo.AddLabResult(ctx, lr)
}

func (s *Service) AddPrescription(ctx context.Context, visitID uuid.UUID, p *Prescription) error {
	if p.DrugName == "" {
		return fmt.Errorf("drug_name is required")
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	p.VisitID = visitID
	return s.repo.AddPrescription(ctx, p)
}

func (s *Service) AddDiagnosis(ctx context.Context, visitID uuid.UUID, d *Diagnosis) error {
	if d.Summary == "" {
		return fmt.Errorf("summary is required")
	}
	d.VisitID = visitID
	return s.repo.AddDiagnosis(ctx, d)
}

// CompleteDepartment marks a department finished for the visit. The
// transition requires at least one recorded work item; the check is
// race-safe because work items are append-only until completion. A
// transient conflict gets one automatic retry before the error is
// surfaced.
func (s *Service) CompleteDepartment(ctx context.Context, visitID uuid.UUID, dept Department, actor string) (*Visit, error) {
	if !ValidDepartment(dept) {
		return nil, fmt.Errorf("unknown department: %s", dept)
	}
	if _, err := s.repo.GetByID(ctx, visitID); err != nil {
		return nil, err
	}

	count, err := s.repo.CountWorkItems(ctx, visitID, dept)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, newWorkflowError(CodeEmptyDepartment,
			fmt.Sprintf("cannot complete %s with no recorded work", dept)).
			withDetail("department", dept)
	}

	v, err := s.repo.CompleteDepartment(ctx, visitID, dept, actor)
	if db.IsSerializationFailure(err) {
		s.logger.Warn().Str("visit_id", visitID.String()).Str("department", string(dept)).
			Msg("serialization conflict on completion, retrying once")
		v, err = s.repo.CompleteDepartment(ctx, visitID, dept, actor)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("visit_id", v.ID.String()).
		Str("visit_number", v.VisitNumber).
		Str("department", string(dept)).
		Str("status", string(v.Status)).
		Str("actor", actor).
		Msg("department completed")

	if s.notifier != nil {
		info := s.patientInfo(ctx, v.PatientID)
		s.notifier.DepartmentCompleted(ctx, info.Email, info.Name, v.VisitNumber, string(dept))
		if v.Status == StatusCompleted {
			s.notifier.VisitCompleted(ctx, info.Email, info.Name, v.VisitNumber)
		}
	}
	return v, nil
}

// SelectDoctorDirectedItems records the one-time allow-lists on a
// doctor-directed visit. At least one id is required overall; an empty
// set for one department leaves that department unrestricted.
func (s *Service) SelectDoctorDirectedItems(ctx context.Context, visitID uuid.UUID, labTestIDs, drugIDs []uuid.UUID, actor string) (*Visit, error) {
	if len(labTestIDs) == 0 && len(drugIDs) == 0 {
		return nil, fmt.Errorf("selection requires at least one lab test or drug")
	}

	v, err := s.repo.SetRestrictions(ctx, visitID, labTestIDs, drugIDs, actor)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("visit_id", v.ID.String()).
		Int("lab_tests", len(labTestIDs)).
		Int("drugs", len(drugIDs)).
		Str("actor", actor).
		Msg("doctor selected items")
	return v, nil
}

// ForceClose moves a non-terminal visit to closed_incomplete without
// touching the completion flags.
func (s *Service) ForceClose(ctx context.Context, visitID uuid.UUID, actor string, reason *string) (*Visit, error) {
	v, err := s.repo.ForceClose(ctx, visitID, actor, reason)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("visit_id", v.ID.String()).
		Str("visit_number", v.VisitNumber).
		Str("actor", actor).
		Msg("visit force-closed")

	if s.notifier != nil {
		info := s.patientInfo(ctx, v.PatientID)
		s.notifier.VisitClosed(ctx, info.Email, info.Name, v.VisitNumber)
	}
	return v, nil
}

func (s *Service) ListLabResults(ctx context.Context, visitID uuid.UUID) ([]*LabResult, error) {
	if _, err := s.repo.GetByID(ctx, visitID); err != nil {
		return nil, err
	}
	return s.repo.ListLabResults(ctx, visitID)
}

func (s *Service) ListPrescriptions(ctx context.Context, visitID uuid.UUID) ([]*Prescription, error) {
	if _, err := s.repo.GetByID(ctx, visitID); err != nil {
		return nil, err
	}
	return s.repo.ListPrescriptions(ctx, visitID)
}

func (s *Service) ListDiagnoses(ctx context.Context, visitID uuid.UUID) ([]*Diagnosis, error) {
	if _, err := s.repo.GetByID(ctx, visitID); err != nil {
		return nil, err
	}
	return s.repo.ListDiagnoses(ctx, visitID)
}

func (s *Service) GetStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusHistory, error) {
	if _, err := s.repo.GetByID(ctx, visitID); err != nil {
		return nil, err
	}
	return s.repo.GetStatusHistory(ctx, visitID)
}

func (s *Service) patientInfo(ctx context.Context, patientID uuid.UUID) PatientInfo {
	if s.patients == nil {
		return PatientInfo{}
	}
	info, err := s.patients.PatientInfo(ctx, patientID)
	if err != nil {
		s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("patient lookup for notification failed")
		return PatientInfo{}
	}
	return info
}
