package visit

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the storage contract for visits, their work items and
// status history. The transition methods (CompleteDepartment,
// SetRestrictions, ForceClose) and the work-item inserts perform their
// guard checks atomically with the state change, holding the visit row
// locked, and return *WorkflowError on a business rejection,
// ErrNotFound for an unknown visit.
type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	GetOpenByPatient(ctx context.Context, patientID uuid.UUID) (*Visit, error)
	List(ctx context.Context, limit, offset int) ([]*Visit, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Visit, int, error)

	CompleteDepartment(ctx context.Context, visitID uuid.UUID, dept Department, actor string) (*Visit, error)
	SetRestrictions(ctx context.Context, visitID uuid.UUID, labTestIDs, drugIDs []uuid.UUID, actor string) (*Visit, error)
	ForceClose(ctx context.Context, visitID uuid.UUID, actor string, reason *string) (*Visit, error)

	AddLabResult(ctx context.Context, lr *LabResult) error
	AddPrescription(ctx context.Context, p *Prescription) error
	AddDiagnosis(ctx context.Context, d *Diagnosis) error
	ListLabResults(ctx context.Context, visitID uuid.UUID) ([]*LabResult, error)
	ListPrescriptions(ctx context.Context, visitID uuid.UUID) ([]*Prescription, error)
	ListDiagnoses(ctx context.Context, visitID uuid.UUID) ([]*Diagnosis, error)
	CountWorkItems(ctx context.Context, visitID uuid.UUID, dept Department) (int, error)

	GetStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusHistory, error)
}
