package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the storage contract for catalog reference data.
type Repository interface {
	CreateLabTest(ctx context.Context, t *LabTest) error
	GetLabTest(ctx context.Context, id uuid.UUID) (*LabTest, error)
	UpdateLabTest(ctx context.Context, t *LabTest) error
	ListLabTests(ctx context.Context, limit, offset int) ([]*LabTest, int, error)

	CreateTestPanel(ctx context.Context, p *TestPanel) error
	GetTestPanel(ctx context.Context, id uuid.UUID) (*TestPanel, error)
	ListTestPanels(ctx context.Context, limit, offset int) ([]*TestPanel, int, error)

	CreateDrug(ctx context.Context, d *Drug) error
	GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error)
	UpdateDrug(ctx context.Context, d *Drug) error
	ListDrugs(ctx context.Context, limit, offset int) ([]*Drug, int, error)

	CreatePrescriptionSet(ctx context.Context, s *PrescriptionSet) error
	GetPrescriptionSet(ctx context.Context, id uuid.UUID) (*PrescriptionSet, error)
	ListPrescriptionSets(ctx context.Context, limit, offset int) ([]*PrescriptionSet, int, error)
}
