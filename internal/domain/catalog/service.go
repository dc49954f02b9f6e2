package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateLabTest(ctx context.Context, t *LabTest) error {
	if t.Code == "" {
		return fmt.Errorf("code is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	t.Active = true
	return s.repo.CreateLabTest(ctx, t)
}

func (s *Service) GetLabTest(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	return s.repo.GetLabTest(ctx, id)
}

func (s *Service) UpdateLabTest(ctx context.Context, t *LabTest) error {
	if t.Code == "" || t.Name == "" {
		return fmt.Errorf("code and name are required")
	}
	return s.repo.UpdateLabTest(ctx, t)
}

func (s *Service) ListLabTests(ctx context.Context, limit, offset int) ([]*LabTest, int, error) {
	return s.repo.ListLabTests(ctx, limit, offset)
}

// CreateTestPanel validates that every member test exists before saving.
func (s *Service) CreateTestPanel(ctx context.Context, p *TestPanel) error {
	if p.Code == "" || p.Name == "" {
		return fmt.Errorf("code and name are required")
	}
	if len(p.TestIDs) == 0 {
		return fmt.Errorf("a panel needs at least one test")
	}
	for _, id := range p.TestIDs {
		if _, err := s.repo.GetLabTest(ctx, id); err != nil {
			return fmt.Errorf("unknown lab test %s: %w", id, err)
		}
	}
	p.Active = true
	return s.repo.CreateTestPanel(ctx, p)
}

func (s *Service) GetTestPanel(ctx context.Context, id uuid.UUID) (*TestPanel, error) {
	return s.repo.GetTestPanel(ctx, id)
}

func (s *Service) ListTestPanels(ctx context.Context, limit, offset int) ([]*TestPanel, int, error) {
	return s.repo.ListTestPanels(ctx, limit, offset)
}

func (s *Service) CreateDrug(ctx context.Context, d *Drug) error {
	if d.Code == "" {
		return fmt.Errorf("code is required")
	}
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	d.Active = true
	return s.repo.CreateDrug(ctx, d)
}

func (s *Service) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return s.repo.GetDrug(ctx, id)
}

func (s *Service) UpdateDrug(ctx context.Context, d *Drug) error {
	if d.Code == "" || d.Name == "" {
		return fmt.Errorf("code and name are required")
	}
	return s.repo.UpdateDrug(ctx, d)
}

func (s *Service) ListDrugs(ctx context.Context, limit, offset int) ([]*Drug, int, error) {
	return s.repo.ListDrugs(ctx, limit, offset)
}

// CreatePrescriptionSet validates that every member drug exists before saving.
func (s *Service) CreatePrescriptionSet(ctx context.Context, set *PrescriptionSet) error {
	if set.Code == "" || set.Name == "" {
		return fmt.Errorf("code and name are required")
	}
	if len(set.Items) == 0 {
		return fmt.Errorf("a prescription set needs at least one drug")
	}
	for _, item := range set.Items {
		if _, err := s.repo.GetDrug(ctx, item.DrugID); err != nil {
			return fmt.Errorf("unknown drug %s: %w", item.DrugID, err)
		}
	}
	set.Active = true
	return s.repo.CreatePrescriptionSet(ctx, set)
}

func (s *Service) GetPrescriptionSet(ctx context.Context, id uuid.UUID) (*PrescriptionSet, error) {
	return s.repo.GetPrescriptionSet(ctx, id)
}

func (s *Service) ListPrescriptionSets(ctx context.Context, limit, offset int) ([]*PrescriptionSet, int, error) {
	return s.repo.ListPrescriptionSets(ctx, limit, offset)
}
