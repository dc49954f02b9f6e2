package visit

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Repository --

// mockRepo serializes transitions with a mutex the way the Postgres
// implementation serializes them with row locks.
type mockRepo struct {
	mu            sync.Mutex
	visits        map[uuid.UUID]*Visit
	labResults    map[uuid.UUID]*LabResult
	prescriptions map[uuid.UUID]*Prescription
	diagnoses     map[uuid.UUID]*Diagnosis
	history       []*StatusHistory
	visitSeq      int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		visits:        make(map[uuid.UUID]*Visit),
		labResults:    make(map[uuid.UUID]*LabResult),
		prescriptions: make(map[uuid.UUID]*Prescription),
		diagnoses:     make(map[uuid.UUID]*Diagnosis),
	}
}

func (m *mockRepo) Create(_ context.Context, v *Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.visits {
		if existing.PatientID == v.PatientID && !existing.Terminal() {
			return fmt.Errorf("duplicate open visit")
		}
	}
	m.visitSeq++
	v.ID = uuid.New()
	v.VisitNumber = fmt.Sprintf("V-%06d", m.visitSeq)
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	m.visits[v.ID] = v
	m.history = append(m.history, &StatusHistory{
		ID: uuid.New(), VisitID: v.ID, Status: v.Status, Note: "visit opened", CreatedAt: time.Now(),
	})
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *mockRepo) GetOpenByPatient(_ context.Context, patientID uuid.UUID) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.visits {
		if v.PatientID == patientID && !v.Terminal() {
			cp := *v
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Visit, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Visit
	for _, v := range m.visits {
		result = append(result, v)
	}
	return result, len(result), nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Visit
	for _, v := range m.visits {
		if v.PatientID == patientID {
			result = append(result, v)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) ListByStatus(_ context.Context, status Status, limit, offset int) ([]*Visit, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Visit
	for _, v := range m.visits {
		if v.Status == status {
			result = append(result, v)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) CompleteDepartment(_ context.Context, visitID uuid.UUID, dept Department, actor string) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[visitID]
	if !ok {
		return nil, ErrNotFound
	}
	if v.Terminal() {
		return nil, errTerminal(v)
	}
	if v.Done(dept) {
		return nil, newWorkflowError(CodeAlreadyCompleted, fmt.Sprintf("%s already completed for this visit", dept))
	}
	v.SetDone(dept)
	v.UpdatedAt = time.Now()
	m.history = append(m.history, &StatusHistory{
		ID: uuid.New(), VisitID: v.ID, Status: v.Status, Note: string(dept) + " completed", Actor: actor, CreatedAt: time.Now(),
	})
	cp := *v
	return &cp, nil
}

func (m *mockRepo) SetRestrictions(_ context.Context, visitID uuid.UUID, labTestIDs, drugIDs []uuid.UUID, actor string) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[visitID]
	if !ok {
		return nil, ErrNotFound
	}
	if v.Terminal() {
		return nil, errTerminal(v)
	}
	if v.Variant != VariantDoctorDirected {
		return nil, newWorkflowError(CodeNotDoctorDirected, "item selection only applies to doctor-directed visits")
	}
	if v.SelectionMade() {
		return nil, newWorkflowError(CodeAlreadySelected, "items were already selected for this visit")
	}
	v.RestrictedLabTestIDs = labTestIDs
	v.RestrictedDrugIDs = drugIDs
	v.UpdatedAt = time.Now()
	m.history = append(m.history, &StatusHistory{
		ID: uuid.New(), VisitID: v.ID, Status: v.Status, Note: "doctor selected items", Actor: actor, CreatedAt: time.Now(),
	})
	cp := *v
	return &cp, nil
}

func (m *mockRepo) ForceClose(_ context.Context, visitID uuid.UUID, actor string, reason *string) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[visitID]
	if !ok {
		return nil, ErrNotFound
	}
	if v.Terminal() {
		return nil, errTerminal(v)
	}
	v.Status = StatusClosedIncomplete
	v.CloseReason = reason
	v.UpdatedAt = time.Now()
	m.history = append(m.history, &StatusHistory{
		ID: uuid.New(), VisitID: v.ID, Status: v.Status, Note: "visit force-closed", Actor: actor, CreatedAt: time.Now(),
	})
	cp := *v
	return &cp, nil
}

func (m *mockRepo) AddLabResult(_ context.Context, lr *LabResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[lr.VisitID]
	if !ok {
		return ErrNotFound
	}
	if err := addItemGuard(v, DeptLab, lr.LabTestID); err != nil {
		return err
	}
	lr.ID = uuid.New()
	lr.CreatedAt = time.Now()
	m.labResults[lr.ID] = lr
	return nil
}

func (m *mockRepo) AddPrescription(_ context.Context, p *Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[p.VisitID]
	if !ok {
		return ErrNotFound
	}
	if err := addItemGuard(v, DeptPharmacy, p.DrugID); err != nil {
		return err
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	m.prescriptions[p.ID] = p
	return nil
}

func (m *mockRepo) AddDiagnosis(_ context.Context, d *Diagnosis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[d.VisitID]
	if !ok {
		return ErrNotFound
	}
	if err := addItemGuard(v, DeptDoctor, nil); err != nil {
		return err
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	m.diagnoses[d.ID] = d
	return nil
}

func (m *mockRepo) ListLabResults(_ context.Context, visitID uuid.UUID) ([]*LabResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*LabResult
	for _, lr := range m.labResults {
		if lr.VisitID == visitID {
			result = append(result, lr)
		}
	}
	return result, nil
}

func (m *mockRepo) ListPrescriptions(_ context.Context, visitID uuid.UUID) ([]*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Prescription
	for _, p := range m.prescriptions {
		if p.VisitID == visitID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *mockRepo) ListDiagnoses(_ context.Context, visitID uuid.UUID) ([]*Diagnosis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Diagnosis
	for _, d := range m.diagnoses {
		if d.VisitID == visitID {
			result = append(result, d)
		}
	}
	return result, nil
}

func (m *mockRepo) CountWorkItems(ctx context.Context, visitID uuid.UUID, dept Department) (int, error) {
	switch dept {
	case DeptLab:
		items, _ := m.ListLabResults(ctx, visitID)
		return len(items), nil
	case DeptPharmacy:
		items, _ := m.ListPrescriptions(ctx, visitID)
		return len(items), nil
	case DeptDoctor:
		items, _ := m.ListDiagnoses(ctx, visitID)
		return len(items), nil
	}
	return 0, fmt.Errorf("unknown department: %s", dept)
}

func (m *mockRepo) GetStatusHistory(_ context.Context, visitID uuid.UUID) ([]*StatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*StatusHistory
	for _, sh := range m.history {
		if sh.VisitID == visitID {
			result = append(result, sh)
		}
	}
	return result, nil
}

// -- Helpers --

func testService() (*Service, *mockRepo) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.New(os.Stderr).Level(zerolog.Disabled))
	return svc, repo
}

func mustCreate(t *testing.T, svc *Service, variant Variant) *Visit {
	t.Helper()
	v, err := svc.CreateVisit(context.Background(), uuid.New(), variant)
	if err != nil {
		t.Fatalf("create visit: %v", err)
	}
	return v
}

func addLab(t *testing.T, svc *Service, visitID uuid.UUID) {
	t.Helper()
	err := svc.AddLabResult(context.Background(), visitID, &LabResult{TestName: "CBC", Value: "ok", RecordedBy: "tech"})
	if err != nil {
		t.Fatalf("add lab result: %v", err)
	}
}

func addRx(t *testing.T, svc *Service, visitID uuid.UUID) {
	t.Helper()
	err := svc.AddPrescription(context.Background(), visitID, &Prescription{DrugName: "Amoxicillin", Dose: "500mg", Quantity: 21, DispensedBy: "pharm"})
	if err != nil {
		t.Fatalf("add prescription: %v", err)
	}
}

func addDx(t *testing.T, svc *Service, visitID uuid.UUID) {
	t.Helper()
	err := svc.AddDiagnosis(context.Background(), visitID, &Diagnosis{Summary: "acute pharyngitis", DiagnosedBy: "doc"})
	if err != nil {
		t.Fatalf("add diagnosis: %v", err)
	}
}

func complete(t *testing.T, svc *Service, visitID uuid.UUID, dept Department) *Visit {
	t.Helper()
	v, err := svc.CompleteDepartment(context.Background(), visitID, dept, "tester")
	if err != nil {
		t.Fatalf("complete %s: %v", dept, err)
	}
	return v
}

// -- Creation --

func TestCreateVisit(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantStandard)

	if v.Status != StatusPendingAll {
		t.Errorf("status = %s, want %s", v.Status, StatusPendingAll)
	}
	if v.LabDone || v.PharmacyDone || v.DoctorDone {
		t.Error("expected all flags false on a new visit")
	}
	if v.VisitNumber != "V-000001" {
		t.Errorf("visit number = %q, want V-000001", v.VisitNumber)
	}

	history, err := svc.GetStatusHistory(context.Background(), v.ID)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected 1 opening history row, got %d (err %v)", len(history), err)
	}
}

func TestCreateVisit_DefaultsToStandard(t *testing.T) {
	svc, _ := testService()
	v, err := svc.CreateVisit(context.Background(), uuid.New(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Variant != VariantStandard {
		t.Errorf("variant = %s, want standard", v.Variant)
	}
}

func TestCreateVisit_InvalidVariant(t *testing.T) {
	svc, _ := testService()
	if _, err := svc.CreateVisit(context.Background(), uuid.New(), "walk_in"); err == nil {
		t.Error("expected error for invalid variant")
	}
}

func TestCreateVisit_OpenVisitExists(t *testing.T) {
	svc, _ := testService()
	patientID := uuid.New()

	first, err := svc.CreateVisit(context.Background(), patientID, VariantStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.CreateVisit(context.Background(), patientID, VariantStandard)
	if !IsCode(err, CodeOpenVisitExists) {
		t.Fatalf("expected open_visit_exists, got %v", err)
	}
	we := err.(*WorkflowError)
	if we.Details["visit_id"] != first.ID {
		t.Errorf("expected existing visit id in details, got %v", we.Details["visit_id"])
	}
	if we.Details["visit_number"] != first.VisitNumber {
		t.Errorf("expected existing visit number in details, got %v", we.Details["visit_number"])
	}
}

func TestCreateVisit_AllowedAfterTerminal(t *testing.T) {
	svc, _ := testService()
	patientID := uuid.New()

	v, err := svc.CreateVisit(context.Background(), patientID, VariantStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.ForceClose(context.Background(), v.ID, "frontdesk", nil); err != nil {
		t.Fatalf("force close: %v", err)
	}

	if _, err := svc.CreateVisit(context.Background(), patientID, VariantStandard); err != nil {
		t.Errorf("expected new visit after close, got %v", err)
	}
}

// -- Standard happy path --

func TestStandardVisit_FullFlow(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantStandard)

	addLab(t, svc, v.ID)
	got := complete(t, svc, v.ID, DeptLab)
	if got.Status != StatusPendingAll {
		t.Errorf("after lab: status = %s, want pending_all", got.Status)
	}

	addRx(t, svc, v.ID)
	got = complete(t, svc, v.ID, DeptPharmacy)
	if got.Status != StatusPendingDoctor {
		t.Errorf("after lab+pharmacy: status = %s, want pending_doctor", got.Status)
	}

	addDx(t, svc, v.ID)
	got = complete(t, svc, v.ID, DeptDoctor)
	if got.Status != StatusCompleted {
		t.Errorf("final status = %s, want completed", got.Status)
	}
	if !got.LabDone || !got.PharmacyDone || !got.DoctorDone {
		t.Error("expected all flags true on completion")
	}

	history, _ := svc.GetStatusHistory(context.Background(), v.ID)
	if len(history) != 4 {
		t.Errorf("history rows = %d, want 4 (open + 3 completions)", len(history))
	}
}

func TestCompleteDepartment_OrderIndependent(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantStandard)

	addDx(t, svc, v.ID)
	got := complete(t, svc, v.ID, DeptDoctor)
	if got.Status != StatusPendingAll {
		t.Errorf("after doctor only: status = %s, want pending_all", got.Status)
	}

	addLab(t, svc, v.ID)
	got = complete(t, svc, v.ID, DeptLab)
	if got.Status != StatusPendingPharmacy {
		t.Errorf("after doctor+lab: status = %s, want pending_pharmacy", got.Status)
	}
}

// -- Guards --

func TestCompleteDepartment_EmptyDepartment(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantStandard)

	_, err := svc.CompleteDepartment(context.Background(), v.ID, DeptLab, "tech")
	if !IsCode(err, CodeEmptyDepartment) {
		t.Errorf("expected empty_department, got %v", err)
	}
}

func TestCompleteDepartment_AlreadyCompleted(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantStandard)

	addLab(t, svc, v.ID)
	complete(t, svc, v.ID, DeptLab)

	_, err := svc.CompleteDepartment(context.Background(), v.ID, DeptLab, "tech")
	if !IsCode(err, CodeAlreadyCompleted) {
		t.Errorf("expected already_completed, got %v", err)
	}
}

func TestCompleteDepartment_UnknownVisit(t *testing.T) {
	svc, _ := testService()
	_, err := svc.CompleteDepartment(context.Background(), uuid.New(), DeptLab, "tech")
	if err == nil {
		t.Error("expected error for unknown visit")
	}
}

func TestAddWorkItem_AfterDepartmentComplete(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantStandard)

	addLab(t, svc, v.ID)
	complete(t, svc, v.ID, DeptLab)

	err := svc.AddLabResult(context.Background(), v.ID, &LabResult{TestName: "HbA1c", Value: "5.1"})
	if !IsCode(err, CodeDepartmentAlreadyComplete) {
		t.Errorf("expected department_already_complete, got %v", err)
	}
}

func TestTerminalVisit_RejectsAllMutation(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantStandard)
	addLab(t, svc, v.ID)
	if _, err := svc.ForceClose(context.Background(), v.ID, "frontdesk", nil); err != nil {
		t.Fatalf("force close: %v", err)
	}

	if err := svc.AddLabResult(context.Background(), v.ID, &LabResult{TestName: "X", Value: "1"}); !IsCode(err, CodeVisitTerminal) {
		t.Errorf("add after close: expected visit_terminal, got %v", err)
	}
	if _, err := svc.CompleteDepartment(context.Background(), v.ID, DeptLab, "tech"); !IsCode(err, CodeVisitTerminal) {
		t.Errorf("complete after close: expected visit_terminal, got %v", err)
	}
	if _, err := svc.ForceClose(context.Background(), v.ID, "frontdesk", nil); !IsCode(err, CodeVisitTerminal) {
		t.Errorf("double close: expected visit_terminal, got %v", err)
	}
}

// interposingRepo runs a hook right before a lab result insert reaches
// the store, simulating a transition that commits just ahead of the
// insert's lock acquisition.
type interposingRepo struct {
	*mockRepo
	beforeAdd func(ctx context.Context, visitID uuid.UUID)
}

func (r *interposingRepo) AddLabResult(ctx context.Context, lr *LabResult) error {
	if r.beforeAdd != nil {
		r.beforeAdd(ctx, lr.VisitID)
	}
	return r.mockRepo.AddLabResult(ctx, lr)
}

func TestAddWorkItem_CloseLandsBeforeInsert(t *testing.T) {
	repo := &interposingRepo{mockRepo: newMockRepo()}
	svc := NewService(repo, zerolog.New(os.Stderr).Level(zerolog.Disabled))
	v := mustCreate(t, svc, VariantStandard)

	repo.beforeAdd = func(ctx context.Context, visitID uuid.UUID) {
		_, _ = repo.mockRepo.ForceClose(ctx, visitID, "frontdesk", nil)
	}

	err := svc.AddLabResult(context.Background(), v.ID, &LabResult{TestName: "CBC", Value: "ok"})
	if !IsCode(err, CodeVisitTerminal) {
		t.Errorf("add racing a close: expected visit_terminal, got %v", err)
	}
	items, _ := repo.ListLabResults(context.Background(), v.ID)
	if len(items) != 0 {
		t.Errorf("work items on closed visit = %d, want 0", len(items))
	}
}

func TestAddWorkItem_CompletionLandsBeforeInsert(t *testing.T) {
	repo := &interposingRepo{mockRepo: newMockRepo()}
	svc := NewService(repo, zerolog.New(os.Stderr).Level(zerolog.Disabled))
	v := mustCreate(t, svc, VariantStandard)
	addLab(t, svc, v.ID)

	repo.beforeAdd = func(ctx context.Context, visitID uuid.UUID) {
		_, _ = repo.mockRepo.CompleteDepartment(ctx, visitID, DeptLab, "tech")
	}

	err := svc.AddLabResult(context.Background(), v.ID, &LabResult{TestName: "HbA1c", Value: "5.1"})
	if !IsCode(err, CodeDepartmentAlreadyComplete) {
		t.Errorf("add racing a completion: expected department_already_complete, got %v", err)
	}
	items, _ := repo.ListLabResults(context.Background(), v.ID)
	if len(items) != 1 {
		t.Errorf("work items after frozen-department add = %d, want 1", len(items))
	}
}

func TestForceClose_KeepsFlags(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantStandard)
	addLab(t, svc, v.ID)
	complete(t, svc, v.ID, DeptLab)

	reason := "patient left"
	closed, err := svc.ForceClose(context.Background(), v.ID, "frontdesk", &reason)
	if err != nil {
		t.Fatalf("force close: %v", err)
	}
	if closed.Status != StatusClosedIncomplete {
		t.Errorf("status = %s, want closed_incomplete", closed.Status)
	}
	if !closed.LabDone {
		t.Error("expected lab flag preserved through close")
	}
	if closed.CloseReason == nil || *closed.CloseReason != reason {
		t.Errorf("close reason not recorded: %v", closed.CloseReason)
	}
}

// -- Doctor-directed visits --

func TestDoctorDirected_BlockedBeforeSelection(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantDoctorDirected)

	err := svc.AddLabResult(context.Background(), v.ID, &LabResult{TestName: "CBC", Value: "ok"})
	if !IsCode(err, CodeRestrictedItem) {
		t.Errorf("lab before selection: expected restricted_item, got %v", err)
	}
	err = svc.AddPrescription(context.Background(), v.ID, &Prescription{DrugName: "Amoxicillin", Dose: "500mg", Quantity: 1})
	if !IsCode(err, CodeRestrictedItem) {
		t.Errorf("pharmacy before selection: expected restricted_item, got %v", err)
	}
}

func TestDoctorDirected_DiagnosisBypassesSelection(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantDoctorDirected)

	// The doctor can always work; only lab and pharmacy wait for the
	// selection.
	addDx(t, svc, v.ID)
	got := complete(t, svc, v.ID, DeptDoctor)
	if !got.DoctorDone {
		t.Error("expected doctor completion without selection")
	}
}

func TestDoctorDirected_SelectionEnforced(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantDoctorDirected)

	allowedTest := uuid.New()
	allowedDrug := uuid.New()
	if _, err := svc.SelectDoctorDirectedItems(context.Background(), v.ID, []uuid.UUID{allowedTest}, []uuid.UUID{allowedDrug}, "doc"); err != nil {
		t.Fatalf("select items: %v", err)
	}

	// On the list: allowed.
	if err := svc.AddLabResult(context.Background(), v.ID, &LabResult{TestName: "CBC", Value: "ok", LabTestID: &allowedTest}); err != nil {
		t.Errorf("allowed lab test rejected: %v", err)
	}

	// Off the list: rejected.
	otherTest := uuid.New()
	err := svc.AddLabResult(context.Background(), v.ID, &LabResult{TestName: "TSH", Value: "2.1", LabTestID: &otherTest})
	if !IsCode(err, CodeRestrictedItem) {
		t.Errorf("off-list lab test: expected restricted_item, got %v", err)
	}

	// Free-text item without a catalog id cannot be verified against a
	// non-empty allow-list.
	err = svc.AddPrescription(context.Background(), v.ID, &Prescription{DrugName: "Mystery Syrup", Dose: "5ml", Quantity: 1})
	if !IsCode(err, CodeRestrictedItem) {
		t.Errorf("free-text drug with allow-list: expected restricted_item, got %v", err)
	}
	if err := svc.AddPrescription(context.Background(), v.ID, &Prescription{DrugName: "Amoxicillin", Dose: "500mg", Quantity: 21, DrugID: &allowedDrug}); err != nil {
		t.Errorf("allowed drug rejected: %v", err)
	}
}

func TestDoctorDirected_EmptySetMeansUnrestricted(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantDoctorDirected)

	// Lab tests selected, no drugs: pharmacy is unrestricted.
	if _, err := svc.SelectDoctorDirectedItems(context.Background(), v.ID, []uuid.UUID{uuid.New()}, nil, "doc"); err != nil {
		t.Fatalf("select items: %v", err)
	}
	if err := svc.AddPrescription(context.Background(), v.ID, &Prescription{DrugName: "Anything", Dose: "1", Quantity: 1}); err != nil {
		t.Errorf("unrestricted pharmacy rejected: %v", err)
	}
}

func TestSelectItems_OnlyOnce(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantDoctorDirected)

	if _, err := svc.SelectDoctorDirectedItems(context.Background(), v.ID, []uuid.UUID{uuid.New()}, nil, "doc"); err != nil {
		t.Fatalf("first selection: %v", err)
	}
	_, err := svc.SelectDoctorDirectedItems(context.Background(), v.ID, []uuid.UUID{uuid.New()}, nil, "doc")
	if !IsCode(err, CodeAlreadySelected) {
		t.Errorf("second selection: expected already_selected, got %v", err)
	}
}

func TestSelectItems_RequiresDoctorDirected(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantStandard)

	_, err := svc.SelectDoctorDirectedItems(context.Background(), v.ID, []uuid.UUID{uuid.New()}, nil, "doc")
	if !IsCode(err, CodeNotDoctorDirected) {
		t.Errorf("expected not_doctor_directed, got %v", err)
	}
}

func TestSelectItems_RequiresInput(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantDoctorDirected)

	if _, err := svc.SelectDoctorDirectedItems(context.Background(), v.ID, nil, nil, "doc"); err == nil {
		t.Error("expected error for empty selection")
	}
}

// -- Concurrency --

func TestConcurrentCompletion_SameDepartment(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantStandard)
	addLab(t, svc, v.ID)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CompleteDepartment(context.Background(), v.ID, DeptLab, "tech")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflict int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case IsCode(err, CodeAlreadyCompleted):
			conflict++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("successes = %d, want exactly 1", ok)
	}
	if conflict != n-1 {
		t.Errorf("conflicts = %d, want %d", conflict, n-1)
	}
}

func TestConcurrentCompletion_DifferentDepartments(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantStandard)
	addLab(t, svc, v.ID)
	addRx(t, svc, v.ID)
	addDx(t, svc, v.ID)

	depts := []Department{DeptLab, DeptPharmacy, DeptDoctor}
	var wg sync.WaitGroup
	errs := make(chan error, len(depts))
	for _, d := range depts {
		wg.Add(1)
		go func(dept Department) {
			defer wg.Done()
			_, err := svc.CompleteDepartment(context.Background(), v.ID, dept, "tester")
			errs <- err
		}(d)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}

	final, err := svc.GetVisit(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("get visit: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Errorf("final status = %s, want completed", final.Status)
	}

	// Every concurrent completion must leave its own history row.
	if len(final.History) != 4 {
		t.Errorf("history rows = %d, want 4 (open + 3 completions)", len(final.History))
	}
	completions := 0
	for _, sh := range final.History {
		if strings.HasSuffix(sh.Note, " completed") {
			completions++
		}
	}
	if completions != 3 {
		t.Errorf("completion history rows = %d, want 3", completions)
	}
}

// -- Notifications --

type recordedNotification struct {
	kind        string
	visitNumber string
	department  string
}

type mockNotifier struct {
	mu     sync.Mutex
	events []recordedNotification
}

func (n *mockNotifier) record(kind, visitNumber, department string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedNotification{kind, visitNumber, department})
}

func (n *mockNotifier) VisitOpened(_ context.Context, _, _, visitNumber, _ string) {
	n.record("opened", visitNumber, "")
}

func (n *mockNotifier) DepartmentCompleted(_ context.Context, _, _, visitNumber, department string) {
	n.record("department", visitNumber, department)
}

func (n *mockNotifier) VisitCompleted(_ context.Context, _, _, visitNumber string) {
	n.record("completed", visitNumber, "")
}

func (n *mockNotifier) VisitClosed(_ context.Context, _, _, visitNumber string) {
	n.record("closed", visitNumber, "")
}

func TestNotifications_LifecycleEvents(t *testing.T) {
	svc, _ := testService()
	notifier := &mockNotifier{}
	svc.SetNotifier(notifier)

	v := mustCreate(t, svc, VariantStandard)
	addLab(t, svc, v.ID)
	addRx(t, svc, v.ID)
	addDx(t, svc, v.ID)
	complete(t, svc, v.ID, DeptLab)
	complete(t, svc, v.ID, DeptPharmacy)
	complete(t, svc, v.ID, DeptDoctor)

	// opened + 3 department events + completed
	if len(notifier.events) != 5 {
		t.Fatalf("events = %d, want 5: %+v", len(notifier.events), notifier.events)
	}
	last := notifier.events[len(notifier.events)-1]
	if last.kind != "completed" {
		t.Errorf("last event = %s, want completed", last.kind)
	}
}

func TestNotifications_ForceClose(t *testing.T) {
	svc, _ := testService()
	notifier := &mockNotifier{}
	svc.SetNotifier(notifier)

	v := mustCreate(t, svc, VariantStandard)
	if _, err := svc.ForceClose(context.Background(), v.ID, "frontdesk", nil); err != nil {
		t.Fatalf("force close: %v", err)
	}

	if len(notifier.events) != 2 || notifier.events[1].kind != "closed" {
		t.Errorf("expected opened+closed events, got %+v", notifier.events)
	}
}

// -- Reads --

func TestGetVisit_Detail(t *testing.T) {
	svc, _ := testService()
	v := mustCreate(t, svc, VariantStandard)
	addLab(t, svc, v.ID)
	addRx(t, svc, v.ID)
	addDx(t, svc, v.ID)

	detail, err := svc.GetVisit(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("get visit: %v", err)
	}
	if len(detail.LabResults) != 1 || len(detail.Prescriptions) != 1 || len(detail.Diagnoses) != 1 {
		t.Errorf("work items = %d/%d/%d, want 1/1/1",
			len(detail.LabResults), len(detail.Prescriptions), len(detail.Diagnoses))
	}
	if len(detail.History) != 1 {
		t.Errorf("history rows = %d, want 1", len(detail.History))
	}
}

func TestGetVisit_NotFound(t *testing.T) {
	svc, _ := testService()
	_, err := svc.GetVisit(context.Background(), uuid.New())
	if err == nil {
		t.Error("expected error for unknown visit")
	}
}
