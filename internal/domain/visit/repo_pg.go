package visit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hims/hims/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const visitCols = `id, visit_number, patient_id, variant, lab_done, pharmacy_done, doctor_done,
	status, restricted_lab_test_ids, restricted_drug_ids, close_reason, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		var seq int64
		if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('visit_number_seq')`).Scan(&seq); err != nil {
			return fmt.Errorf("allocate visit number: %w", err)
		}
		v.ID = uuid.New()
		v.VisitNumber = fmt.Sprintf("V-%06d", seq)

		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO visit (id, visit_number, patient_id, variant, status)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING created_at, updated_at`,
			v.ID, v.VisitNumber, v.PatientID, v.Variant, v.Status,
		).Scan(&v.CreatedAt, &v.UpdatedAt)
		if err != nil {
			return err
		}
		return r.addHistory(ctx, v.ID, v.Status, "visit opened", "")
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *repoPG) GetOpenByPatient(ctx context.Context, patientID uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, `
		SELECT `+visitCols+` FROM visit
		WHERE patient_id = $1 AND status NOT IN ('completed','closed_incomplete')`,
		patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visit`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+visitCols+` FROM visit ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectVisits(rows, total)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visit WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visit WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectVisits(rows, total)
}

func (r *repoPG) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visit WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visit WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectVisits(rows, total)
}

// getForUpdate row-locks the visit for the duration of the enclosing
// transaction so concurrent transitions serialize.
func (r *repoPG) getForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *repoPG) CompleteDepartment(ctx context.Context, visitID uuid.UUID, dept Department, actor string) (*Visit, error) {
	var out *Visit
	err := db.InTx(ctx, r.pool, func(ctx context.Context) error {
		v, err := r.getForUpdate(ctx, visitID)
		if err != nil {
			return err
		}
		if v.Terminal() {
			return errTerminal(v)
		}
		if v.Done(dept) {
			return newWorkflowError(CodeAlreadyCompleted, fmt.Sprintf("%s already completed for this visit", dept))
		}

		v.SetDone(dept)
		err = r.conn(ctx).QueryRow(ctx, `
			UPDATE visit SET lab_done=$2, pharmacy_done=$3, doctor_done=$4, status=$5, updated_at=NOW()
			WHERE id = $1
			RETURNING updated_at`,
			v.ID, v.LabDone, v.PharmacyDone, v.DoctorDone, v.Status,
		).Scan(&v.UpdatedAt)
		if err != nil {
			return err
		}
		if err := r.addHistory(ctx, v.ID, v.Status, string(dept)+" completed", actor); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *repoPG) SetRestrictions(ctx context.Context, visitID uuid.UUID, labTestIDs, drugIDs []uuid.UUID, actor string) (*Visit, error) {
	var out *Visit
	err := db.InTx(ctx, r.pool, func(ctx context.Context) error {
		v, err := r.getForUpdate(ctx, visitID)
		if err != nil {
			return err
		}
		if v.Terminal() {
			return errTerminal(v)
		}
		if v.Variant != VariantDoctorDirected {
			return newWorkflowError(CodeNotDoctorDirected, "item selection only applies to doctor-directed visits")
		}
		if v.SelectionMade() {
			return newWorkflowError(CodeAlreadySelected, "items were already selected for this visit")
		}

		v.RestrictedLabTestIDs = labTestIDs
		v.RestrictedDrugIDs = drugIDs
		err = r.conn(ctx).QueryRow(ctx, `
			UPDATE visit SET restricted_lab_test_ids=$2, restricted_drug_ids=$3, updated_at=NOW()
			WHERE id = $1
			RETURNING updated_at`,
			v.ID, labTestIDs, drugIDs,
		).Scan(&v.UpdatedAt)
		if err != nil {
			return err
		}
		if err := r.addHistory(ctx, v.ID, v.Status, "doctor selected items", actor); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *repoPG) ForceClose(ctx context.Context, visitID uuid.UUID, actor string, reason *string) (*Visit, error) {
	var out *Visit
	err := db.InTx(ctx, r.pool, func(ctx context.Context) error {
		v, err := r.getForUpdate(ctx, visitID)
		if err != nil {
			return err
		}
		if v.Terminal() {
			return errTerminal(v)
		}

		v.Status = StatusClosedIncomplete
		v.CloseReason = reason
		err = r.conn(ctx).QueryRow(ctx, `
			UPDATE visit SET status=$2, close_reason=$3, updated_at=NOW()
			WHERE id = $1
			RETURNING updated_at`,
			v.ID, v.Status, reason,
		).Scan(&v.UpdatedAt)
		if err != nil {
			return err
		}
		note := "visit force-closed"
		if reason != nil && *reason != "" {
			note = "visit force-closed: " + *reason
		}
		if err := r.addHistory(ctx, v.ID, v.Status, note, actor); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// -- Work items --
//
// Inserts run under the same row lock as the transition methods so a
// force-close or completion committing concurrently cannot slip a work
// item into a terminal visit or a frozen department.

func (r *repoPG) AddLabResult(ctx context.Context, lr *LabResult) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		v, err := r.getForUpdate(ctx, lr.VisitID)
		if err != nil {
			return err
		}
		if err := addItemGuard(v, DeptLab, lr.LabTestID); err != nil {
			return err
		}
		lr.ID = uuid.New()
		return r.conn(ctx).QueryRow(ctx, `
			INSERT INTO lab_result (id, visit_id, lab_test_id, test_name, value, unit, flag, recorded_by)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING created_at`,
			lr.ID, lr.VisitID, lr.LabTestID, lr.TestName, lr.Value, lr.Unit, lr.Flag, lr.RecordedBy,
		).Scan(&lr.CreatedAt)
	})
}

func (r *repoPG) AddPrescription(ctx context.Context, p *Prescription) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		v, err := r.getForUpdate(ctx, p.VisitID)
		if err != nil {
			return err
		}
		if err := addItemGuard(v, DeptPharmacy, p.DrugID); err != nil {
			return err
		}
		p.ID = uuid.New()
		return r.conn(ctx).QueryRow(ctx, `
			INSERT INTO prescription (id, visit_id, drug_id, drug_name, dose, quantity, instructions, dispensed_by)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING created_at`,
			p.ID, p.VisitID, p.DrugID, p.DrugName, p.Dose, p.Quantity, p.Instructions, p.DispensedBy,
		).Scan(&p.CreatedAt)
	})
}

func (r *repoPG) AddDiagnosis(ctx context.Context, d *Diagnosis) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		v, err := r.getForUpdate(ctx, d.VisitID)
		if err != nil {
			return err
		}
		if err := addItemGuard(v, DeptDoctor, nil); err != nil {
			return err
		}
		d.ID = uuid.New()
		return r.conn(ctx).QueryRow(ctx, `
			INSERT INTO diagnosis (id, visit_id, icd_code, summary, notes, diagnosed_by)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING created_at`,
			d.ID, d.VisitID, d.ICDCode, d.Summary, d.Notes, d.DiagnosedBy,
		).Scan(&d.CreatedAt)
	})
}

func (r *repoPG) ListLabResults(ctx context.Context, visitID uuid.UUID) ([]*LabResult, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, lab_test_id, test_name, value, unit, flag, recorded_by, created_at
		FROM lab_result WHERE visit_id = $1 ORDER BY created_at`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*LabResult
	for rows.Next() {
		var lr LabResult
		if err := rows.Scan(&lr.ID, &lr.VisitID, &lr.LabTestID, &lr.TestName, &lr.Value, &lr.Unit, &lr.Flag, &lr.RecordedBy, &lr.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, &lr)
	}
	return results, nil
}

func (r *repoPG) ListPrescriptions(ctx context.Context, visitID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, drug_id, drug_name, dose, quantity, instructions, dispensed_by, created_at
		FROM prescription WHERE visit_id = $1 ORDER BY created_at`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prescriptions []*Prescription
	for rows.Next() {
		var p Prescription
		if err := rows.Scan(&p.ID, &p.VisitID, &p.DrugID, &p.DrugName, &p.Dose, &p.Quantity, &p.Instructions, &p.DispensedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		prescriptions = append(prescriptions, &p)
	}
	return prescriptions, nil
}

func (r *repoPG) ListDiagnoses(ctx context.Context, visitID uuid.UUID) ([]*Diagnosis, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, icd_code, summary, notes, diagnosed_by, created_at
		FROM diagnosis WHERE visit_id = $1 ORDER BY created_at`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var diagnoses []*Diagnosis
	for rows.Next() {
		var d Diagnosis
		if err := rows.Scan(&d.ID, &d.VisitID, &d.ICDCode, &d.Summary, &d.Notes, &d.DiagnosedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		diagnoses = append(diagnoses, &d)
	}
	return diagnoses, nil
}

func (r *repoPG) CountWorkItems(ctx context.Context, visitID uuid.UUID, dept Department) (int, error) {
	var table string
	switch dept {
	case DeptLab:
		table = "lab_result"
	case DeptPharmacy:
		table = "prescription"
	case DeptDoctor:
		table = "diagnosis"
	default:
		return 0, fmt.Errorf("unknown department: %s", dept)
	}
	var count int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM `+table+` WHERE visit_id = $1`, visitID).Scan(&count)
	return count, err
}

// -- Status history --

func (r *repoPG) addHistory(ctx context.Context, visitID uuid.UUID, status Status, note, actor string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO visit_status_history (id, visit_id, status, note, actor)
		VALUES ($1,$2,$3,$4,$5)`,
		uuid.New(), visitID, status, note, actor,
	)
	return err
}

func (r *repoPG) GetStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, status, note, actor, created_at
		FROM visit_status_history WHERE visit_id = $1 ORDER BY created_at`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*StatusHistory
	for rows.Next() {
		var sh StatusHistory
		if err := rows.Scan(&sh.ID, &sh.VisitID, &sh.Status, &sh.Note, &sh.Actor, &sh.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, &sh)
	}
	return history, nil
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(
		&v.ID, &v.VisitNumber, &v.PatientID, &v.Variant,
		&v.LabDone, &v.PharmacyDone, &v.DoctorDone, &v.Status,
		&v.RestrictedLabTestIDs, &v.RestrictedDrugIDs, &v.CloseReason,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func collectVisits(rows pgx.Rows, total int) ([]*Visit, int, error) {
	var visits []*Visit
	for rows.Next() {
		var v Visit
		err := rows.Scan(
			&v.ID, &v.VisitNumber, &v.PatientID, &v.Variant,
			&v.LabDone, &v.PharmacyDone, &v.DoctorDone, &v.Status,
			&v.RestrictedLabTestIDs, &v.RestrictedDrugIDs, &v.CloseReason,
			&v.CreatedAt, &v.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		visits = append(visits, &v)
	}
	return visits, total, nil
}
