package catalog

import (
	"context"

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

// -- Lab Tests --

const labTestCols = `id, code, name, unit, reference_range, price, active, created_at, updated_at`

func (r *repoPG) CreateLabTest(ctx context.Context, t *LabTest) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_test (id, code, name, unit, reference_range, price, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.Code, t.Name, t.Unit, t.ReferenceRange, t.Price, t.Active,
	)
	return err
}

func (r *repoPG) GetLabTest(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	var t LabTest
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+labTestCols+` FROM lab_test WHERE id = $1`, id).
		Scan(&t.ID, &t.Code, &t.Name, &t.Unit, &t.ReferenceRange, &t.Price, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) UpdateLabTest(ctx context.Context, t *LabTest) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_test SET code=$2, name=$3, unit=$4, reference_range=$5, price=$6, active=$7, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Code, t.Name, t.Unit, t.ReferenceRange, t.Price, t.Active,
	)
	return err
}

func (r *repoPG) ListLabTests(ctx context.Context, limit, offset int) ([]*LabTest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_test`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+labTestCols+` FROM lab_test ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tests []*LabTest
	for rows.Next() {
		var t LabTest
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.Unit, &t.ReferenceRange, &t.Price, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, err
		}
		tests = append(tests, &t)
	}
	return tests, total, nil
}

// -- Test Panels --

func (r *repoPG) CreateTestPanel(ctx context.Context, p *TestPanel) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO test_panel (id, code, name, test_ids, active)
		VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.Code, p.Name, p.TestIDs, p.Active,
	)
	return err
}

func (r *repoPG) GetTestPanel(ctx context.Context, id uuid.UUID) (*TestPanel, error) {
	var p TestPanel
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, code, name, test_ids, active, created_at, updated_at
		FROM test_panel WHERE id = $1`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.TestIDs, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) ListTestPanels(ctx context.Context, limit, offset int) ([]*TestPanel, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM test_panel`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, code, name, test_ids, active, created_at, updated_at
		FROM test_panel ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var panels []*TestPanel
	for rows.Next() {
		var p TestPanel
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.TestIDs, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		panels = append(panels, &p)
	}
	return panels, total, nil
}

// -- Drugs --

const drugCols = `id, code, name, form, strength, unit_price, active, created_at, updated_at`

func (r *repoPG) CreateDrug(ctx context.Context, d *Drug) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO drug (id, code, name, form, strength, unit_price, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.ID, d.Code, d.Name, d.Form, d.Strength, d.UnitPrice, d.Active,
	)
	return err
}

func (r *repoPG) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	var d Drug
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+drugCols+` FROM drug WHERE id = $1`, id).
		Scan(&d.ID, &d.Code, &d.Name, &d.Form, &d.Strength, &d.UnitPrice, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) UpdateDrug(ctx context.Context, d *Drug) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE drug SET code=$2, name=$3, form=$4, strength=$5, unit_price=$6, active=$7, updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.Code, d.Name, d.Form, d.Strength, d.UnitPrice, d.Active,
	)
	return err
}

func (r *repoPG) ListDrugs(ctx context.Context, limit, offset int) ([]*Drug, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM drug`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+drugCols+` FROM drug ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var drugs []*Drug
	for rows.Next() {
		var d Drug
		if err := rows.Scan(&d.ID, &d.Code, &d.Name, &d.Form, &d.Strength, &d.UnitPrice, &d.Active, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, err
		}
		drugs = append(drugs, &d)
	}
	return drugs, total, nil
}

// -- Prescription Sets --

func (r *repoPG) CreatePrescriptionSet(ctx context.Context, s *PrescriptionSet) error {
	s.ID = uuid.New()
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO prescription_set (id, code, name, active)
			VALUES ($1,$2,$3,$4)`,
			s.ID, s.Code, s.Name, s.Active,
		)
		if err != nil {
			return err
		}
		for _, item := range s.Items {
			_, err = r.conn(ctx).Exec(ctx, `
				INSERT INTO prescription_set_item (prescription_set_id, drug_id, default_dose)
				VALUES ($1,$2,$3)`,
				s.ID, item.DrugID, item.DefaultDose,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repoPG) GetPrescriptionSet(ctx context.Context, id uuid.UUID) (*PrescriptionSet, error) {
	var s PrescriptionSet
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, code, name, active, created_at, updated_at
		FROM prescription_set WHERE id = $1`, id).
		Scan(&s.ID, &s.Code, &s.Name, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT drug_id, default_dose FROM prescription_set_item
		WHERE prescription_set_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item PrescriptionSetItem
		if err := rows.Scan(&item.DrugID, &item.DefaultDose); err != nil {
			return nil, err
		}
		s.Items = append(s.Items, item)
	}
	return &s, nil
}

func (r *repoPG) ListPrescriptionSets(ctx context.Context, limit, offset int) ([]*PrescriptionSet, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM prescription_set`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, code, name, active, created_at, updated_at
		FROM prescription_set ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sets []*PrescriptionSet
	for rows.Next() {
		var s PrescriptionSet
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		sets = append(sets, &s)
	}
	return sets, total, nil
}
