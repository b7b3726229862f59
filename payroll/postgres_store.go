package payroll

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL, scoped to one
// company. All configuration rows carry a company_id so several
// companies can share a database.
type PostgresStore struct {
	db        *sql.DB
	companyID string
}

// NewPostgresStore creates a PostgreSQL-backed Store for a specific company.
func NewPostgresStore(db *sql.DB, companyID string) *PostgresStore {
	return &PostgresStore{
		db:        db,
		companyID: companyID,
	}
}

// AddCategory inserts a new category.
func (s *PostgresStore) AddCategory(c *Category) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM salary_rule_categories WHERE code = $1 AND company_id = $2)
	`, c.Code, s.companyID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check category existence: %w", err)
	}
	if exists {
		return fmt.Errorf("category with code %s already exists", c.Code)
	}

	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO salary_rule_categories
			(company_id, code, name, parent_code, category_type, export_category, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
	`, s.companyID, c.Code, c.Name, c.ParentCode, string(c.Type), c.ExportCategory,
		c.CreatedAt, c.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}

	return nil
}

// GetCategory retrieves a category by code.
func (s *PostgresStore) GetCategory(code string) (*Category, error) {
	var c Category
	var parent sql.NullString
	var catType string
	err := s.db.QueryRow(`
		SELECT code, name, parent_code, category_type, export_category, created_at, updated_at
		FROM salary_rule_categories
		WHERE code = $1 AND company_id = $2
	`, code, s.companyID).Scan(
		&c.Code, &c.Name, &parent, &catType, &c.ExportCategory, &c.CreatedAt, &c.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("category with code %s not found", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}

	c.ParentCode = parent.String
	c.Type = CategoryType(catType)
	return &c, nil
}

// ListCategories returns all categories for the company.
func (s *PostgresStore) ListCategories() ([]*Category, error) {
	rows, err := s.db.Query(`
		SELECT code, name, parent_code, category_type, export_category, created_at, updated_at
		FROM salary_rule_categories
		WHERE company_id = $1
		ORDER BY created_at ASC
	`, s.companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var out []*Category
	for rows.Next() {
		var c Category
		var parent sql.NullString
		var catType string
		if err := rows.Scan(&c.Code, &c.Name, &parent, &catType,
			&c.ExportCategory, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		c.ParentCode = parent.String
		c.Type = CategoryType(catType)
		out = append(out, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	return out, nil
}

// AddStructure inserts a new structure.
func (s *PostgresStore) AddStructure(st *Structure) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM salary_structures WHERE code = $1 AND company_id = $2)
	`, st.Code, s.companyID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check structure existence: %w", err)
	}
	if exists {
		return fmt.Errorf("structure with code %s already exists", st.Code)
	}

	now := time.Now()
	st.CreatedAt = now
	st.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO salary_structures
			(company_id, code, name, parent_code, schedule_pay, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
	`, s.companyID, st.Code, st.Name, st.ParentCode, st.SchedulePay, st.CreatedAt, st.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert structure: %w", err)
	}

	return nil
}

// GetStructure retrieves a structure by code.
func (s *PostgresStore) GetStructure(code string) (*Structure, error) {
	var st Structure
	var parent sql.NullString
	err := s.db.QueryRow(`
		SELECT code, name, parent_code, schedule_pay, created_at, updated_at
		FROM salary_structures
		WHERE code = $1 AND company_id = $2
	`, code, s.companyID).Scan(
		&st.Code, &st.Name, &parent, &st.SchedulePay, &st.CreatedAt, &st.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("structure with code %s not found", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get structure: %w", err)
	}

	st.ParentCode = parent.String
	return &st, nil
}

// ListStructures returns all structures for the company.
func (s *PostgresStore) ListStructures() ([]*Structure, error) {
	rows, err := s.db.Query(`
		SELECT code, name, parent_code, schedule_pay, created_at, updated_at
		FROM salary_structures
		WHERE company_id = $1
		ORDER BY created_at ASC
	`, s.companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list structures: %w", err)
	}
	defer rows.Close()

	var out []*Structure
	for rows.Next() {
		var st Structure
		var parent sql.NullString
		if err := rows.Scan(&st.Code, &st.Name, &parent, &st.SchedulePay,
			&st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan structure: %w", err)
		}
		st.ParentCode = parent.String
		out = append(out, &st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating structures: %w", err)
	}

	return out, nil
}

const ruleColumns = `
	id, structure_code, code, name, sequence, category_code,
	condition_kind, condition_range_expr, condition_range_min, condition_range_max, condition_expr,
	amount_kind, amount_fixed, amount_percentage, amount_percentage_base_expr, amount_expr,
	quantity_expr, appears_on_payslip, export_category, gratuity_eligible,
	active, created_at, updated_at`

// AddRule inserts a new rule. Code uniqueness within the owning
// structure is enforced by a database constraint as well.
func (s *PostgresStore) AddRule(r *Rule) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM salary_rules
			WHERE company_id = $1 AND (id = $2 OR (structure_code = $3 AND code = $4))
		)
	`, s.companyID, r.ID, r.StructureCode, r.Code).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule %s (code %s) already exists in structure %s",
			r.ID, r.Code, r.StructureCode)
	}

	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO salary_rules (company_id,`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`, s.companyID,
		r.ID, r.StructureCode, r.Code, r.Name, r.Sequence, r.CategoryCode,
		string(r.ConditionKind), r.ConditionRangeExpr, r.ConditionRangeMin, r.ConditionRangeMax, r.ConditionExpr,
		string(r.AmountKind), r.AmountFixed, r.AmountPercentage, r.AmountPercentageBaseExpr, r.AmountExpr,
		r.QuantityExpr, r.AppearsOnPayslip, r.ExportCategory, r.GratuityEligible,
		r.Active, r.CreatedAt, r.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

func scanRule(scan func(dest ...any) error) (*Rule, error) {
	var r Rule
	var condKind, amountKind string
	err := scan(
		&r.ID, &r.StructureCode, &r.Code, &r.Name, &r.Sequence, &r.CategoryCode,
		&condKind, &r.ConditionRangeExpr, &r.ConditionRangeMin, &r.ConditionRangeMax, &r.ConditionExpr,
		&amountKind, &r.AmountFixed, &r.AmountPercentage, &r.AmountPercentageBaseExpr, &r.AmountExpr,
		&r.QuantityExpr, &r.AppearsOnPayslip, &r.ExportCategory, &r.GratuityEligible,
		&r.Active, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ConditionKind = ConditionKind(condKind)
	r.AmountKind = AmountKind(amountKind)
	return &r, nil
}

// GetRule retrieves a rule by ID.
func (s *PostgresStore) GetRule(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT `+ruleColumns+`
		FROM salary_rules
		WHERE id = $1 AND company_id = $2
	`, id, s.companyID)

	r, err := scanRule(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return r, nil
}

// ListRules returns the active rules of one structure in creation order.
// The creation-order listing is load-bearing: it is the documented
// tie-break for rules sharing a sequence value.
func (s *PostgresStore) ListRules(structureCode string) ([]*Rule, error) {
	rows, err := s.db.Query(`
		SELECT `+ruleColumns+`
		FROM salary_rules
		WHERE company_id = $1 AND structure_code = $2 AND active = true
		ORDER BY created_at ASC, id ASC
	`, s.companyID, structureCode)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// ListAllRules returns every active rule for the company.
func (s *PostgresStore) ListAllRules() ([]*Rule, error) {
	rows, err := s.db.Query(`
		SELECT `+ruleColumns+`
		FROM salary_rules
		WHERE company_id = $1 AND active = true
		ORDER BY created_at ASC, id ASC
	`, s.companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

func collectRules(rows *sql.Rows) ([]*Rule, error) {
	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

// UpdateRule modifies an existing rule.
func (s *PostgresStore) UpdateRule(r *Rule) error {
	r.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE salary_rules
		SET code = $1, name = $2, sequence = $3, category_code = $4,
		    condition_kind = $5, condition_range_expr = $6,
		    condition_range_min = $7, condition_range_max = $8, condition_expr = $9,
		    amount_kind = $10, amount_fixed = $11, amount_percentage = $12,
		    amount_percentage_base_expr = $13, amount_expr = $14,
		    quantity_expr = $15, appears_on_payslip = $16,
		    export_category = $17, gratuity_eligible = $18,
		    active = $19, updated_at = $20
		WHERE id = $21 AND company_id = $22
	`, r.Code, r.Name, r.Sequence, r.CategoryCode,
		string(r.ConditionKind), r.ConditionRangeExpr,
		r.ConditionRangeMin, r.ConditionRangeMax, r.ConditionExpr,
		string(r.AmountKind), r.AmountFixed, r.AmountPercentage,
		r.AmountPercentageBaseExpr, r.AmountExpr,
		r.QuantityExpr, r.AppearsOnPayslip,
		r.ExportCategory, r.GratuityEligible,
		r.Active, r.UpdatedAt, r.ID, s.companyID)

	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s not found", r.ID)
	}

	return nil
}

// DeleteRule removes a rule.
func (s *PostgresStore) DeleteRule(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM salary_rules
		WHERE id = $1 AND company_id = $2
	`, id, s.companyID)

	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s not found", id)
	}

	return nil
}
