//go:build integration

package payroll_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gulfpay/payroll/payroll"

	_ "github.com/lib/pq"
)

// setupTestDB creates a PostgreSQL container and returns a connection
// with the schema applied.
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "payroll_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=payroll_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgresContainer.Terminate(ctx)
	}

	return db, cleanup
}

func createCompany(t *testing.T, db *sql.DB, name string) string {
	companyID := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO companies (id, name) VALUES ($1, $2)
	`, companyID, name)
	if err != nil {
		t.Fatalf("Failed to create company: %v", err)
	}
	return companyID
}

// seedConfiguration adds the standard taxonomy and a monthly structure.
func seedConfiguration(t *testing.T, store *payroll.PostgresStore) {
	t.Helper()

	categories := []*payroll.Category{
		{Code: "BASIC", Name: "Basic", Type: payroll.CategoryBasic},
		{Code: "HRA", Name: "Housing", Type: payroll.CategoryAllowance, ExportCategory: payroll.ExportHousing},
		{Code: "DED", Name: "Deductions", Type: payroll.CategoryDeduction},
	}
	for _, c := range categories {
		if err := store.AddCategory(c); err != nil {
			t.Fatalf("AddCategory(%s) failed: %v", c.Code, err)
		}
	}

	if err := store.AddStructure(&payroll.Structure{Code: "monthly", Name: "Monthly"}); err != nil {
		t.Fatalf("AddStructure failed: %v", err)
	}
}

func TestPostgresStoreCRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	companyID := createCompany(t, db, "Acme Payroll")
	store := payroll.NewPostgresStore(db, companyID)
	seedConfiguration(t, store)

	rule := &payroll.Rule{
		ID:               uuid.NewString(),
		StructureCode:    "monthly",
		Code:             "BASIC",
		Name:             "Basic Wage",
		Sequence:         10,
		CategoryCode:     "BASIC",
		ConditionKind:    payroll.ConditionAlways,
		AmountKind:       payroll.AmountFixed,
		AmountFixed:      4000,
		AppearsOnPayslip: true,
		Active:           true,
	}

	if err := store.AddRule(rule); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}

	t.Run("get round trip", func(t *testing.T) {
		got, err := store.GetRule(rule.ID)
		if err != nil {
			t.Fatalf("GetRule() failed: %v", err)
		}
		if got.Code != "BASIC" || got.AmountFixed != 4000 || got.ConditionKind != payroll.ConditionAlways {
			t.Errorf("round trip mismatch: %+v", got)
		}
	})

	t.Run("duplicate code rejected", func(t *testing.T) {
		dup := *rule
		dup.ID = uuid.NewString()
		if err := store.AddRule(&dup); err == nil {
			t.Error("AddRule() should reject a duplicate code in the same structure")
		}
	})

	t.Run("update", func(t *testing.T) {
		rule.AmountFixed = 4500
		if err := store.UpdateRule(rule); err != nil {
			t.Fatalf("UpdateRule() failed: %v", err)
		}
		got, _ := store.GetRule(rule.ID)
		if got.AmountFixed != 4500 {
			t.Errorf("AmountFixed = %v, want 4500", got.AmountFixed)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := store.DeleteRule(rule.ID); err != nil {
			t.Fatalf("DeleteRule() failed: %v", err)
		}
		if _, err := store.GetRule(rule.ID); err == nil {
			t.Error("GetRule() should fail after delete")
		}
	})
}

// Rules sharing a sequence must come back in creation order; that order
// is the computation tie-break.
func TestPostgresStoreListOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	companyID := createCompany(t, db, "Acme Payroll")
	store := payroll.NewPostgresStore(db, companyID)
	seedConfiguration(t, store)

	for i := 0; i < 5; i++ {
		r := &payroll.Rule{
			ID:            uuid.NewString(),
			StructureCode: "monthly",
			Code:          fmt.Sprintf("RULE_%d", i),
			Name:          fmt.Sprintf("Rule %d", i),
			Sequence:      5,
			CategoryCode:  "BASIC",
			ConditionKind: payroll.ConditionAlways,
			AmountKind:    payroll.AmountFixed,
			Active:        true,
		}
		if err := store.AddRule(r); err != nil {
			t.Fatalf("AddRule() failed: %v", err)
		}
		// created_at must strictly increase for the order to be observable
		time.Sleep(5 * time.Millisecond)
	}

	rules, err := store.ListRules("monthly")
	if err != nil {
		t.Fatalf("ListRules() failed: %v", err)
	}
	if len(rules) != 5 {
		t.Fatalf("got %d rules, want 5", len(rules))
	}
	for i, r := range rules {
		if want := fmt.Sprintf("RULE_%d", i); r.Code != want {
			t.Errorf("rules[%d] = %s, want %s", i, r.Code, want)
		}
	}
}

// Two companies never see each other's configuration.
func TestPostgresStoreCompanyIsolation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	companyA := createCompany(t, db, "Company A")
	companyB := createCompany(t, db, "Company B")

	storeA := payroll.NewPostgresStore(db, companyA)
	storeB := payroll.NewPostgresStore(db, companyB)
	seedConfiguration(t, storeA)
	seedConfiguration(t, storeB)

	ruleA := &payroll.Rule{
		ID:            uuid.NewString(),
		StructureCode: "monthly",
		Code:          "BASIC",
		Name:          "Basic A",
		CategoryCode:  "BASIC",
		ConditionKind: payroll.ConditionAlways,
		AmountKind:    payroll.AmountFixed,
		AmountFixed:   1000,
		Active:        true,
	}
	if err := storeA.AddRule(ruleA); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}

	if rules, _ := storeB.ListAllRules(); len(rules) != 0 {
		t.Errorf("company B sees %d rules of company A", len(rules))
	}
	if _, err := storeB.GetRule(ruleA.ID); err == nil {
		t.Error("company B should not be able to fetch company A's rule")
	}
}

// Full pipeline over a real database: configuration persisted through
// the store, computed through the engine.
func TestEngineOverPostgres(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	companyID := createCompany(t, db, "Acme Payroll")
	store := payroll.NewPostgresStore(db, companyID)
	seedConfiguration(t, store)

	engine, err := payroll.NewEngine(store)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	basic := &payroll.Rule{
		ID:               uuid.NewString(),
		StructureCode:    "monthly",
		Code:             "BASIC",
		Name:             "Basic Wage",
		Sequence:         10,
		CategoryCode:     "BASIC",
		ConditionKind:    payroll.ConditionAlways,
		AmountKind:       payroll.AmountExpression,
		AmountExpr:       `contract.wage * 1.0`,
		AppearsOnPayslip: true,
		Active:           true,
	}
	if err := engine.AddRule(basic); err != nil {
		t.Fatalf("AddRule(BASIC) failed: %v", err)
	}

	hra := &payroll.Rule{
		ID:                       uuid.NewString(),
		StructureCode:            "monthly",
		Code:                     "HRA",
		Name:                     "Housing Allowance",
		Sequence:                 20,
		CategoryCode:             "HRA",
		ConditionKind:            payroll.ConditionAlways,
		AmountKind:               payroll.AmountPercentage,
		AmountPercentage:         25,
		AmountPercentageBaseExpr: `categories['BASIC']`,
		AppearsOnPayslip:         true,
		ExportCategory:           payroll.ExportHousing,
		Active:                   true,
	}
	if err := engine.AddRule(hra); err != nil {
		t.Fatalf("AddRule(HRA) failed: %v", err)
	}

	result, err := engine.ComputePayslip(payroll.PayslipInput{
		EmployeeRef:   "EMP-001",
		StructureCode: "monthly",
		Contract:      map[string]any{"wage": 4000.0},
	})
	if err != nil {
		t.Fatalf("ComputePayslip() failed: %v", err)
	}

	if got := result.Rules["BASIC"]; got != 4000 {
		t.Errorf("BASIC = %v, want 4000", got)
	}
	if got := result.Rules["HRA"]; got != 1000 {
		t.Errorf("HRA = %v, want 1000", got)
	}
	if got := result.Summary.HousingAllowance; got != 1000 {
		t.Errorf("HousingAllowance = %v, want 1000", got)
	}
}
