// Package companyengine manages one payroll engine per company over a
// shared database. Each company has its own salary configuration
// (categories, structures, rules) and therefore its own compiled rule
// programs; engines are built at startup and atomically swapped when a
// company's configuration is reloaded.
package companyengine

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/gulfpay/payroll/payroll"
)

// CompanyEngine wraps a payroll.Engine with company metadata.
type CompanyEngine struct {
	CompanyID string
	Name      string
	Engine    *payroll.Engine
}

// Manager holds the engines for all companies.
type Manager struct {
	engines map[string]*CompanyEngine
	db      *sql.DB
	mu      sync.RWMutex
}

// NewManager creates a new manager instance.
func NewManager(db *sql.DB) *Manager {
	return &Manager{
		engines: make(map[string]*CompanyEngine),
		db:      db,
	}
}

// LoadAllCompanies loads every company from the database and initializes
// its engine, compiling all of its active rules. A company whose
// configuration fails to compile fails the whole load: payroll must not
// come up half-configured.
func (m *Manager) LoadAllCompanies() error {
	rows, err := m.db.Query(`
		SELECT id, name
		FROM companies
		WHERE active = true
	`)
	if err != nil {
		return fmt.Errorf("failed to fetch companies: %w", err)
	}
	defer rows.Close()

	type companyRow struct {
		id   string
		name string
	}
	var companies []companyRow
	for rows.Next() {
		var c companyRow
		if err := rows.Scan(&c.id, &c.name); err != nil {
			return fmt.Errorf("failed to scan company row: %w", err)
		}
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating company rows: %w", err)
	}

	for _, c := range companies {
		if err := m.CreateCompany(c.id, c.name); err != nil {
			return fmt.Errorf("failed to initialize company %s: %w", c.id, err)
		}
	}

	return nil
}

// CreateCompany builds an engine for a company from its stored
// configuration and registers it.
func (m *Manager) CreateCompany(companyID, name string) error {
	store := payroll.NewPostgresStore(m.db, companyID)

	engine, err := payroll.NewEngine(store)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	m.mu.Lock()
	m.engines[companyID] = &CompanyEngine{
		CompanyID: companyID,
		Name:      name,
		Engine:    engine,
	}
	m.mu.Unlock()

	return nil
}

// GetEngine retrieves the engine for a specific company.
func (m *Manager) GetEngine(companyID string) (*payroll.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ce, exists := m.engines[companyID]
	if !exists {
		return nil, fmt.Errorf("company %s not found", companyID)
	}

	return ce.Engine, nil
}

// ReloadCompany rebuilds a company's engine from the database and
// atomically swaps it in. Zero-downtime: in-flight computations keep the
// old engine, new requests get the recompiled one.
func (m *Manager) ReloadCompany(companyID string) error {
	m.mu.RLock()
	existing, exists := m.engines[companyID]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("company %s not found", companyID)
	}

	store := payroll.NewPostgresStore(m.db, companyID)
	newEngine, err := payroll.NewEngine(store)
	if err != nil {
		return fmt.Errorf("failed to rebuild engine: %w", err)
	}

	m.mu.Lock()
	m.engines[companyID] = &CompanyEngine{
		CompanyID: companyID,
		Name:      existing.Name,
		Engine:    newEngine,
	}
	m.mu.Unlock()

	return nil
}

// ListCompanies returns all loaded company IDs.
func (m *Manager) ListCompanies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	companies := make([]string, 0, len(m.engines))
	for companyID := range m.engines {
		companies = append(companies, companyID)
	}
	return companies
}

// DeleteCompany removes a company's engine from the manager.
// Note: this does not delete the company from the database.
func (m *Manager) DeleteCompany(companyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[companyID]; !exists {
		return fmt.Errorf("company %s not found", companyID)
	}

	delete(m.engines, companyID)
	return nil
}
