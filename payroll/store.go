package payroll

import (
	"fmt"
	"sync"
	"time"
)

// Store manages payroll configuration persistence: categories, structures
// and rules. Implementations must return rules for a structure in
// creation order, because that order is the documented tie-break for
// rules sharing a sequence value.
type Store interface {
	// Categories
	AddCategory(c *Category) error
	GetCategory(code string) (*Category, error)
	ListCategories() ([]*Category, error)

	// Structures
	AddStructure(s *Structure) error
	GetStructure(code string) (*Structure, error)
	ListStructures() ([]*Structure, error)

	// Rules
	AddRule(r *Rule) error
	GetRule(id string) (*Rule, error)
	// ListRules returns the active rules owned by one structure, in
	// creation order.
	ListRules(structureCode string) ([]*Rule, error)
	// ListAllRules returns every active rule across all structures.
	ListAllRules() ([]*Rule, error)
	UpdateRule(r *Rule) error
	DeleteRule(id string) error
}

// InMemoryStore implements Store using maps guarded by an RWMutex.
// Rules are additionally kept in per-structure insertion order.
type InMemoryStore struct {
	categories     map[string]*Category
	structures     map[string]*Structure
	rules          map[string]*Rule
	rulesByStruct  map[string][]string // structure code -> rule IDs in insertion order
	insertionOrder []string            // all rule IDs in insertion order
	mu             sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		categories:    make(map[string]*Category),
		structures:    make(map[string]*Structure),
		rules:         make(map[string]*Rule),
		rulesByStruct: make(map[string][]string),
	}
}

// AddCategory adds a category, enforcing code uniqueness.
func (s *InMemoryStore) AddCategory(c *Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.categories[c.Code]; exists {
		return fmt.Errorf("category with code %s already exists", c.Code)
	}

	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.categories[c.Code] = c
	return nil
}

// GetCategory retrieves a category by code.
func (s *InMemoryStore) GetCategory(code string) (*Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.categories[code]
	if !exists {
		return nil, fmt.Errorf("category with code %s not found", code)
	}
	return c, nil
}

// ListCategories returns all categories.
func (s *InMemoryStore) ListCategories() ([]*Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	return out, nil
}

// AddStructure adds a structure, enforcing code uniqueness.
func (s *InMemoryStore) AddStructure(st *Structure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.structures[st.Code]; exists {
		return fmt.Errorf("structure with code %s already exists", st.Code)
	}

	now := time.Now()
	st.CreatedAt = now
	st.UpdatedAt = now
	s.structures[st.Code] = st
	return nil
}

// GetStructure retrieves a structure by code.
func (s *InMemoryStore) GetStructure(code string) (*Structure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.structures[code]
	if !exists {
		return nil, fmt.Errorf("structure with code %s not found", code)
	}
	return st, nil
}

// ListStructures returns all structures.
func (s *InMemoryStore) ListStructures() ([]*Structure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Structure, 0, len(s.structures))
	for _, st := range s.structures {
		out = append(out, st)
	}
	return out, nil
}

// AddRule adds a rule, enforcing ID uniqueness and code uniqueness within
// the owning structure.
func (s *InMemoryStore) AddRule(r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[r.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", r.ID)
	}
	for _, id := range s.rulesByStruct[r.StructureCode] {
		if s.rules[id].Code == r.Code {
			return fmt.Errorf("rule code %s already exists in structure %s", r.Code, r.StructureCode)
		}
	}

	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rules[r.ID] = r
	s.rulesByStruct[r.StructureCode] = append(s.rulesByStruct[r.StructureCode], r.ID)
	s.insertionOrder = append(s.insertionOrder, r.ID)
	return nil
}

// GetRule retrieves a rule by ID.
func (s *InMemoryStore) GetRule(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule with ID %s not found", id)
	}
	return r, nil
}

// ListRules returns the active rules of one structure in insertion order.
func (s *InMemoryStore) ListRules(structureCode string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, id := range s.rulesByStruct[structureCode] {
		if r := s.rules[id]; r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListAllRules returns every active rule in insertion order.
func (s *InMemoryStore) ListAllRules() ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, id := range s.insertionOrder {
		if r, exists := s.rules[id]; exists && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

// UpdateRule updates an existing rule, preserving CreatedAt. Moving a rule
// between structures is not supported.
func (s *InMemoryStore) UpdateRule(r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[r.ID]
	if !exists {
		return fmt.Errorf("rule with ID %s not found", r.ID)
	}
	if existing.StructureCode != r.StructureCode {
		return fmt.Errorf("rule %s cannot change structure (%s -> %s)",
			r.ID, existing.StructureCode, r.StructureCode)
	}
	for _, id := range s.rulesByStruct[r.StructureCode] {
		if id != r.ID && s.rules[id].Code == r.Code {
			return fmt.Errorf("rule code %s already exists in structure %s", r.Code, r.StructureCode)
		}
	}

	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now()
	s.rules[r.ID] = r
	return nil
}

// DeleteRule removes a rule.
func (s *InMemoryStore) DeleteRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("rule with ID %s not found", id)
	}

	delete(s.rules, id)
	ids := s.rulesByStruct[r.StructureCode]
	for i, rid := range ids {
		if rid == id {
			s.rulesByStruct[r.StructureCode] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	for i, rid := range s.insertionOrder {
		if rid == id {
			s.insertionOrder = append(s.insertionOrder[:i], s.insertionOrder[i+1:]...)
			break
		}
	}
	return nil
}
