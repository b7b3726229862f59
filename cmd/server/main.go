package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/gulfpay/payroll/companyengine"
	"github.com/gulfpay/payroll/internal/logger"
	"github.com/gulfpay/payroll/payroll"
)

type Server struct {
	db      *sql.DB
	manager *companyengine.Manager
	router  *chi.Mux
}

func NewServer(databaseURL string) (*Server, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewServerWithDB(db)
}

// NewServerWithDB builds the server over an existing connection; used by
// the end-to-end tests.
func NewServerWithDB(db *sql.DB) (*Server, error) {
	manager := companyengine.NewManager(db)

	logger.Info("loading companies from database")
	if err := manager.LoadAllCompanies(); err != nil {
		return nil, fmt.Errorf("failed to load companies: %w", err)
	}

	logger.Info("companies loaded", "count", len(manager.ListCompanies()))

	s := &Server{
		db:      db,
		manager: manager,
	}

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	// Payslip computation
	r.Post("/api/v1/compute", s.handleCompute)
	r.Post("/api/v1/compute/batch", s.handleComputeBatch)

	// Company and salary configuration management
	r.Route("/api/v1/companies", func(r chi.Router) {
		r.Get("/", s.handleListCompanies)
		r.Post("/", s.handleCreateCompany)

		r.Route("/{companyId}", func(r chi.Router) {
			r.Post("/reload", s.handleReloadCompany)

			r.Post("/categories", s.handleCreateCategory)
			r.Get("/categories", s.handleListCategories)

			r.Post("/structures", s.handleCreateStructure)
			r.Get("/structures", s.handleListStructures)

			r.Post("/rules", s.handleCreateRule)
			r.Post("/rules/validate", s.handleValidateRule)
			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{ruleId}", s.handleGetRule)
			r.Put("/rules/{ruleId}", s.handleUpdateRule)
			r.Delete("/rules/{ruleId}", s.handleDeleteRule)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"companiesLoaded": len(s.manager.ListCompanies()),
	})
}

// handleCompute computes a single payslip.
func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.CompanyID == "" {
		respondError(w, http.StatusBadRequest, "companyId is required", nil)
		return
	}
	if req.Payslip.StructureCode == "" {
		respondError(w, http.StatusBadRequest, "structureCode is required", nil)
		return
	}

	engine, err := s.manager.GetEngine(req.CompanyID)
	if err != nil {
		respondError(w, http.StatusNotFound, "company not found", err)
		return
	}

	startTime := time.Now()
	result, err := engine.ComputePayslip(req.Payslip)
	if err != nil {
		logger.ComputeFailed()
		respondComputeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ComputeResponse{
		Result:          result,
		ComputationTime: time.Since(startTime).String(),
	})
}

// handleComputeBatch computes many payslips concurrently.
func (s *Server) handleComputeBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.CompanyID == "" {
		respondError(w, http.StatusBadRequest, "companyId is required", nil)
		return
	}
	if len(req.Payslips) == 0 {
		respondError(w, http.StatusBadRequest, "payslips are required", nil)
		return
	}

	engine, err := s.manager.GetEngine(req.CompanyID)
	if err != nil {
		respondError(w, http.StatusNotFound, "company not found", err)
		return
	}

	startTime := time.Now()
	batch := engine.ComputeBatch(r.Context(), req.Payslips, req.Workers)

	items := make([]BatchItemResponse, len(batch.Items))
	failures := 0
	for i, item := range batch.Items {
		items[i] = BatchItemResponse{
			Index:  item.Index,
			Result: item.Result,
		}
		if item.Err != nil {
			msg := item.Err.Error()
			items[i].Error = &msg
			failures++
			logger.ComputeFailed()
		}
	}

	respondJSON(w, http.StatusOK, BatchComputeResponse{
		Items:           items,
		Failures:        failures,
		ComputationTime: time.Since(startTime).String(),
	})
}

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`
		SELECT id, name, created_at, updated_at
		FROM companies
		WHERE active = true
		ORDER BY created_at DESC
	`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list companies", err)
		return
	}
	defer rows.Close()

	companies := []CompanyResponse{}
	for rows.Next() {
		var c CompanyResponse
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to scan company", err)
			return
		}
		companies = append(companies, c)
	}

	respondJSON(w, http.StatusOK, CompaniesListResponse{Companies: companies})
}

func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var req CreateCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	companyID := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO companies (id, name, active, created_at, updated_at)
		VALUES ($1, $2, true, NOW(), NOW())
	`, companyID, req.Name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create company", err)
		return
	}

	if err := s.manager.CreateCompany(companyID, req.Name); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to initialize engine", err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"id":   companyID,
		"name": req.Name,
	})
}

// handleReloadCompany recompiles a company's configuration after
// out-of-band changes.
func (s *Server) handleReloadCompany(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")

	if err := s.manager.ReloadCompany(companyID); err != nil {
		respondError(w, http.StatusNotFound, "failed to reload company", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")

	var req CreateCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := payroll.ValidateCode(req.Code); err != nil {
		respondError(w, http.StatusBadRequest, "invalid category code", err)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	category := &payroll.Category{
		Code:           req.Code,
		Name:           req.Name,
		ParentCode:     req.ParentCode,
		Type:           payroll.CategoryType(req.Type),
		ExportCategory: req.ExportCategory,
	}

	store := payroll.NewPostgresStore(s.db, companyID)
	if err := store.AddCategory(category); err != nil {
		respondError(w, http.StatusBadRequest, "failed to add category", err)
		return
	}

	// New categories must become visible to context seeding.
	if err := s.manager.ReloadCompany(companyID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload engine", err)
		return
	}

	respondJSON(w, http.StatusCreated, category)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")

	store := payroll.NewPostgresStore(s.db, companyID)
	categories, err := store.ListCategories()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list categories", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (s *Server) handleCreateStructure(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")

	var req CreateStructureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := payroll.ValidateCode(req.Code); err != nil {
		respondError(w, http.StatusBadRequest, "invalid structure code", err)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	engine, err := s.manager.GetEngine(companyID)
	if err != nil {
		respondError(w, http.StatusNotFound, "company not found", err)
		return
	}

	structure := &payroll.Structure{
		Code:        req.Code,
		Name:        req.Name,
		ParentCode:  req.ParentCode,
		SchedulePay: req.SchedulePay,
	}

	// Parent cycles are rejected here, at save time.
	if err := engine.AddStructure(structure); err != nil {
		respondConfigError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, structure)
}

func (s *Server) handleListStructures(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")

	store := payroll.NewPostgresStore(s.db, companyID)
	structures, err := store.ListStructures()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list structures", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"structures": structures})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	engine, err := s.manager.GetEngine(companyID)
	if err != nil {
		respondError(w, http.StatusNotFound, "company not found", err)
		return
	}

	rule := req.toRule()
	rule.ID = uuid.NewString()

	// Validation and compilation happen before anything is persisted.
	if err := engine.AddRule(rule); err != nil {
		respondConfigError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

// handleValidateRule compiles and checks a rule without persisting it,
// so configuration UIs can reject bad formulas at save time.
func (s *Server) handleValidateRule(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	engine, err := s.manager.GetEngine(companyID)
	if err != nil {
		respondError(w, http.StatusNotFound, "company not found", err)
		return
	}

	if err := engine.ValidateRule(req.toRule()); err != nil {
		respondConfigError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "valid"})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	structureCode := r.URL.Query().Get("structure")

	store := payroll.NewPostgresStore(s.db, companyID)

	var rules []*payroll.Rule
	var err error
	if structureCode != "" {
		rules, err = store.ListRules(structureCode)
	} else {
		rules, err = store.ListAllRules()
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	ruleID := chi.URLParam(r, "ruleId")

	store := payroll.NewPostgresStore(s.db, companyID)
	rule, err := store.GetRule(ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	ruleID := chi.URLParam(r, "ruleId")

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	engine, err := s.manager.GetEngine(companyID)
	if err != nil {
		respondError(w, http.StatusNotFound, "company not found", err)
		return
	}

	rule := req.toRule()
	rule.ID = ruleID

	if err := engine.UpdateRule(rule); err != nil {
		respondConfigError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	ruleID := chi.URLParam(r, "ruleId")

	engine, err := s.manager.GetEngine(companyID)
	if err != nil {
		respondError(w, http.StatusNotFound, "company not found", err)
		return
	}

	if err := engine.DeleteRule(ruleID); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

// respondConfigError maps configuration failures to 400.
func respondConfigError(w http.ResponseWriter, err error) {
	var cfgErr *payroll.ConfigurationError
	if errors.As(err, &cfgErr) {
		respondError(w, http.StatusBadRequest, "invalid configuration", err)
		return
	}
	respondError(w, http.StatusBadRequest, "request rejected", err)
}

// respondComputeError distinguishes configuration problems from rule
// evaluation failures so callers can tell a broken setup from a broken
// formula.
func respondComputeError(w http.ResponseWriter, err error) {
	var evalErr *payroll.RuleEvaluationError
	if errors.As(err, &evalErr) {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "rule evaluation failed",
			"ruleCode":   evalErr.RuleCode,
			"ruleName":   evalErr.RuleName,
			"expression": evalErr.Expression,
			"details":    err.Error(),
		})
		return
	}

	var cfgErr *payroll.ConfigurationError
	if errors.As(err, &cfgErr) {
		respondError(w, http.StatusBadRequest, "invalid configuration", err)
		return
	}

	respondError(w, http.StatusInternalServerError, "computation failed", err)
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}

	server, err := NewServer(databaseURL)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.db.Close()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("logger shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
