package main

import (
	"time"

	"github.com/gulfpay/payroll/payroll"
)

// API request and response models.

// CreateCompanyRequest is the body for registering a company.
type CreateCompanyRequest struct {
	Name string `json:"name"`
}

// CompanyResponse is one company in listing responses.
type CompanyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CompaniesListResponse wraps the company listing.
type CompaniesListResponse struct {
	Companies []CompanyResponse `json:"companies"`
}

// CreateCategoryRequest is the body for adding a salary rule category.
type CreateCategoryRequest struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	ParentCode     string `json:"parentCode,omitempty"`
	Type           string `json:"type"`
	ExportCategory string `json:"exportCategory,omitempty"`
}

// CreateStructureRequest is the body for adding a salary structure.
type CreateStructureRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	ParentCode  string `json:"parentCode,omitempty"`
	SchedulePay string `json:"schedulePay,omitempty"`
}

// RuleRequest is the body for creating, updating or validating a salary
// rule. The same shape serves all three because validation must see
// exactly what a save would persist.
type RuleRequest struct {
	StructureCode string `json:"structureCode"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	Sequence      int    `json:"sequence"`
	CategoryCode  string `json:"categoryCode"`

	ConditionKind      string  `json:"conditionKind"`
	ConditionRangeExpr string  `json:"conditionRangeExpr,omitempty"`
	ConditionRangeMin  float64 `json:"conditionRangeMin,omitempty"`
	ConditionRangeMax  float64 `json:"conditionRangeMax,omitempty"`
	ConditionExpr      string  `json:"conditionExpr,omitempty"`

	AmountKind               string  `json:"amountKind"`
	AmountFixed              float64 `json:"amountFixed,omitempty"`
	AmountPercentage         float64 `json:"amountPercentage,omitempty"`
	AmountPercentageBaseExpr string  `json:"amountPercentageBaseExpr,omitempty"`
	AmountExpr               string  `json:"amountExpr,omitempty"`

	QuantityExpr string `json:"quantityExpr,omitempty"`

	AppearsOnPayslip bool   `json:"appearsOnPayslip"`
	ExportCategory   string `json:"exportCategory,omitempty"`
	GratuityEligible bool   `json:"gratuityEligible"`
	Active           *bool  `json:"active,omitempty"`
}

// toRule converts the request into the engine's rule type. Active
// defaults to true when omitted.
func (r RuleRequest) toRule() *payroll.Rule {
	active := true
	if r.Active != nil {
		active = *r.Active
	}

	return &payroll.Rule{
		StructureCode: r.StructureCode,
		Code:          r.Code,
		Name:          r.Name,
		Sequence:      r.Sequence,
		CategoryCode:  r.CategoryCode,

		ConditionKind:      payroll.ConditionKind(r.ConditionKind),
		ConditionRangeExpr: r.ConditionRangeExpr,
		ConditionRangeMin:  r.ConditionRangeMin,
		ConditionRangeMax:  r.ConditionRangeMax,
		ConditionExpr:      r.ConditionExpr,

		AmountKind:               payroll.AmountKind(r.AmountKind),
		AmountFixed:              r.AmountFixed,
		AmountPercentage:         r.AmountPercentage,
		AmountPercentageBaseExpr: r.AmountPercentageBaseExpr,
		AmountExpr:               r.AmountExpr,

		QuantityExpr: r.QuantityExpr,

		AppearsOnPayslip: r.AppearsOnPayslip,
		ExportCategory:   r.ExportCategory,
		GratuityEligible: r.GratuityEligible,
		Active:           active,
	}
}

// ComputeRequest asks for a single payslip computation.
type ComputeRequest struct {
	CompanyID string               `json:"companyId"`
	Payslip   payroll.PayslipInput `json:"payslip"`
}

// ComputeResponse carries the computed payslip and timing.
type ComputeResponse struct {
	Result          *payroll.PayslipResult `json:"result"`
	ComputationTime string                 `json:"computationTime"`
}

// BatchComputeRequest asks for many payslips at once. Workers bounds the
// fan-out; zero selects a sensible default.
type BatchComputeRequest struct {
	CompanyID string                 `json:"companyId"`
	Payslips  []payroll.PayslipInput `json:"payslips"`
	Workers   int                    `json:"workers,omitempty"`
}

// BatchItemResponse is the outcome of one payslip inside a batch.
type BatchItemResponse struct {
	Index  int                    `json:"index"`
	Result *payroll.PayslipResult `json:"result,omitempty"`
	Error  *string                `json:"error,omitempty"`
}

// BatchComputeResponse carries every batch outcome in input order.
type BatchComputeResponse struct {
	Items           []BatchItemResponse `json:"items"`
	Failures        int                 `json:"failures"`
	ComputationTime string              `json:"computationTime"`
}
