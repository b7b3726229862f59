package payroll

import "time"

// CategoryType classifies a salary rule category for reporting and
// summary aggregation.
type CategoryType string

const (
	CategoryBasic        CategoryType = "basic"
	CategoryAllowance    CategoryType = "allowance"
	CategoryDeduction    CategoryType = "deduction"
	CategoryGross        CategoryType = "gross"
	CategoryNet          CategoryType = "net"
	CategoryContribution CategoryType = "contribution"
	CategoryOther        CategoryType = "other"
)

// ConditionKind selects how a rule decides whether it applies.
type ConditionKind string

const (
	// ConditionAlways makes the rule unconditionally applicable.
	ConditionAlways ConditionKind = "always"
	// ConditionRange applies the rule when a numeric base expression
	// falls inside [RangeMin, RangeMax], both ends inclusive.
	ConditionRange ConditionKind = "range"
	// ConditionExpression applies the rule when a boolean expression
	// evaluates to true.
	ConditionExpression ConditionKind = "expression"
)

// AmountKind selects how a rule computes its amount.
type AmountKind string

const (
	AmountFixed      AmountKind = "fixed"
	AmountPercentage AmountKind = "percentage"
	AmountExpression AmountKind = "expression"
)

// Category is a salary rule category: a node in the classification
// taxonomy whose code is also the key under which rule totals accumulate
// during a computation run. Categories are configuration data and are
// never mutated by the engine.
type Category struct {
	Code       string       `json:"code"`
	Name       string       `json:"name"`
	ParentCode string       `json:"parentCode,omitempty"` // empty for a root category
	Type       CategoryType `json:"type"`
	// ExportCategory is an opaque secondary classification consumed by
	// downstream exporters (bank files, accounting). Independent of Type.
	ExportCategory string    `json:"exportCategory,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Structure is a named, ordered, inheritable collection of salary rules
// defining one salary scheme. Structures form a single-parent chain;
// the chain must be acyclic.
type Structure struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	ParentCode string `json:"parentCode,omitempty"` // empty for a root structure
	// SchedulePay is informational (monthly, weekly, ...); the engine
	// does not interpret it.
	SchedulePay string    `json:"schedulePay,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Rule is a single computable payslip line item: a condition deciding
// whether it applies and an amount/quantity/rate computation.
//
// Rule codes are unique within the rule's own structure only. The same
// code may legitimately reappear elsewhere in an inheritance chain; the
// engine surfaces that as a warning rather than collapsing the rules.
type Rule struct {
	ID            string `json:"id"` // uuid
	StructureCode string `json:"structureCode"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	// Sequence defines intra-run ordering; lower runs first.
	Sequence     int    `json:"sequence"`
	CategoryCode string `json:"categoryCode"`

	ConditionKind ConditionKind `json:"conditionKind"`
	// ConditionRangeExpr is evaluated to a number when ConditionKind is
	// ConditionRange; the rule applies iff the value lies in
	// [ConditionRangeMin, ConditionRangeMax].
	ConditionRangeExpr string  `json:"conditionRangeExpr,omitempty"`
	ConditionRangeMin  float64 `json:"conditionRangeMin,omitempty"`
	ConditionRangeMax  float64 `json:"conditionRangeMax,omitempty"`
	// ConditionExpr is evaluated to a bool when ConditionKind is
	// ConditionExpression.
	ConditionExpr string `json:"conditionExpr,omitempty"`

	AmountKind       AmountKind `json:"amountKind"`
	AmountFixed      float64    `json:"amountFixed,omitempty"`
	AmountPercentage float64    `json:"amountPercentage,omitempty"`
	// AmountPercentageBaseExpr yields the base the percentage is taken of.
	AmountPercentageBaseExpr string `json:"amountPercentageBaseExpr,omitempty"`
	// AmountExpr yields either a number (the amount) or a map with keys
	// "result", "result_qty", "result_rate".
	AmountExpr string `json:"amountExpr,omitempty"`

	// QuantityExpr defaults to "1.0" when empty.
	QuantityExpr string `json:"quantityExpr,omitempty"`

	// AppearsOnPayslip controls whether the rule emits a visible line or
	// acts as a pure intermediate accumulator.
	AppearsOnPayslip bool `json:"appearsOnPayslip"`

	// Opaque downstream tags.
	ExportCategory   string `json:"exportCategory,omitempty"`
	GratuityEligible bool   `json:"gratuityEligible"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PayslipLine is one emitted output row. Total = Amount * Quantity * Rate / 100.
type PayslipLine struct {
	RuleID           string  `json:"ruleId"`
	RuleCode         string  `json:"ruleCode"`
	RuleName         string  `json:"ruleName"`
	CategoryCode     string  `json:"categoryCode"`
	Sequence         int     `json:"sequence"`
	Amount           float64 `json:"amount"`
	Quantity         float64 `json:"quantity"`
	Rate             float64 `json:"rate"`
	Total            float64 `json:"total"`
	ExportCategory   string  `json:"exportCategory,omitempty"`
	GratuityEligible bool    `json:"gratuityEligible"`
}

// PayslipInput carries everything one computation run needs. All lookups
// (employee, contract, period inputs) are resolved by the caller
// beforehand and handed in as plain data; the engine performs no I/O.
type PayslipInput struct {
	// EmployeeRef identifies the employee in failure reports; not
	// visible to expressions.
	EmployeeRef string `json:"employeeRef"`

	StructureCode string `json:"structureCode"`

	// Read-only facts exposed to expressions as employee, contract,
	// worked_days and inputs.
	Employee   map[string]any `json:"employee,omitempty"`
	Contract   map[string]any `json:"contract,omitempty"`
	WorkedDays map[string]any `json:"workedDays,omitempty"`
	Inputs     map[string]any `json:"inputs,omitempty"`
}

// PayslipResult is the outcome of a successful computation run.
type PayslipResult struct {
	EmployeeRef   string `json:"employeeRef"`
	StructureCode string `json:"structureCode"`

	// Lines holds the visible payslip rows in evaluation order.
	Lines []PayslipLine `json:"lines"`

	// Categories and Rules are the final accumulated totals, including
	// contributions from rules that do not appear on the payslip.
	Categories map[string]float64 `json:"categories"`
	Rules      map[string]float64 `json:"rules"`

	// Warnings collects soft failures (range conditions, quantity
	// expressions) and configuration advisories for audit review.
	Warnings []EvalWarning `json:"warnings,omitempty"`

	Summary Summary `json:"summary"`
}

// WarningKind identifies what produced an EvalWarning.
type WarningKind string

const (
	WarnRangeCondition WarningKind = "range_condition"
	WarnQuantity       WarningKind = "quantity"
	WarnDuplicateCode  WarningKind = "duplicate_code"
)

// EvalWarning records a non-fatal evaluation problem. Soft failures never
// abort a run but must remain retrievable afterwards.
type EvalWarning struct {
	Kind       WarningKind `json:"kind"`
	RuleCode   string      `json:"ruleCode"`
	RuleName   string      `json:"ruleName,omitempty"`
	Expression string      `json:"expression,omitempty"`
	Detail     string      `json:"detail"`
}

// Summary aggregates a computed payslip into the headline figures the
// batch runner and reports consume. Gross and net fall back to derived
// values when no explicit gross/net rule fired.
type Summary struct {
	BasicWage          float64 `json:"basicWage"`
	GrossWage          float64 `json:"grossWage"`
	NetWage            float64 `json:"netWage"`
	TotalDeductions    float64 `json:"totalDeductions"`
	HousingAllowance   float64 `json:"housingAllowance"`
	TransportAllowance float64 `json:"transportAllowance"`
	OtherAllowances    float64 `json:"otherAllowances"`
	OvertimeAmount     float64 `json:"overtimeAmount"`
}
