package payroll

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// NewEnv creates the CEL environment every rule expression is compiled
// against. The declared variables are the complete whitelist: nothing
// outside the evaluation context is reachable from an expression.
//
//   - employee, contract: read-only facts supplied by the caller
//   - worked_days, inputs: per-period inputs keyed by code
//   - categories: running per-category totals, updated after every rule
//   - rules: totals of rules already computed in the same run
func NewEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("employee", cel.DynType),
		cel.Variable("contract", cel.DynType),
		cel.Variable("worked_days", cel.DynType),
		cel.Variable("inputs", cel.DynType),
		cel.Variable("categories", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("rules", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}
