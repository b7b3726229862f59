package payroll

import "fmt"

// ConfigurationError reports a structural problem discoverable without
// running a payslip: an inheritance cycle, an unknown reference, or an
// expression that fails to compile at save time.
type ConfigurationError struct {
	Subject string // structure or rule code the problem was found on
	Reason  string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error on %s: %s: %v", e.Subject, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error on %s: %s", e.Subject, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// RuleEvaluationError is a hard failure during a run: an expression-kind
// condition or an amount formula raised an error or produced a value of
// the wrong type. It aborts the whole payslip computation and carries
// enough business context to locate the broken rule without a debugger.
type RuleEvaluationError struct {
	RuleCode   string
	RuleName   string
	Expression string
	Err        error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s (%s) failed evaluating %q: %v",
		e.RuleCode, e.RuleName, e.Expression, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }
