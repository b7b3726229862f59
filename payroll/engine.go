package payroll

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/gulfpay/payroll/internal/logger"
)

// celCostLimit bounds evaluation of a single expression so a pathological
// formula cannot consume unbounded resources.
const celCostLimit = 1_000_000

// defaultQuantityExpr is used when a rule leaves QuantityExpr empty.
const defaultQuantityExpr = "1.0"

// Engine compiles salary rule expressions and computes payslips.
// Thread-safe: many payslips may be computed concurrently against one
// Engine as long as configuration is not mutated mid-batch.
type Engine struct {
	env      *cel.Env
	store    Store
	cache    RuleSetCache
	programs map[string]*rulePrograms // rule ID -> compiled programs
	mu       sync.RWMutex
}

// rulePrograms holds the compiled CEL programs a rule needs. Only the
// programs required by the rule's condition and amount kinds are set.
type rulePrograms struct {
	condition cel.Program // ConditionExpression
	rangeBase cel.Program // ConditionRange
	pctBase   cel.Program // AmountPercentage
	amount    cel.Program // AmountExpression
	quantity  cel.Program // always present
}

// NewEngine creates an engine over the given store and compiles every
// active rule up front, so configuration errors surface at startup
// rather than mid-payroll.
func NewEngine(store Store) (*Engine, error) {
	env, err := NewEnv()
	if err != nil {
		return nil, err
	}
	return NewEngineWithEnv(env, store)
}

// NewEngineWithEnv creates an engine with a caller-supplied CEL
// environment. The environment must declare the evaluation-context
// variables (see NewEnv).
func NewEngineWithEnv(env *cel.Env, store Store) (*Engine, error) {
	en := &Engine{
		env:      env,
		store:    store,
		cache:    NewInMemoryRuleSetCache(DefaultCacheConfig()),
		programs: make(map[string]*rulePrograms),
	}

	if err := en.CompileAllRules(); err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	return en, nil
}

// compile compiles one expression to a program with the cost limit applied.
func (en *Engine) compile(expr string) (cel.Program, error) {
	ast, issues := en.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := en.env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return prog, nil
}

// CompileRule compiles the expressions a rule's kinds require and caches
// the programs. A compile failure is reported as a ConfigurationError
// naming the offending rule.
func (en *Engine) CompileRule(r *Rule) error {
	progs := &rulePrograms{}

	fail := func(field string, err error) error {
		return &ConfigurationError{
			Subject: r.Code,
			Reason:  fmt.Sprintf("invalid %s expression", field),
			Err:     err,
		}
	}

	var err error
	switch r.ConditionKind {
	case ConditionAlways:
		// nothing to compile
	case ConditionRange:
		if progs.rangeBase, err = en.compile(r.ConditionRangeExpr); err != nil {
			return fail("range condition", err)
		}
	case ConditionExpression:
		if progs.condition, err = en.compile(r.ConditionExpr); err != nil {
			return fail("condition", err)
		}
	default:
		return &ConfigurationError{Subject: r.Code,
			Reason: fmt.Sprintf("unknown condition kind %q", r.ConditionKind)}
	}

	switch r.AmountKind {
	case AmountFixed:
		// nothing to compile
	case AmountPercentage:
		if progs.pctBase, err = en.compile(r.AmountPercentageBaseExpr); err != nil {
			return fail("percentage base", err)
		}
	case AmountExpression:
		if progs.amount, err = en.compile(r.AmountExpr); err != nil {
			return fail("amount", err)
		}
	default:
		return &ConfigurationError{Subject: r.Code,
			Reason: fmt.Sprintf("unknown amount kind %q", r.AmountKind)}
	}

	qtyExpr := r.QuantityExpr
	if qtyExpr == "" {
		qtyExpr = defaultQuantityExpr
	}
	if progs.quantity, err = en.compile(qtyExpr); err != nil {
		return fail("quantity", err)
	}

	en.mu.Lock()
	en.programs[r.ID] = progs
	en.mu.Unlock()

	return nil
}

// CompileAllRules compiles every active rule from the store.
func (en *Engine) CompileAllRules() error {
	rules, err := en.store.ListAllRules()
	if err != nil {
		return err
	}

	for _, r := range rules {
		if err := en.CompileRule(r); err != nil {
			return fmt.Errorf("failed to compile rule %s: %w", r.Code, err)
		}
	}

	return nil
}

// AddRule validates, compiles and stores a new rule. The rule never
// reaches the store if validation or compilation fails.
func (en *Engine) AddRule(r *Rule) error {
	if err := en.ValidateRule(r); err != nil {
		return err
	}

	if err := en.CompileRule(r); err != nil {
		return err
	}

	if err := en.store.AddRule(r); err != nil {
		// Remove the compiled programs if the store rejects the rule
		en.mu.Lock()
		delete(en.programs, r.ID)
		en.mu.Unlock()
		return err
	}

	en.cache.Invalidate()
	return nil
}

// UpdateRule validates and recompiles an existing rule, then updates it
// in the store. If the store rejects the update, the previously compiled
// programs are restored so the engine keeps evaluating the persisted
// rule, never the rejected one.
func (en *Engine) UpdateRule(r *Rule) error {
	if err := en.ValidateRule(r); err != nil {
		return err
	}

	en.mu.RLock()
	prev, hadPrev := en.programs[r.ID]
	en.mu.RUnlock()

	if err := en.CompileRule(r); err != nil {
		return err
	}

	if err := en.store.UpdateRule(r); err != nil {
		en.mu.Lock()
		if hadPrev {
			en.programs[r.ID] = prev
		} else {
			delete(en.programs, r.ID)
		}
		en.mu.Unlock()
		return err
	}

	en.cache.Invalidate()
	return nil
}

// DeleteRule removes a rule from the store and drops its programs.
func (en *Engine) DeleteRule(id string) error {
	if err := en.store.DeleteRule(id); err != nil {
		return err
	}

	en.mu.Lock()
	delete(en.programs, id)
	en.mu.Unlock()

	en.cache.Invalidate()
	return nil
}

// AddStructure verifies the parent chain stays acyclic and resolvable
// before persisting a structure. Cycle detection happens here, at save
// time, not just during computation.
func (en *Engine) AddStructure(st *Structure) error {
	if st.ParentCode != "" {
		visited := map[string]bool{st.Code: true}
		parent := st.ParentCode
		for parent != "" {
			if visited[parent] {
				return &ConfigurationError{
					Subject: st.Code,
					Reason:  fmt.Sprintf("inheritance cycle through structure %s", parent),
				}
			}
			visited[parent] = true
			p, err := en.store.GetStructure(parent)
			if err != nil {
				return &ConfigurationError{
					Subject: st.Code,
					Reason:  fmt.Sprintf("parent structure %s does not exist", parent),
					Err:     err,
				}
			}
			parent = p.ParentCode
		}
	}

	if err := en.store.AddStructure(st); err != nil {
		return err
	}

	en.cache.Invalidate()
	return nil
}

// effectiveRules resolves the full rule set for a structure: its own
// rules plus every ancestor's, ordered for execution.
//
// Collection order is root-most ancestor first, down to the structure
// itself, each structure's rules in creation order; the combined list is
// then stable-sorted by Sequence. That fixed tie-break makes runs
// reproducible. Duplicate codes across the chain are NOT collapsed: both
// rules execute, and the duplication is reported via warnings.
func (en *Engine) effectiveRules(structureCode string) ([]*Rule, []EvalWarning, error) {
	resolved := en.cache.Get(structureCode)

	if resolved == nil {
		// Walk the parent chain with a visited guard. Malformed
		// configuration must fail, not loop.
		var chain []string
		visited := make(map[string]bool)
		code := structureCode
		for code != "" {
			if visited[code] {
				return nil, nil, &ConfigurationError{
					Subject: structureCode,
					Reason:  fmt.Sprintf("inheritance cycle through structure %s", code),
				}
			}
			visited[code] = true
			st, err := en.store.GetStructure(code)
			if err != nil {
				return nil, nil, &ConfigurationError{
					Subject: structureCode,
					Reason:  fmt.Sprintf("structure %s not found", code),
					Err:     err,
				}
			}
			chain = append(chain, st.Code)
			code = st.ParentCode
		}

		// Root-most ancestor first.
		for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
			chain[i], chain[j] = chain[j], chain[i]
		}

		for _, sc := range chain {
			rules, err := en.store.ListRules(sc)
			if err != nil {
				return nil, nil, err
			}
			resolved = append(resolved, rules...)
		}

		sort.SliceStable(resolved, func(i, j int) bool {
			return resolved[i].Sequence < resolved[j].Sequence
		})

		en.cache.Set(structureCode, resolved)
	}

	var warnings []EvalWarning
	seen := make(map[string]bool, len(resolved))
	for _, r := range resolved {
		if seen[r.Code] {
			warnings = append(warnings, EvalWarning{
				Kind:     WarnDuplicateCode,
				RuleCode: r.Code,
				RuleName: r.Name,
				Detail:   "rule code appears more than once in the effective rule set; both rules execute",
			})
			logger.Warn("duplicate rule code in effective rule set",
				"structure", structureCode, "rule", r.Code)
		}
		seen[r.Code] = true
	}

	return resolved, warnings, nil
}

// isApplicable evaluates a rule's condition against the facts.
//
// Range conditions fail soft: an evaluation error makes the rule
// not-applicable and is reported as a warning, never swallowed silently.
// Expression conditions fail hard: they are explicit business logic, and
// an error there means broken configuration, so the whole payslip aborts.
func (en *Engine) isApplicable(r *Rule, progs *rulePrograms, facts map[string]any) (bool, *EvalWarning, error) {
	switch r.ConditionKind {
	case ConditionAlways:
		return true, nil, nil

	case ConditionRange:
		out, _, err := progs.rangeBase.Eval(facts)
		if err != nil {
			logger.Warn("range condition failed to evaluate",
				"rule", r.Code, "expression", r.ConditionRangeExpr, "error", err)
			return false, &EvalWarning{
				Kind:       WarnRangeCondition,
				RuleCode:   r.Code,
				RuleName:   r.Name,
				Expression: r.ConditionRangeExpr,
				Detail:     err.Error(),
			}, nil
		}
		v, ok := toFloat(out.Value())
		if !ok {
			detail := fmt.Sprintf("range expression yielded non-numeric %T", out.Value())
			logger.Warn("range condition yielded non-numeric value",
				"rule", r.Code, "expression", r.ConditionRangeExpr)
			return false, &EvalWarning{
				Kind:       WarnRangeCondition,
				RuleCode:   r.Code,
				RuleName:   r.Name,
				Expression: r.ConditionRangeExpr,
				Detail:     detail,
			}, nil
		}
		return r.ConditionRangeMin <= v && v <= r.ConditionRangeMax, nil, nil

	case ConditionExpression:
		out, _, err := progs.condition.Eval(facts)
		if err != nil {
			return false, nil, &RuleEvaluationError{
				RuleCode: r.Code, RuleName: r.Name,
				Expression: r.ConditionExpr, Err: err,
			}
		}
		b, ok := out.Value().(bool)
		if !ok {
			return false, nil, &RuleEvaluationError{
				RuleCode: r.Code, RuleName: r.Name,
				Expression: r.ConditionExpr,
				Err:        fmt.Errorf("condition yielded non-boolean %T", out.Value()),
			}
		}
		return b, nil, nil

	default:
		return false, nil, &ConfigurationError{Subject: r.Code,
			Reason: fmt.Sprintf("unknown condition kind %q", r.ConditionKind)}
	}
}

// computeAmount computes (amount, quantity, rate) for an applicable rule.
//
// Fixed and percentage amounts, and expression formulas, fail hard: a
// malformed formula must stop payroll rather than silently compute zero.
// The quantity expression fails soft, defaulting to 1.0 with a warning:
// quantity is a secondary multiplier, not the primary business amount.
func (en *Engine) computeAmount(r *Rule, progs *rulePrograms, facts map[string]any) (amount, qty, rate float64, warn *EvalWarning, err error) {
	qty = 1.0
	rate = 100.0
	qtyFromFormula := false

	switch r.AmountKind {
	case AmountFixed:
		amount = r.AmountFixed

	case AmountPercentage:
		out, _, evalErr := progs.pctBase.Eval(facts)
		if evalErr != nil {
			return 0, 0, 0, nil, &RuleEvaluationError{
				RuleCode: r.Code, RuleName: r.Name,
				Expression: r.AmountPercentageBaseExpr, Err: evalErr,
			}
		}
		base, ok := toFloat(out.Value())
		if !ok {
			return 0, 0, 0, nil, &RuleEvaluationError{
				RuleCode: r.Code, RuleName: r.Name,
				Expression: r.AmountPercentageBaseExpr,
				Err:        fmt.Errorf("percentage base yielded non-numeric %T", out.Value()),
			}
		}
		amount = base * r.AmountPercentage / 100

	case AmountExpression:
		out, _, evalErr := progs.amount.Eval(facts)
		if evalErr != nil {
			return 0, 0, 0, nil, &RuleEvaluationError{
				RuleCode: r.Code, RuleName: r.Name,
				Expression: r.AmountExpr, Err: evalErr,
			}
		}
		if m, ok := asStringMap(out); ok {
			// Three-valued formula result: result / result_qty / result_rate.
			amount = 0.0
			if rv, present := m["result"]; present {
				if amount, ok = toFloat(rv); !ok {
					return 0, 0, 0, nil, &RuleEvaluationError{
						RuleCode: r.Code, RuleName: r.Name, Expression: r.AmountExpr,
						Err: fmt.Errorf("result yielded non-numeric %T", rv),
					}
				}
			}
			if rv, present := m["result_qty"]; present {
				if qty, ok = toFloat(rv); !ok {
					return 0, 0, 0, nil, &RuleEvaluationError{
						RuleCode: r.Code, RuleName: r.Name, Expression: r.AmountExpr,
						Err: fmt.Errorf("result_qty yielded non-numeric %T", rv),
					}
				}
				qtyFromFormula = true
			}
			if rv, present := m["result_rate"]; present {
				if rate, ok = toFloat(rv); !ok {
					return 0, 0, 0, nil, &RuleEvaluationError{
						RuleCode: r.Code, RuleName: r.Name, Expression: r.AmountExpr,
						Err: fmt.Errorf("result_rate yielded non-numeric %T", rv),
					}
				}
			}
		} else if v, ok := toFloat(out.Value()); ok {
			amount = v
		} else {
			return 0, 0, 0, nil, &RuleEvaluationError{
				RuleCode: r.Code, RuleName: r.Name, Expression: r.AmountExpr,
				Err: fmt.Errorf("amount formula yielded %T, want number or result map", out.Value()),
			}
		}

	default:
		return 0, 0, 0, nil, &ConfigurationError{Subject: r.Code,
			Reason: fmt.Sprintf("unknown amount kind %q", r.AmountKind)}
	}

	// The quantity expression applies unless the formula already set an
	// explicit result_qty.
	if !qtyFromFormula {
		out, _, evalErr := progs.quantity.Eval(facts)
		if evalErr != nil {
			qty = 1.0
			warn = &EvalWarning{
				Kind:       WarnQuantity,
				RuleCode:   r.Code,
				RuleName:   r.Name,
				Expression: r.QuantityExpr,
				Detail:     evalErr.Error(),
			}
			logger.Warn("quantity expression failed, defaulting to 1.0",
				"rule", r.Code, "expression", r.QuantityExpr, "error", evalErr)
		} else if v, ok := toFloat(out.Value()); ok {
			qty = v
		} else {
			qty = 1.0
			warn = &EvalWarning{
				Kind:       WarnQuantity,
				RuleCode:   r.Code,
				RuleName:   r.Name,
				Expression: r.QuantityExpr,
				Detail:     fmt.Sprintf("quantity yielded non-numeric %T", out.Value()),
			}
		}
	}

	return amount, qty, rate, warn, nil
}

// ComputePayslip runs the full pipeline for one employee and period:
// resolve the effective rule set, evaluate each rule in order against a
// fresh evaluation context, fold results back into the context, and emit
// the ordered payslip lines.
//
// The run is all-or-nothing: any hard failure aborts and no line list is
// returned, so a partially computed payslip can never be mistaken for a
// final one.
func (en *Engine) ComputePayslip(input PayslipInput) (*PayslipResult, error) {
	resolved, warnings, err := en.effectiveRules(input.StructureCode)
	if err != nil {
		return nil, err
	}

	// Fresh evaluation context per run; nothing leaks between employees.
	categories := make(map[string]float64)
	ruleTotals := make(map[string]float64)

	// Running totals start at zero for every known category so formulas
	// can reference categories that have not accumulated anything yet.
	cats, err := en.store.ListCategories()
	if err != nil {
		return nil, err
	}
	catIndex := make(map[string]*Category, len(cats))
	for _, c := range cats {
		categories[c.Code] = 0
		catIndex[c.Code] = c
	}
	for _, r := range resolved {
		if _, ok := categories[r.CategoryCode]; !ok {
			categories[r.CategoryCode] = 0
		}
	}

	facts := map[string]any{
		"employee":    nonNil(input.Employee),
		"contract":    nonNil(input.Contract),
		"worked_days": nonNil(input.WorkedDays),
		"inputs":      nonNil(input.Inputs),
		"categories":  categories,
		"rules":       ruleTotals,
	}

	var lines []PayslipLine
	for _, r := range resolved {
		en.mu.RLock()
		progs, compiled := en.programs[r.ID]
		en.mu.RUnlock()
		if !compiled {
			return nil, &ConfigurationError{Subject: r.Code, Reason: "rule is not compiled"}
		}

		applicable, warn, err := en.isApplicable(r, progs, facts)
		if warn != nil {
			warnings = append(warnings, *warn)
		}
		if err != nil {
			return nil, en.annotate(err, input)
		}
		if !applicable {
			// Skipped rules leave no trace: no line, no context mutation.
			continue
		}

		amount, qty, rate, warn, err := en.computeAmount(r, progs, facts)
		if warn != nil {
			warnings = append(warnings, *warn)
		}
		if err != nil {
			return nil, en.annotate(err, input)
		}

		total := amount * qty * rate / 100

		// Fold the result into the context for later rules, whether or
		// not this rule produces a visible line.
		ruleTotals[r.Code] = total
		categories[r.CategoryCode] += total

		if r.AppearsOnPayslip {
			lines = append(lines, PayslipLine{
				RuleID:           r.ID,
				RuleCode:         r.Code,
				RuleName:         r.Name,
				CategoryCode:     r.CategoryCode,
				Sequence:         r.Sequence,
				Amount:           amount,
				Quantity:         qty,
				Rate:             rate,
				Total:            total,
				ExportCategory:   r.ExportCategory,
				GratuityEligible: r.GratuityEligible,
			})
		}
	}

	return &PayslipResult{
		EmployeeRef:   input.EmployeeRef,
		StructureCode: input.StructureCode,
		Lines:         lines,
		Categories:    categories,
		Rules:         ruleTotals,
		Warnings:      warnings,
		Summary:       buildSummary(lines, catIndex),
	}, nil
}

// annotate wraps a hard failure with the employee it happened for, so a
// batch caller can report which payslip broke.
func (en *Engine) annotate(err error, input PayslipInput) error {
	if input.EmployeeRef == "" {
		return err
	}
	return fmt.Errorf("payslip for employee %s: %w", input.EmployeeRef, err)
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
