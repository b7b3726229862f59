package payroll

import (
	"fmt"
	"regexp"
)

var validCode = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// maxCodeLength bounds rule, category and structure codes.
const maxCodeLength = 100

// ValidateCode checks that a code is usable both as a stable identifier
// and as a lookup key inside expressions (rules['CODE'],
// categories['CODE']).
func ValidateCode(code string) error {
	if len(code) == 0 {
		return fmt.Errorf("code cannot be empty")
	}
	if len(code) > maxCodeLength {
		return fmt.Errorf("code length %d exceeds maximum of %d characters", len(code), maxCodeLength)
	}
	if !validCode.MatchString(code) {
		return fmt.Errorf("code must match ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}
	if isReservedKeyword(code) {
		return fmt.Errorf("cannot use reserved keyword %q as code", code)
	}
	return nil
}

// ValidateRule is the save-time validation entry point: it checks the
// rule's codes and kinds and compiles every expression the kinds
// require, so a syntax error is rejected at configuration time rather
// than at payroll-run time. It does not persist anything.
func (en *Engine) ValidateRule(r *Rule) error {
	fail := func(reason string, err error) error {
		return &ConfigurationError{Subject: r.Code, Reason: reason, Err: err}
	}

	if err := ValidateCode(r.Code); err != nil {
		return &ConfigurationError{Subject: r.ID, Reason: "invalid rule code", Err: err}
	}
	if r.Name == "" {
		return fail("rule name is required", nil)
	}
	if r.StructureCode == "" {
		return fail("rule must belong to a structure", nil)
	}
	if r.CategoryCode == "" {
		return fail("rule must have a category", nil)
	}
	if _, err := en.store.GetCategory(r.CategoryCode); err != nil {
		return fail(fmt.Sprintf("category %s does not exist", r.CategoryCode), err)
	}

	switch r.ConditionKind {
	case ConditionAlways:
	case ConditionRange:
		if r.ConditionRangeExpr == "" {
			return fail("range condition requires a range expression", nil)
		}
		if r.ConditionRangeMin > r.ConditionRangeMax {
			return fail(fmt.Sprintf("range minimum %v exceeds maximum %v",
				r.ConditionRangeMin, r.ConditionRangeMax), nil)
		}
		if _, err := en.compile(r.ConditionRangeExpr); err != nil {
			return fail("invalid range condition expression", err)
		}
	case ConditionExpression:
		if r.ConditionExpr == "" {
			return fail("expression condition requires a condition expression", nil)
		}
		if _, err := en.compile(r.ConditionExpr); err != nil {
			return fail("invalid condition expression", err)
		}
	default:
		return fail(fmt.Sprintf("unknown condition kind %q", r.ConditionKind), nil)
	}

	switch r.AmountKind {
	case AmountFixed:
	case AmountPercentage:
		if r.AmountPercentageBaseExpr == "" {
			return fail("percentage amount requires a base expression", nil)
		}
		if _, err := en.compile(r.AmountPercentageBaseExpr); err != nil {
			return fail("invalid percentage base expression", err)
		}
	case AmountExpression:
		if r.AmountExpr == "" {
			return fail("expression amount requires an amount expression", nil)
		}
		if _, err := en.compile(r.AmountExpr); err != nil {
			return fail("invalid amount expression", err)
		}
	default:
		return fail(fmt.Sprintf("unknown amount kind %q", r.AmountKind), nil)
	}

	if r.QuantityExpr != "" {
		if _, err := en.compile(r.QuantityExpr); err != nil {
			return fail("invalid quantity expression", err)
		}
	}

	return nil
}

// isReservedKeyword reports whether a name collides with a CEL reserved
// keyword and therefore cannot be used as a code.
func isReservedKeyword(name string) bool {
	reservedKeywords := map[string]bool{
		"true":      true,
		"false":     true,
		"null":      true,
		"if":        true,
		"else":      true,
		"for":       true,
		"while":     true,
		"break":     true,
		"continue":  true,
		"return":    true,
		"var":       true,
		"let":       true,
		"const":     true,
		"function":  true,
		"in":        true,
		"as":        true,
		"import":    true,
		"package":   true,
		"namespace": true,
		"loop":      true,
		"void":      true,
	}

	return reservedKeywords[name]
}
