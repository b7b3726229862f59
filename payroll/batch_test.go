package payroll

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestComputeBatch(t *testing.T) {
	engine, _ := newTestEngine(t)
	basic := fixedRule("r1", "BASIC", 1, "BASIC", 0)
	basic.AmountKind = AmountExpression
	basic.AmountExpr = `contract.wage * 1.0`
	mustAddRule(t, engine, basic)

	inputs := make([]PayslipInput, 50)
	for i := range inputs {
		inputs[i] = PayslipInput{
			EmployeeRef:   fmt.Sprintf("EMP-%03d", i),
			StructureCode: "monthly",
			Contract:      map[string]any{"wage": float64(1000 + i)},
		}
	}

	batch := engine.ComputeBatch(context.Background(), inputs, 8)

	if len(batch.Items) != len(inputs) {
		t.Fatalf("got %d items, want %d", len(batch.Items), len(inputs))
	}
	if failed := batch.Failed(); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}

	// Results stay at their input index, whatever order the workers
	// finished in.
	for i, item := range batch.Items {
		if item.Index != i {
			t.Errorf("item %d has index %d", i, item.Index)
		}
		if want := float64(1000 + i); item.Result.Rules["BASIC"] != want {
			t.Errorf("item %d: BASIC = %v, want %v", i, item.Result.Rules["BASIC"], want)
		}
	}
}

// One broken payslip fails alone; the rest of the batch completes.
func TestComputeBatchIsolatesFailures(t *testing.T) {
	engine, _ := newTestEngine(t)
	r := fixedRule("r1", "BASIC", 1, "BASIC", 0)
	r.AmountKind = AmountExpression
	r.AmountExpr = `contract.wage * 1.0`
	mustAddRule(t, engine, r)

	inputs := []PayslipInput{
		{EmployeeRef: "EMP-000", StructureCode: "monthly", Contract: map[string]any{"wage": 1000.0}},
		{EmployeeRef: "EMP-001", StructureCode: "monthly"}, // wage missing
		{EmployeeRef: "EMP-002", StructureCode: "monthly", Contract: map[string]any{"wage": 3000.0}},
	}

	batch := engine.ComputeBatch(context.Background(), inputs, 2)

	failed := batch.Failed()
	if len(failed) != 1 {
		t.Fatalf("got %d failures, want 1", len(failed))
	}
	if failed[0].Index != 1 {
		t.Errorf("failed index = %d, want 1", failed[0].Index)
	}

	var evalErr *RuleEvaluationError
	if !errors.As(failed[0].Err, &evalErr) {
		t.Errorf("failure should be a RuleEvaluationError, got %T", failed[0].Err)
	}

	if batch.Items[0].Err != nil || batch.Items[2].Err != nil {
		t.Error("healthy payslips must not be affected by a failing one")
	}
	if batch.Items[2].Result.Rules["BASIC"] != 3000 {
		t.Errorf("item 2 BASIC = %v, want 3000", batch.Items[2].Result.Rules["BASIC"])
	}
}

func TestComputeBatchDefaultsWorkers(t *testing.T) {
	engine, _ := newTestEngine(t)
	mustAddRule(t, engine, fixedRule("r1", "BASIC", 1, "BASIC", 4000))

	inputs := []PayslipInput{
		{StructureCode: "monthly"},
		{StructureCode: "monthly"},
	}

	batch := engine.ComputeBatch(context.Background(), inputs, 0)
	if len(batch.Failed()) != 0 {
		t.Errorf("unexpected failures: %+v", batch.Failed())
	}
}

// Cancelling the context stops dispatching; undispatched payslips report
// the context error instead of hanging.
func TestComputeBatchCancellation(t *testing.T) {
	engine, _ := newTestEngine(t)
	mustAddRule(t, engine, fixedRule("r1", "BASIC", 1, "BASIC", 4000))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inputs := make([]PayslipInput, 100)
	for i := range inputs {
		inputs[i] = PayslipInput{StructureCode: "monthly"}
	}

	batch := engine.ComputeBatch(ctx, inputs, 4)

	cancelled := 0
	for _, item := range batch.Items {
		if errors.Is(item.Err, context.Canceled) {
			cancelled++
		}
	}
	if cancelled == 0 {
		t.Error("cancelled batch should report context errors for undispatched payslips")
	}
}
