package payroll

import (
	"context"
	"runtime"
	"sync"
)

// BatchItem is the outcome of one payslip inside a batch: either a
// result or the hard failure that aborted it. Index refers back to the
// input slice.
type BatchItem struct {
	Index  int
	Result *PayslipResult
	Err    error
}

// BatchResult collects every payslip of a batch run in input order.
// A failed payslip never poisons the others; the caller decides how to
// treat partial batches.
type BatchResult struct {
	Items []BatchItem
}

// Failed returns the items whose computation aborted.
func (b *BatchResult) Failed() []BatchItem {
	var failed []BatchItem
	for _, item := range b.Items {
		if item.Err != nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// ComputeBatch computes many payslips concurrently. Every invocation of
// ComputePayslip builds its own fresh evaluation context and shares no
// mutable state, so the fan-out needs no locking beyond the engine's own
// read locks; configuration must simply not be mutated mid-batch.
//
// workers <= 0 selects GOMAXPROCS. Cancelling ctx stops dispatching new
// payslips; items not started are reported with ctx.Err().
func (en *Engine) ComputeBatch(ctx context.Context, inputs []PayslipInput, workers int) *BatchResult {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}

	out := &BatchResult{Items: make([]BatchItem, len(inputs))}
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := en.ComputePayslip(inputs[i])
				out.Items[i] = BatchItem{Index: i, Result: res, Err: err}
			}
		}()
	}

	dispatched := make([]bool, len(inputs))
dispatch:
	for i := range inputs {
		select {
		case jobs <- i:
			dispatched[i] = true
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		for i := range inputs {
			if !dispatched[i] {
				out.Items[i] = BatchItem{Index: i, Err: err}
			}
		}
	}

	return out
}
