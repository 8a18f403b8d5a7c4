package command

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/seqctl/model"
)

// Gate confirms a state-changing invocation before it runs. A nil error
// means go ahead.
type Gate func(ctx context.Context, op model.OperationDefinition, in model.InvocationInput) error

// AlwaysConfirm is a Gate that accepts every invocation.
func AlwaysConfirm(context.Context, model.OperationDefinition, model.InvocationInput) error {
	return nil
}

// RequireConfirmFlag is a Gate that accepts an invocation only when its
// input carries Confirm.
func RequireConfirmFlag(_ context.Context, op model.OperationDefinition, in model.InvocationInput) error {
	if in.Confirm {
		return nil
	}
	return model.NewNotConfirmedError(op.Name)
}

// Outcome returns OutcomeOK or the error code of a failed result.
func (r Result) Outcome() string {
	if r.Err == nil {
		return OutcomeOK
	}
	return model.ErrorCode(r.Err)
}

// Result is the outcome of one invocation: the output on success, or the
// error paired with its invocation.
type Result struct {
	Index      int               `json:"index"`
	Operation  string            `json:"operation"`
	Invocation *model.Invocation `json:"-"`
	Output     any               `json:"output,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
	Err        error             `json:"-"`
}

// Run executes one serialized invocation. Mutating operations pass through
// gate first; a nil gate refuses them. The input's region and profile
// override the context's scope. A refusal still carries its invocation.
func (a *Adapter) Run(ctx context.Context, in model.InvocationInput, gate Gate) Result {
	start := time.Now()
	res := Result{Operation: in.Operation}

	if in.Region != "" || in.Profile != "" {
		scope, _ := model.ScopeFrom(ctx)
		ctx = model.WithScope(ctx, model.Scope{Region: in.Region, Profile: in.Profile}.Merge(scope))
	}

	inv, err := a.CreateContext(ctx, in.Operation)
	if err != nil {
		a.notify(ctx, nil, in.Operation, time.Since(start), false, err)
		res.Err = wrapInvocation(nil, err)
		return res
	}
	res.Invocation = inv

	if inv.Definition.Mutating {
		if gate == nil {
			gate = RequireConfirmFlag
		}
		if err := gate(ctx, inv.Definition, in); err != nil {
			a.notify(ctx, inv, inv.Operation, time.Since(start), false, err)
			res.Err = wrapInvocation(inv, err)
			return res
		}
	}

	res.Output, res.Err = a.bindAndExecute(ctx, inv, in.Inputs, BindOptions{Select: in.Select, PassThru: in.PassThru}, start)
	res.Warnings = inv.Warnings
	return res
}

// BatchOptions configures RunBatch.
type BatchOptions struct {
	// Parallelism bounds concurrent invocations; values below 1 run the
	// batch sequentially.
	Parallelism int
	Confirm     Gate
	// OnItem, when set, is called as each item finishes. Calls may be
	// concurrent.
	OnItem func(Result)
}

// RunBatch runs every item and keeps going past failures. Results are in
// item order; the returned error aggregates the failures, also in item
// order, and is nil when every item succeeded.
func (a *Adapter) RunBatch(ctx context.Context, items []model.InvocationInput, opts BatchOptions) ([]Result, error) {
	limit := opts.Parallelism
	if limit < 1 {
		limit = 1
	}

	results := make([]Result, len(items))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			res := a.Run(ctx, item, opts.Confirm)
			res.Index = i
			results[i] = res
			if opts.OnItem != nil {
				opts.OnItem(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	var merr *multierror.Error
	for _, res := range results {
		if res.Err != nil {
			merr = multierror.Append(merr, res.Err)
		}
	}
	return results, merr.ErrorOrNil()
}
