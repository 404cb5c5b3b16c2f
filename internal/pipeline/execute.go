package pipeline

import (
	"context"

	"github.com/kyleking/insight-query/internal/audit"
	"github.com/kyleking/insight-query/internal/correction"
	"github.com/kyleking/insight-query/internal/errors"
	"github.com/kyleking/insight-query/internal/schema"
	"github.com/kyleking/insight-query/internal/sqlgen"
	"github.com/kyleking/insight-query/internal/warehouse"
)

// Executor runs plans and reintrospects the catalog. *warehouse.Warehouse
// satisfies it.
type Executor interface {
	Execute(ctx context.Context, query string) (*warehouse.ResultSet, error)
	LoadSchema(ctx context.Context, schemas []string) ([]schema.TableDescriptor, error)
}

const (
	outcomeRetried       = "retried"
	outcomeUnchanged     = "unchanged"
	outcomeClarification = "clarification"
	outcomeReloadFailed  = "reload_failed"
)

// Execute runs res.Plan on exec. When the warehouse reports a table or column
// the registry still lists, the plan's schema is reloaded, the request is
// regenerated through the correction engine, and a changed query runs once
// more. The returned result is the one whose plan ran, or a clarification when
// the identifier no longer resolves.
func (p *Pipeline) Execute(ctx context.Context, identity string, res *Result, exec Executor) (*warehouse.ResultSet, *Result, error) {
	if res == nil || res.Plan == nil {
		return nil, res, errors.New(errors.ErrTypeValidation, "result has no plan to execute")
	}

	rs, err := exec.Execute(ctx, res.Plan.Query)
	if err == nil {
		return rs, res, nil
	}

	cause, ok := errors.As(err)
	if !ok || (cause.Reason != errors.ReasonUnknownColumn && cause.Reason != errors.ReasonUnknownTable) {
		return nil, res, err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, res, ctxErr
	}

	ctx = audit.WithRequestID(ctx, res.RequestID)
	logger := p.logger.WithFields(map[string]interface{}{
		"request_id": res.RequestID,
		"identifier": cause.Identifier,
	})
	logger.Info("warehouse rejected identifier, reloading schema")

	if reloadErr := p.reload(ctx, exec, res.Plan); reloadErr != nil {
		logger.WithError(reloadErr).Warn("schema reload failed")
		p.recordExecutionCorrection(ctx, identity, cause, outcomeReloadFailed, res.Plan.Query)

		return nil, res, err
	}

	retry, genErr := p.generate(ctx, identity, requestFromPlan(res.Plan),
		&Result{RequestID: res.RequestID, Input: res.Input, Intent: res.Intent})
	if genErr != nil {
		return nil, res, genErr
	}

	if retry.NeedsClarification() {
		p.recordExecutionCorrection(ctx, identity, cause, outcomeClarification, res.Plan.Query)
		return nil, retry, nil
	}

	if retry.Plan.Query == res.Plan.Query {
		p.recordExecutionCorrection(ctx, identity, cause, outcomeUnchanged, res.Plan.Query)
		return nil, res, err
	}

	p.recordExecutionCorrection(ctx, identity, cause, outcomeRetried, retry.Plan.Query)
	retry.Corrections = append(append([]correction.Suggestion(nil), res.Corrections...), retry.Corrections...)

	rs, err = exec.Execute(ctx, retry.Plan.Query)
	if err != nil {
		return nil, retry, err
	}

	return rs, retry, nil
}

// reload replaces the descriptors of plan's schema with the warehouse's current
// ones and drops plan's table when the warehouse no longer has it
func (p *Pipeline) reload(ctx context.Context, exec Executor, plan *sqlgen.Plan) error {
	descs, err := exec.LoadSchema(ctx, []string{plan.Schema})
	if err != nil {
		return err
	}

	found := false

	for _, d := range descs {
		if err := p.registry.Register(d); err != nil {
			return err
		}

		if schema.NormalizeIdentifier(d.Name) == plan.Table {
			found = true
		}
	}

	if !found {
		p.registry.Unregister(plan.Schema + "." + plan.Table)
	}

	return nil
}

func (p *Pipeline) recordExecutionCorrection(ctx context.Context, identity string, cause *errors.Error, outcome, query string) {
	severity := audit.SeverityInfo
	if outcome != outcomeRetried {
		severity = audit.SeverityWarning
	}

	p.sink.Record(ctx, audit.NewEvent(ctx, audit.KindExecutionCorrection, severity, identity, query).
		With("identifier", cause.Identifier).
		With("reason", string(cause.Reason)).
		With("outcome", outcome))
}

// requestFromPlan turns a plan back into a request so it can be regenerated
// against a changed catalog
func requestFromPlan(plan *sqlgen.Plan) sqlgen.Request {
	req := sqlgen.Request{
		Table:        plan.Table,
		Columns:      append([]string(nil), plan.Columns...),
		Filters:      append([]sqlgen.Filter(nil), plan.Filters...),
		Aggregations: append([]sqlgen.Aggregation(nil), plan.Aggregations...),
		GroupBy:      append([]string(nil), plan.GroupBy...),
		OrderBy:      append([]sqlgen.OrderTerm(nil), plan.OrderBy...),
	}

	if plan.Limit != nil {
		limit := *plan.Limit
		req.Limit = &limit
	}

	return req
}
