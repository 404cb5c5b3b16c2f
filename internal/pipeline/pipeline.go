// Package pipeline wires validation, classification, generation and correction
// into the request entry points.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kyleking/insight-query/internal/audit"
	"github.com/kyleking/insight-query/internal/config"
	"github.com/kyleking/insight-query/internal/correction"
	"github.com/kyleking/insight-query/internal/errors"
	"github.com/kyleking/insight-query/internal/intent"
	"github.com/kyleking/insight-query/internal/logging"
	"github.com/kyleking/insight-query/internal/ratelimit"
	"github.com/kyleking/insight-query/internal/schema"
	"github.com/kyleking/insight-query/internal/security"
	"github.com/kyleking/insight-query/internal/sqlgen"
)

// Result is the outcome of one request. Exactly one of Plan and Clarification
// is set for data requests; explanation requests carry only the decision.
type Result struct {
	RequestID     string
	Input         string
	Intent        intent.Decision
	Plan          *sqlgen.Plan
	Corrections   []correction.Suggestion
	Clarification string
	// Unresolved names the identifier that could not be corrected
	Unresolved string
}

// NeedsClarification reports whether the caller must rephrase
func (r *Result) NeedsClarification() bool {
	return r.Clarification != ""
}

// Corrected reports whether an accepted substitution shaped the plan
func (r *Result) Corrected() bool {
	for _, s := range r.Corrections {
		if s.Accepted {
			return true
		}
	}

	return false
}

type options struct {
	sink       audit.Sink
	now        func() time.Time
	classifier intent.Config
	correction correction.Config
	logger     *logging.Logger
	topLimit   int
}

// Option configures a Pipeline
type Option func(*options)

// WithAuditSink sets where audit events go
func WithAuditSink(sink audit.Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithClock sets the rate limiter clock
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithClassifierConfig sets the confidence curve
func WithClassifierConfig(cfg intent.Config) Option {
	return func(o *options) {
		o.classifier = cfg
	}
}

// WithCorrectionConfig sets the correction threshold and budget
func WithCorrectionConfig(cfg correction.Config) Option {
	return func(o *options) {
		o.correction = cfg
	}
}

// WithLogger sets the pipeline logger
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDefaultTopLimit sets the row limit used for a bare "top"
func WithDefaultTopLimit(n int) Option {
	return func(o *options) {
		o.topLimit = n
	}
}

// OptionsFromConfig maps the classifier and correction config sections
func OptionsFromConfig(cfg *config.Config) []Option {
	return []Option{
		WithClassifierConfig(intent.ConfigFrom(cfg.Classifier)),
		WithCorrectionConfig(correction.ConfigFrom(cfg.Correction)),
		WithDefaultTopLimit(cfg.Classifier.DefaultTopLimit),
	}
}

// Pipeline is safe for concurrent use. The registry and the rate limiter are
// the only shared mutable state.
type Pipeline struct {
	registry   *schema.Registry
	catalog    allowedCatalog
	validator  *security.Validator
	classifier *intent.Classifier
	generator  *sqlgen.Generator
	corrector  *correction.Engine
	sink       audit.Sink
	logger     *logging.Logger
	topLimit   int
}

// New builds a pipeline over registry. A policy without a default schema
// inherits the registry's.
func New(registry *schema.Registry, policy security.Policy, opts ...Option) *Pipeline {
	o := options{
		sink:       audit.Discard{},
		now:        time.Now,
		classifier: intent.DefaultConfig(),
		correction: correction.DefaultConfig(),
		logger:     logging.GetLogger(),
		topLimit:   10,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if strings.TrimSpace(policy.DefaultSchema) == "" {
		policy.DefaultSchema = registry.DefaultSchema()
	}

	policy = security.NewPolicy(policy)

	limiter := ratelimit.New(policy.RateLimitPerMinute, ratelimit.WithClock(o.now))
	generator := sqlgen.NewGenerator(registry, sqlgen.WithAllowedSchemas(policy.AllowedSchemas...))
	catalog := allowedCatalog{registry: registry, policy: policy}

	return &Pipeline{
		registry:   registry,
		catalog:    catalog,
		validator:  security.NewValidator(policy, limiter, o.sink, security.WithLogger(o.logger)),
		classifier: intent.NewClassifier(catalog, o.classifier),
		generator:  generator,
		corrector: correction.NewEngine(generator, catalog,
			correction.WithConfig(o.correction),
			correction.WithSink(o.sink),
			correction.WithLogger(o.logger)),
		sink:     o.sink,
		logger:   o.logger,
		topLimit: o.topLimit,
	}
}

// Policy returns the effective security policy
func (p *Pipeline) Policy() security.Policy {
	return p.validator.Policy()
}

// Registry returns the schema registry the pipeline reads
func (p *Pipeline) Registry() *schema.Registry {
	return p.registry
}

// RegisterTable adds or replaces a table descriptor
func (p *Pipeline) RegisterTable(desc schema.TableDescriptor) error {
	return p.registry.Register(desc)
}

// ValidateGeneratedQuery checks a query from any source. A nil allowedSchemas
// uses the policy's set.
func (p *Pipeline) ValidateGeneratedQuery(query string, allowedSchemas []string) error {
	return p.validator.ValidateQuery(query, allowedSchemas)
}

func withRequestID(ctx context.Context) (context.Context, string) {
	if id := audit.RequestID(ctx); id != "" {
		return ctx, id
	}

	id := audit.NewRequestID()

	return audit.WithRequestID(ctx, id), id
}

// ClassifyAndGenerate validates raw text, classifies it and, for data requests,
// produces a validated plan. Input rejections and generation errors are returned
// as errors; unknown identifiers that cannot be corrected become a clarification.
func (p *Pipeline) ClassifyAndGenerate(ctx context.Context, raw, identity string) (*Result, error) {
	ctx, requestID := withRequestID(ctx)
	logger := p.logger.WithFields(map[string]interface{}{"request_id": requestID, "caller": identity})

	text, err := p.validator.ValidateInput(ctx, identity, raw)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	decision := p.classifier.Classify(text)
	logger.WithFields(map[string]interface{}{
		"strategy":   string(decision.Strategy),
		"confidence": decision.Confidence,
		"tables":     decision.TargetTables,
	}).Debug("classified request")

	res := &Result{RequestID: requestID, Input: text, Intent: decision}

	switch decision.Strategy {
	case intent.StrategyExplanation:
		return res, nil
	case intent.StrategyNeedsClarification:
		res.Clarification = p.clarify(decision)
		return res, nil
	}

	desc, err := p.registry.Lookup(decision.TargetTables[0])
	if err != nil {
		res.Clarification = p.clarify(intent.Decision{MissingInformation: []string{intent.MissingTargetTable}})
		return res, nil
	}

	pl := planner{topLimit: p.topLimit, tables: p.catalog.TableNames()}
	req := pl.build(text, decision, desc)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return p.generate(ctx, identity, req, res)
}

// Generate runs generation, correction and post-validation for a structured
// request. The call counts against the caller's rate budget.
func (p *Pipeline) Generate(ctx context.Context, identity string, req sqlgen.Request) (*Result, error) {
	ctx, requestID := withRequestID(ctx)

	if err := p.validator.Admit(ctx, identity); err != nil {
		return nil, err
	}

	return p.generate(ctx, identity, req, &Result{RequestID: requestID})
}

func (p *Pipeline) generate(ctx context.Context, identity string, req sqlgen.Request, res *Result) (*Result, error) {
	plan, suggestions, err := p.corrector.Generate(ctx, identity, req)
	res.Corrections = suggestions

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		switch {
		case errors.IsReason(err, errors.ReasonUnresolvedIdentifier),
			errors.IsReason(err, errors.ReasonCorrectionExhausted):
			res.Unresolved, res.Clarification = p.unresolved(err)
			return res, nil
		default:
			return nil, err
		}
	}

	if err := p.validator.ValidateQuery(plan.Query, nil); err != nil {
		return nil, p.invariantViolation(ctx, identity, res.RequestID, err, plan.Query)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	event := audit.NewEvent(ctx, audit.KindPlanGenerated, audit.SeverityInfo, identity, plan.Query).
		With("table", plan.Table).
		With("schema", plan.Schema)
	if res.Corrected() {
		event = event.With("corrected", "true")
	}

	p.sink.Record(ctx, event)

	res.Plan = plan

	return res, nil
}

// invariantViolation audits a post-validation failure and hides its detail from the caller
func (p *Pipeline) invariantViolation(ctx context.Context, identity, requestID string, err error, query string) error {
	event := audit.NewEvent(ctx, audit.KindPostValidationFailure, audit.SeverityCritical, identity, err.Error()).
		With("reason", string(errors.GetReason(err)))
	if query != "" {
		event = event.With("query", query)
	}

	p.sink.Record(ctx, event)
	p.logger.WithError(err).WithField("request_id", requestID).Error("generated query failed post-validation")

	return errors.Newf(errors.ErrTypeInternal, "query generation failed (request %s)", requestID).
		WithReason(errors.ReasonInternalInvariant)
}

func (p *Pipeline) clarify(d intent.Decision) string {
	for _, missing := range d.MissingInformation {
		if missing == intent.MissingTargetTable {
			return "Which table would you like to query? Available tables: " +
				strings.Join(p.catalog.TableNames(), ", ")
		}
	}

	return "Do you want to retrieve data or get an explanation? Available tables: " +
		strings.Join(p.catalog.TableNames(), ", ")
}

// unresolved names the identifier behind a failed correction and lists the
// identifiers it could have been
func (p *Pipeline) unresolved(err error) (string, string) {
	cause := schemaCause(err)
	if cause == nil {
		return "", "The request references an unknown identifier. Please rephrase."
	}

	if cause.Reason == errors.ReasonUnknownTable {
		return cause.Identifier, fmt.Sprintf("Unknown table %q. Available tables: %s",
			cause.Identifier, strings.Join(p.catalog.TableNames(), ", "))
	}

	return cause.Identifier, fmt.Sprintf("Unknown column %q on table %s. Available columns: %s",
		cause.Identifier, cause.Detail, strings.Join(p.catalog.AllIdentifiers(cause.Detail), ", "))
}

// schemaCause finds the UnknownTable or UnknownColumn error behind err
func schemaCause(err error) *errors.Error {
	for err != nil {
		se, ok := errors.As(err)
		if !ok {
			return nil
		}

		if se.Reason == errors.ReasonUnknownTable || se.Reason == errors.ReasonUnknownColumn {
			return se
		}

		err = se.Cause
	}

	return nil
}
