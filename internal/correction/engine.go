package correction

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kyleking/insight-query/internal/audit"
	"github.com/kyleking/insight-query/internal/errors"
	"github.com/kyleking/insight-query/internal/logging"
	"github.com/kyleking/insight-query/internal/schema"
	"github.com/kyleking/insight-query/internal/sqlgen"
)

// Generator builds a plan from a request
type Generator interface {
	Generate(req sqlgen.Request) (*sqlgen.Plan, error)
}

// Catalog lists the identifiers corrections are drawn from
type Catalog interface {
	TableNames() []string
	AllIdentifiers(table string) []string
}

// ExhaustedError reports a request that still failed after the attempt budget
type ExhaustedError struct {
	Attempts []Suggestion
	Last     error
}

func (e *ExhaustedError) Error() string {
	subs := make([]string, len(e.Attempts))
	for i, s := range e.Attempts {
		subs[i] = s.Original + "->" + s.Suggested
	}

	return fmt.Sprintf("correction budget exhausted after %d attempts [%s]: %v",
		len(e.Attempts), strings.Join(subs, ", "), e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Engine retries generation after substituting close identifiers
type Engine struct {
	gen     Generator
	catalog Catalog
	cfg     Config
	sink    audit.Sink
	logger  *logging.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithConfig sets the attempt budget and threshold
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithSink sets where correction attempts are audited
func WithSink(sink audit.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine over gen and catalog
func NewEngine(gen Generator, catalog Catalog, opts ...Option) *Engine {
	e := &Engine{
		gen:     gen,
		catalog: catalog,
		cfg:     DefaultConfig(),
		sink:    audit.Discard{},
		logger:  logging.GetLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Generate runs the generator, correcting unknown tables and columns until the
// request succeeds, a suggestion is rejected, or the attempt budget runs out.
// The returned suggestions are the attempts made, in order.
func (e *Engine) Generate(ctx context.Context, identity string, req sqlgen.Request) (*sqlgen.Plan, []Suggestion, error) {
	var attempts []Suggestion

	tried := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		plan, err := e.gen.Generate(req)
		if err == nil {
			return plan, attempts, nil
		}

		var scope Scope

		switch errors.GetReason(err) {
		case errors.ReasonUnknownTable:
			scope = ScopeTable
		case errors.ReasonUnknownColumn:
			scope = ScopeColumn
		default:
			return nil, attempts, err
		}

		if e.cfg.MaxAttempts <= 0 {
			return nil, attempts, err
		}

		structErr, _ := errors.As(err)
		ident := structErr.Identifier

		// only bare identifiers are correctable; "*" or "a-b" must not turn into a column
		if !schema.IsValidIdentifier(schema.NormalizeIdentifier(ident)) {
			return nil, attempts, err
		}

		key := string(scope) + ":" + ident
		if tried[key] || len(attempts) >= e.cfg.MaxAttempts {
			return nil, attempts, errors.Wrap(&ExhaustedError{Attempts: attempts, Last: err},
				errors.ErrTypeCorrection, "could not resolve identifiers within the correction budget").
				WithReason(errors.ReasonCorrectionExhausted).
				WithIdentifier(ident)
		}

		tried[key] = true

		var candidates []string
		if scope == ScopeTable {
			candidates = e.catalog.TableNames()
		} else {
			candidates = e.catalog.AllIdentifiers(structErr.Detail)
		}

		s := Suggest(ident, candidates, e.cfg)
		s.Scope = scope
		attempts = append(attempts, s)
		e.record(ctx, identity, s)

		if !s.Accepted {
			unresolved := errors.Wrapf(err, errors.ErrTypeCorrection, "no known %s is close to %s", scope, ident).
				WithReason(errors.ReasonUnresolvedIdentifier).
				WithIdentifier(ident).
				WithDetail(string(scope))
			if s.Suggested != "" {
				unresolved.WithSuggestion("Closest known " + string(scope) + " is " + s.Suggested)
			}

			return nil, attempts, unresolved
		}

		req = substitute(req, s)
	}
}

func (e *Engine) record(ctx context.Context, identity string, s Suggestion) {
	severity := audit.SeverityInfo
	if !s.Accepted {
		severity = audit.SeverityWarning
	}

	detail := fmt.Sprintf("%s %s -> %s (distance %d, threshold %d)",
		s.Scope, s.Original, s.Suggested, s.Distance, s.Threshold)

	e.sink.Record(ctx, audit.NewEvent(ctx, audit.KindCorrectionAttempt, severity, identity, detail).
		With("original", s.Original).
		With("suggested", s.Suggested).
		With("distance", strconv.Itoa(s.Distance)).
		With("accepted", strconv.FormatBool(s.Accepted)))

	e.logger.WithFields(map[string]interface{}{
		"original":  s.Original,
		"suggested": s.Suggested,
		"accepted":  s.Accepted,
	}).Debug("correction attempt")
}

// substitute replaces every occurrence of s.Original in the scope of s. The
// request's slices are copied, never modified in place.
func substitute(req sqlgen.Request, s Suggestion) sqlgen.Request {
	if s.Scope == ScopeTable {
		req.Table = s.Suggested
		return req
	}

	swap := func(name string) string {
		if schema.NormalizeIdentifier(name) == s.Original {
			return s.Suggested
		}

		return name
	}

	out := req

	out.Columns = make([]string, len(req.Columns))
	for i, c := range req.Columns {
		out.Columns[i] = swap(c)
	}

	out.Filters = make([]sqlgen.Filter, len(req.Filters))
	for i, f := range req.Filters {
		out.Filters[i] = sqlgen.Filter{Column: swap(f.Column), Value: f.Value}
	}

	out.Aggregations = make([]sqlgen.Aggregation, len(req.Aggregations))
	for i, a := range req.Aggregations {
		a.Column = swap(a.Column)
		out.Aggregations[i] = a
	}

	out.GroupBy = make([]string, len(req.GroupBy))
	for i, g := range req.GroupBy {
		out.GroupBy[i] = swap(g)
	}

	out.OrderBy = make([]sqlgen.OrderTerm, len(req.OrderBy))
	for i, o := range req.OrderBy {
		out.OrderBy[i] = sqlgen.OrderTerm{Column: swap(o.Column), Direction: o.Direction}
	}

	return out
}
