package security

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kyleking/insight-query/internal/audit"
	"github.com/kyleking/insight-query/internal/errors"
	"github.com/kyleking/insight-query/internal/logging"
	"github.com/kyleking/insight-query/internal/ratelimit"
)

// Validator runs the input checks and the post-generation query check
type Validator struct {
	policy  Policy
	limiter *ratelimit.Limiter
	sink    audit.Sink
	logger  *logging.Logger
}

// ValidatorOption configures a Validator
type ValidatorOption func(*Validator)

// WithLogger sets the logger used for rejection diagnostics
func WithLogger(logger *logging.Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator creates a validator. A nil limiter disables rate limiting and a
// nil sink discards audit events.
func NewValidator(policy Policy, limiter *ratelimit.Limiter, sink audit.Sink, opts ...ValidatorOption) *Validator {
	if sink == nil {
		sink = audit.Discard{}
	}

	v := &Validator{
		policy:  NewPolicy(policy),
		limiter: limiter,
		sink:    sink,
		logger:  logging.GetLogger(),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Policy returns the validator's policy
func (v *Validator) Policy() Policy {
	return v.policy
}

// Normalize strips NUL bytes, collapses whitespace runs and trims
func Normalize(raw string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(raw, "\x00", "")), " ")
}

// ValidateInput returns the normalized text, or an input-rejection error.
// Every rejection is audited exactly once.
func (v *Validator) ValidateInput(ctx context.Context, identity, raw string) (string, error) {
	text := Normalize(raw)

	if err := v.checkText(text); err != nil {
		v.reject(ctx, identity, err)
		return "", err
	}

	if err := v.Admit(ctx, identity); err != nil {
		return "", err
	}

	return text, nil
}

// Admit records one request against identity's rate budget
func (v *Validator) Admit(ctx context.Context, identity string) error {
	if v.limiter == nil {
		return nil
	}

	if ok, wait := v.limiter.CheckAndRecord(identity); !ok {
		err := errors.Reject(errors.ReasonRateLimitExceeded, wait.String(),
			fmt.Sprintf("rate limit of %d requests per minute exceeded", v.limiter.Limit())).
			WithSuggestion(fmt.Sprintf("Retry in %s", wait.Round(time.Second)))
		v.reject(ctx, identity, err)

		return err
	}

	return nil
}

func (v *Validator) checkText(text string) *errors.Error {
	if text == "" {
		return errors.Reject(errors.ReasonEmptyInput, "", "input is empty")
	}

	if n := utf8.RuneCountInString(text); v.policy.MaxQueryLength > 0 && n > v.policy.MaxQueryLength {
		return errors.Reject(errors.ReasonTooLong, fmt.Sprint(n),
			fmt.Sprintf("input is %d characters, limit is %d", n, v.policy.MaxQueryLength))
	}

	if v.policy.InjectionProtectionEnabled {
		if rule, ok := MatchInjection(text); ok {
			return errors.Reject(errors.ReasonInjectionPatternDetected, rule.ID,
				"input matches injection rule "+rule.ID+" ("+rule.Description+")")
		}
	}

	if kw, ok := MatchMutatingKeyword(text); ok {
		return errors.Reject(errors.ReasonMutatingKeywordDetected, kw,
			"input contains mutating keyword "+kw)
	}

	return nil
}

func (v *Validator) reject(ctx context.Context, identity string, err *errors.Error) {
	detail := string(err.Reason)
	if err.Detail != "" {
		detail += ":" + err.Detail
	}

	event := audit.NewEvent(ctx, audit.KindSecurityRejection, audit.SeverityWarning, identity, detail).
		With("reason", string(err.Reason))
	if err.Detail != "" {
		event = event.With("rule", err.Detail)
	}

	v.sink.Record(ctx, event)

	v.logger.WithFields(map[string]interface{}{
		"caller": identity,
		"reason": string(err.Reason),
		"rule":   err.Detail,
	}).Debug("input rejected")
}

// ValidateQuery checks a generated query against the policy. A nil allowedSchemas
// falls back to the policy's allowed set.
func (v *Validator) ValidateQuery(query string, allowedSchemas []string) error {
	if allowedSchemas == nil {
		allowedSchemas = v.policy.AllowedSchemas
	}

	return ValidateGeneratedQuery(query, allowedSchemas, v.policy.DefaultSchema)
}
