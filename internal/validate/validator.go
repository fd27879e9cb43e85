// Package validate gates candidate configurations before deployment.
package validate

import (
	"fmt"
	"log/slog"
	"strings"

	"diaharness/internal/agentconf"
)

// Kind is the overall outcome of validating a candidate.
type Kind string

const (
	Accept        Kind = "accept"
	Reject        Kind = "reject"
	PartialAccept Kind = "partial_accept"
)

// FieldResult records the gates run against one changed field.
type FieldResult struct {
	Field    agentconf.Field
	Accepted bool
	Gates    []GateResult
}

// Reasons returns the rejection reasons of failed gates.
func (r FieldResult) Reasons() []string {
	var reasons []string
	for _, g := range r.Gates {
		if !g.Passed {
			reasons = append(reasons, fmt.Sprintf("%s: %s", r.Field, g.Reason))
		}
	}
	return reasons
}

// Decision is the validator's verdict on a candidate.
type Decision struct {
	Kind     Kind
	Accepted []agentconf.Field
	Rejected []agentconf.Field
	Reasons  []string
	Warnings []string
	Fields   []FieldResult
	// Merged is the previous configuration with every accepted field applied.
	Merged agentconf.Configuration
}

// NoOp reports whether the candidate changed nothing.
func (d Decision) NoOp() bool {
	return d.Kind == Accept && len(d.Accepted) == 0
}

// Reason joins the rejection reasons.
func (d Decision) Reason() string {
	return strings.Join(d.Reasons, "; ")
}

// Validator applies the gates. It has no state beyond its thresholds.
type Validator struct {
	thresholds Thresholds
	logger     *slog.Logger
}

// Option customizes a Validator.
type Option func(*Validator)

// WithLogger sets the logger used for shrink warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// WithThresholds overrides the default thresholds.
func WithThresholds(t Thresholds) Option {
	return func(v *Validator) { v.thresholds = t }
}

// New builds a Validator with default thresholds.
func New(opts ...Option) *Validator {
	v := &Validator{thresholds: DefaultThresholds()}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.New(slog.DiscardHandler)
	}
	return v
}

// Validate compares candidate with previous and returns the gate decision.
func (v *Validator) Validate(previous, candidate agentconf.Configuration) Decision {
	changed := agentconf.ChangedFields(previous, candidate)
	if len(changed) == 0 {
		return Decision{Kind: Accept, Merged: previous.Clone()}
	}

	var decision Decision
	for _, field := range changed {
		result := FieldResult{Field: field, Gates: v.gatesFor(field, previous, candidate)}
		result.Accepted = true
		for _, g := range result.Gates {
			if !g.Passed {
				result.Accepted = false
			}
			if g.Warning != "" {
				warning := fmt.Sprintf("%s: %s", field, g.Warning)
				decision.Warnings = append(decision.Warnings, warning)
				v.logger.Warn("candidate warning", slog.String("field", string(field)), slog.String("gate", g.Gate), slog.String("warning", g.Warning))
			}
		}
		if result.Accepted {
			decision.Accepted = append(decision.Accepted, field)
		} else {
			decision.Rejected = append(decision.Rejected, field)
			decision.Reasons = append(decision.Reasons, result.Reasons()...)
		}
		decision.Fields = append(decision.Fields, result)
	}

	switch {
	case len(decision.Rejected) == 0:
		decision.Kind = Accept
	case len(decision.Accepted) == 0:
		decision.Kind = Reject
	default:
		decision.Kind = PartialAccept
	}
	decision.Merged = agentconf.Merge(previous, candidate, decision.Accepted)
	return decision
}

func (v *Validator) gatesFor(field agentconf.Field, previous, candidate agentconf.Configuration) []GateResult {
	t := v.thresholds
	prev := previous.Text(field)
	cand := candidate.Text(field)
	switch field {
	case agentconf.FieldInstructions:
		return []GateResult{
			MinLengthGate(cand, t.MinLength),
			ShrinkGate(prev, cand, t.MinShrinkRatio, t.WarnShrinkRatio),
			QueryDensityGate(cand, t),
			RequiredTopicsGate(prev, cand, t.RequiredTopics),
			RolePreservedGate(prev, cand, t.RoleChangePhrases),
			MinLinesGate(cand, t.MinLines),
		}
	case agentconf.FieldSecondaryInstructions:
		if strings.TrimSpace(prev) == "" {
			return []GateResult{RolePreservedGate(prev, cand, t.RoleChangePhrases)}
		}
		return []GateResult{
			ShrinkGate(prev, cand, t.MinShrinkRatio, t.WarnShrinkRatio),
			RolePreservedGate(prev, cand, t.RoleChangePhrases),
		}
	case agentconf.FieldDescription:
		return []GateResult{
			ShrinkGate(prev, cand, t.MinShrinkRatio, t.WarnShrinkRatio),
			RequiredTopicsGate(prev, cand, t.RequiredTopics),
		}
	case agentconf.FieldExamples:
		return []GateResult{exampleCountGate(len(previous.Examples), len(candidate.Examples), t.MinShrinkRatio)}
	default:
		return nil
	}
}

func exampleCountGate(prev, cand int, minRatio float64) GateResult {
	if prev == 0 {
		return pass(GateShrink)
	}
	if float64(cand)/float64(prev) < minRatio {
		return fail(GateShrink, "drops examples from %d to %d", prev, cand)
	}
	return pass(GateShrink)
}
