package agentconf

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
)

// Field names a configurable part of the agent configuration.
type Field string

const (
	FieldInstructions          Field = "instructions"
	FieldDescription           Field = "description"
	FieldExamples              Field = "examples"
	FieldSecondaryInstructions Field = "secondary_instructions"
)

// Fields lists every configuration field in canonical order.
var Fields = []Field{FieldInstructions, FieldDescription, FieldExamples, FieldSecondaryInstructions}

// Example is one illustrative question and the query the agent should produce.
type Example struct {
	Question string `json:"question" yaml:"question"`
	SQL      string `json:"sql" yaml:"sql"`
}

// Configuration is the bundle of instructions that drives the remote agent.
// Values are treated as immutable; use the With* helpers to derive copies.
type Configuration struct {
	Instructions          string    `json:"instructions" yaml:"instructions"`
	Description           string    `json:"description,omitempty" yaml:"description,omitempty"`
	Examples              []Example `json:"examples,omitempty" yaml:"examples,omitempty"`
	SecondaryInstructions string    `json:"secondary_instructions,omitempty" yaml:"secondary_instructions,omitempty"`
}

// Clone returns a deep copy.
func (c Configuration) Clone() Configuration {
	out := c
	out.Examples = slices.Clone(c.Examples)
	return out
}

// Equal compares two configurations field by field.
func (c Configuration) Equal(other Configuration) bool {
	return len(ChangedFields(c, other)) == 0
}

// Text returns the string value of a text field. Examples render as JSON.
func (c Configuration) Text(field Field) string {
	switch field {
	case FieldInstructions:
		return c.Instructions
	case FieldDescription:
		return c.Description
	case FieldSecondaryInstructions:
		return c.SecondaryInstructions
	case FieldExamples:
		if len(c.Examples) == 0 {
			return ""
		}
		data, _ := json.Marshal(c.Examples)
		return string(data)
	default:
		return ""
	}
}

// WithField returns a copy whose field is taken from src.
func (c Configuration) WithField(field Field, src Configuration) Configuration {
	out := c.Clone()
	switch field {
	case FieldInstructions:
		out.Instructions = src.Instructions
	case FieldDescription:
		out.Description = src.Description
	case FieldExamples:
		out.Examples = slices.Clone(src.Examples)
	case FieldSecondaryInstructions:
		out.SecondaryInstructions = src.SecondaryInstructions
	}
	return out
}

// ChangedFields lists the fields that differ between prev and next.
func ChangedFields(prev, next Configuration) []Field {
	var changed []Field
	if prev.Instructions != next.Instructions {
		changed = append(changed, FieldInstructions)
	}
	if prev.Description != next.Description {
		changed = append(changed, FieldDescription)
	}
	if !slices.Equal(prev.Examples, next.Examples) {
		changed = append(changed, FieldExamples)
	}
	if prev.SecondaryInstructions != next.SecondaryInstructions {
		changed = append(changed, FieldSecondaryInstructions)
	}
	return changed
}

// Merge applies the listed fields of candidate on top of base.
func Merge(base, candidate Configuration, fields []Field) Configuration {
	out := base.Clone()
	for _, field := range fields {
		out = out.WithField(field, candidate)
	}
	return out
}

// Fingerprint returns a stable sha256 digest of the configuration.
func (c Configuration) Fingerprint() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal configuration: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ShortFingerprint abbreviates Fingerprint for log lines.
func (c Configuration) ShortFingerprint() string {
	fp, err := c.Fingerprint()
	if err != nil {
		return ""
	}
	return fp[:12]
}
