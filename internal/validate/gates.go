package validate

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Gate names.
const (
	GateMinLength      = "min_length"
	GateShrink         = "shrink"
	GateQueryDensity   = "query_density"
	GateRequiredTopics = "required_topics"
	GateRolePreserved  = "role_preserved"
	GateMinLines       = "min_lines"
)

// Thresholds tune the gates.
type Thresholds struct {
	MinLength         int
	MinLines          int
	MinShrinkRatio    float64
	WarnShrinkRatio   float64
	QueryDensityRatio float64
	QueryDensityFloor float64
	InstructionWords  []string
	QueryWords        []string
	RequiredTopics    []string
	RoleChangePhrases []string
}

// DefaultThresholds returns the production gate settings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinLength:         100,
		MinLines:          3,
		MinShrinkRatio:    0.6,
		WarnShrinkRatio:   0.85,
		QueryDensityRatio: 2.0,
		QueryDensityFloor: 0.08,
		InstructionWords:  []string{"must", "always", "never", "rule", "formula", "should", "ensure", "use", "avoid", "do not"},
		QueryWords:        []string{"select", "from", "where", "join", "group by", "order by", "having", "limit"},
		RequiredTopics:    []string{"table", "join", "formula", "metric", "aggregat"},
		RoleChangePhrases: []string{
			"only output sql",
			"only return sql",
			"return only the sql",
			"respond only with sql",
			"respond only with code",
			"output only code",
			"code only",
			"do not explain",
			"no explanation",
			"without any explanation",
			"you are a sql generator",
		},
	}
}

// GateResult is the verdict of one predicate.
type GateResult struct {
	Gate    string
	Passed  bool
	Reason  string
	Warning string
}

func pass(gate string) GateResult {
	return GateResult{Gate: gate, Passed: true}
}

func fail(gate, format string, args ...any) GateResult {
	return GateResult{Gate: gate, Reason: fmt.Sprintf(format, args...)}
}

// MinLengthGate rejects text shorter than the floor.
func MinLengthGate(candidate string, min int) GateResult {
	if n := utf8.RuneCountInString(strings.TrimSpace(candidate)); n < min {
		return fail(GateMinLength, "length %d is below minimum %d", n, min)
	}
	return pass(GateMinLength)
}

// ShrinkGate rejects a candidate below minRatio of the previous length and
// warns below warnRatio.
func ShrinkGate(previous, candidate string, minRatio, warnRatio float64) GateResult {
	prevLen := utf8.RuneCountInString(previous)
	if prevLen == 0 {
		return pass(GateShrink)
	}
	ratio := float64(utf8.RuneCountInString(candidate)) / float64(prevLen)
	if ratio < minRatio {
		return fail(GateShrink, "shrinks to %.0f%% of previous length (minimum %.0f%%)", ratio*100, minRatio*100)
	}
	result := pass(GateShrink)
	if ratio < warnRatio {
		result.Warning = fmt.Sprintf("shrinks by %.0f%%", (1-ratio)*100)
	}
	return result
}

// QueryDensityGate rejects text that reads like a query rather than guidance:
// query keywords outnumber instruction keywords by more than ratio and make up
// more than floor of all words.
func QueryDensityGate(candidate string, t Thresholds) GateResult {
	lower := strings.ToLower(candidate)
	words := len(strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' }))
	if words == 0 {
		return pass(GateQueryDensity)
	}
	instr := countTerms(lower, t.InstructionWords)
	query := countTerms(lower, t.QueryWords)
	density := float64(query) / float64(words)
	if float64(query) > t.QueryDensityRatio*float64(instr) && density > t.QueryDensityFloor {
		return fail(GateQueryDensity, "query keywords (%d) dominate instruction keywords (%d), density %.2f", query, instr, density)
	}
	return pass(GateQueryDensity)
}

// RequiredTopicsGate rejects a candidate that drops a topic present before.
func RequiredTopicsGate(previous, candidate string, topics []string) GateResult {
	prev := strings.ToLower(previous)
	cand := strings.ToLower(candidate)
	var missing []string
	for _, topic := range topics {
		if strings.Contains(prev, topic) && !strings.Contains(cand, topic) {
			missing = append(missing, topic)
		}
	}
	if len(missing) > 0 {
		return fail(GateRequiredTopics, "missing required topic(s): %s", strings.Join(missing, ", "))
	}
	return pass(GateRequiredTopics)
}

// RolePreservedGate rejects newly introduced role-change phrases.
func RolePreservedGate(previous, candidate string, phrases []string) GateResult {
	prev := strings.ToLower(previous)
	cand := strings.ToLower(candidate)
	var introduced []string
	for _, phrase := range phrases {
		if strings.Contains(cand, phrase) && !strings.Contains(prev, phrase) {
			introduced = append(introduced, fmt.Sprintf("%q", phrase))
		}
	}
	if len(introduced) > 0 {
		return fail(GateRolePreserved, "introduces role change: %s", strings.Join(introduced, ", "))
	}
	return pass(GateRolePreserved)
}

// MinLinesGate rejects text with fewer non-empty lines than min.
func MinLinesGate(candidate string, min int) GateResult {
	lines := 0
	for _, line := range strings.Split(candidate, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}
	if lines < min {
		return fail(GateMinLines, "%d non-empty line(s), minimum %d", lines, min)
	}
	return pass(GateMinLines)
}

// countTerms counts whole-word occurrences of each term.
func countTerms(lower string, terms []string) int {
	total := 0
	for _, term := range terms {
		idx := 0
		for {
			pos := strings.Index(lower[idx:], term)
			if pos < 0 {
				break
			}
			start := idx + pos
			end := start + len(term)
			if boundary(lower, start-1) && boundary(lower, end) {
				total++
			}
			idx = end
		}
	}
	return total
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_')
}
