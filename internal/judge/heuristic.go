package judge

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"diaharness/internal/suite"
)

var clausePattern = regexp.MustCompile(`\b(SELECT|FROM|WHERE|GROUP BY|ORDER BY|JOIN|LIMIT|HAVING)\b`)

// Heuristic compares the clause structure of two queries. It is conservative:
// only an identical clause set counts as EQUIVALENT.
type Heuristic struct{}

// Score implements Judge.
func (Heuristic) Score(_ context.Context, tc suite.TestCase, generated string) (Verdict, error) {
	gen := clauses(generated)
	exp := clauses(tc.Expected)

	var common, missing, extra []string
	for kw := range exp {
		if gen[kw] {
			common = append(common, kw)
		} else {
			missing = append(missing, kw)
		}
	}
	for kw := range gen {
		if !exp[kw] {
			extra = append(extra, kw)
		}
	}
	sort.Strings(common)
	sort.Strings(missing)
	sort.Strings(extra)

	similarity := float64(len(common)) / float64(max(len(exp), 1)) * 10
	judgement := "DIFFERENT (HEURISTIC)"
	passed := similarity >= 9 && len(missing) == 0 && len(extra) == 0
	if passed {
		judgement = "EQUIVALENT (HEURISTIC)"
	}
	score := similarity / 10
	explanation := fmt.Sprintf("Heuristic comparison (LLM judge unavailable)\nSimilarity: %.1f/10\nCommon Keywords: %s\nMissing Keywords: %s\nExtra Keywords: %s\nFinal Judgment: %s",
		similarity, listOrNone(common), listOrNone(missing), listOrNone(extra), judgement)
	return Verdict{Passed: passed, Score: &score, Explanation: explanation}, nil
}

func clauses(sql string) map[string]bool {
	upper := whitespacePattern.ReplaceAllString(strings.ToUpper(sql), " ")
	set := map[string]bool{}
	for _, m := range clausePattern.FindAllString(upper, -1) {
		set[m] = true
	}
	return set
}

func listOrNone(values []string) string {
	if len(values) == 0 {
		return "None"
	}
	return strings.Join(values, ", ")
}

// Fallback tries Primary and falls back to Secondary when Primary errors.
type Fallback struct {
	Primary   Judge
	Secondary Judge
	OnError   func(err error)
}

// Score implements Judge.
func (f Fallback) Score(ctx context.Context, tc suite.TestCase, generated string) (Verdict, error) {
	if f.Primary == nil {
		return f.Secondary.Score(ctx, tc, generated)
	}
	verdict, err := f.Primary.Score(ctx, tc, generated)
	if err == nil || f.Secondary == nil || ctx.Err() != nil {
		return verdict, err
	}
	if f.OnError != nil {
		f.OnError(err)
	}
	return f.Secondary.Score(ctx, tc, generated)
}
