package llm

import (
	"context"
	"fmt"
	"strings"

	"diaharness/internal/judge"
	"diaharness/internal/suite"
)

const judgeSystem = "You are an expert SQL semantic equivalence judge with deep knowledge of database systems and query optimization."

// Completer is the subset of Client used by the judge and the improver.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Judge asks the model whether a generated query is equivalent to the
// expected one.
type Judge struct {
	LLM Completer
	// Schema is optional context appended to the prompt.
	Schema string
}

// Score implements judge.Judge.
func (j Judge) Score(ctx context.Context, tc suite.TestCase, generated string) (judge.Verdict, error) {
	text, err := j.LLM.Complete(ctx, judgeSystem, JudgePrompt(tc, generated, j.Schema))
	if err != nil {
		return judge.Verdict{}, err
	}
	passed, decided := judge.ParseVerdict(text)
	if !decided {
		return judge.Verdict{Explanation: "Unclear judgment: " + strings.TrimSpace(text)}, nil
	}
	score := 0.0
	if passed {
		score = 1
	}
	return judge.Verdict{Passed: passed, Score: &score, Explanation: strings.TrimSpace(text)}, nil
}

// JudgePrompt builds the equivalence prompt for one test case.
func JudgePrompt(tc suite.TestCase, generated, schema string) string {
	var b strings.Builder
	b.WriteString("Determine whether two SQL queries are semantically equivalent: they return the same result set on any database instance, even if written differently.\n\n")
	b.WriteString("Walk through how each query executes on a small representative database and look for a counterexample where the results differ.\n")
	b.WriteString("Equivalent rewrites include explicit versus implicit joins, DISTINCT versus GROUP BY for unique values, IN versus OR chains, BETWEEN versus >= AND <=, aliases and formatting.\n")
	b.WriteString("Usually different: missing or extra join conditions, wrong grouping, AND versus OR mistakes, date range errors, wrong columns or tables, formula errors.\n\n")
	fmt.Fprintf(&b, "Question:\n%q\n\n", tc.Question)
	fmt.Fprintf(&b, "Expected SQL:\n```sql\n%s\n```\n\n", strings.TrimSpace(tc.Expected))
	fmt.Fprintf(&b, "Generated SQL:\n```sql\n%s\n```\n\n", strings.TrimSpace(generated))
	if s := strings.TrimSpace(schema); s != "" {
		fmt.Fprintf(&b, "Relevant schema:\n%s\n\n", s)
	}
	b.WriteString("List the key differences, give a counterexample if they differ, and finish with a line\n")
	b.WriteString("Final Judgment: EQUIVALENT or Final Judgment: DIFFERENT\n")
	return b.String()
}
