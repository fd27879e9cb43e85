// Package judge decides whether a generated query answers a test case.
package judge

import (
	"context"
	"regexp"
	"strings"

	"diaharness/internal/suite"
)

// Verdict is the result of judging one generated query.
type Verdict struct {
	Passed      bool
	ExactMatch  bool
	Score       *float64
	Explanation string
}

// Judge scores a generated output for a test case. Implementations may be
// nondeterministic; errors become failed outcomes upstream.
type Judge interface {
	Score(ctx context.Context, tc suite.TestCase, generated string) (Verdict, error)
}

// Func adapts a function to the Judge interface.
type Func func(ctx context.Context, tc suite.TestCase, generated string) (Verdict, error)

// Score calls f.
func (f Func) Score(ctx context.Context, tc suite.TestCase, generated string) (Verdict, error) {
	return f(ctx, tc, generated)
}

// Exact short-circuits on a normalized exact match and otherwise defers to
// Semantic. With no Semantic judge a mismatch fails without explanation.
type Exact struct {
	Semantic Judge
}

// Score implements Judge.
func (e Exact) Score(ctx context.Context, tc suite.TestCase, generated string) (Verdict, error) {
	if strings.TrimSpace(generated) == "" {
		return Verdict{}, nil
	}
	if NormalizeSQL(generated) == NormalizeSQL(tc.Expected) {
		one := 1.0
		return Verdict{Passed: true, ExactMatch: true, Score: &one}, nil
	}
	if e.Semantic == nil {
		return Verdict{}, nil
	}
	return e.Semantic.Score(ctx, tc, generated)
}

var (
	finalJudgmentPattern = regexp.MustCompile(`(?i)final\s+judg(?:e)?ment\s*[:\-]?\s*\**\s*(EQUIVALENT|DIFFERENT)`)
	differentPattern     = regexp.MustCompile(`(?i)\bDIFFERENT\b`)
	equivalentPattern    = regexp.MustCompile(`(?i)\bEQUIVALENT\b`)
)

// ParseVerdict reads an EQUIVALENT/DIFFERENT judgment from free text. decided
// is false when neither word is present.
func ParseVerdict(text string) (passed, decided bool) {
	if m := finalJudgmentPattern.FindStringSubmatch(text); m != nil {
		return strings.EqualFold(m[1], "EQUIVALENT"), true
	}
	switch {
	case differentPattern.MatchString(text):
		return false, true
	case equivalentPattern.MatchString(text):
		return true, true
	default:
		return false, false
	}
}
