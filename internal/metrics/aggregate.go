package metrics

import (
	"math"
	"sort"
	"strings"
)

// SortOutcomes orders outcomes by repeat then case index.
func SortOutcomes(outcomes []Outcome) {
	sort.SliceStable(outcomes, func(i, j int) bool {
		if outcomes[i].Repeat != outcomes[j].Repeat {
			return outcomes[i].Repeat < outcomes[j].Repeat
		}
		return outcomes[i].CaseIndex < outcomes[j].CaseIndex
	})
}

// Aggregate computes per-repeat accuracy statistics and selects the failure set.
func Aggregate(outcomes []Outcome, policy FailurePolicy) Aggregated {
	sorted := append([]Outcome(nil), outcomes...)
	SortOutcomes(sorted)

	byRepeat := map[int][]Outcome{}
	var repeats []int
	caseIDs := map[string]struct{}{}
	result := Aggregated{Total: len(sorted)}
	for _, outcome := range sorted {
		if _, ok := byRepeat[outcome.Repeat]; !ok {
			repeats = append(repeats, outcome.Repeat)
		}
		byRepeat[outcome.Repeat] = append(byRepeat[outcome.Repeat], outcome)
		caseIDs[outcome.CaseID] = struct{}{}
		if outcome.Passed {
			result.Passed++
		}
		if outcome.ExactMatch {
			result.ExactMatches++
		}
		if outcome.Error != "" {
			result.Errors++
		}
	}
	result.Repeats = len(repeats)
	result.Cases = len(caseIDs)
	if len(repeats) == 0 {
		result.Failures = []FailureRecord{}
		result.RepeatAccuracies = []float64{}
		return result
	}

	worst := repeats[0]
	worstAcc := math.Inf(1)
	accuracies := make([]float64, 0, len(repeats))
	for _, repeat := range repeats {
		group := byRepeat[repeat]
		passed := 0
		for _, outcome := range group {
			if outcome.Passed {
				passed++
			}
		}
		acc := percent(passed, len(group))
		accuracies = append(accuracies, acc)
		if acc < worstAcc {
			worst, worstAcc = repeat, acc
		}
	}
	result.RepeatAccuracies = accuracies
	result.Mean, result.Std, result.Min, result.Max = summarize(accuracies)
	result.FailureRepeat = worst

	switch policy {
	case Union:
		result.Failures = unionFailures(sorted)
	default:
		result.Failures = failuresOf(byRepeat[worst])
	}
	return result
}

// Successes returns up to n passing outcomes from the given repeat, in case order.
func Successes(outcomes []Outcome, repeat, n int) []Outcome {
	sorted := append([]Outcome(nil), outcomes...)
	SortOutcomes(sorted)
	var out []Outcome
	for _, outcome := range sorted {
		if len(out) >= n {
			break
		}
		if outcome.Repeat == repeat && outcome.Passed {
			out = append(out, outcome)
		}
	}
	return out
}

func failuresOf(group []Outcome) []FailureRecord {
	failures := []FailureRecord{}
	for _, outcome := range group {
		if !outcome.Passed {
			failures = append(failures, NewFailure(outcome))
		}
	}
	return failures
}

func unionFailures(sorted []Outcome) []FailureRecord {
	failures := []FailureRecord{}
	seen := map[string]bool{}
	for _, outcome := range sorted {
		if outcome.Passed || seen[outcome.CaseID] {
			continue
		}
		seen[outcome.CaseID] = true
		failures = append(failures, NewFailure(outcome))
	}
	sort.SliceStable(failures, func(i, j int) bool {
		return failures[i].CaseID < failures[j].CaseID
	})
	return failures
}

// NewFailure builds a FailureRecord from a failed outcome.
func NewFailure(outcome Outcome) FailureRecord {
	return FailureRecord{
		CaseID:      outcome.CaseID,
		Question:    outcome.Question,
		Expected:    outcome.Expected,
		Generated:   outcome.Generated,
		Issue:       ClassifyIssue(outcome),
		Explanation: outcome.Explanation,
		Repeat:      outcome.Repeat,
	}
}

// ClassifyIssue names the failure class of an outcome.
func ClassifyIssue(outcome Outcome) string {
	switch {
	case outcome.Error != "":
		return issueErrorPrefix + outcome.Error
	case strings.TrimSpace(outcome.Generated) == "":
		return IssueNoSQL
	case outcome.Explanation == "":
		return IssueNoJudgment
	case strings.Contains(strings.ToUpper(outcome.Explanation), verdictDifferent):
		return IssueDifferent
	default:
		return IssueUnclear
	}
}

func percent(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) * 100 / float64(total)
}

// summarize returns mean, sample standard deviation, min and max.
func summarize(values []float64) (mean, std, lo, hi float64) {
	lo, hi = values[0], values[0]
	sum := 0.0
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return lo, 0, lo, hi
	}
	mean = sum / float64(len(values))
	if len(values) < 2 {
		return mean, 0, lo, hi
	}
	sq := 0.0
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	std = math.Sqrt(sq / float64(len(values)-1))
	return mean, std, lo, hi
}
