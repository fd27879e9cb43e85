package ledger

import (
	"fmt"
	"sort"
)

// ProgressPoint is one entry of the accuracy progression.
type ProgressPoint struct {
	Iteration  int     `json:"iteration"`
	Accuracy   float64 `json:"accuracy"`
	RolledBack bool    `json:"rolled_back,omitempty"`
}

// Summary describes the trajectory as a whole.
type Summary struct {
	TotalIterations int             `json:"total_iterations"`
	Best            ProgressPoint   `json:"best"`
	Worst           ProgressPoint   `json:"worst"`
	Progression     []ProgressPoint `json:"progression"`
	Improvement     float64         `json:"overall_improvement"`
	Rollbacks       int             `json:"rollbacks"`
}

// Summary returns best, worst, progression and overall improvement.
func (l *Ledger) Summary() Summary {
	return Summarize(l.Records())
}

// Summarize computes the Summary of an ordered record list.
func Summarize(records []IterationRecord) Summary {
	summary := Summary{TotalIterations: len(records), Progression: []ProgressPoint{}}
	if len(records) == 0 {
		return summary
	}
	for i, rec := range records {
		point := ProgressPoint{Iteration: rec.Iteration, Accuracy: rec.Accuracy(), RolledBack: rec.Rollback != nil}
		summary.Progression = append(summary.Progression, point)
		if point.RolledBack {
			summary.Rollbacks++
		}
		if i == 0 || point.Accuracy > summary.Best.Accuracy {
			summary.Best = point
		}
		if i == 0 || point.Accuracy < summary.Worst.Accuracy {
			summary.Worst = point
		}
	}
	summary.Improvement = records[len(records)-1].Accuracy() - records[0].Accuracy()
	return summary
}

// Comparison describes the change between two iterations.
type Comparison struct {
	From          int      `json:"from"`
	To            int      `json:"to"`
	AccuracyDelta float64  `json:"accuracy_delta"`
	NewFailures   []string `json:"new_failures"`
	Resolved      []string `json:"resolved"`
}

// Compare reports the accuracy delta and failure churn between two iterations.
// A case counts as failing when it failed in any repeat.
func (l *Ledger) Compare(from, to int) (Comparison, error) {
	records := l.Records()
	find := func(n int) (IterationRecord, error) {
		if n < 1 || n > len(records) {
			return IterationRecord{}, fmt.Errorf("iteration %d not found", n)
		}
		return records[n-1], nil
	}
	a, err := find(from)
	if err != nil {
		return Comparison{}, err
	}
	b, err := find(to)
	if err != nil {
		return Comparison{}, err
	}
	failedA := failingCases(a)
	failedB := failingCases(b)
	cmp := Comparison{
		From:          from,
		To:            to,
		AccuracyDelta: b.Accuracy() - a.Accuracy(),
		NewFailures:   []string{},
		Resolved:      []string{},
	}
	for id := range failedB {
		if !failedA[id] {
			cmp.NewFailures = append(cmp.NewFailures, id)
		}
	}
	for id := range failedA {
		if !failedB[id] {
			cmp.Resolved = append(cmp.Resolved, id)
		}
	}
	sort.Strings(cmp.NewFailures)
	sort.Strings(cmp.Resolved)
	return cmp, nil
}

func failingCases(rec IterationRecord) map[string]bool {
	failed := map[string]bool{}
	if len(rec.Cases) > 0 {
		for _, c := range rec.Cases {
			if c.Passed < c.Total {
				failed[c.CaseID] = true
			}
		}
		return failed
	}
	for _, f := range rec.Failures {
		failed[f.CaseID] = true
	}
	return failed
}

// ContextEntry is one prior iteration offered to the improver.
type ContextEntry struct {
	Iteration         int     `json:"iteration"`
	Accuracy          float64 `json:"accuracy"`
	Instructions      string  `json:"instructions"`
	ChangeDescription string  `json:"change_description,omitempty"`
}

const contextInstructionLimit = 500

// TopByAccuracy returns the n most accurate iterations sorted by ascending
// accuracy so the strongest attempt comes last. Instructions are truncated.
func (l *Ledger) TopByAccuracy(n int) []ContextEntry {
	records := l.Records()
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Accuracy() > records[j].Accuracy()
	})
	if n >= 0 && len(records) > n {
		records = records[:n]
	}
	entries := make([]ContextEntry, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		entries = append(entries, ContextEntry{
			Iteration:         rec.Iteration,
			Accuracy:          rec.Accuracy(),
			Instructions:      truncate(rec.Configuration.Instructions, contextInstructionLimit),
			ChangeDescription: rec.ChangeDescription,
		})
	}
	return entries
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// QuestionStat is the pass ratio of one case across all iterations.
type QuestionStat struct {
	CaseID   string  `json:"case_id"`
	Passed   int     `json:"passed"`
	Total    int     `json:"total"`
	Accuracy float64 `json:"accuracy"`
}

// QuestionAccuracy aggregates per-case pass counts across the trajectory,
// ordered from hardest to easiest.
func (l *Ledger) QuestionAccuracy() []QuestionStat {
	byCase := map[string]*QuestionStat{}
	var order []string
	for _, rec := range l.Records() {
		for _, c := range rec.Cases {
			stat, ok := byCase[c.CaseID]
			if !ok {
				stat = &QuestionStat{CaseID: c.CaseID}
				byCase[c.CaseID] = stat
				order = append(order, c.CaseID)
			}
			stat.Passed += c.Passed
			stat.Total += c.Total
		}
	}
	stats := make([]QuestionStat, 0, len(order))
	for _, id := range order {
		stat := byCase[id]
		if stat.Total > 0 {
			stat.Accuracy = float64(stat.Passed) / float64(stat.Total) * 100
		}
		stats = append(stats, *stat)
	}
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Accuracy < stats[j].Accuracy
	})
	return stats
}
