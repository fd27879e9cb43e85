package optimizer

import (
	"context"
	"fmt"
	"strings"

	"diaharness/internal/metrics"
)

// HeuristicImprover appends one rule per failing question. It needs no model
// and is used for offline runs against the mock agent.
type HeuristicImprover struct{}

// Propose implements Improver.
func (HeuristicImprover) Propose(_ context.Context, req ProposalRequest) (Proposal, error) {
	candidate := req.Current.Clone()
	existing := strings.ToLower(candidate.Instructions)
	var b strings.Builder
	b.WriteString(strings.TrimRight(candidate.Instructions, "\n"))
	seen := make(map[string]bool)
	added := 0
	for _, f := range req.Failures {
		q := strings.Join(strings.Fields(f.Question), " ")
		key := strings.ToLower(q)
		if q == "" || seen[key] || strings.Contains(existing, key) {
			continue
		}
		seen[key] = true
		fmt.Fprintf(&b, "\n- When asked %q, %s", q, hintFor(f.Issue))
		added++
	}
	if added == 0 {
		return Proposal{Candidate: req.Current.Clone(), ChangeDescription: "no new rules"}, nil
	}
	b.WriteString("\n")
	candidate.Instructions = b.String()
	return Proposal{
		Candidate:         candidate,
		ChangeDescription: fmt.Sprintf("added %d rule(s) for failing questions", added),
	}, nil
}

func hintFor(issue string) string {
	switch {
	case issue == metrics.IssueNoSQL:
		return "always answer with a single query even if the question is ambiguous."
	case strings.HasPrefix(issue, "Error"):
		return "use only tables and columns documented in the description."
	default:
		return "follow the documented table, join and formula for that metric exactly."
	}
}
