package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"diaharness/internal/agentconf"
	"diaharness/internal/optimizer"
)

const (
	improverSystem     = "You are an expert in prompt engineering for natural language to SQL agents."
	explanationLimit   = 300
	defaultDescription = "Applied suggested improvements to address failures"
)

// Improver proposes new instructions from failure analysis.
type Improver struct {
	LLM Completer
}

// Propose implements optimizer.Improver.
func (i Improver) Propose(ctx context.Context, req optimizer.ProposalRequest) (optimizer.Proposal, error) {
	text, err := i.LLM.Complete(ctx, improverSystem, ImprovementPrompt(req))
	if err != nil {
		return optimizer.Proposal{}, err
	}
	return ParseImprovement(text, req.Current)
}

// ImprovementPrompt renders the analysis prompt for one iteration.
func ImprovementPrompt(req optimizer.ProposalRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I am optimizing a data agent that turns natural language questions into SQL. Iteration %d scored %.1f%% (std %.1f over %d repeats).\n\n",
		req.Iteration, req.Metrics.Mean, req.Metrics.Std, req.Metrics.Repeats)

	b.WriteString("Current instructions:\n```\n")
	b.WriteString(strings.TrimSpace(req.Current.Instructions))
	b.WriteString("\n```\n\n")
	if d := strings.TrimSpace(req.Current.Description); d != "" {
		b.WriteString("Current description:\n```\n")
		b.WriteString(d)
		b.WriteString("\n```\n\n")
	}

	b.WriteString("Failed test cases:\n")
	for n, f := range req.Failures {
		fmt.Fprintf(&b, "%d. Question: %q\n", n+1, f.Question)
		fmt.Fprintf(&b, "   Expected SQL: %s\n", oneLine(f.Expected))
		generated := oneLine(f.Generated)
		if generated == "" {
			generated = "None"
		}
		fmt.Fprintf(&b, "   Generated SQL: %s\n", generated)
		fmt.Fprintf(&b, "   Issue: %s\n", f.Issue)
		if f.Explanation != "" {
			fmt.Fprintf(&b, "   Judge: %s\n", clip(f.Explanation, explanationLimit))
		}
	}

	if len(req.Successes) > 0 {
		b.WriteString("\nQuestions answered correctly (keep these working):\n")
		for _, s := range req.Successes {
			fmt.Fprintf(&b, "- %q -> %s\n", s.Question, oneLine(s.Generated))
		}
	}

	if len(req.Trajectory) > 0 {
		b.WriteString("\nPrevious attempts, weakest first:\n")
		for _, entry := range req.Trajectory {
			fmt.Fprintf(&b, "Iteration %d (%.1f%%)", entry.Iteration, entry.Accuracy)
			if entry.ChangeDescription != "" {
				fmt.Fprintf(&b, ": %s", entry.ChangeDescription)
			}
			b.WriteString("\n```\n")
			b.WriteString(entry.Instructions)
			b.WriteString("\n```\n")
		}
	}

	b.WriteString(`
Guidelines:
1. Keep the structure, role and tone of the current instructions.
2. Add specific, actionable rules that fix the root cause of each failure.
3. Do not remove existing guidance about tables, joins, formulas or metrics.
4. Never paste SQL queries into the instructions; describe the rule instead.
5. Be concise and do not repeat rules that already exist.

Respond with a JSON object:
{"instructions": "<full improved instructions>", "description": "<optional improved description>", "change_description": "<one sentence>"}
`)
	return b.String()
}

type improvement struct {
	Instructions          string `json:"instructions"`
	Description           string `json:"description"`
	SecondaryInstructions string `json:"secondary_instructions"`
	ChangeDescription     string `json:"change_description"`
}

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n(.*?)```")

// ParseImprovement reads a JSON improvement or, failing that, the first fenced
// block (or the whole reply) as new instructions.
func ParseImprovement(text string, current agentconf.Configuration) (optimizer.Proposal, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return optimizer.Proposal{}, errors.New("empty improvement response")
	}
	var fenced string
	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		fenced = strings.TrimSpace(m[1])
	}
	for _, candidate := range []string{trimmed, fenced} {
		if !strings.HasPrefix(candidate, "{") {
			continue
		}
		var imp improvement
		if err := json.Unmarshal([]byte(candidate), &imp); err != nil || strings.TrimSpace(imp.Instructions) == "" {
			continue
		}
		next := current.Clone()
		next.Instructions = strings.TrimSpace(imp.Instructions)
		if d := strings.TrimSpace(imp.Description); d != "" {
			next.Description = d
		}
		if s := strings.TrimSpace(imp.SecondaryInstructions); s != "" {
			next.SecondaryInstructions = s
		}
		desc := strings.TrimSpace(imp.ChangeDescription)
		if desc == "" {
			desc = defaultDescription
		}
		return optimizer.Proposal{Candidate: next, ChangeDescription: desc}, nil
	}
	instructions := fenced
	if instructions == "" {
		instructions = trimmed
	}
	next := current.Clone()
	next.Instructions = instructions
	return optimizer.Proposal{Candidate: next, ChangeDescription: defaultDescription}, nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clip(s string, limit int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "..."
}
