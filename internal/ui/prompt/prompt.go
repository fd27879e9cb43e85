// Package prompt asks a human reviewer what to do with each proposal.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"

	"diaharness/internal/agentconf"
	"diaharness/internal/optimizer"
)

// Reviewer implements optimizer.Decision with interactive huh forms.
type Reviewer struct {
	in         io.Reader
	out        io.Writer
	accessible bool
}

// New returns a Reviewer reading from in and drawing on out. Accessible mode
// replaces the TUI with plain line prompts.
func New(in io.Reader, out io.Writer, accessible bool) *Reviewer {
	return &Reviewer{in: in, out: out, accessible: accessible}
}

// Decide shows the proposal and asks for a choice.
func (r *Reviewer) Decide(ctx context.Context, req optimizer.DecisionRequest) (optimizer.Choice, error) {
	if _, err := io.WriteString(r.out, Summary(req)); err != nil {
		return optimizer.Choice{}, err
	}

	action := string(optimizer.Approve)
	note := ""
	choose := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Iteration %d: apply this proposal?", req.Iteration)).
			Options(
				huh.NewOption("Approve", string(optimizer.Approve)),
				huh.NewOption("Edit instructions", string(optimizer.Edit)),
				huh.NewOption("Skip", string(optimizer.Skip)),
				huh.NewOption("Stop the run", string(optimizer.Stop)),
			).
			Value(&action),
		huh.NewInput().
			Title("Note (optional)").
			Value(&note),
	))
	if err := r.run(ctx, choose); err != nil {
		return optimizer.Choice{}, err
	}

	edited := req.Proposal.Candidate.Instructions
	if optimizer.Action(action) == optimizer.Edit {
		editor := huh.NewForm(huh.NewGroup(
			huh.NewText().
				Title("Instructions").
				Lines(20).
				CharLimit(0).
				Value(&edited),
		))
		if err := r.run(ctx, editor); err != nil {
			return optimizer.Choice{}, err
		}
	}
	return BuildChoice(req, optimizer.Action(action), edited, note)
}

func (r *Reviewer) run(ctx context.Context, form *huh.Form) error {
	form = form.WithAccessible(r.accessible)
	if r.in != nil {
		form = form.WithInput(r.in)
	}
	if r.out != nil {
		form = form.WithOutput(r.out)
	}
	err := form.RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return fmt.Errorf("review aborted: %w", context.Canceled)
	}
	return err
}

// BuildChoice turns a reviewer answer into an optimizer.Choice. Edited
// instructions replace the candidate's primary field.
func BuildChoice(req optimizer.DecisionRequest, action optimizer.Action, editedInstructions, note string) (optimizer.Choice, error) {
	choice := optimizer.Choice{Action: action, Note: strings.TrimSpace(note)}
	switch action {
	case optimizer.Approve, optimizer.Skip, optimizer.Stop:
		return choice, nil
	case optimizer.Edit:
		if strings.TrimSpace(editedInstructions) == "" {
			return optimizer.Choice{}, errors.New("edited instructions are empty")
		}
		edited := req.Proposal.Candidate.Clone()
		edited.Instructions = editedInstructions
		choice.Edited = edited
		return choice, nil
	default:
		return optimizer.Choice{}, fmt.Errorf("unknown action %q", action)
	}
}

// Summary renders the proposal for review.
func Summary(req optimizer.DecisionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nIteration %d: accuracy %.1f%% (std %.1f), %d failures\n",
		req.Iteration, req.Metrics.Mean, req.Metrics.Std, len(req.Metrics.Failures))
	desc := req.Proposal.ChangeDescription
	if desc == "" {
		desc = "(no description)"
	}
	fmt.Fprintf(&b, "Proposed change: %s\n", desc)
	changed := agentconf.ChangedFields(req.Current, req.Proposal.Candidate)
	if len(changed) == 0 {
		b.WriteString("No fields changed.\n")
		return b.String()
	}
	for _, field := range changed {
		before := req.Current.Text(field)
		after := req.Proposal.Candidate.Text(field)
		fmt.Fprintf(&b, "  %s: %d -> %d chars\n", field, len([]rune(before)), len([]rune(after)))
		for _, line := range addedLines(before, after) {
			fmt.Fprintf(&b, "    + %s\n", line)
		}
	}
	return b.String()
}

// addedLines lists non-empty lines of after that do not appear in before.
func addedLines(before, after string) []string {
	seen := map[string]bool{}
	for _, line := range strings.Split(before, "\n") {
		seen[strings.TrimSpace(line)] = true
	}
	var added []string
	for _, line := range strings.Split(after, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		added = append(added, trimmed)
	}
	return added
}
