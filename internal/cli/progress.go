package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"diaharness/internal/evaluator"
	"diaharness/internal/ledger"
	"diaharness/internal/metrics"
	"diaharness/internal/optimizer"
)

// lineProgress prints one line per notable event. Colour is dropped
// automatically when out is not a terminal.
type lineProgress struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	pass    lipgloss.Style
	fail    lipgloss.Style
	warn    lipgloss.Style
	faint   lipgloss.Style
}

func newLineProgress(out io.Writer, verbose bool) *lineProgress {
	renderer := lipgloss.NewRenderer(out)
	return &lineProgress{
		out:     out,
		verbose: verbose,
		pass:    renderer.NewStyle().Foreground(lipgloss.Color("42")),
		fail:    renderer.NewStyle().Foreground(lipgloss.Color("196")),
		warn:    renderer.NewStyle().Foreground(lipgloss.Color("220")),
		faint:   renderer.NewStyle().Foreground(lipgloss.Color("244")),
	}
}

func (p *lineProgress) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *lineProgress) PassStarted(suite string, units int) {
	p.printf("%s %s: %d units\n", p.faint.Render("evaluating"), suite, units)
}

func (p *lineProgress) UnitStarted(evaluator.UnitEvent) {}

func (p *lineProgress) UnitRetried(event evaluator.UnitEvent, attempt int) {
	p.printf("  %s %s #%d attempt %d: %s\n", p.warn.Render("retry"), event.CaseID, event.Repeat+1, attempt, event.Error)
}

func (p *lineProgress) UnitFinished(event evaluator.UnitEvent) {
	if !p.verbose && event.Passed {
		return
	}
	status := p.pass.Render("pass")
	if !event.Passed {
		status = p.fail.Render("fail")
	}
	line := fmt.Sprintf("  %s %s #%d (%s)", status, event.CaseID, event.Repeat+1, event.Latency.Round(time.Millisecond))
	if event.Error != "" {
		line += ": " + event.Error
	}
	p.printf("%s\n", line)
}

func (p *lineProgress) PassFinished(suite string, agg metrics.Aggregated) {
	p.printf("%s %s: %.1f%% ± %.1f (%d/%d passed)\n", p.faint.Render("evaluated"), suite, agg.Mean, agg.Std, agg.Passed, agg.Total)
}

func (p *lineProgress) StateChanged(iteration int, state optimizer.State) {
	switch state {
	case optimizer.StateEvaluating:
		p.printf("== iteration %d ==\n", iteration)
	case optimizer.StateProposing, optimizer.StateValidating, optimizer.StateDeploying:
		if p.verbose {
			p.printf("%s\n", p.faint.Render(string(state)))
		}
	}
}

func (p *lineProgress) IterationRecorded(rec ledger.IterationRecord) {
	line := fmt.Sprintf("iteration %d: %.1f%%", rec.Iteration, rec.Accuracy())
	if rec.ChangeDescription != "" {
		line += " | " + firstLine(rec.ChangeDescription)
	}
	if rec.Rollback != nil {
		line += " " + p.warn.Render(fmt.Sprintf("(rolled back to %d)", rec.Rollback.ToIteration))
	}
	if rec.Deployment.Status == ledger.DeployFailed {
		line += " " + p.fail.Render("(deploy failed: "+rec.Deployment.Error+")")
	}
	p.printf("%s\n", line)
}

func (p *lineProgress) RunFinished(result optimizer.Result) {
	style := p.pass
	if result.Outcome == optimizer.Aborted {
		style = p.fail
	}
	p.printf("%s after %d iterations: %s\n", style.Render(string(result.Outcome)), result.Iterations, firstLine(result.Reason))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
