package live

import (
	"time"

	"github.com/charmbracelet/lipgloss"
)

// renderHeader renders the run header line.
func renderHeader(state State, now time.Time, noColor bool) string {
	line := "Run " + state.RunID
	if state.Agent != "" {
		line += " | Agent: " + state.Agent
	}
	if state.Iteration > 0 {
		line += " | Iteration " + fmtInt(state.Iteration)
		if state.Phase != "" {
			line += " (" + phaseLabel(state.Phase) + ")"
		}
	}
	if !state.StartedAt.IsZero() {
		line += " | Elapsed: " + now.Sub(state.StartedAt).Round(100*time.Millisecond).String()
	}
	return stylize(line, noColor, lipgloss.Color("33"))
}

// renderSummary renders the unit counts line.
func renderSummary(state State, noColor bool) string {
	counts := state.Counts
	line := "Units: " + fmtInt(counts.Done) + "/" + fmtInt(counts.Units) +
		" Running: " + fmtInt(counts.Running) +
		" Passed: " + fmtInt(counts.Passed) +
		" Failed: " + fmtInt(counts.Failed) +
		" Error: " + fmtInt(counts.Errored) +
		" Retries: " + fmtInt(counts.Retries)
	for _, pass := range state.Passes {
		if pass.Done {
			line += " | " + pass.Suite + " " + formatAccuracy(pass.Mean, pass.Std)
		}
	}
	return stylize(line, noColor, lipgloss.Color("242"))
}

// renderTrajectory renders the accuracy history and best checkpoint.
func renderTrajectory(state State, noColor bool) string {
	if len(state.History) == 0 {
		return ""
	}
	line := "Trajectory: " + formatTrajectory(state.History)
	if state.HasBest {
		line += " | Best: #" + fmtInt(state.Best.Iteration) + " " + formatPercent(state.Best.Accuracy)
	}
	return stylize(line, noColor, lipgloss.Color("240"))
}

// renderFooter renders the last event line.
func renderFooter(state State, noColor bool) string {
	if state.LastEvent == "" {
		return ""
	}
	return stylize("Last event: "+state.LastEvent, noColor, lipgloss.Color("244"))
}

// stylize applies optional color styling.
func stylize(text string, noColor bool, color lipgloss.Color) string {
	if noColor {
		return text
	}
	return lipgloss.NewStyle().Foreground(color).Render(text)
}
