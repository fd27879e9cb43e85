package live

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"diaharness/internal/ledger"
	"diaharness/internal/optimizer"
)

// formatCaseID returns the display id for a case.
func formatCaseID(id string, index int) string {
	if id != "" {
		return id
	}
	return formatIndex(index)
}

// formatIndex formats a case index.
func formatIndex(index int) string {
	return "Q" + pad2(index+1)
}

// pad2 left-pads a number to two digits when needed.
func pad2(value int) string {
	if value >= 10 {
		return fmtInt(value)
	}
	return "0" + fmtInt(value)
}

// fmtInt converts an int to string.
func fmtInt(value int) string {
	return strconv.Itoa(value)
}

func formatPercent(value float64) string {
	return strconv.FormatFloat(value, 'f', 1, 64) + "%"
}

func formatAccuracy(mean, std float64) string {
	if std == 0 {
		return formatPercent(mean)
	}
	return formatPercent(mean) + " ± " + strconv.FormatFloat(std, 'f', 1, 64)
}

func phaseLabel(phase optimizer.State) string {
	return strings.ReplaceAll(string(phase), "_", " ")
}

// rowStatus classifies a row for display.
func rowStatus(row CaseRow) string {
	switch {
	case row.Running > 0 && row.Retries > 0:
		return "retrying"
	case row.Running > 0:
		return "running"
	case row.Errored > 0:
		return "error"
	case row.Failed > 0:
		return "failed"
	case row.Passed > 0:
		return "passed"
	default:
		return "queued"
	}
}

// formatPassRatio renders passed/finished repeats for a row.
func formatPassRatio(row CaseRow) string {
	if row.Finished() == 0 {
		return ""
	}
	return fmtInt(row.Passed) + "/" + fmtInt(row.Finished())
}

// formatRetries formats retry counts for display.
func formatRetries(retries int) string {
	if retries <= 0 {
		return ""
	}
	return fmtInt(retries)
}

// formatError truncates unit errors for display.
func formatError(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	const limit = 60
	if len(normalized) <= limit {
		return normalized
	}
	return normalized[:limit-3] + "..."
}

// formatTrajectory renders the accuracy history, marking rolled back iterations.
func formatTrajectory(history []IterationPoint) string {
	parts := make([]string, 0, len(history))
	for _, point := range history {
		part := strconv.FormatFloat(point.Accuracy, 'f', 1, 64)
		if point.RolledBack {
			part += "↩"
		} else if point.Deployment == ledger.DeployFailed {
			part += "!"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " → ")
}

// stylizeStatus applies status coloring when enabled.
func stylizeStatus(text string, noColor bool) string {
	if noColor {
		return text
	}
	return statusStyle(text).Render(text)
}

// statusStyle selects a style for a given status label.
func statusStyle(status string) lipgloss.Style {
	color := lipgloss.Color("244")
	switch status {
	case "passed":
		color = lipgloss.Color("42")
	case "failed":
		color = lipgloss.Color("220")
	case "error":
		color = lipgloss.Color("196")
	case "retrying":
		color = lipgloss.Color("39")
	case "running":
		color = lipgloss.Color("33")
	case "queued":
		color = lipgloss.Color("246")
	}
	return lipgloss.NewStyle().Foreground(color)
}
