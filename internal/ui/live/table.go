package live

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// defaultColumns returns the table layout for wide terminals.
func defaultColumns() []table.Column {
	return columnsForWidth(120)
}

// columnsForWidth sizes the error column to the remaining width.
func columnsForWidth(width int) []table.Column {
	fixed := 16 + 8 + 10 + 7 + 8 + 10
	errWidth := width - fixed - 12
	if errWidth < 10 {
		errWidth = 10
	}
	return []table.Column{
		{Title: "Case", Width: 16},
		{Title: "Suite", Width: 8},
		{Title: "Status", Width: 10},
		{Title: "Pass", Width: 7},
		{Title: "Retries", Width: 8},
		{Title: "Latency", Width: 10},
		{Title: "Error", Width: errWidth},
	}
}

// tableStyles returns table styles for the UI.
func tableStyles(noColor bool) table.Styles {
	if noColor {
		return table.DefaultStyles()
	}
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Foreground(lipgloss.Color("252"))
	return styles
}

// rowsForState converts UI state into table rows.
func rowsForState(state State, noColor bool) []table.Row {
	rows := make([]table.Row, 0, len(state.Rows))
	for _, row := range state.Rows {
		latency := ""
		if row.Latency > 0 {
			latency = formatDuration(row.Latency)
		}
		rows = append(rows, table.Row{
			formatCaseID(row.CaseID, row.Index),
			row.Suite,
			stylizeStatus(rowStatus(row), noColor),
			formatPassRatio(row),
			formatRetries(row.Retries),
			latency,
			formatError(row.Error),
		})
	}
	return rows
}
