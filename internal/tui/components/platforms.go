package components

import (
	"fmt"
	"strings"
)

// PlatformRow holds the counters of one platform.
type PlatformRow struct {
	Platform string
	Pending  int
	InFlight int
	Critical int
}

// PlatformTable renders per-platform counters as aligned columns.
type PlatformTable struct {
	rows []PlatformRow
}

// NewPlatformTable constructs the table.
func NewPlatformTable(rows []PlatformRow) PlatformTable {
	return PlatformTable{rows: rows}
}

// View renders the table, or "" when there are no rows.
func (t PlatformTable) View() string {
	if len(t.rows) == 0 {
		return ""
	}
	width := len("platform")
	for _, r := range t.rows {
		if len(r.Platform) > width {
			width = len(r.Platform)
		}
	}
	lines := []string{fmt.Sprintf(" %-*s  %7s  %9s  %8s", width, "platform", "pending", "in flight", "critical")}
	for _, r := range t.rows {
		lines = append(lines, fmt.Sprintf(" %-*s  %7d  %9d  %8d", width, r.Platform, r.Pending, r.InFlight, r.Critical))
	}
	return strings.Join(lines, "\n")
}
