package components

import (
	"fmt"
	"strings"
)

// SummaryData aggregates counts for rendering summaries.
type SummaryData struct {
	Submitted int
	Completed int
	Failed    int
	Cancelled int
	Rejected  int
	Cataloged int
	Resolved  int
	Deferred  int
	Deadlocks int
}

// Summary renders a textual run summary.
type Summary struct {
	data SummaryData
}

// NewSummary creates a new Summary component.
func NewSummary(data SummaryData) Summary {
	return Summary{data: data}
}

// View renders the summary.
func (s Summary) View() string {
	d := s.data
	if d.Submitted == 0 && d.Rejected == 0 {
		return ""
	}

	lines := []string{fmt.Sprintf("Jobs: %d completed, %d failed, %d cancelled of %d", d.Completed, d.Failed, d.Cancelled, d.Submitted)}
	if d.Rejected > 0 {
		lines = append(lines, fmt.Sprintf("Duplicate submissions dropped: %d", d.Rejected))
	}
	if d.Cataloged > 0 {
		lines = append(lines, fmt.Sprintf("Cataloged: %d (dependencies resolved %d, deferred %d)", d.Cataloged, d.Resolved, d.Deferred))
	}
	if d.Deadlocks > 0 {
		lines = append(lines, fmt.Sprintf("Dependency cycles broken: %d", d.Deadlocks))
	}
	return strings.Join(lines, "\n")
}
