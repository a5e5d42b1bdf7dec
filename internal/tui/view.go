package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/tui/components"
)

// View renders the current state of the model.
func (m Model) View() string {
	var sections []string

	sections = append(sections, titleStyle.Render(fmt.Sprintf("assetq • %s", m.heading())))

	done := m.counts.Completed + m.counts.Failed + m.counts.Cancelled
	sections = append(sections, sectionStyle.Render("Progress"), components.NewProgress(m.counts.Submitted).View(done, m.counts.Failed))

	rows := make([]components.PlatformRow, 0, len(m.platformOrder))
	for _, name := range m.platformOrder {
		rows = append(rows, m.platforms[name])
	}
	if table := components.NewPlatformTable(rows).View(); table != "" {
		sections = append(sections, sectionStyle.Render("Platforms"), table)
	}

	entries := components.NewJobList(m.order, m.jobs).Recent(m.maxRows)
	if len(entries) > 0 {
		sections = append(sections, sectionStyle.Render("Jobs"), m.renderJobs(entries))
	}

	summary := components.NewSummary(m.counts).View()
	if m.finished {
		summary = strings.TrimSpace(summary + "\n" + m.closing())
	}
	if summary != "" {
		sections = append(sections, sectionStyle.Render("Summary"), summaryStyle.Render(summary))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderJobs(entries []components.JobEntry) string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		icon := StatusIcon(entry.State)
		if entry.State == job.StateProcessing && !m.nonInteractive {
			icon = m.spinner.View()
		}
		line := fmt.Sprintf(" %s %s", icon, entry.Identity)
		if entry.Products > 0 {
			line = fmt.Sprintf("%s, %d product(s)", line, entry.Products)
		}
		if strings.TrimSpace(entry.Message) != "" {
			line = fmt.Sprintf("%s: %s", line, entry.Message)
		}
		if entry.Duration > 0 {
			line = fmt.Sprintf("%s (%s)", line, entry.Duration.Truncate(10*time.Millisecond))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) heading() string {
	if strings.TrimSpace(m.title) != "" {
		return m.title
	}
	return "Build queue"
}

func (m Model) closing() string {
	switch {
	case m.interrupted:
		return "Interrupted"
	case m.err != nil:
		return failureStyle.Render(fmt.Sprintf("Stopped: %v", m.err))
	case m.counts.Failed > 0:
		return failureStyle.Render("Finished with failures")
	default:
		return successStyle.Render("All jobs finished")
	}
}

// StatusIcon returns the glyph representing a job state.
func StatusIcon(state job.State) string {
	switch state {
	case job.StateCompleted:
		return successStyle.Render("✓")
	case job.StateProcessing:
		return runningStyle.Render("⏳")
	case job.StateFailed, job.StateCrashed, job.StateTerminated:
		return failureStyle.Render("✗")
	case job.StateCancelled:
		return cancelledStyle.Render("⊘")
	default:
		return pendingStyle.Render("…")
	}
}
