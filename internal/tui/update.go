package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
	"github.com/alexisbeaulieu97/assetq/internal/tui/components"
)

// Update handles Bubbletea messages and updates model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case JobMsg:
		m.applyJob(msg)
		return m, nil
	case DepthMsg:
		m.ensurePlatform(msg.Platform)
		m.platforms[msg.Platform] = components.PlatformRow{
			Platform: msg.Platform,
			Pending:  msg.Pending,
			InFlight: msg.InFlight,
			Critical: msg.Critical,
		}
		return m, nil
	case CatalogMsg:
		m.counts.Cataloged++
		m.counts.Resolved += msg.Resolved
		m.counts.Deferred += msg.Deferred
		return m, nil
	case DeadlockMsg:
		m.counts.Deadlocks++
		return m, nil
	case DoneMsg:
		m.finished = true
		m.err = msg.Err
		if m.nonInteractive {
			return m, nil
		}
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.interrupted = true
			m.finished = true
			return m, tea.Quit
		}
	case tea.QuitMsg:
		m.finished = true
		return m, nil
	}

	return m, nil
}

func (m *Model) applyJob(msg JobMsg) {
	ev := msg.Job
	if ev.Handle == 0 {
		// Rejected duplicate submission; the original job keeps its row.
		m.counts.Rejected++
		return
	}
	m.ensurePlatform(ev.Identity.Platform)

	entry, known := m.jobs[ev.Handle]
	if !known {
		m.order = append(m.order, ev.Handle)
		m.counts.Submitted++
		entry = components.JobEntry{Identity: ev.Identity, Builder: ev.Builder}
	}
	wasTerminal := known && entry.State.Terminal()

	switch msg.Type {
	case ports.EventJobQueued:
		entry.State = job.StatePending
	case ports.EventJobStarted:
		entry.State = job.StateProcessing
	default:
		entry.State = ev.State
		entry.Message = ev.Message
		entry.Duration = ev.Duration
		entry.Products = len(ev.Products)
	}
	m.jobs[ev.Handle] = entry

	if wasTerminal || !entry.State.Terminal() {
		return
	}
	switch {
	case entry.State.Succeeded():
		m.counts.Completed++
	case entry.State == job.StateCancelled:
		m.counts.Cancelled++
	default:
		m.counts.Failed++
	}
}
