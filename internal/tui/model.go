// Package tui renders a live view of the build queue: per-platform counters,
// the most recent jobs and a running summary.
package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
	"github.com/alexisbeaulieu97/assetq/internal/tui/components"
)

// JobMsg carries one job.* event.
type JobMsg struct {
	Type string
	Job  ports.JobEvent
}

// DepthMsg carries the counters of one platform.
type DepthMsg ports.QueueDepthEvent

// CatalogMsg reports that a job's products were recorded.
type CatalogMsg ports.CatalogEvent

// DeadlockMsg reports a dependency cycle that was broken.
type DeadlockMsg ports.DeadlockEvent

// DoneMsg tells the view that all submitted work has finished.
type DoneMsg struct {
	Err error
}

// DefaultMaxRows is the number of job rows shown.
const DefaultMaxRows = 12

// Model contains the Bubbletea state for the queue view.
type Model struct {
	title          string
	spinner        spinner.Model
	jobs           map[job.Handle]components.JobEntry
	order          []job.Handle
	platforms      map[string]components.PlatformRow
	platformOrder  []string
	counts         components.SummaryData
	maxRows        int
	finished       bool
	interrupted    bool
	err            error
	nonInteractive bool
}

// NewModel constructs the view model. platforms fixes the display order of
// the platform table; platforms not listed are appended as they appear.
func NewModel(title string, platforms []string, nonInteractive bool) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = runningStyle

	m := Model{
		title:          title,
		spinner:        sp,
		jobs:           make(map[job.Handle]components.JobEntry),
		platforms:      make(map[string]components.PlatformRow),
		maxRows:        DefaultMaxRows,
		nonInteractive: nonInteractive,
	}
	for _, p := range platforms {
		m.ensurePlatform(p)
	}
	return m
}

// WithMaxRows limits the job list to n rows.
func (m Model) WithMaxRows(n int) Model {
	if n > 0 {
		m.maxRows = n
	}
	return m
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	if m.nonInteractive {
		return nil
	}
	return m.spinner.Tick
}

// Counts returns the running totals.
func (m Model) Counts() components.SummaryData {
	return m.counts
}

// IsFinished reports whether the run has ended.
func (m Model) IsFinished() bool {
	return m.finished
}

// Interrupted reports whether the user pressed ctrl+c.
func (m Model) Interrupted() bool {
	return m.interrupted
}

func (m *Model) ensurePlatform(name string) {
	if name == "" {
		return
	}
	if _, ok := m.platforms[name]; ok {
		return
	}
	m.platforms[name] = components.PlatformRow{Platform: name}
	m.platformOrder = append(m.platformOrder, name)
}

// Message converts a domain event into the matching view message, or nil when
// the view does not render it.
func Message(event ports.DomainEvent) tea.Msg {
	switch payload := event.Payload().(type) {
	case ports.JobEvent:
		return JobMsg{Type: event.EventType(), Job: payload}
	case ports.QueueDepthEvent:
		if event.EventType() != ports.EventQueueDepth {
			return nil
		}
		return DepthMsg(payload)
	case ports.CatalogEvent:
		return CatalogMsg(payload)
	case ports.DeadlockEvent:
		return DeadlockMsg(payload)
	}
	return nil
}

// EventSource yields domain events in order.
type EventSource interface {
	Next(ctx context.Context) (ports.DomainEvent, error)
}

// Forward converts events from source into messages and hands them to send
// until ctx ends or the source fails.
func Forward(ctx context.Context, source EventSource, send func(tea.Msg)) error {
	for {
		event, err := source.Next(ctx)
		if err != nil {
			return err
		}
		if msg := Message(event); msg != nil {
			send(msg)
		}
	}
}
