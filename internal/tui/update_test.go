package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
)

func jobMsg(eventType string, h job.Handle, source string, state job.State) JobMsg {
	return JobMsg{Type: eventType, Job: ports.JobEvent{
		Handle:   h,
		Identity: job.NewIdentity(source, "pc", "copy"),
		State:    state,
	}}
}

func apply(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		updated, _ := m.Update(msg)
		m = updated.(Model)
	}
	return m
}

func TestUpdateTracksJobLifecycle(t *testing.T) {
	m := NewModel("test", []string{"pc"}, true)
	m = apply(t, m,
		jobMsg(ports.EventJobQueued, 1, "a.png", job.StatePending),
		jobMsg(ports.EventJobStarted, 1, "a.png", job.StateProcessing),
	)
	require.Equal(t, job.StateProcessing, m.jobs[1].State)
	require.Equal(t, 1, m.Counts().Submitted)

	m = apply(t, m, jobMsg(ports.EventJobCompleted, 1, "a.png", job.StateCompleted))
	require.Equal(t, 1, m.Counts().Completed)

	// A repeated terminal event is not counted twice.
	m = apply(t, m, jobMsg(ports.EventJobCompleted, 1, "a.png", job.StateCompleted))
	require.Equal(t, 1, m.Counts().Completed)
}

func TestUpdateCountsFailuresAndCancellations(t *testing.T) {
	m := NewModel("", nil, true)
	m = apply(t, m,
		jobMsg(ports.EventJobQueued, 1, "a.png", job.StatePending),
		jobMsg(ports.EventJobQueued, 2, "b.png", job.StatePending),
		jobMsg(ports.EventJobFailed, 1, "a.png", job.StateCrashed),
		jobMsg(ports.EventJobCancelled, 2, "b.png", job.StateCancelled),
	)
	require.Equal(t, 1, m.Counts().Failed)
	require.Equal(t, 1, m.Counts().Cancelled)
}

func TestUpdateIgnoresRejectedDuplicates(t *testing.T) {
	m := NewModel("", nil, true)
	m = apply(t, m,
		jobMsg(ports.EventJobQueued, 1, "a.png", job.StatePending),
		jobMsg(ports.EventJobCancelled, 0, "a.png", job.StateCancelled),
	)
	require.Equal(t, job.StatePending, m.jobs[1].State)
	require.Equal(t, 1, m.Counts().Rejected)
	require.Zero(t, m.Counts().Cancelled)
}

func TestUpdateHandlesQueueMessages(t *testing.T) {
	m := NewModel("", []string{"pc"}, true)
	m = apply(t, m,
		DepthMsg{Platform: "linux", Pending: 3, InFlight: 1},
		CatalogMsg{Resolved: 2, Deferred: 1},
		DeadlockMsg{Blocked: 2},
	)
	require.Equal(t, []string{"pc", "linux"}, m.platformOrder)
	require.Equal(t, 3, m.platforms["linux"].Pending)
	require.Equal(t, 1, m.Counts().Cataloged)
	require.Equal(t, 2, m.Counts().Resolved)
	require.Equal(t, 1, m.Counts().Deadlocks)
}

func TestUpdateHandlesTeaMessages(t *testing.T) {
	m := NewModel("", nil, false)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	m = updated.(Model)
	require.True(t, m.Interrupted())
	require.True(t, m.IsFinished())
}

func TestDoneMessageFinishes(t *testing.T) {
	m := NewModel("", nil, true)
	updated, cmd := m.Update(DoneMsg{Err: errors.New("boom")})
	require.Nil(t, cmd)
	m = updated.(Model)
	require.True(t, m.IsFinished())
	require.Contains(t, m.View(), "boom")
}

func TestMessageConvertsEvents(t *testing.T) {
	require.IsType(t, JobMsg{}, Message(ports.Event{Type: ports.EventJobQueued, Data: ports.JobEvent{}}))
	require.IsType(t, DepthMsg{}, Message(ports.Event{Type: ports.EventQueueDepth, Data: ports.QueueDepthEvent{}}))
	require.Nil(t, Message(ports.Event{Type: ports.EventQueueIdle, Data: ports.QueueDepthEvent{}}))
	require.Nil(t, Message(ports.Event{Type: ports.EventReadyToQuit}))
}

type sliceSource struct {
	events []ports.DomainEvent
}

func (s *sliceSource) Next(ctx context.Context) (ports.DomainEvent, error) {
	if len(s.events) == 0 {
		return nil, context.Canceled
	}
	e := s.events[0]
	s.events = s.events[1:]
	return e, nil
}

func TestForwardSendsConvertedMessages(t *testing.T) {
	source := &sliceSource{events: []ports.DomainEvent{
		ports.Event{Type: ports.EventJobQueued, Data: ports.JobEvent{Handle: 1}},
		ports.Event{Type: ports.EventReadyToQuit},
		ports.Event{Type: ports.EventProductsCataloged, Data: ports.CatalogEvent{Products: 1}},
	}}
	var got []tea.Msg
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := Forward(ctx, source, func(msg tea.Msg) { got = append(got, msg) })
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 2)
}
