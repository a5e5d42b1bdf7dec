package components

import (
	"time"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
)

// JobEntry is one row of the job list.
type JobEntry struct {
	Identity job.Identity
	Builder  string
	State    job.State
	Message  string
	Duration time.Duration
	Products int
}

// JobList orders job rows by submission.
type JobList struct {
	entries []JobEntry
}

// NewJobList constructs a job list from handles in submission order.
func NewJobList(order []job.Handle, jobs map[job.Handle]JobEntry) JobList {
	entries := make([]JobEntry, 0, len(order))
	for _, h := range order {
		entries = append(entries, jobs[h])
	}
	return JobList{entries: entries}
}

// Recent returns at most n rows. Running and failed jobs are kept ahead of
// older finished ones so they stay visible in long runs.
func (l JobList) Recent(n int) []JobEntry {
	if n <= 0 || len(l.entries) <= n {
		return append([]JobEntry(nil), l.entries...)
	}

	keep := make([]bool, len(l.entries))
	kept := 0
	for i, e := range l.entries {
		if kept == n {
			break
		}
		if e.State == job.StateProcessing || (e.State.Terminal() && !e.State.Succeeded() && e.State != job.StateCancelled) {
			keep[i] = true
			kept++
		}
	}
	for i := len(l.entries) - 1; i >= 0 && kept < n; i-- {
		if !keep[i] {
			keep[i] = true
			kept++
		}
	}

	out := make([]JobEntry, 0, n)
	for i, e := range l.entries {
		if keep[i] {
			out = append(out, e)
		}
	}
	return out
}
