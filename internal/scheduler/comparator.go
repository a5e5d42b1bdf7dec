package scheduler

import "github.com/alexisbeaulieu97/assetq/internal/domain/job"

// Comparator defines the total dispatch order over pending jobs.
type Comparator struct {
	platforms *Platforms
}

// NewComparator returns a comparator over the given platform classification.
func NewComparator(platforms *Platforms) Comparator {
	if platforms == nil {
		platforms = NewPlatforms("")
	}
	return Comparator{platforms: platforms}
}

// Less reports whether a must be dispatched before b. Keys, most significant
// first: auto-fail, intermediate platform, connected platform, critical,
// escalation, host platform, priority, then submission sequence for the same
// source or source path otherwise.
func (c Comparator) Less(a, b *job.Job) bool {
	if a.AutoFail() != b.AutoFail() {
		return a.AutoFail()
	}

	pa, pb := a.Identity().Platform, b.Identity().Platform
	if ia, ib := c.platforms.IsIntermediate(pa), c.platforms.IsIntermediate(pb); ia != ib {
		return ia
	}
	if ca, cb := c.platforms.IsConnected(pa), c.platforms.IsConnected(pb); ca != cb {
		return ca
	}

	if a.Critical() != b.Critical() {
		return a.Critical()
	}
	if a.Escalation() != b.Escalation() {
		return a.Escalation() > b.Escalation()
	}
	if ha, hb := c.platforms.IsHost(pa), c.platforms.IsHost(pb); ha != hb {
		return ha
	}
	if a.Priority() != b.Priority() {
		return a.Priority() > b.Priority()
	}

	sa, sb := a.Identity().Source, b.Identity().Source
	if sa == sb {
		return a.Sequence() < b.Sequence()
	}
	return sa < sb
}
