package controller

import (
	"sort"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
)

// PlatformStats are the live counters of one platform.
type PlatformStats struct {
	Platform string
	Pending  int
	InFlight int
	// Critical counts critical jobs that are queued or in flight.
	Critical int
}

// Stats is a snapshot of the controller's counters.
type Stats struct {
	Platforms       []PlatformStats
	Pending         int
	InFlight        int
	Critical        int
	AwaitingCatalog int
	Groups          int
	Paused          bool
	ShuttingDown    bool
	MaxJobs         int
	// DispatchCycles counts dispatch passes run since start.
	DispatchCycles uint64
}

type counters map[string]*PlatformStats

func (c counters) get(platform string) *PlatformStats {
	s := c[platform]
	if s == nil {
		s = &PlatformStats{Platform: platform}
		c[platform] = s
	}
	return s
}

func (c counters) queued(j *job.Job) *PlatformStats {
	s := c.get(j.Identity().Platform)
	s.Pending++
	if j.Critical() {
		s.Critical++
	}
	return s
}

func (c counters) started(j *job.Job) *PlatformStats {
	s := c.get(j.Identity().Platform)
	s.Pending--
	s.InFlight++
	return s
}

// finished releases a job from whichever counter it was held in.
func (c counters) finished(j *job.Job, wasRunning bool) *PlatformStats {
	s := c.get(j.Identity().Platform)
	if wasRunning {
		s.InFlight--
	} else {
		s.Pending--
	}
	if j.Critical() {
		s.Critical--
	}
	return s
}

func (c counters) snapshot() []PlatformStats {
	out := make([]PlatformStats, 0, len(c))
	for _, s := range c {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}
