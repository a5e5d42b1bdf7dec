// Package scheduler decides which pending job runs next.
package scheduler

import (
	"context"
	"sort"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
	"github.com/alexisbeaulieu97/assetq/internal/queue"
)

// Selection is the outcome of a successful SelectNext call.
type Selection struct {
	Job *job.Job
	// CycleBroken is set when Job was still blocked on ordering dependencies
	// and was dispatched because nothing else could make progress.
	CycleBroken bool
	// Blocked is the number of pending jobs that were not ready during the walk.
	Blocked int
}

// Option customizes a Selector.
type Option func(*Selector)

// WithLogger sets the selector logger.
func WithLogger(logger ports.Logger) Option {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Selector keeps a cached total order of pending job handles and walks it to
// find the next dispatchable job. Like the collection it reads, it is owned
// by the controller goroutine.
type Selector struct {
	jobs   *queue.Collection
	cmp    Comparator
	order  []job.Handle
	stale  bool
	logger ports.Logger
}

// New creates a selector over jobs.
func New(jobs *queue.Collection, platforms *Platforms, opts ...Option) *Selector {
	s := &Selector{
		jobs:   jobs,
		cmp:    NewComparator(platforms),
		stale:  true,
		logger: logging.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "selector")
	return s
}

// MarkStale forces a full resort before the next walk.
func (s *Selector) MarkStale() {
	s.stale = true
}

// Add places a newly inserted job into the cached order.
func (s *Selector) Add(j *job.Job) {
	if s.stale {
		return
	}
	s.compact()
	i := sort.Search(len(s.order), func(i int) bool {
		return s.cmp.Less(j, s.jobs.Get(s.order[i]))
	})
	s.order = append(s.order, 0)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = j.Handle()
}

// Ordered returns the pending jobs in dispatch order.
func (s *Selector) Ordered() []*job.Job {
	if s.stale {
		s.resort()
	}
	s.compact()
	out := make([]*job.Job, 0, len(s.order))
	for _, h := range s.order {
		out = append(out, s.jobs.Get(h))
	}
	return out
}

// NextAutoFail returns the first pending auto-fail job, ignoring dependencies.
// It is used while dispatching is paused.
func (s *Selector) NextAutoFail() *job.Job {
	// Auto-fail jobs sort first, so only the head can match.
	if ordered := s.Ordered(); len(ordered) > 0 && ordered[0].AutoFail() {
		return ordered[0]
	}
	return nil
}

type readiness int

const (
	ready readiness = iota
	blockedByJob
	blockedByCatalog
)

// SelectNext walks the order and returns the first job whose ordering
// dependencies are satisfied. Prerequisites that block a job are escalated so
// they sort no later than the job waiting on them. When no job is ready,
// nothing is in flight and nothing awaits a catalog write, the best blocked
// candidate is returned to break the cycle.
func (s *Selector) SelectNext(ctx context.Context) (Selection, bool) {
	if s.stale {
		s.resort()
	}

	var (
		fallback         *job.Job
		fallbackMissing  bool
		fallbackByJob    bool
		waitingOnCatalog bool
		blocked          int
		live             = s.order[:0]
	)

	for i, h := range s.order {
		j := s.jobs.Get(h)
		if j == nil || j.State() != job.StatePending {
			continue
		}
		live = append(live, h)

		if j.AutoFail() {
			s.order = append(live, s.order[i+1:]...)
			return Selection{Job: j, Blocked: blocked}, true
		}

		state := s.readiness(ctx, j)
		missing := j.HasMissingSourceDependency()
		switch {
		case state == blockedByCatalog:
			waitingOnCatalog = true
			blocked++
			continue
		case state == blockedByJob || missing:
			blocked++
			if fallback == nil || (fallbackMissing && !missing) {
				fallback, fallbackMissing, fallbackByJob = j, missing, state == blockedByJob
			}
			continue
		}

		s.order = append(live, s.order[i+1:]...)
		return Selection{Job: j, Blocked: blocked}, true
	}
	s.order = live

	if fallback == nil || waitingOnCatalog || s.jobs.InFlightCount() > 0 {
		return Selection{Blocked: blocked}, false
	}

	if fallbackByJob {
		s.logger.Warn(ctx, "ordering dependencies form a cycle; dispatching blocked job",
			"job", fallback.Identity().String(),
			"blocked", blocked,
		)
	} else {
		s.logger.Info(ctx, "dispatching job with missing source dependency",
			"job", fallback.Identity().String(),
		)
	}
	return Selection{Job: fallback, CycleBroken: fallbackByJob, Blocked: blocked}, true
}

func (s *Selector) readiness(ctx context.Context, j *job.Job) readiness {
	result := ready
	for _, dep := range j.Dependencies() {
		if !dep.Kind.Orders() {
			continue
		}
		if dep.Kind == job.DependencyOrderOnce && s.jobs.CompletedBefore(j.Identity().Source) {
			continue
		}

		status, prereqs := s.jobs.DependencyStatus(dep)
		prereqs = withoutJob(prereqs, j)
		switch status {
		case queue.DependencyQueued, queue.DependencyInFlight:
			if len(prereqs) == 0 {
				continue
			}
			s.escalate(ctx, j, prereqs)
			if result != blockedByCatalog {
				result = blockedByJob
			}
		case queue.DependencyAwaitingCatalog:
			result = blockedByCatalog
		}
	}
	return result
}

func (s *Selector) escalate(ctx context.Context, waiting *job.Job, prereqs []*job.Job) {
	for _, p := range prereqs {
		if p.State() != job.StatePending {
			continue
		}
		var raised bool
		if waiting.Critical() || waiting.Escalation() > job.EscalationDefault {
			raised = p.RaiseEscalation(job.EscalationCriticalDependency)
		} else {
			raised = p.RaisePriority(waiting.Priority() + 1)
		}
		if raised {
			s.stale = true
			s.logger.Debug(ctx, "escalated prerequisite",
				"job", p.Identity().String(),
				"waiting", waiting.Identity().String(),
				"priority", p.Priority(),
				"escalation", p.Escalation(),
			)
		}
	}
}

func (s *Selector) resort() {
	pending := s.jobs.Queued()
	sort.SliceStable(pending, func(i, j int) bool {
		return s.cmp.Less(pending[i], pending[j])
	})
	s.order = s.order[:0]
	for _, j := range pending {
		s.order = append(s.order, j.Handle())
	}
	s.stale = false
}

func (s *Selector) compact() {
	live := s.order[:0]
	for _, h := range s.order {
		if j := s.jobs.Get(h); j != nil && j.State() == job.StatePending {
			live = append(live, h)
		}
	}
	s.order = live
}

func withoutJob(jobs []*job.Job, self *job.Job) []*job.Job {
	out := jobs[:0]
	for _, j := range jobs {
		if j != self {
			out = append(out, j)
		}
	}
	return out
}
