// Package controller owns the concurrency budget: it accepts submissions,
// starts jobs picked by the selector on a bounded worker pool, and folds
// their results back into the queue, counters and compile groups.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
	"github.com/alexisbeaulieu97/assetq/internal/queue"
	"github.com/alexisbeaulieu97/assetq/internal/scheduler"
	"github.com/alexisbeaulieu97/assetq/internal/wait"
)

var (
	// ErrStopped is returned by calls made after the controller loop exited.
	ErrStopped = errors.New("controller: stopped")
	// ErrShuttingDown is returned for submissions made during shutdown.
	ErrShuttingDown = errors.New("controller: shutting down")
)

// Runner executes one started job and returns its terminal result. It must
// return promptly with a Cancelled result once ctx is done.
type Runner interface {
	Run(ctx context.Context, run job.Run) job.Result
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, run job.Run) job.Result

func (f RunnerFunc) Run(ctx context.Context, run job.Run) job.Result { return f(ctx, run) }

// SubmitStatus is the outcome of one submission.
type SubmitStatus int

const (
	// SubmitQueued means a new job was inserted.
	SubmitQueued SubmitStatus = iota
	// SubmitSuperseded means a new job was inserted and an in-flight duplicate was cancelled.
	SubmitSuperseded
	// SubmitRejected means an equivalent job already exists and the submission was dropped.
	SubmitRejected
)

func (s SubmitStatus) String() string {
	switch s {
	case SubmitQueued:
		return "queued"
	case SubmitSuperseded:
		return "superseded"
	case SubmitRejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// SubmitResult reports what happened to one submission.
type SubmitResult struct {
	Status SubmitStatus
	// Handle is the new job, or the existing one that caused a rejection.
	Handle   job.Handle
	Identity job.Identity
	Err      error
}

type finished struct {
	handle job.Handle
	result job.Result
}

// Controller is a single-goroutine command loop. Every exported method hands
// a closure to the loop and waits for it, so the job collection, selector,
// counters and compile groups are only touched by the loop goroutine. Events
// are published on that goroutine as well.
type Controller struct {
	jobs      *queue.Collection
	selector  *scheduler.Selector
	platforms *scheduler.Platforms
	runner    Runner

	logger  ports.Logger
	metrics ports.MetricsCollector
	events  ports.EventPublisher

	maxJobs         int
	pollInterval    time.Duration
	shutdownTimeout time.Duration
	searchOptions   *queue.SearchOptions

	commands chan func()
	dispatch chan struct{}
	results  chan finished
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	runOnce  sync.Once

	// Loop-owned state.
	pool         *errgroup.Group
	poolCtx      context.Context
	dispatching  bool
	cycles       uint64
	paused       bool
	shuttingDown bool
	counters     counters
	groups       groups
	cancels      map[job.Handle]context.CancelFunc
}

// New builds a controller that executes jobs with runner.
func New(runner Runner, opts ...Option) (*Controller, error) {
	if runner == nil {
		return nil, job.NewError(job.ErrCodeValidation, "runner is required", nil)
	}
	c := &Controller{
		runner:          runner,
		logger:          logging.NewNoOpLogger(),
		metrics:         ports.NoopMetrics{},
		pollInterval:    defaultPollInterval,
		shutdownTimeout: defaultShutdownTimeout,
		counters:        make(counters),
		cancels:         make(map[job.Handle]context.CancelFunc),
		commands:        make(chan func()),
		dispatch:        make(chan struct{}, 1),
		stop:            make(chan struct{}),
		stopped:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxJobs < 1 {
		c.maxJobs = DefaultMaxJobs()
	}
	if c.events == nil {
		c.events = events.NewLoggingPublisher(c.logger)
	}
	if c.platforms == nil {
		c.platforms = scheduler.NewPlatforms("")
	}
	c.logger = c.logger.With("component", "controller")

	var queueOpts []queue.Option
	if c.searchOptions != nil {
		queueOpts = append(queueOpts, queue.WithSearchOptions(*c.searchOptions))
	}
	jobs, err := queue.New(queueOpts...)
	if err != nil {
		return nil, err
	}
	c.jobs = jobs
	c.selector = scheduler.New(jobs, c.platforms, scheduler.WithLogger(c.logger))
	// Every running job can post its result without waiting for the loop.
	c.results = make(chan finished, c.maxJobs)
	return c, nil
}

// MaxJobs returns the concurrency budget.
func (c *Controller) MaxJobs() int { return c.maxJobs }

// Run executes the command loop until ctx is done or Shutdown completes.
// Running jobs are cancelled when ctx ends, and Run waits for them.
func (c *Controller) Run(ctx context.Context) error {
	err := errors.New("controller: already running")
	c.runOnce.Do(func() {
		err = c.loop(ctx)
	})
	return err
}

func (c *Controller) loop(ctx context.Context) error {
	defer close(c.stopped)

	pool, poolCtx := errgroup.WithContext(ctx)
	pool.SetLimit(c.maxJobs)
	c.pool, c.poolCtx = pool, poolCtx

	for {
		select {
		case <-ctx.Done():
			for _, cancel := range c.cancels {
				cancel()
			}
			_ = pool.Wait()
			return ctx.Err()
		case <-c.stop:
			return pool.Wait()
		case cmd := <-c.commands:
			cmd()
		case res := <-c.results:
			c.finish(ctx, res)
		case <-c.dispatch:
			c.dispatchCycle(ctx)
		}
	}
}

// call runs fn on the loop goroutine and waits for it to return.
func (c *Controller) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case c.commands <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
	<-done
	return nil
}

// requestDispatch schedules a dispatch cycle. Requests made before the
// cycle runs collapse into one.
func (c *Controller) requestDispatch() {
	select {
	case c.dispatch <- struct{}{}:
	default:
	}
}

// Submit queues one job.
func (c *Controller) Submit(ctx context.Context, details job.Details) (SubmitResult, error) {
	results, err := c.SubmitAll(ctx, []job.Details{details})
	if err != nil {
		return SubmitResult{}, err
	}
	return results[0], results[0].Err
}

// SubmitAll queues a batch in one step so no dispatch cycle observes a
// partial batch.
func (c *Controller) SubmitAll(ctx context.Context, batch []job.Details) ([]SubmitResult, error) {
	results := make([]SubmitResult, len(batch))
	err := c.call(ctx, func() {
		for i, details := range batch {
			results[i] = c.submit(ctx, details)
		}
	})
	return results, err
}

func (c *Controller) submit(ctx context.Context, details job.Details) SubmitResult {
	id := details.Identity()
	if c.shuttingDown {
		return SubmitResult{Status: SubmitRejected, Identity: id, Err: ErrShuttingDown}
	}
	if err := details.Validate(); err != nil {
		return SubmitResult{Status: SubmitRejected, Identity: id, Err: err}
	}

	if queued := c.jobs.FindQueued(id); queued != nil {
		c.reject(ctx, details, "an identical job is already queued")
		return SubmitResult{Status: SubmitRejected, Handle: queued.Handle(), Identity: id}
	}

	status := SubmitQueued
	if running := c.jobs.FindInFlight(id); running != nil && running.State() == job.StateProcessing {
		if running.Fingerprint() == details.Fingerprint && !running.HasDependencies() {
			c.reject(ctx, details, "an identical job is already running")
			return SubmitResult{Status: SubmitRejected, Handle: running.Handle(), Identity: id}
		}
		c.cancelRunning(ctx, running, "superseded by a newer submission")
		status = SubmitSuperseded
	}

	j, err := c.jobs.Insert(details)
	if err != nil {
		return SubmitResult{Status: SubmitRejected, Identity: id, Err: err}
	}
	c.selector.Add(j)
	platform := c.counters.queued(j)
	c.metrics.IncCounter(ctx, ports.MetricJobsSubmitted, map[string]string{"platform": id.Platform})
	c.publish(ctx, ports.EventJobQueued, c.jobEvent(j, ""))
	c.publishDepth(ctx, platform)
	c.requestDispatch()
	return SubmitResult{Status: status, Handle: j.Handle(), Identity: id}
}

// reject reports a dropped duplicate submission as a cancellation.
func (c *Controller) reject(ctx context.Context, details job.Details, reason string) {
	c.logger.Debug(ctx, "submission rejected", "job", details.Identity().String(), "reason", reason)
	c.publish(ctx, ports.EventJobCancelled, ports.JobEvent{
		Identity: details.Identity(),
		Builder:  details.BuilderID,
		State:    job.StateCancelled,
		Critical: details.Critical,
		Message:  reason,
	})
}

func (c *Controller) dispatchCycle(ctx context.Context) {
	if c.dispatching {
		c.requestDispatch()
		return
	}
	c.dispatching = true
	c.cycles++
	defer func() { c.dispatching = false }()

	for !c.shuttingDown && c.jobs.InFlightCount() < c.maxJobs {
		var next *job.Job
		if c.paused {
			next = c.selector.NextAutoFail()
		} else if sel, ok := c.selector.SelectNext(ctx); ok {
			next = sel.Job
			if sel.CycleBroken {
				c.publish(ctx, ports.EventDeadlockBroken, ports.DeadlockEvent{Identity: next.Identity(), Blocked: sel.Blocked})
			}
		}
		if next == nil {
			return
		}
		c.start(ctx, next)
	}
}

func (c *Controller) start(ctx context.Context, j *job.Job) {
	run, err := j.Start()
	if err != nil {
		c.logger.Error(ctx, "cannot start job", "job", j.Identity().String(), "error", err)
		return
	}
	if err := c.jobs.MarkProcessing(j.Handle()); err != nil {
		c.logger.Error(ctx, "cannot mark job processing", "job", j.Identity().String(), "error", err)
	}
	platform := c.counters.started(j)

	runCtx, cancel := context.WithCancel(c.poolCtx)
	runCtx = ports.WithCorrelationID(runCtx, run.ID.String())
	c.cancels[j.Handle()] = cancel

	c.logger.Debug(ctx, "job started", "job", j.Identity().String(), "run_id", run.ID.String())
	c.publish(ctx, ports.EventJobStarted, c.jobEvent(j, ""))
	c.publishDepth(ctx, platform)

	c.pool.Go(func() error {
		c.results <- finished{handle: run.Handle, result: c.execute(runCtx, run)}
		return nil
	})
}

func (c *Controller) execute(ctx context.Context, run job.Run) (result job.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = job.Result{State: job.StateCrashed, Message: fmt.Sprintf("runner panic: %v", r)}
		}
	}()
	return c.runner.Run(ctx, run)
}

func (c *Controller) finish(ctx context.Context, f finished) {
	j := c.jobs.Get(f.handle)
	if j == nil {
		return
	}
	if cancel, ok := c.cancels[f.handle]; ok {
		cancel()
		delete(c.cancels, f.handle)
	}

	result := f.result
	switch {
	case j.State() == job.StateCancelled:
		// A cancelled job stays cancelled whatever the runner reported.
		result.State = job.StateCancelled
		result.Products = nil
	case !result.State.Terminal():
		result = job.Result{State: job.StateFailed, Message: "runner returned a non-terminal result", Duration: result.Duration}
		fallthrough
	default:
		if err := j.Transition(result.State); err != nil {
			c.logger.Error(ctx, "invalid job transition", "job", j.Identity().String(), "error", err)
			_ = j.Transition(job.StateFailed)
			result.State = job.StateFailed
		}
	}
	if result.Duration == 0 && !j.StartedAt().IsZero() {
		result.Duration = time.Since(j.StartedAt())
	}
	c.complete(ctx, j, result, true)
}

// complete releases a job that reached a terminal state.
func (c *Controller) complete(ctx context.Context, j *job.Job, result job.Result, wasRunning bool) {
	id := j.Identity()
	platform := c.counters.finished(j, wasRunning)
	if err := c.jobs.MarkCompleted(j.Handle()); err != nil {
		c.logger.Error(ctx, "cannot release job", "job", id.String(), "error", err)
	}

	state := j.State()
	c.metrics.IncCounter(ctx, ports.MetricJobsFinished, map[string]string{"platform": id.Platform, "status": state.String()})
	if wasRunning {
		c.metrics.ObserveHistogram(ctx, ports.MetricJobDurationSeconds, result.Duration.Seconds(),
			map[string]string{"platform": id.Platform, "builder": j.BuilderID()})
	}

	payload := c.jobEvent(j, result.Message)
	payload.Duration = result.Duration
	payload.Products = result.Products
	switch {
	case state.Succeeded():
		c.publish(ctx, ports.EventJobCompleted, payload)
	case state == job.StateCancelled:
		c.publish(ctx, ports.EventJobCancelled, payload)
	default:
		if result.Err != nil && payload.Message == "" {
			payload.Message = result.Err.Error()
		}
		c.logger.Warn(ctx, "job did not complete", "job", id.String(), "state", state.String(), "message", payload.Message)
		c.publish(ctx, ports.EventJobFailed, payload)
	}
	c.publishDepth(ctx, platform)

	for _, closed := range c.groups.complete(id, state.Succeeded()) {
		c.publish(ctx, ports.EventCompileGroupFinished, ports.CompileGroupEvent{
			Token:   closed.token,
			Status:  closed.status,
			Members: closed.size,
		})
	}

	c.requestDispatch()
	if c.jobs.Len() == 0 {
		c.publish(ctx, ports.EventQueueIdle, ports.QueueDepthEvent{})
	}
}

func (c *Controller) cancelRunning(ctx context.Context, j *job.Job, reason string) {
	if err := j.Transition(job.StateCancelled); err != nil {
		return
	}
	c.logger.Info(ctx, "cancelling running job", "job", j.Identity().String(), "reason", reason)
	if cancel, ok := c.cancels[j.Handle()]; ok {
		cancel()
	}
}

// cancelQueued finishes a job that never started; no result will arrive for it.
func (c *Controller) cancelQueued(ctx context.Context, j *job.Job, reason string) {
	if err := j.Transition(job.StateCancelled); err != nil {
		return
	}
	c.complete(ctx, j, job.Cancelled(reason), false)
}

// Cancel cancels the queued or running job with this identity. It reports
// whether a job was found.
func (c *Controller) Cancel(ctx context.Context, id job.Identity) (bool, error) {
	var found bool
	err := c.call(ctx, func() {
		if j := c.jobs.FindQueued(id); j != nil {
			found = true
			c.cancelQueued(ctx, j, "cancelled by request")
		}
		if j := c.jobs.FindInFlight(id); j != nil && j.State() == job.StateProcessing {
			found = true
			c.cancelRunning(ctx, j, "cancelled by request")
		}
	})
	return found, err
}

// RemoveJobsBySource cancels every queued or running job for a deleted
// source and returns how many were cancelled.
func (c *Controller) RemoveJobsBySource(ctx context.Context, source string) (int, error) {
	var n int
	err := c.call(ctx, func() {
		var queued []*job.Job
		for _, j := range c.jobs.BySource(source) {
			switch j.State() {
			case job.StatePending:
				queued = append(queued, j)
			case job.StateProcessing:
				c.cancelRunning(ctx, j, "source removed")
				n++
			}
		}
		for _, j := range queued {
			c.cancelQueued(ctx, j, "source removed")
			n++
		}
	})
	return n, err
}

// Pause stops starting new jobs except auto-fail jobs.
func (c *Controller) Pause(ctx context.Context) error {
	return c.call(ctx, func() {
		c.paused = true
	})
}

// Resume re-enables dispatching and runs one dispatch cycle.
func (c *Controller) Resume(ctx context.Context) error {
	return c.call(ctx, func() {
		c.paused = false
		c.requestDispatch()
	})
}

// SetPlatformConnected records whether a consumer is connected for platform.
func (c *Controller) SetPlatformConnected(ctx context.Context, platform string, connected bool) error {
	return c.call(ctx, func() {
		if c.platforms.SetConnected(platform, connected) {
			c.selector.MarkStale()
			c.requestDispatch()
		}
	})
}

// EscalateBySearch raises the escalation of queued jobs matched by the
// heuristic search and returns how many changed.
func (c *Controller) EscalateBySearch(ctx context.Context, platform, term string, level int) (int, error) {
	var n int
	err := c.call(ctx, func() {
		n = c.escalate(ctx, c.jobs.Search(platform, term), level)
	})
	return n, err
}

// EscalateBySourceUUID raises the escalation of queued jobs for a source.
func (c *Controller) EscalateBySourceUUID(ctx context.Context, sourceUUID uuid.UUID, level int) (int, error) {
	var n int
	err := c.call(ctx, func() {
		n = c.escalate(ctx, c.jobs.FindBySourceUUID("", sourceUUID), level)
	})
	return n, err
}

func (c *Controller) escalate(ctx context.Context, jobs []*job.Job, level int) int {
	n := 0
	for _, j := range jobs {
		if j.State() == job.StatePending && j.RaiseEscalation(level) {
			n++
		}
	}
	if n > 0 {
		c.logger.Debug(ctx, "escalated jobs", "count", n, "level", level)
		c.selector.MarkStale()
		c.requestDispatch()
	}
	return n
}

// RequestCompileGroup opens a compile group over the live jobs matching
// criteria. With no match it reports CompileGroupUnknown and opens nothing.
func (c *Controller) RequestCompileGroup(ctx context.Context, token string, criteria GroupCriteria) (ports.CompileGroupStatus, error) {
	status := ports.CompileGroupUnknown
	err := c.call(ctx, func() {
		var matches []*job.Job
		if criteria.SourceUUID != uuid.Nil {
			matches = c.jobs.FindBySourceUUID(criteria.Platform, criteria.SourceUUID)
		} else {
			matches = c.jobs.Search(criteria.Platform, criteria.Search)
		}

		members := make([]job.Identity, 0, len(matches))
		for _, j := range matches {
			if j.State() == job.StatePending || j.State() == job.StateProcessing {
				members = append(members, j.Identity())
			}
		}
		size := 0
		if len(members) > 0 {
			size = c.groups.add(token, members).size
			status = ports.CompileGroupQueued
		}
		c.publish(ctx, ports.EventCompileGroupCreated, ports.CompileGroupEvent{Token: token, Status: status, Members: size})
	})
	return status, err
}

// OnAddedToCatalog acknowledges that a completed job's products were
// durably published. Acknowledgements beyond the outstanding count are
// logged and ignored.
func (c *Controller) OnAddedToCatalog(ctx context.Context, id job.Identity) error {
	return c.call(ctx, func() {
		if err := c.jobs.MarkCataloged(id); err != nil {
			c.logger.Warn(ctx, "catalog acknowledgement without pending write", "job", id.String())
			return
		}
		c.requestDispatch()
	})
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.call(ctx, func() {
		stats = Stats{
			Platforms:       c.counters.snapshot(),
			AwaitingCatalog: c.jobs.AwaitingCatalogCount(),
			Groups:          c.groups.len(),
			Paused:          c.paused,
			ShuttingDown:    c.shuttingDown,
			MaxJobs:         c.maxJobs,
			DispatchCycles:  c.cycles,
		}
		for _, p := range stats.Platforms {
			stats.Pending += p.Pending
			stats.InFlight += p.InFlight
			stats.Critical += p.Critical
		}
	})
	return stats, err
}

// Shutdown stops dispatching, cancels running jobs, waits for them to report
// back, emits EventReadyToQuit and stops the loop. Queued jobs are dropped.
func (c *Controller) Shutdown(ctx context.Context) error {
	err := c.call(ctx, func() {
		c.shuttingDown = true
		for _, j := range c.jobs.InFlight() {
			if j.State() == job.StateProcessing {
				c.cancelRunning(ctx, j, "shutting down")
			}
		}
	})
	if err != nil {
		return err
	}

	policy := wait.Policy{Interval: c.pollInterval, MaxDuration: c.shutdownTimeout}
	err = wait.Until(ctx, policy, func() (bool, error) {
		stats, err := c.Stats(ctx)
		return err == nil && stats.InFlight == 0, err
	})
	if err != nil {
		return err
	}

	return c.call(ctx, func() {
		c.publish(ctx, ports.EventReadyToQuit, nil)
		c.stopOnce.Do(func() { close(c.stop) })
	})
}

// Done is closed once the loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.stopped
}

func (c *Controller) jobEvent(j *job.Job, message string) ports.JobEvent {
	return ports.JobEvent{
		Handle:     j.Handle(),
		Identity:   j.Identity(),
		SourceUUID: j.SourceUUID(),
		ScanFolder: j.Details().ScanFolder,
		Builder:    j.BuilderID(),
		RunID:      j.RunID(),
		State:      j.State(),
		Critical:   j.Critical(),
		Message:    message,
	}
}

func (c *Controller) publishDepth(ctx context.Context, s *PlatformStats) {
	labels := map[string]string{"platform": s.Platform}
	c.metrics.SetGauge(ctx, ports.MetricJobsPending, float64(s.Pending), labels)
	c.metrics.SetGauge(ctx, ports.MetricJobsInFlight, float64(s.InFlight), labels)
	c.metrics.SetGauge(ctx, ports.MetricJobsPendingCritical, float64(s.Critical), labels)
	c.publish(ctx, ports.EventQueueDepth, ports.QueueDepthEvent{
		Platform: s.Platform,
		Pending:  s.Pending,
		InFlight: s.InFlight,
		Critical: s.Critical,
	})
}

func (c *Controller) publish(ctx context.Context, eventType string, payload interface{}) {
	if err := c.events.Publish(ctx, ports.Event{Type: eventType, Data: payload}); err != nil {
		c.logger.Warn(ctx, "event delivery failed", "event", eventType, "error", err)
	}
}
