package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
)

const eventually = 5 * time.Second

type stubRunner struct {
	mu      sync.Mutex
	hold    map[string]bool
	gates   map[job.Handle]chan job.Result
	started []job.Run
	panicOn string
}

func (r *stubRunner) Run(ctx context.Context, run job.Run) job.Result {
	r.mu.Lock()
	r.started = append(r.started, run)
	var gate chan job.Result
	if r.hold[run.Details.Source] {
		gate = r.gateLocked(run.Handle)
	}
	panicNow := r.panicOn != "" && r.panicOn == run.Details.Source
	r.mu.Unlock()

	if panicNow {
		panic("boom")
	}
	if run.Details.AutoFail {
		return job.Failed(errors.New(run.Details.FailureReason))
	}
	if gate == nil {
		return job.Completed([]job.Product{{Name: run.Details.Source}})
	}
	select {
	case res := <-gate:
		return res
	case <-ctx.Done():
		return job.Cancelled(ctx.Err().Error())
	}
}

func (r *stubRunner) gateLocked(h job.Handle) chan job.Result {
	if g := r.gates[h]; g != nil {
		return g
	}
	g := make(chan job.Result, 1)
	r.gates[h] = g
	return g
}

func (r *stubRunner) release(h job.Handle, res job.Result) {
	r.mu.Lock()
	g := r.gateLocked(h)
	r.mu.Unlock()
	g <- res
}

func (r *stubRunner) startedSources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.started))
	for _, run := range r.started {
		out = append(out, run.Details.Source)
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []ports.DomainEvent
}

func (r *recorder) handle(_ context.Context, event ports.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) count(eventType string, match func(ports.DomainEvent) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.EventType() == eventType && (match == nil || match(event)) {
			n++
		}
	}
	return n
}

func (r *recorder) groupEvents(eventType string) []ports.CompileGroupEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ports.CompileGroupEvent
	for _, event := range r.events {
		if event.EventType() == eventType {
			out = append(out, event.Payload().(ports.CompileGroupEvent))
		}
	}
	return out
}

type harness struct {
	ctx    context.Context
	ctrl   *Controller
	runner *stubRunner
	rec    *recorder
}

func newHarness(t *testing.T, maxJobs int, hold ...string) *harness {
	t.Helper()
	runner := &stubRunner{hold: make(map[string]bool), gates: make(map[job.Handle]chan job.Result)}
	for _, source := range hold {
		runner.hold[source] = true
	}

	rec := &recorder{}
	publisher := events.NewLoggingPublisher(logging.NewNoOpLogger())
	_, err := publisher.Subscribe(events.AllEvents, rec.handle)
	require.NoError(t, err)

	ctrl, err := New(runner,
		WithEvents(publisher),
		WithMaxJobs(maxJobs),
		WithShutdownPolling(5*time.Millisecond, eventually),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return &harness{ctx: ctx, ctrl: ctrl, runner: runner, rec: rec}
}

func (h *harness) submit(t *testing.T, details job.Details) SubmitResult {
	t.Helper()
	res, err := h.ctrl.Submit(h.ctx, details)
	require.NoError(t, err)
	return res
}

// waitJobs waits until at least n events of eventType were published for source.
func (h *harness) waitJobs(t *testing.T, eventType, source string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.rec.count(eventType, func(e ports.DomainEvent) bool {
			return e.Payload().(ports.JobEvent).Identity.Source == source
		}) >= n
	}, eventually, 5*time.Millisecond, "waiting for %d %s events for %s", n, eventType, source)
}

func (h *harness) waitEvent(t *testing.T, eventType string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.rec.count(eventType, nil) > 0
	}, eventually, 5*time.Millisecond, "waiting for %s", eventType)
}

func (h *harness) stats(t *testing.T) Stats {
	t.Helper()
	stats, err := h.ctrl.Stats(h.ctx)
	require.NoError(t, err)
	return stats
}

func details(source, platform string, mutate ...func(*job.Details)) job.Details {
	d := job.Details{
		Source:     source,
		SourceUUID: uuid.NewSHA1(uuid.NameSpaceURL, []byte(source)),
		Platform:   platform,
		JobKey:     "compile",
		BuilderID:  "copy",
	}
	for _, fn := range mutate {
		fn(&d)
	}
	return d
}

func dependsOn(source string) func(*job.Details) {
	return func(d *job.Details) {
		d.Dependencies = append(d.Dependencies, job.Dependency{
			Kind:     job.DependencyOrder,
			Source:   source,
			Platform: d.Platform,
			JobKey:   "compile",
		})
	}
}
