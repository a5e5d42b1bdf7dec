package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/queue"
)

func orderOn(source string) job.Dependency {
	return job.Dependency{Kind: job.DependencyOrder, Source: source, Platform: "pc", JobKey: "compile"}
}

func newSelector(t *testing.T) (*queue.Collection, *Selector) {
	t.Helper()
	c, err := queue.New()
	require.NoError(t, err)
	return c, New(c, NewPlatforms("pc"))
}

func start(t *testing.T, c *queue.Collection, j *job.Job) {
	t.Helper()
	_, err := j.Start()
	require.NoError(t, err)
	require.NoError(t, c.MarkProcessing(j.Handle()))
}

func complete(t *testing.T, c *queue.Collection, j *job.Job) {
	t.Helper()
	require.NoError(t, j.Transition(job.StateCompleted))
	require.NoError(t, c.MarkCompleted(j.Handle()))
}

func mustSelect(t *testing.T, s *Selector) Selection {
	t.Helper()
	sel, ok := s.SelectNext(context.Background())
	require.True(t, ok, "expected a job to be selected")
	return sel
}

func TestSelectNextPrerequisiteFirst(t *testing.T) {
	c, s := newSelector(t)
	a := insert(t, c, jobArgs{source: "a.txt", priority: 10, deps: []job.Dependency{orderOn("b.txt")}})
	b := insert(t, c, jobArgs{source: "b.txt"})

	sel := mustSelect(t, s)
	assert.Same(t, b, sel.Job)
	assert.False(t, sel.CycleBroken)
	assert.Equal(t, 11, b.Priority())

	start(t, c, b)
	_, ok := s.SelectNext(context.Background())
	assert.False(t, ok, "dependent must wait while prerequisite is in flight")

	complete(t, c, b)
	_, ok = s.SelectNext(context.Background())
	assert.False(t, ok, "dependent must wait for the catalog write")

	require.NoError(t, c.MarkCataloged(b.Identity()))
	sel = mustSelect(t, s)
	assert.Same(t, a, sel.Job)
}

func TestSelectNextUnknownPrerequisiteIsSatisfied(t *testing.T) {
	c, s := newSelector(t)
	a := insert(t, c, jobArgs{source: "a.txt", deps: []job.Dependency{orderOn("never.txt")}})

	assert.Same(t, a, mustSelect(t, s).Job)
}

func TestSelectNextBreaksTwoJobCycle(t *testing.T) {
	c, s := newSelector(t)
	a := insert(t, c, jobArgs{source: "a.txt", deps: []job.Dependency{orderOn("b.txt")}})
	b := insert(t, c, jobArgs{source: "b.txt", deps: []job.Dependency{orderOn("a.txt")}})

	sel := mustSelect(t, s)
	assert.True(t, sel.CycleBroken)
	assert.Contains(t, []*job.Job{a, b}, sel.Job)
	assert.Equal(t, 2, sel.Blocked)

	start(t, c, sel.Job)
	_, ok := s.SelectNext(context.Background())
	assert.False(t, ok, "the other half of the cycle waits for the running job")
}

func TestSelectNextNoCycleBreakWhileWorkInFlight(t *testing.T) {
	c, s := newSelector(t)
	insert(t, c, jobArgs{source: "a.txt", deps: []job.Dependency{orderOn("b.txt")}})
	insert(t, c, jobArgs{source: "b.txt", deps: []job.Dependency{orderOn("a.txt")}})
	running := insert(t, c, jobArgs{source: "c.txt", priority: 100})
	start(t, c, running)

	_, ok := s.SelectNext(context.Background())
	assert.False(t, ok)

	complete(t, c, running)
	sel := mustSelect(t, s)
	assert.True(t, sel.CycleBroken)
}

func TestSelectNextCatalogWaitBlocksCycleBreak(t *testing.T) {
	c, s := newSelector(t)
	done := insert(t, c, jobArgs{source: "c.txt"})
	start(t, c, done)
	complete(t, c, done)

	insert(t, c, jobArgs{source: "a.txt", deps: []job.Dependency{orderOn("b.txt"), orderOn("c.txt")}})
	insert(t, c, jobArgs{source: "b.txt", deps: []job.Dependency{orderOn("a.txt")}})

	_, ok := s.SelectNext(context.Background())
	assert.False(t, ok)

	require.NoError(t, c.MarkCataloged(done.Identity()))
	sel := mustSelect(t, s)
	assert.True(t, sel.CycleBroken)
}

func TestSelectNextMissingSourceRunsLast(t *testing.T) {
	c, s := newSelector(t)
	missing := insert(t, c, jobArgs{
		source:   "a.txt",
		priority: 50,
		deps: []job.Dependency{{
			Kind:          job.DependencyOrder,
			Source:        "textures/*.png",
			Platform:      "pc",
			MissingSource: true,
		}},
	})
	other := insert(t, c, jobArgs{source: "b.txt"})

	sel := mustSelect(t, s)
	assert.Same(t, other, sel.Job)

	start(t, c, other)
	_, ok := s.SelectNext(context.Background())
	assert.False(t, ok)

	complete(t, c, other)
	sel = mustSelect(t, s)
	assert.Same(t, missing, sel.Job)
	assert.False(t, sel.CycleBroken)
}

func TestSelectNextPrefersFallbackWithoutMissingSource(t *testing.T) {
	c, s := newSelector(t)
	insert(t, c, jobArgs{
		source:   "a.txt",
		priority: 10,
		deps:     []job.Dependency{{Kind: job.DependencyOrder, Source: "gone", Platform: "pc", MissingSource: true}},
	})
	b := insert(t, c, jobArgs{source: "b.txt", deps: []job.Dependency{orderOn("c.txt")}})
	insert(t, c, jobArgs{source: "c.txt", deps: []job.Dependency{orderOn("b.txt")}})

	sel := mustSelect(t, s)
	assert.Same(t, b, sel.Job)
	assert.True(t, sel.CycleBroken)
}

func TestSelectNextEscalatesForCriticalWaiter(t *testing.T) {
	c, s := newSelector(t)
	waiting := insert(t, c, jobArgs{source: "a.txt", critical: true, deps: []job.Dependency{orderOn("b.txt")}})
	prereq := insert(t, c, jobArgs{source: "b.txt"})

	sel := mustSelect(t, s)
	assert.Same(t, prereq, sel.Job)
	assert.Equal(t, job.EscalationCriticalDependency, prereq.Escalation())
	assert.Equal(t, 0, prereq.Priority())
	assert.Equal(t, job.StatePending, waiting.State())
}

func TestSelectNextOrderOnceAfterFirstCompletion(t *testing.T) {
	c, s := newSelector(t)
	once := job.Dependency{Kind: job.DependencyOrderOnce, Source: "b.txt", Platform: "pc", JobKey: "compile"}

	first := insert(t, c, jobArgs{source: "a.txt", deps: []job.Dependency{once}})
	prereq := insert(t, c, jobArgs{source: "b.txt"})
	assert.Same(t, prereq, mustSelect(t, s).Job)
	start(t, c, prereq)
	complete(t, c, prereq)
	require.NoError(t, c.MarkCataloged(prereq.Identity()))
	assert.Same(t, first, mustSelect(t, s).Job)
	start(t, c, first)
	complete(t, c, first)

	again := insert(t, c, jobArgs{source: "a.txt", deps: []job.Dependency{once}})
	s.Add(again)
	s.Add(insert(t, c, jobArgs{source: "b.txt"}))
	assert.Same(t, again, mustSelect(t, s).Job)
}

func TestSelectNextJobToJobIsNotChecked(t *testing.T) {
	c, s := newSelector(t)
	a := insert(t, c, jobArgs{source: "a.txt", priority: 5, deps: []job.Dependency{{
		Kind: job.DependencyJobToJob, Source: "b.txt", Platform: "pc", JobKey: "compile",
	}}})
	insert(t, c, jobArgs{source: "b.txt"})

	assert.Same(t, a, mustSelect(t, s).Job)
}

func TestSelectNextAutoFailIgnoresDependencies(t *testing.T) {
	c, s := newSelector(t)
	insert(t, c, jobArgs{source: "b.txt", priority: 100})
	failing := insert(t, c, jobArgs{source: "a.txt", autoFail: true, deps: []job.Dependency{orderOn("b.txt")}})

	assert.Same(t, failing, mustSelect(t, s).Job)
	assert.Same(t, failing, s.NextAutoFail())
}

func TestNextAutoFailWithoutAutoFailJobs(t *testing.T) {
	c, s := newSelector(t)
	insert(t, c, jobArgs{source: "a.txt"})

	assert.Nil(t, s.NextAutoFail())
}

func TestAddKeepsCachedOrder(t *testing.T) {
	c, s := newSelector(t)
	insert(t, c, jobArgs{source: "a.txt", priority: 1})
	insert(t, c, jobArgs{source: "b.txt", priority: 3})
	require.Len(t, s.Ordered(), 2)

	urgent := insert(t, c, jobArgs{source: "c.txt", priority: 2})
	s.Add(urgent)

	got := make([]string, 0, 3)
	for _, j := range s.Ordered() {
		got = append(got, j.Identity().Source)
	}
	assert.Equal(t, []string{"b.txt", "c.txt", "a.txt"}, got)
}

func TestMarkStaleAfterConnectivityChange(t *testing.T) {
	c, err := queue.New()
	require.NoError(t, err)
	platforms := NewPlatforms("")
	s := New(c, platforms)

	pc := insert(t, c, jobArgs{source: "a.txt", platform: "pc"})
	android := insert(t, c, jobArgs{source: "b.txt", platform: "android"})
	assert.Same(t, pc, s.Ordered()[0])

	require.True(t, platforms.SetConnected("android", true))
	require.False(t, platforms.SetConnected("android", true))
	s.MarkStale()
	assert.Same(t, android, s.Ordered()[0])
}
