// Package queue holds the authoritative set of live jobs: queued, in flight,
// and finished-but-awaiting-catalog bookkeeping.
package queue

import (
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
)

// DependencyState is the status of a job dependency against the collection.
type DependencyState int

const (
	// DependencySatisfied means no matching job is queued, in flight or awaiting catalog.
	DependencySatisfied DependencyState = iota
	DependencyQueued
	DependencyInFlight
	DependencyAwaitingCatalog
)

type catalogWait struct {
	count   int
	builder string
}

// Collection is an arena of jobs addressed by handle plus memdb indices over
// the live ones. It is not safe for concurrent use; the controller goroutine
// owns it.
type Collection struct {
	db               *memdb.MemDB
	jobs             map[job.Handle]*job.Job
	next             job.Handle
	catalog          map[job.Identity]*catalogWait
	completedSources map[string]struct{}
	search           SearchOptions
}

// Option customizes a Collection.
type Option func(*Collection)

// WithSearchOptions overrides the heuristic search thresholds.
func WithSearchOptions(opts SearchOptions) Option {
	return func(c *Collection) {
		c.search = opts
	}
}

// New creates an empty collection.
func New(opts ...Option) (*Collection, error) {
	db, err := newDB()
	if err != nil {
		return nil, err
	}
	c := &Collection{
		db:               db,
		jobs:             make(map[job.Handle]*job.Job),
		catalog:          make(map[job.Identity]*catalogWait),
		completedSources: make(map[string]struct{}),
		search:           DefaultSearchOptions(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Insert allocates a handle for details and adds the new pending job to the queued index.
func (c *Collection) Insert(details job.Details) (*job.Job, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}
	c.next++
	j := job.New(c.next, details)
	if err := c.upsert(newEntry(j, false)); err != nil {
		return nil, err
	}
	c.jobs[j.Handle()] = j
	return j, nil
}

// Get resolves a handle, or nil when the job is gone.
func (c *Collection) Get(h job.Handle) *job.Job {
	return c.jobs[h]
}

// MarkProcessing moves a job from the queued index to the in-flight index.
// Calling it again for an in-flight job is a no-op.
func (c *Collection) MarkProcessing(h job.Handle) error {
	j := c.jobs[h]
	if j == nil {
		return job.ErrNotFound
	}
	current, err := c.entry(h)
	if err != nil {
		return err
	}
	if current != nil && current.InFlight {
		return nil
	}
	return c.upsert(newEntry(j, true))
}

// MarkCompleted removes a terminal job from both indices and releases it from
// the arena. A successful job leaves one outstanding catalog write behind.
func (c *Collection) MarkCompleted(h job.Handle) error {
	j := c.jobs[h]
	if j == nil {
		return job.ErrNotFound
	}
	if !j.State().Terminal() {
		return job.NewError(job.ErrCodeInvalidTransition, "job is not finished", nil).
			WithContext(map[string]interface{}{"job": j.Identity().String(), "state": j.State().String()})
	}

	txn := c.db.Txn(true)
	if _, err := txn.DeleteAll(jobsTable, idIndex, h); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	delete(c.jobs, h)

	if j.State().Succeeded() {
		id := j.Identity()
		wait := c.catalog[id]
		if wait == nil {
			wait = &catalogWait{builder: j.BuilderID()}
			c.catalog[id] = wait
		}
		wait.count++
		c.completedSources[id.Source] = struct{}{}
	}
	return nil
}

// MarkCataloged records that one completed job for id has been published.
func (c *Collection) MarkCataloged(id job.Identity) error {
	wait := c.catalog[id]
	if wait == nil || wait.count == 0 {
		return job.ErrNothingToCatalog
	}
	wait.count--
	if wait.count == 0 {
		delete(c.catalog, id)
	}
	return nil
}

// IsQueued reports whether a pending job with this identity exists.
func (c *Collection) IsQueued(id job.Identity) bool {
	for _, e := range c.entries(keyIndex, id.Key()) {
		if !e.InFlight && c.jobs[e.Handle].State() == job.StatePending {
			return true
		}
	}
	return false
}

// IsInFlight reports whether a started job with this identity has not finished yet.
func (c *Collection) IsInFlight(id job.Identity) bool {
	for _, e := range c.entries(keyIndex, id.Key()) {
		if e.InFlight {
			return true
		}
	}
	return false
}

// IsAwaitingCatalog reports whether a completed job for id has not been published yet.
func (c *Collection) IsAwaitingCatalog(id job.Identity) bool {
	wait := c.catalog[id]
	return wait != nil && wait.count > 0
}

// AwaitingCatalogCount returns the number of outstanding catalog writes.
func (c *Collection) AwaitingCatalogCount() int {
	total := 0
	for _, wait := range c.catalog {
		total += wait.count
	}
	return total
}

// CompletedBefore reports whether a job for source has completed successfully in this run.
func (c *Collection) CompletedBefore(source string) bool {
	_, ok := c.completedSources[source]
	return ok
}

// FindQueued returns the pending job with this identity, if any.
func (c *Collection) FindQueued(id job.Identity) *job.Job {
	for _, e := range c.entries(keyIndex, id.Key()) {
		if j := c.jobs[e.Handle]; !e.InFlight && j.State() == job.StatePending {
			return j
		}
	}
	return nil
}

// FindInFlight returns the started job with this identity, if any.
func (c *Collection) FindInFlight(id job.Identity) *job.Job {
	for _, e := range c.entries(keyIndex, id.Key()) {
		if e.InFlight {
			return c.jobs[e.Handle]
		}
	}
	return nil
}

// DependencyStatus evaluates a dependency. The returned jobs are the matching
// prerequisites that are still queued or in flight.
func (c *Collection) DependencyStatus(dep job.Dependency) (DependencyState, []*job.Job) {
	var queued, inFlight []*job.Job
	for _, e := range c.entries(sourcePlatformIndex, dep.Source, strings.ToLower(dep.Platform)) {
		j := c.jobs[e.Handle]
		if !dep.Matches(j.Identity(), j.BuilderID()) {
			continue
		}
		switch {
		case e.InFlight:
			inFlight = append(inFlight, j)
		case j.State() == job.StatePending:
			queued = append(queued, j)
		}
	}
	if len(inFlight) > 0 {
		return DependencyInFlight, append(inFlight, queued...)
	}
	if len(queued) > 0 {
		return DependencyQueued, queued
	}
	for id, wait := range c.catalog {
		if wait.count > 0 && dep.Matches(id, wait.builder) {
			return DependencyAwaitingCatalog, nil
		}
	}
	return DependencySatisfied, nil
}

// Queued returns pending jobs in submission order.
func (c *Collection) Queued() []*job.Job {
	var out []*job.Job
	for _, e := range c.entries(inFlightIndex, false) {
		if j := c.jobs[e.Handle]; j.State() == job.StatePending {
			out = append(out, j)
		}
	}
	return out
}

// InFlight returns started jobs in submission order.
func (c *Collection) InFlight() []*job.Job {
	var out []*job.Job
	for _, e := range c.entries(inFlightIndex, true) {
		out = append(out, c.jobs[e.Handle])
	}
	return out
}

// InFlightCount returns the number of started, unfinished jobs.
func (c *Collection) InFlightCount() int {
	return len(c.entries(inFlightIndex, true))
}

// Len returns the number of live jobs.
func (c *Collection) Len() int {
	return len(c.jobs)
}

// BySource returns every live job for a source, queued and in flight.
func (c *Collection) BySource(source string) []*job.Job {
	var out []*job.Job
	for _, e := range c.entries(sourceIndex, source) {
		out = append(out, c.jobs[e.Handle])
	}
	return out
}

// FindBySourceUUID returns live jobs for a source identity, restricted to platform when non-empty.
func (c *Collection) FindBySourceUUID(platform string, sourceUUID uuid.UUID) []*job.Job {
	var out []*job.Job
	for _, e := range c.entries(sourceUUIDIndex, sourceUUID.String()) {
		if platform != "" && !strings.EqualFold(e.Platform, platform) {
			continue
		}
		out = append(out, c.jobs[e.Handle])
	}
	return out
}

func (c *Collection) live(platform string) []*job.Job {
	txn := c.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(jobsTable, idIndex)
	if err != nil {
		return nil
	}
	var out []*job.Job
	for obj := it.Next(); obj != nil; obj = it.Next() {
		e := obj.(*entry)
		if platform != "" && !strings.EqualFold(e.Platform, platform) {
			continue
		}
		if j := c.jobs[e.Handle]; j != nil && (e.InFlight || j.State() == job.StatePending) {
			out = append(out, j)
		}
	}
	return out
}

func (c *Collection) entry(h job.Handle) (*entry, error) {
	txn := c.db.Txn(false)
	defer txn.Abort()
	obj, err := txn.First(jobsTable, idIndex, h)
	if err != nil || obj == nil {
		return nil, err
	}
	return obj.(*entry), nil
}

func (c *Collection) entries(index string, args ...interface{}) []*entry {
	txn := c.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(jobsTable, index, args...)
	if err != nil {
		return nil
	}
	var out []*entry
	for obj := it.Next(); obj != nil; obj = it.Next() {
		e := obj.(*entry)
		if _, ok := c.jobs[e.Handle]; ok {
			out = append(out, e)
		}
	}
	return out
}

func (c *Collection) upsert(e *entry) error {
	txn := c.db.Txn(true)
	if err := txn.Insert(jobsTable, e); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	return nil
}
