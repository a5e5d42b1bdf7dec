// Package job models one request to build one source for one platform with
// one job key, and the lifecycle that request moves through.
package job

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/assetq/internal/domain/pathdep"
)

// Handle is the stable arena index of a job. Handles are allocated in
// submission order and double as the submission sequence.
type Handle uint64

// Details is what a caller submits.
type Details struct {
	// Source is the scan-folder-relative path with forward slashes.
	Source     string
	SourceUUID uuid.UUID
	// ScanFolder is the absolute root the source lives under.
	ScanFolder    string
	Platform      string
	JobKey        string
	BuilderID     string
	Priority      int
	Critical      bool
	AutoFail      bool
	FailureReason string
	Fingerprint   uint64
	Dependencies  []Dependency
	// PathDependencies are forwarded to builders that emit declared dependencies.
	PathDependencies []pathdep.Dependency
	// ExpectedProducts lists output names the builder is known to produce.
	ExpectedProducts []string
	Params           map[string]string
}

// Identity returns the normalized identity of the submission.
func (d Details) Identity() Identity {
	return NewIdentity(d.Source, d.Platform, d.JobKey)
}

// AbsolutePath joins the scan folder and source.
func (d Details) AbsolutePath() string {
	if d.ScanFolder == "" {
		return filepath.FromSlash(d.Source)
	}
	return filepath.Join(d.ScanFolder, filepath.FromSlash(d.Source))
}

// Validate checks the fields every job needs.
func (d Details) Validate() error {
	switch {
	case strings.TrimSpace(d.Source) == "":
		return newValidationError("source", "source is required")
	case strings.TrimSpace(d.Platform) == "":
		return newValidationError("platform", "platform is required")
	case strings.TrimSpace(d.BuilderID) == "" && !d.AutoFail:
		return newValidationError("builder", "builder is required")
	}
	return nil
}

// Job is the scheduler's record of a submission. It is mutated only by the
// controller goroutine; workers receive a Run snapshot instead.
type Job struct {
	handle     Handle
	id         Identity
	details    Details
	state      State
	priority   int
	escalation int
	runID      uuid.UUID
	submitted  time.Time
	started    time.Time
}

// New constructs a pending job.
func New(handle Handle, details Details) *Job {
	return &Job{
		handle:    handle,
		id:        details.Identity(),
		details:   details,
		state:     StatePending,
		priority:  details.Priority,
		submitted: time.Now(),
	}
}

func (j *Job) Handle() Handle         { return j.handle }
func (j *Job) Identity() Identity     { return j.id }
func (j *Job) Details() Details       { return j.details }
func (j *Job) State() State           { return j.state }
func (j *Job) Priority() int          { return j.priority }
func (j *Job) Escalation() int        { return j.escalation }
func (j *Job) Critical() bool         { return j.details.Critical }
func (j *Job) AutoFail() bool         { return j.details.AutoFail }
func (j *Job) BuilderID() string      { return j.details.BuilderID }
func (j *Job) Fingerprint() uint64    { return j.details.Fingerprint }
func (j *Job) SourceUUID() uuid.UUID  { return j.details.SourceUUID }
func (j *Job) RunID() uuid.UUID       { return j.runID }
func (j *Job) SubmittedAt() time.Time { return j.submitted }
func (j *Job) StartedAt() time.Time   { return j.started }

// Sequence is the submission sequence used as the same-source tiebreak.
func (j *Job) Sequence() uint64 { return uint64(j.handle) }

// Dependencies returns the declared job dependencies.
func (j *Job) Dependencies() []Dependency { return j.details.Dependencies }

// HasDependencies reports whether any job dependency was declared.
func (j *Job) HasDependencies() bool { return len(j.details.Dependencies) > 0 }

// HasMissingSourceDependency reports whether a dependency target could not be found at analysis time.
func (j *Job) HasMissingSourceDependency() bool {
	for _, dep := range j.details.Dependencies {
		if dep.MissingSource {
			return true
		}
	}
	return false
}

// Transition moves the job to next if the edge is legal.
func (j *Job) Transition(next State) error {
	if !CanTransition(j.state, next) {
		return newTransitionError(j.state, next)
	}
	j.state = next
	return nil
}

// RaisePriority sets the priority to p if that is higher. It reports whether it changed.
func (j *Job) RaisePriority(p int) bool {
	if p <= j.priority {
		return false
	}
	j.priority = p
	return true
}

// RaiseEscalation sets the escalation to level if that is higher. It reports whether it changed.
func (j *Job) RaiseEscalation(level int) bool {
	if level <= j.escalation {
		return false
	}
	j.escalation = level
	return true
}

// Start moves the job to Processing and returns the snapshot handed to a worker.
func (j *Job) Start() (Run, error) {
	if err := j.Transition(StateProcessing); err != nil {
		return Run{}, err
	}
	j.runID = uuid.New()
	j.started = time.Now()
	return Run{Handle: j.handle, ID: j.runID, Details: j.details}, nil
}

// Run is the immutable view of a started job given to workers.
type Run struct {
	Handle  Handle
	ID      uuid.UUID
	Details Details
}

// Identity returns the identity of the running job.
func (r Run) Identity() Identity {
	return r.Details.Identity()
}
