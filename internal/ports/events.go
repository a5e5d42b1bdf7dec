package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/domain/pathdep"
)

const (
	// EventJobQueued is emitted when a submission is accepted into the queue.
	EventJobQueued = "job.queued"
	// EventJobStarted is emitted when a job moves to processing.
	EventJobStarted = "job.started"
	// EventJobCompleted is emitted when a job finishes successfully.
	EventJobCompleted = "job.completed"
	// EventJobFailed is emitted for failed, crashed and terminated jobs.
	EventJobFailed = "job.failed"
	// EventJobCancelled is emitted for cancelled jobs and rejected duplicate submissions.
	EventJobCancelled = "job.cancelled"
	// EventQueueDepth carries per-platform counters whenever they change.
	EventQueueDepth = "queue.depth"
	// EventQueueIdle is emitted when nothing is queued or in flight.
	EventQueueIdle = "queue.idle"
	// EventDeadlockBroken is emitted when the selector dispatches a fallback candidate.
	EventDeadlockBroken = "queue.deadlock_broken"
	// EventCompileGroupCreated reports the status of a compile group request.
	EventCompileGroupCreated = "compile_group.created"
	// EventCompileGroupFinished reports the terminal status of a compile group.
	EventCompileGroupFinished = "compile_group.finished"
	// EventReadyToQuit is emitted once shutdown has drained every in-flight job.
	EventReadyToQuit = "controller.ready_to_quit"
	// EventDependencyResolved is emitted once per placeholder edge resolved by a deferred retry.
	EventDependencyResolved = "dependency.resolved"
	// EventProductsCataloged is emitted after a completed job's products are durably recorded.
	EventProductsCataloged = "catalog.products_recorded"
)

// DomainEvent represents a significant occurrence within the scheduler.
type DomainEvent interface {
	EventType() string
	Payload() interface{}
}

// EventPublisher distributes events to interested subscribers. Dispatch is
// synchronous: Publish runs every handler on the publishing goroutine before
// returning. Events raised by the controller are therefore delivered on the
// controller goroutine, and handlers must not call back into the controller
// synchronously. Implementations must be thread-safe.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
}

// EventHandler processes an event of a specific type. Failures are returned
// so publishers can log them and keep delivering to remaining subscribers.
type EventHandler func(context.Context, DomainEvent) error

// Subscription represents a registered handler.
type Subscription interface {
	Unsubscribe()
}

// FieldsProvider is implemented by payloads that know how to render themselves as log fields.
type FieldsProvider interface {
	Fields() map[string]interface{}
}

// Event is the concrete DomainEvent used throughout the module.
type Event struct {
	Type string
	Data interface{}
}

func (e Event) EventType() string    { return e.Type }
func (e Event) Payload() interface{} { return e.Data }

// JobEvent is the payload of every job.* event.
type JobEvent struct {
	Handle     job.Handle
	Identity   job.Identity
	SourceUUID uuid.UUID
	ScanFolder string
	Builder    string
	RunID      uuid.UUID
	State      job.State
	Critical   bool
	Message    string
	Duration   time.Duration
	Products   []job.Product
}

func (e JobEvent) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"job":   e.Identity.String(),
		"state": e.State.String(),
	}
	if e.RunID != uuid.Nil {
		fields["run_id"] = e.RunID.String()
	}
	if e.Message != "" {
		fields["message"] = e.Message
	}
	if e.Duration > 0 {
		fields["duration_ms"] = e.Duration.Milliseconds()
	}
	return fields
}

// QueueDepthEvent carries the counters of one platform.
type QueueDepthEvent struct {
	Platform string
	Pending  int
	InFlight int
	Critical int
}

func (e QueueDepthEvent) Fields() map[string]interface{} {
	return map[string]interface{}{
		"platform":  e.Platform,
		"pending":   e.Pending,
		"in_flight": e.InFlight,
		"critical":  e.Critical,
	}
}

// DeadlockEvent names the fallback job dispatched to break a dependency cycle.
type DeadlockEvent struct {
	Identity job.Identity
	Blocked  int
}

func (e DeadlockEvent) Fields() map[string]interface{} {
	return map[string]interface{}{"job": e.Identity.String(), "blocked": e.Blocked}
}

// CompileGroupStatus is the reported status of a compile group.
type CompileGroupStatus string

const (
	CompileGroupUnknown  CompileGroupStatus = "unknown"
	CompileGroupQueued   CompileGroupStatus = "queued"
	CompileGroupCompiled CompileGroupStatus = "compiled"
	CompileGroupFailed   CompileGroupStatus = "failed"
)

// CompileGroupEvent is the payload of compile_group.* events.
type CompileGroupEvent struct {
	Token   string
	Status  CompileGroupStatus
	Members int
}

func (e CompileGroupEvent) Fields() map[string]interface{} {
	return map[string]interface{}{"token": e.Token, "status": string(e.Status), "members": e.Members}
}

// DependencyResolvedEvent is the payload of dependency.resolved events.
type DependencyResolvedEvent struct {
	Dependency pathdep.ProductDependency
	Source     string
}

func (e DependencyResolvedEvent) Fields() map[string]interface{} {
	return map[string]interface{}{
		"product_id": e.Dependency.ProductID,
		"target":     e.Dependency.DependencySourceUUID.String(),
		"sub_id":     e.Dependency.DependencySubID,
		"platform":   e.Dependency.Platform,
		"source":     e.Source,
	}
}

// CatalogEvent is the payload of catalog.* events.
type CatalogEvent struct {
	Identity job.Identity
	Products int
	Resolved int
	Deferred int
}

func (e CatalogEvent) Fields() map[string]interface{} {
	return map[string]interface{}{
		"job":      e.Identity.String(),
		"products": e.Products,
		"resolved": e.Resolved,
		"deferred": e.Deferred,
	}
}
