package events

import (
	"context"
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/assetq/internal/ports"
)

// AllEvents subscribes a handler to every event type.
const AllEvents = "*"

// LoggingPublisher delivers events synchronously to subscribers and writes
// each one as a structured log entry.
type LoggingPublisher struct {
	logger ports.Logger
	quiet  map[string]bool
	subs   map[string][]subscriptionEntry
	nextID int
	mu     sync.RWMutex
}

// PublisherOption customizes a LoggingPublisher.
type PublisherOption func(*LoggingPublisher)

// WithQuietTypes logs the given event types at debug level instead of info.
func WithQuietTypes(types ...string) PublisherOption {
	return func(p *LoggingPublisher) {
		for _, t := range types {
			p.quiet[t] = true
		}
	}
}

// NewLoggingPublisher creates an event publisher that writes each event as a structured log entry.
func NewLoggingPublisher(logger ports.Logger, opts ...PublisherOption) *LoggingPublisher {
	p := &LoggingPublisher{
		logger: logger,
		quiet:  make(map[string]bool),
		subs:   make(map[string][]subscriptionEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish logs the event and runs every matching handler on the calling goroutine.
func (p *LoggingPublisher) Publish(ctx context.Context, event ports.DomainEvent) error {
	if p == nil || event == nil {
		return nil
	}

	p.mu.RLock()
	handlers := append([]subscriptionEntry(nil), p.subs[event.EventType()]...)
	handlers = append(handlers, p.subs[AllEvents]...)
	p.mu.RUnlock()

	if p.logger != nil {
		fields := append([]interface{}{"event_type", event.EventType()}, payloadFields(event.Payload())...)
		if p.quiet[event.EventType()] {
			p.logger.Debug(ctx, "domain event", fields...)
		} else {
			p.logger.Info(ctx, "domain event", fields...)
		}
	}

	for _, entry := range handlers {
		if entry.handler == nil {
			continue
		}
		if err := entry.handler(ctx, event); err != nil && p.logger != nil {
			p.logger.Warn(ctx, "event handler failed", "event_type", event.EventType(), "error", err)
		}
	}

	return nil
}

func payloadFields(payload interface{}) []interface{} {
	var values map[string]interface{}
	switch typed := payload.(type) {
	case nil:
		return nil
	case ports.FieldsProvider:
		values = typed.Fields()
	case map[string]interface{}:
		values = typed
	default:
		return []interface{}{"payload", typed}
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fields := make([]interface{}, 0, len(keys)*2)
	for _, key := range keys {
		fields = append(fields, key, values[key])
	}
	return fields
}

// Subscribe registers a handler for the provided event type, or AllEvents.
func (p *LoggingPublisher) Subscribe(eventType string, handler ports.EventHandler) (ports.Subscription, error) {
	if p == nil || handler == nil {
		return noopSubscription{}, nil
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[eventType] = append(p.subs[eventType], subscriptionEntry{id: id, handler: handler})
	p.mu.Unlock()

	return subscription{
		cancel: func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			handlers := p.subs[eventType]
			for i, entry := range handlers {
				if entry.id == id {
					p.subs[eventType] = append(handlers[:i], handlers[i+1:]...)
					break
				}
			}
		},
	}, nil
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

type subscription struct {
	cancel func()
}

func (s subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

type subscriptionEntry struct {
	id      int
	handler ports.EventHandler
}

var _ ports.EventPublisher = (*LoggingPublisher)(nil)
