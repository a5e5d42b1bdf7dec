package events

import (
	"context"
	"sync"

	"github.com/alexisbeaulieu97/assetq/internal/ports"
)

// Stream buffers events from a publisher without ever blocking the publishing
// goroutine. Consumers read them in order with Next.
type Stream struct {
	mu      sync.Mutex
	pending []ports.DomainEvent
	signal  chan struct{}
	subs    []ports.Subscription
}

// NewStream subscribes to the given event types (AllEvents when none are given).
func NewStream(publisher ports.EventPublisher, types ...string) (*Stream, error) {
	if len(types) == 0 {
		types = []string{AllEvents}
	}
	s := &Stream{signal: make(chan struct{}, 1)}
	for _, eventType := range types {
		sub, err := publisher.Subscribe(eventType, s.push)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.subs = append(s.subs, sub)
	}
	return s, nil
}

func (s *Stream) push(_ context.Context, event ports.DomainEvent) error {
	s.mu.Lock()
	s.pending = append(s.pending, event)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
	return nil
}

// Next returns the oldest buffered event, waiting until one arrives or ctx ends.
func (s *Stream) Next(ctx context.Context) (ports.DomainEvent, error) {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			event := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return event, nil
		}
		s.mu.Unlock()

		select {
		case <-s.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WaitFor consumes events until one of eventType satisfies match.
func (s *Stream) WaitFor(ctx context.Context, eventType string, match func(ports.DomainEvent) bool) (ports.DomainEvent, error) {
	for {
		event, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if event.EventType() == eventType && (match == nil || match(event)) {
			return event, nil
		}
	}
}

// Close unsubscribes from the publisher.
func (s *Stream) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}
