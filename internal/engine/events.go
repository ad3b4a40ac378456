package engine

import (
	"context"
	"sync"
	"time"
)

// EventType identifies what happened during a run.
type EventType string

const (
	EventRunStarted    EventType = "run.started"
	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
	EventModelLog      EventType = "model.log"
	EventRunFinished   EventType = "run.finished"
)

// Event is published by the Executor as a run progresses.
type Event struct {
	Type        EventType `json:"type"`
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id"`
	StepID      string    `json:"step_id,omitempty"`
	Payload     any       `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type EventHandler func(Event)

type subscriber struct {
	id uint64
	fn EventHandler
}

// EventBus fans events out to subscribers synchronously, in publish order.
type EventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers handler and returns a function that removes it.
func (b *EventBus) Subscribe(handler EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: handler})
	return func() { b.remove(id) }
}

func (b *EventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscribers.
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, s := range subs {
		s.fn(event)
	}
}

// Channel returns a buffered channel receiving the events accepted by match
// (all events when match is nil) until ctx is done. The subscription is
// removed and the channel closed when ctx ends. Events are dropped when the
// buffer is full.
func (b *EventBus) Channel(ctx context.Context, bufSize int, match func(Event) bool) <-chan Event {
	ch := make(chan Event, bufSize)
	var mu sync.Mutex
	closed := false
	unsubscribe := b.Subscribe(func(e Event) {
		if match != nil && !match(e) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
		}
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}

type executionIDKey struct{}

// WithExecutionID makes the next Execute on ctx use id for its execution
// instead of generating one, so callers can filter events before the run
// starts.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey{}, id)
}

func executionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(executionIDKey{}).(string)
	return id
}
