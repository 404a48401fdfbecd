package event

import (
	"sync"

	"go.uber.org/zap"

	"github.com/guardrail-ai/llm-gateway/pkg/logger"
)

// Bus dispatches events synchronously on the emitting goroutine.
//
// Type-specific subscribers fire in registration order, followed by global
// subscribers. A panicking observer is recovered and logged; it does not stop
// delivery to the remaining observers. Subscriber lists are guarded by a
// mutex so Subscribe and Emit may race safely.
//
// Mutating subscriptions from inside an observer callback is not supported.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscription
	global      []*subscription
	logger      *logger.Logger
}

type subscription struct {
	obs Observer
}

// NewBus creates an empty bus.
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]*subscription),
		logger:      log,
	}
}

// Subscribe registers an observer for one event type. The returned cancel
// func removes the registration; it must not be called from inside dispatch.
func (b *Bus) Subscribe(eventType string, obs Observer) func() {
	sub := &subscription{obs: obs}
	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subscribers[eventType] = remove(b.subscribers[eventType], sub)
	}
}

// SubscribeAll registers an observer for every event type.
func (b *Bus) SubscribeAll(obs Observer) func() {
	sub := &subscription{obs: obs}
	b.mu.Lock()
	b.global = append(b.global, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.global = remove(b.global, sub)
	}
}

func remove(subs []*subscription, target *subscription) []*subscription {
	for i, sub := range subs {
		if sub == target {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Emit delivers ev to all matching subscribers. It returns after every
// observer has run.
func (b *Bus) Emit(ev DomainEvent) {
	b.mu.RLock()
	typed := b.subscribers[ev.Type]
	global := b.global
	b.mu.RUnlock()

	for _, sub := range typed {
		b.dispatch(sub.obs, ev)
	}
	for _, sub := range global {
		b.dispatch(sub.obs, ev)
	}
}

func (b *Bus) dispatch(obs Observer, ev DomainEvent) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("event observer panicked",
				zap.String("event_type", ev.Type),
				zap.Any("panic", r),
			)
		}
	}()
	obs.OnEvent(ev)
}
