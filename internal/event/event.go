// Package event implements the synchronous domain event bus.
package event

// Event type identifiers shared by producers and consumers.
const (
	MessageStarted   = "message.started"
	TokenGenerated   = "token.generated"
	MessageCompleted = "message.completed"
	BudgetThreshold  = "budget.threshold"
	BudgetExceeded   = "budget.exceeded"
	ContextTruncated = "context.truncated"
)

// DomainEvent is an immutable event value. It is created per emission and
// never retained by the bus after dispatch.
type DomainEvent struct {
	Type           string
	ConversationID string
	Payload        map[string]any
}

// Observer receives dispatched events.
type Observer interface {
	OnEvent(ev DomainEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev DomainEvent)

// OnEvent calls f(ev).
func (f ObserverFunc) OnEvent(ev DomainEvent) {
	f(ev)
}
