package events

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var sequence atomic.Uint64

// Event is an immutable record flowing through the dispatcher. Payload keys
// are type-specific; consumers must not mutate the map after dispatch.
type Event struct {
	ID        string
	Seq       uint64
	Type      Type
	Priority  Priority
	Contract  Contract
	CreatedAt time.Time
	Payload   map[string]any
}

// New builds an event for a catalog type. The sequence number is monotonic
// across the process; the uuid is for cross-system correlation.
func New(t Type, payload map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Seq:       sequence.Add(1),
		Type:      t,
		Priority:  PriorityOf(t),
		Contract:  ContractOf(t),
		CreatedAt: time.Now(),
		Payload:   payload,
	}
}

// Age returns the time the event has spent in flight.
func (e *Event) Age() time.Duration {
	return time.Since(e.CreatedAt)
}
