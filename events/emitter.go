package events

import (
	"log"
	"sync"
)

// EventType labels what happened.
type EventType string

const (
	EventOpApplied      EventType = "op_applied"
	EventFundsTransfer  EventType = "funds_transfer"
	EventTicketMinted   EventType = "ticket_minted"
	EventTicketListed   EventType = "ticket_listed"
	EventListingCancel  EventType = "listing_cancelled"
	EventTicketBought   EventType = "ticket_bought"
	EventRecordAppended EventType = "record_appended"
)

// Event carries a typed payload emitted after a state change has been
// committed. Consumers may rely on exactly one event per successful
// operation and none for a failed one.
type Event struct {
	Type EventType      `json:"type"`
	TxID string         `json:"tx_id"`
	Seq  int64          `json:"seq"`
	Data map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the service.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[events] handler panicked for %s: %v", ev.Type, r)
				}
			}()
			h(ev)
		}()
	}
}
