// Package events implements the priority event bus: a single, in-process
// cooperative dispatcher with pub/sub by event type plus global subscribers,
// bounded admission, and error-isolated concurrent fan-out to handlers.
package events

import "time"

// Type tags the variant of an event's payload. Receivers pattern-match on
// this instead of doing dynamic dispatch over the payload itself.
type Type string

const (
	TypeCandleReceived         Type = "CandleReceived"
	TypeCandleClosed           Type = "CandleClosed"
	TypeMarketStructureChange  Type = "MarketStructureChange"
	TypeMarketStructureBreak   Type = "MarketStructureBreak"
	TypeLiquiditySweepDetected Type = "LiquiditySweepDetected"
	TypeOrderPlaced            Type = "OrderPlaced"
	TypeOrderFilled            Type = "OrderFilled"
	TypeOrderCancelled         Type = "OrderCancelled"
	TypeExchangeError          Type = "ExchangeError"
	TypeErrorOccurred          Type = "ErrorOccurred"
	TypePositionOpened         Type = "PositionOpened"
	TypePositionUpdated        Type = "PositionUpdated"
	TypePositionClosed         Type = "PositionClosed"
	TypeSystemStart            Type = "SystemStart"
	TypeSystemStop             Type = "SystemStop"
)

// Event is the envelope published on the bus. Priority must be in [0,10];
// higher is dispatched first. Two events of equal priority are delivered in
// publication order.
type Event struct {
	ID        string
	Priority  int
	EventType Type
	Timestamp time.Time
	Data      any
	Source    string

	seq uint64 // insertion sequence, assigned by the queue on Put
}

// Handler is the single capability event subscribers implement, replacing
// any notion of a handler class hierarchy: a type can handle a kind of
// event, handle it, and recover from its own failure.
type Handler interface {
	// CanHandle reports whether this handler processes events of t. Most
	// handlers return true unconditionally for the types they subscribed to.
	CanHandle(t Type) bool
	// Handle processes the event. An error is caught by the bus and routed
	// to OnError; it never propagates to the dispatcher or to peers.
	Handle(e Event) error
	// OnError is invoked when Handle returns an error for an event this
	// handler received. The default behavior most handlers want is to log.
	OnError(e Event, err error)
}
