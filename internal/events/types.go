// internal/events/types.go
package events

import (
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Position lifecycle
	PositionRegistered EventType = "position.registered"
	PositionPaused     EventType = "position.paused"

	// Exit pipeline
	ExitTriggered EventType = "exit.triggered"
	ExitCompleted EventType = "exit.completed"
	ExitFailed    EventType = "exit.failed"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// At stamps a base event of the given type with the current time.
func At(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now().UTC()}
}

// PositionRegisteredEvent is emitted when a position enters the active set.
type PositionRegisteredEvent struct {
	BaseEvent
	PositionID   string
	TokenMint    string
	EntryPrice   string
	TrailingStop bool
}

// PositionPausedEvent is emitted when a position leaves the active set
// without an exit, either by operator request or by the staleness policy.
type PositionPausedEvent struct {
	BaseEvent
	PositionID string
	Reason     string // "operator", "stale_price"
}

// ExitTriggeredEvent is emitted the moment an exit condition fires, before
// submission starts.
type ExitTriggeredEvent struct {
	BaseEvent
	PositionID   string
	TokenMint    string
	Trigger      string
	TriggerPrice string
	CurrentPrice string
}

// ExitCompletedEvent is emitted after the closing trade confirms on-chain.
type ExitCompletedEvent struct {
	BaseEvent
	PositionID string
	Signature  string
	Method     string
	PnLPercent string
}

// ExitFailedEvent is emitted when an exit attempt ends without a confirmed
// trade.
type ExitFailedEvent struct {
	BaseEvent
	PositionID string
	Attempts   int
	Error      string
}
