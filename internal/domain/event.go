package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventGameLoaded   EventType = "game.loaded"
	EventGameUnloaded EventType = "game.unloaded"
	EventGuestLog     EventType = "guest.log"

	EventMatchStarted EventType = "match.started"
	EventMatchTurn    EventType = "match.turn"
	EventMoveApplied  EventType = "move.applied"
	EventMoveInvalid  EventType = "move.invalid"
	EventMatchEnded   EventType = "match.ended"
	EventMatchErrored EventType = "match.errored"

	EventLLMCallStarted   EventType = "llm.call.started"
	EventLLMCallCompleted EventType = "llm.call.completed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	MatchID   string          `json:"match_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event with a JSON-encoded payload.
// A payload that fails to encode is dropped, the event is still delivered.
func NewEvent(typ EventType, matchID string, payload any) Event {
	ev := Event{Type: typ, Timestamp: time.Now(), MatchID: matchID}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// Payloads for match events.

type MovePayload struct {
	Player   Player `json:"player"`
	Move     string `json:"move"`
	Notation string `json:"notation,omitempty"`
	Turn     int    `json:"turn"`
	Reason   string `json:"reason,omitempty"`
}

type TurnPayload struct {
	Player Player `json:"player"`
	Agent  string `json:"agent"`
	Turn   int    `json:"turn"`
	Board  string `json:"board,omitempty"`
}

type MatchEndPayload struct {
	Result Result `json:"result"`
	Winner Player `json:"winner,omitempty"`
	Moves  int    `json:"moves"`
	Error  string `json:"error,omitempty"`
}

type GamePayload struct {
	GameID string `json:"game_id"`
	Name   string `json:"name"`
}

type GuestLogPayload struct {
	Module string `json:"module"`
	Stream string `json:"stream"`
	Line   string `json:"line"`
}

type LLMCallPayload struct {
	Agent      string `json:"agent"`
	Provider   string `json:"provider"`
	Player     Player `json:"player"`
	Model      string `json:"model,omitempty"`
	Usage      Usage  `json:"usage"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}
