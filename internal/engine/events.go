package engine

import "time"

// Event types broadcast to dashboard clients.
const (
	EventPlan     = "plan"
	EventDeploy   = "deploy"
	EventWithdraw = "withdraw"
	EventConfig   = "config"
)

// Event wraps every notification the engine emits.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	MarketID  string    `json:"market_id,omitempty"` // empty for global events
	Data      any       `json:"data"`
}

// ConfigEvent describes an operator edit.
type ConfigEvent struct {
	Change  string `json:"change"`
	Details string `json:"details"`
}

// emit sends an event without blocking. Nil channel means nobody listens.
func (e *Engine) emit(typ, marketID string, data any) {
	if e.events == nil {
		return
	}
	evt := Event{Type: typ, Timestamp: e.now().UTC(), MarketID: marketID, Data: data}
	select {
	case e.events <- evt:
	default:
		e.logger.Debug("event channel full, dropping event", "type", typ)
	}
}

// Events returns the event channel (nil when events are disabled).
func (e *Engine) Events() <-chan Event {
	return e.events
}
