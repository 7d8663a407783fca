package hermes

import "time"

type CompositeCreatedEvent struct {
	CompositeID string `json:"composite_id"`
	Identifier  string `json:"identifier"`
	AccountID   string `json:"account_id"`
	Selections  int    `json:"selections"`
}

// CompositeRebalancedEvent is published after an engine operation changed weights.
type CompositeRebalancedEvent struct {
	CompositeID string             `json:"composite_id"`
	Operation   string             `json:"operation"`
	Revision    int                `json:"revision"`
	Weights     map[string]float64 `json:"weights"`
	Timestamp   time.Time          `json:"timestamp"`
}

type CompositeDeletedEvent struct {
	CompositeID string `json:"composite_id"`
	Identifier  string `json:"identifier"`
}

type CompositeStaleEvent struct {
	CompositeID string   `json:"composite_id"`
	Stale       []string `json:"stale_selections"`
	Recovered   []string `json:"recovered_selections,omitempty"`
}
