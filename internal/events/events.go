package events

import "context"

// Event types
const (
	EventEscrowCreated        = "escrow_created"
	EventEscrowStatusChanged  = "escrow_status_changed"
	EventEscrowPartialRelease = "escrow_partial_release"
)

// EscrowStream is the pub/sub channel carrying escrow events.
const EscrowStream = "events:escrow"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
