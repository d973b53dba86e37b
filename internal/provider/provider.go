package provider

import "context"

// Provider is the outbound messaging port. One call sends one message and
// returns the provider-assigned message SID. Per-call failures are reported
// to the caller and must never abort the rest of a campaign.
type Provider interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
}

// Message is a single outbound message.
type Message struct {
	To             string
	From           string
	Body           string
	StatusCallback string
}

// SendResult stores provider call metadata for persistence and audit.
type SendResult struct {
	MessageSID string
	StatusCode int
	Status     string
}
