package storage

import "time"

// Event is one completed exchange: the human's message and the assistant's
// reply, scoped to the tenant it happened in. Events are appended in
// chronological order.
type Event struct {
	Timestamp         time.Time `json:"timestamp"`
	TenantID          string    `json:"tenant_id"`
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response"`
	Model             string    `json:"model,omitempty"`
}

// Recorder abstracts persistence of interaction events.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}
